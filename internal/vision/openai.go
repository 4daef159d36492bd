package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/physical-mcp/physical-mcp/internal/config"
)

// openaiProvider speaks the OpenAI-compatible chat-completions dialect,
// which also covers OpenRouter and Ollama through base_url.
type openaiProvider struct {
	name    string
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func newOpenAIProvider(cfg config.Reasoning, defaultBase, defaultModel string) *openaiProvider {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBase
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &openaiProvider{
		name:    strings.ToLower(cfg.Provider),
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: CallTimeout + 5*time.Second},
	}
}

func (p *openaiProvider) ProviderName() string { return p.name }
func (p *openaiProvider) ModelName() string    { return p.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content []any  `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func imagePart(b64 string) map[string]any {
	return map[string]any{
		"type": "image_url",
		"image_url": map[string]any{
			"url": "data:image/jpeg;base64," + b64,
		},
	}
}

func (p *openaiProvider) AnalyzeImage(ctx context.Context, imageB64, prompt string) (string, error) {
	return p.AnalyzeImages(ctx, []string{imageB64}, prompt)
}

func (p *openaiProvider) AnalyzeImages(ctx context.Context, imagesB64 []string, prompt string) (string, error) {
	if len(imagesB64) == 0 {
		return "", fmt.Errorf("%w: no images", ErrProvider)
	}
	content := []any{map[string]any{"type": "text", "text": prompt}}
	for _, b64 := range imagesB64 {
		content = append(content, imagePart(b64))
	}

	body, err := json.Marshal(chatRequest{
		Model:     p.model,
		Messages:  []chatMessage{{Role: "user", Content: content}},
		MaxTokens: 1024,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", ClassifyError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", ClassifyError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", ClassifyError(fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(raw), 300)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", ClassifyError(fmt.Errorf("malformed response: %v", err))
	}
	if parsed.Error != nil {
		return "", ClassifyError(fmt.Errorf("%s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrProvider)
	}
	return parsed.Choices[0].Message.Content, nil
}

// Warmup lists models; cheap, and it surfaces auth problems at startup
// instead of on the first frame.
func (p *openaiProvider) Warmup(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return ClassifyError(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ClassifyError(fmt.Errorf("warmup status %d", resp.StatusCode))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Provider = (*openaiProvider)(nil)
