package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/physical-mcp/physical-mcp/internal/config"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

type anthropicProvider struct {
	client anthropic.Client
	model  string
}

func newAnthropicProvider(cfg config.Reasoning) *anthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	return &anthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

func (p *anthropicProvider) ProviderName() string { return "anthropic" }
func (p *anthropicProvider) ModelName() string    { return p.model }

func (p *anthropicProvider) AnalyzeImage(ctx context.Context, imageB64, prompt string) (string, error) {
	return p.AnalyzeImages(ctx, []string{imageB64}, prompt)
}

func (p *anthropicProvider) AnalyzeImages(ctx context.Context, imagesB64 []string, prompt string) (string, error) {
	if len(imagesB64) == 0 {
		return "", fmt.Errorf("%w: no images", ErrProvider)
	}
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(imagesB64)+1)
	for _, b64 := range imagesB64 {
		blocks = append(blocks, anthropic.NewImageBlockBase64("image/jpeg", b64))
	}
	blocks = append(blocks, anthropic.NewTextBlock(prompt))

	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 1024,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	})
	if err != nil {
		return "", ClassifyError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if t, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(t.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: empty response", ErrProvider)
	}
	return sb.String(), nil
}

// Warmup sends a one-token text request so bad keys fail at startup.
func (p *anthropicProvider) Warmup(ctx context.Context) error {
	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return ClassifyError(err)
	}
	return nil
}

var _ Provider = (*anthropicProvider)(nil)
