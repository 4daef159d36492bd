// Package vision wraps the VLM providers behind one contract and adds the
// frame analyzer that turns frames plus watch rules into scene summaries
// and rule evaluations with a single combined call.
package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/physical-mcp/physical-mcp/internal/config"
)

var (
	ErrAuth        = errors.New("provider_auth_failed")
	ErrRateLimited = errors.New("provider_rate_limited")
	ErrProvider    = errors.New("provider_error")
)

// CallTimeout bounds every VLM call. A timeout is not an error for the
// perception loop: it yields an empty scene and the loop keeps running.
const CallTimeout = 15 * time.Second

// Provider is the capability every VLM backend satisfies.
type Provider interface {
	// AnalyzeImage sends one base64 JPEG plus a prompt, returning free text.
	AnalyzeImage(ctx context.Context, imageB64, prompt string) (string, error)
	// AnalyzeImages sends several frames. Backends without multi-image
	// support analyze the last frame only.
	AnalyzeImages(ctx context.Context, imagesB64 []string, prompt string) (string, error)
	// Warmup performs a cheap connectivity check.
	Warmup(ctx context.Context) error
	ProviderName() string
	ModelName() string
}

// NewProvider maps the reasoning config to a backend. An empty provider
// name means client-side reasoning; callers should not reach this.
func NewProvider(cfg config.Reasoning) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return newOpenAIProvider(cfg, "https://api.openai.com/v1", "gpt-4o-mini"), nil
	case "openrouter":
		return newOpenAIProvider(cfg, "https://openrouter.ai/api/v1", "openai/gpt-4o-mini"), nil
	case "ollama":
		return newOpenAIProvider(cfg, "http://localhost:11434/v1", "llava"), nil
	case "anthropic":
		return newAnthropicProvider(cfg), nil
	case "":
		return nil, fmt.Errorf("%w: no provider configured", ErrProvider)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrProvider, cfg.Provider)
	}
}

// ClassifyError maps raw provider failures onto the error taxonomy by
// pattern-matching the message, the way upstream SDK errors actually look.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate") && strings.Contains(msg, "limit"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "429"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case strings.Contains(msg, "401"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "billing"):
		return fmt.Errorf("%w: %v", ErrAuth, err)
	default:
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
}
