package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/physical-mcp/physical-mcp/internal/rules"
)

// SceneAnalysis is the scene half of a combined analysis call.
type SceneAnalysis struct {
	Summary     string   `json:"summary"`
	Objects     []string `json:"objects"`
	PeopleCount int      `json:"people_count"`
}

// AnalysisResult carries both halves of one combined VLM call: the scene
// description and the verdict for each active rule.
type AnalysisResult struct {
	Scene       SceneAnalysis
	Evaluations []rules.Evaluation
	RawText     string
}

// Analyzer drives a Provider and parses its replies. A nil provider means
// server-side reasoning is disabled (client mode).
type Analyzer struct {
	mu       sync.RWMutex
	provider Provider
	log      *logrus.Logger
}

func NewAnalyzer(provider Provider, log *logrus.Logger) *Analyzer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Analyzer{provider: provider, log: log}
}

// HasProvider reports whether server-side reasoning is available.
func (a *Analyzer) HasProvider() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.provider != nil
}

// SetProvider swaps the backend at runtime.
func (a *Analyzer) SetProvider(p Provider) {
	a.mu.Lock()
	a.provider = p
	a.mu.Unlock()
}

// Provider returns the current backend, which may be nil.
func (a *Analyzer) Provider() Provider {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.provider
}

func (a *Analyzer) current() (Provider, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.provider == nil {
		return nil, fmt.Errorf("%w: no provider configured", ErrProvider)
	}
	return a.provider, nil
}

const scenePrompt = `You are a scene observer for an ambient camera system.
Describe what the image shows.

Respond with JSON only, no prose:
{"summary": "<one or two sentences>", "objects": ["<visible objects>"], "people_count": <integer>}`

// AnalyzeScene runs a description-only call. A timeout or parse failure
// degrades to whatever text came back rather than failing the caller.
func (a *Analyzer) AnalyzeScene(ctx context.Context, imageB64 string) (SceneAnalysis, error) {
	provider, err := a.current()
	if err != nil {
		return SceneAnalysis{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	text, err := provider.AnalyzeImage(ctx, imageB64, scenePrompt)
	if err != nil {
		return SceneAnalysis{}, err
	}
	return parseScene(text), nil
}

// Ask answers a free-form question about one frame. Used by the on-demand
// analysis tool; the perception loop never calls it.
func (a *Analyzer) Ask(ctx context.Context, imageB64, question string) (string, error) {
	provider, err := a.current()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	return provider.AnalyzeImage(ctx, imageB64, question)
}

// AnalyzeAndEvaluate describes the scene and evaluates every active rule in
// one call. One frame, one call, regardless of rule count.
func (a *Analyzer) AnalyzeAndEvaluate(ctx context.Context, imagesB64 []string, active []rules.WatchRule, changeDesc string) (AnalysisResult, error) {
	provider, err := a.current()
	if err != nil {
		return AnalysisResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	prompt := buildCombinedPrompt(active, changeDesc)
	text, err := provider.AnalyzeImages(ctx, imagesB64, prompt)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// Slow providers cost a beat of perception, not an error.
			a.log.WithField("provider", provider.ProviderName()).Warn("analysis timed out")
			return AnalysisResult{}, nil
		}
		return AnalysisResult{}, err
	}

	result := parseCombined(text, active)
	result.RawText = text
	return result, nil
}

func buildCombinedPrompt(active []rules.WatchRule, changeDesc string) string {
	var sb strings.Builder
	sb.WriteString("You are a scene observer for an ambient camera system.\n")
	if changeDesc != "" {
		sb.WriteString("Change detected: ")
		sb.WriteString(changeDesc)
		sb.WriteString("\n")
	}
	sb.WriteString("\nDescribe the scene, then evaluate each watch rule against the image.\n")
	sb.WriteString("Rules:\n")
	for _, r := range active {
		fmt.Fprintf(&sb, "- id=%s: %s\n", r.ID, r.Condition)
	}
	sb.WriteString(`
Respond with JSON only, no prose:
{
  "scene": {"summary": "<one or two sentences>", "objects": ["<visible objects>"], "people_count": <integer>},
  "evaluations": [{"rule_id": "<id>", "triggered": <bool>, "confidence": <0.0-1.0>, "reasoning": "<short>"}]
}

Only set triggered=true when you are confident the condition holds right now
(confidence at least 0.7). When in doubt, triggered=false.`)
	return sb.String()
}

func parseScene(text string) SceneAnalysis {
	obj, err := ExtractJSON(text)
	if err != nil {
		// Free-text fallback keeps the scene state moving.
		return SceneAnalysis{Summary: strings.TrimSpace(text)}
	}
	return sceneFromMap(obj)
}

func parseCombined(text string, active []rules.WatchRule) AnalysisResult {
	obj, err := ExtractJSON(text)
	if err != nil {
		return AnalysisResult{Scene: SceneAnalysis{Summary: strings.TrimSpace(text)}}
	}

	var result AnalysisResult
	if sceneRaw, ok := obj["scene"].(map[string]any); ok {
		result.Scene = sceneFromMap(sceneRaw)
	} else {
		// Some models flatten the scene to the top level.
		result.Scene = sceneFromMap(obj)
	}

	known := make(map[string]bool, len(active))
	for _, r := range active {
		known[r.ID] = true
	}

	now := time.Now()
	if evals, ok := obj["evaluations"].([]any); ok {
		for _, raw := range evals {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			ev := rules.Evaluation{Timestamp: now}
			ev.RuleID, _ = m["rule_id"].(string)
			ev.Triggered, _ = m["triggered"].(bool)
			if c, ok := m["confidence"].(float64); ok {
				ev.Confidence = c
			}
			ev.Reasoning, _ = m["reasoning"].(string)
			if !known[ev.RuleID] {
				continue
			}
			result.Evaluations = append(result.Evaluations, ev)
		}
	}
	return result
}

func sceneFromMap(m map[string]any) SceneAnalysis {
	var s SceneAnalysis
	s.Summary, _ = m["summary"].(string)
	if objs, ok := m["objects"].([]any); ok {
		for _, o := range objs {
			if str, ok := o.(string); ok && str != "" {
				s.Objects = append(s.Objects, str)
			}
		}
	}
	switch v := m["people_count"].(type) {
	case float64:
		s.PeopleCount = int(v)
	}
	return s
}
