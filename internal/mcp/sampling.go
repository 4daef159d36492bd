package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/physical-mcp/physical-mcp/internal/rules"
)

// SessionSampler evaluates watch rules with the attached chat client's own
// model via the MCP sampling capability. When no session is attached, or the
// session turned out not to support sampling, CanSample reports false and
// the perception loop queues pending alerts instead.
type SessionSampler struct {
	mu      sync.Mutex
	session *mcpsdk.ServerSession
	broken  bool
}

// Attach records the most recent session and re-arms sampling.
func (s *SessionSampler) Attach(sess *mcpsdk.ServerSession) {
	if sess == nil {
		return
	}
	s.mu.Lock()
	if s.session != sess {
		s.session = sess
		s.broken = false
	}
	s.mu.Unlock()
}

// CanSample reports whether a sampling-capable session is attached.
func (s *SessionSampler) CanSample() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil && !s.broken
}

// EvaluateRules asks the attached session's model for one verdict per rule.
// A failed call marks the session broken so the loop falls back to the
// pending-alert queue instead of burning a timeout on every scene change.
func (s *SessionSampler) EvaluateRules(ctx context.Context, frameB64 string, active []rules.WatchRule, sceneContext string) ([]map[string]any, error) {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return nil, fmt.Errorf("no session attached")
	}

	raw, err := base64.StdEncoding.DecodeString(frameB64)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	res, err := sess.CreateMessage(ctx, &mcpsdk.CreateMessageParams{
		MaxTokens: 1024,
		Messages: []*mcpsdk.SamplingMessage{
			{Role: "user", Content: &mcpsdk.ImageContent{Data: raw, MIMEType: "image/jpeg"}},
			{Role: "user", Content: &mcpsdk.TextContent{Text: samplingPrompt(active, sceneContext)}},
		},
	})
	if err != nil {
		s.mu.Lock()
		s.broken = true
		s.mu.Unlock()
		return nil, err
	}

	text, ok := res.Content.(*mcpsdk.TextContent)
	if !ok {
		return nil, fmt.Errorf("unexpected sampling content type %T", res.Content)
	}
	return parseEvaluations(text.Text)
}

func samplingPrompt(active []rules.WatchRule, sceneContext string) string {
	var sb strings.Builder
	sb.WriteString("Evaluate each watch rule against the attached camera frame.\n")
	if sceneContext != "" {
		sb.WriteString("Known scene context: " + sceneContext + "\n")
	}
	sb.WriteString("Rules:\n")
	for _, r := range active {
		fmt.Fprintf(&sb, "- id=%s: %s\n", r.ID, r.Condition)
	}
	sb.WriteString("\nRespond with a JSON array only, one element per rule:\n")
	sb.WriteString(`[{"rule_id": "...", "triggered": true|false, "confidence": 0.0-1.0, "reasoning": "..."}]` + "\n")
	sb.WriteString("Report triggered=true only when the condition is clearly visible. When in doubt, triggered=false.")
	return sb.String()
}

// parseEvaluations digs the JSON array out of a model reply that may wrap
// it in prose or a code fence.
func parseEvaluations(text string) ([]map[string]any, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in reply")
	}
	var out []map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("parse evaluations: %w", err)
	}
	return out, nil
}
