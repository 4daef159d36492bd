package rules

import (
	"sync"
	"time"

	"github.com/physical-mcp/physical-mcp/internal/ids"
)

// ConfidenceGate is the minimum evaluation confidence that produces an
// alert. The analyzer prompt asks for >= 0.7, the engine enforces 0.75: the
// stricter side wins on purpose.
const ConfidenceGate = 0.75

// Engine owns the rule set. One instance is shared across all cameras.
type Engine struct {
	mu    sync.Mutex
	rules map[string]*WatchRule
	now   func() time.Time
}

func NewEngine() *Engine {
	return &Engine{
		rules: make(map[string]*WatchRule),
		now:   time.Now,
	}
}

// SetClock overrides the clock. Test use only.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
}

// AddRule validates defaults and registers the rule, assigning an id when
// missing.
func (e *Engine) AddRule(r WatchRule) (WatchRule, error) {
	if r.Condition == "" || r.Name == "" {
		return WatchRule{}, ErrInvalidRule
	}
	if r.ID == "" {
		r.ID = ids.Rule()
	}
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	if r.CooldownSeconds <= 0 {
		r.CooldownSeconds = DefaultCooldownSeconds
	}
	if r.Notification.Type == "" {
		r.Notification.Type = NotifyLocal
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = e.clock()
	}

	e.mu.Lock()
	e.rules[r.ID] = &r
	e.mu.Unlock()
	return r, nil
}

func (e *Engine) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now()
}

// RemoveRule deletes a rule, reporting whether it existed.
func (e *Engine) RemoveRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.rules[id]
	delete(e.rules, id)
	return ok
}

// GetRule returns a copy of the rule.
func (e *Engine) GetRule(id string) (WatchRule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rules[id]
	if !ok {
		return WatchRule{}, false
	}
	return *r, true
}

// LoadRules replaces the entire rule set (startup and hot reload).
func (e *Engine) LoadRules(list []WatchRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = make(map[string]*WatchRule, len(list))
	for i := range list {
		r := list[i]
		if r.ID == "" {
			r.ID = ids.Rule()
		}
		if r.CooldownSeconds <= 0 {
			r.CooldownSeconds = DefaultCooldownSeconds
		}
		e.rules[r.ID] = &r
	}
}

// ListRules returns all rules, copied, in undefined order.
func (e *Engine) ListRules() []WatchRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]WatchRule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, *r)
	}
	return out
}

// ToggleRule flips the enabled flag, returning the new state.
func (e *Engine) ToggleRule(id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rules[id]
	if !ok {
		return false, ErrRuleNotFound
	}
	r.Enabled = !r.Enabled
	return r.Enabled, nil
}

// ActiveRules returns enabled rules for the camera whose cooldown has
// elapsed, the set worth paying a VLM call for.
func (e *Engine) ActiveRules(cameraID string) []WatchRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	var out []WatchRule
	for _, r := range e.rules {
		if r.Enabled && r.AppliesTo(cameraID) && r.CooldownElapsed(now) {
			out = append(out, *r)
		}
	}
	return out
}

// ProcessEvaluations turns raw evaluations into alert events. An evaluation
// generates an alert iff triggered, confidence >= 0.75, the rule is known
// and enabled, and its cooldown has elapsed. Emission stamps LastTriggered,
// which is the single cooldown gate.
func (e *Engine) ProcessEvaluations(evals []Evaluation, sceneSummary, frameB64 string) []AlertEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var alerts []AlertEvent
	for _, ev := range evals {
		if !ev.Triggered || ev.Confidence < ConfidenceGate {
			continue
		}
		r, ok := e.rules[ev.RuleID]
		if !ok || !r.Enabled || !r.CooldownElapsed(now) {
			continue
		}
		ts := now
		r.LastTriggered = &ts
		if ev.Timestamp.IsZero() {
			ev.Timestamp = now
		}
		alerts = append(alerts, AlertEvent{
			Rule:         *r,
			Evaluation:   ev,
			SceneSummary: sceneSummary,
			FrameBase64:  frameB64,
		})
	}
	return alerts
}

// ProcessClientEvaluations coerces loosely-typed evaluations coming from a
// chat client. Malformed entries are skipped, not fatal: one bad element
// must not sink the batch.
func (e *Engine) ProcessClientEvaluations(raw []map[string]any, sceneSummary, frameB64 string) []AlertEvent {
	evals := make([]Evaluation, 0, len(raw))
	for _, m := range raw {
		ruleID, ok := m["rule_id"].(string)
		if !ok || ruleID == "" {
			continue
		}
		ev := Evaluation{RuleID: ruleID}
		if v, ok := m["triggered"].(bool); ok {
			ev.Triggered = v
		}
		switch c := m["confidence"].(type) {
		case float64:
			ev.Confidence = c
		case int:
			ev.Confidence = float64(c)
		}
		if v, ok := m["reasoning"].(string); ok {
			ev.Reasoning = v
		}
		evals = append(evals, ev)
	}
	return e.ProcessEvaluations(evals, sceneSummary, frameB64)
}
