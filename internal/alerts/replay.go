package alerts

import (
	"sync"
	"time"

	"github.com/physical-mcp/physical-mcp/internal/ids"
)

const replayLogMax = 200

// Replay event types.
const (
	EventAlert          = "alert"
	EventSceneChange    = "scene_change"
	EventProviderError  = "provider_error"
	EventCameraError    = "camera_error"
	EventStartupWarning = "startup_warning"
	EventRuleChange     = "rule_change"
)

// ReplayEvent is one entry in the bounded in-memory event log that
// late-connecting MCP sessions read to catch up.
type ReplayEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	CameraID   string    `json:"camera_id,omitempty"`
	CameraName string    `json:"camera_name,omitempty"`
	RuleID     string    `json:"rule_id,omitempty"`
	RuleName   string    `json:"rule_name,omitempty"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// ReplayLog is the append-only bounded event log. Emission order is
// preserved; the oldest entries fall off at 200.
type ReplayLog struct {
	mu  sync.Mutex
	buf []ReplayEvent
}

func NewReplayLog() *ReplayLog {
	return &ReplayLog{}
}

// Append records an event, assigning id and timestamp when missing, and
// returns the stored entry (callers reuse the event_id in MCP log lines).
func (l *ReplayLog) Append(ev ReplayEvent) ReplayEvent {
	if ev.EventID == "" {
		ev.EventID = ids.Event()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	l.mu.Lock()
	l.buf = append(l.buf, ev)
	if len(l.buf) > replayLogMax {
		l.buf = l.buf[len(l.buf)-replayLogMax:]
	}
	l.mu.Unlock()
	return ev
}

// Recent returns the newest limit entries, oldest first. limit <= 0 returns
// everything.
func (l *ReplayLog) Recent(limit int) []ReplayEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.buf)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]ReplayEvent, n)
	copy(out, l.buf[len(l.buf)-n:])
	return out
}
