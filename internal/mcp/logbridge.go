package mcp

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/physical-mcp/physical-mcp/internal/events"
)

// logBufferMax bounds the pre-session buffer. Events older than the newest
// hundred are dropped, oldest first.
const logBufferMax = 100

// LogBridge turns mcp_log bus events into PMCP-prefixed log lines. Until a
// session attaches the lines are buffered; the first attach flushes them so
// a late-connecting client still sees what happened during startup.
type LogBridge struct {
	log *logrus.Logger

	mu       sync.Mutex
	attached bool
	buf      []string
}

// NewLogBridge subscribes to the mcp_log topic and returns the bridge.
func NewLogBridge(bus *events.Bus, log *logrus.Logger) *LogBridge {
	if log == nil {
		log = logrus.StandardLogger()
	}
	b := &LogBridge{log: log}
	if bus != nil {
		bus.Subscribe(events.TopicMCPLog, func(event any) {
			ev, ok := event.(events.LogEvent)
			if !ok {
				return
			}
			b.Emit(ev)
		})
	}
	return b
}

// FormatLine renders one log event in the standard pipe-separated shape.
func FormatLine(ev events.LogEvent) string {
	var sb strings.Builder
	sb.WriteString("PMCP[")
	sb.WriteString(ev.Type)
	sb.WriteString("] | event_id=")
	sb.WriteString(ev.EventID)
	if ev.CameraID != "" {
		sb.WriteString(" | camera_id=")
		sb.WriteString(ev.CameraID)
	}
	if ev.RuleID != "" {
		sb.WriteString(" | rule_id=")
		sb.WriteString(ev.RuleID)
	}
	sb.WriteString(" | ")
	sb.WriteString(ev.Message)
	return sb.String()
}

// Emit logs the event immediately when a session is attached, otherwise
// buffers it.
func (b *LogBridge) Emit(ev events.LogEvent) {
	line := FormatLine(ev)

	b.mu.Lock()
	if !b.attached {
		if len(b.buf) >= logBufferMax {
			b.buf = b.buf[1:]
		}
		b.buf = append(b.buf, line)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	b.log.Info(line)
}

// Attach marks a live session and flushes the buffer. Subsequent calls are
// no-ops.
func (b *LogBridge) Attach() {
	b.mu.Lock()
	if b.attached {
		b.mu.Unlock()
		return
	}
	b.attached = true
	pending := b.buf
	b.buf = nil
	b.mu.Unlock()

	for _, line := range pending {
		b.log.Info(line)
	}
}

// Buffered reports how many lines await the first session.
func (b *LogBridge) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}
