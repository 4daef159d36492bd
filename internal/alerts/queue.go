// Package alerts holds the client-side pending-alert queue, the bounded
// replay event log, and the cost/rate stats tracker shared by all cameras.
package alerts

import (
	"sync"
	"time"

	"github.com/physical-mcp/physical-mcp/internal/ids"
)

const (
	DefaultQueueCapacity = 50
	DefaultAlertTTL      = 300 * time.Second
)

// RuleRef is the slim rule view carried inside a pending alert so the chat
// client can evaluate without another round trip.
type RuleRef struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Condition     string `json:"condition"`
	Priority      string `json:"priority"`
	CustomMessage string `json:"custom_message,omitempty"`
}

// PendingAlert is a scene-change event queued for the chat client's own AI,
// used when no server-side VLM is configured.
type PendingAlert struct {
	ID                string    `json:"id"`
	CameraID          string    `json:"camera_id"`
	CameraName        string    `json:"camera_name"`
	Timestamp         time.Time `json:"timestamp"`
	ChangeLevel       string    `json:"change_level"`
	ChangeDescription string    `json:"change_description"`
	FrameBase64       string    `json:"frame_base64,omitempty"`
	SceneContext      string    `json:"scene_context,omitempty"`
	ActiveRules       []RuleRef `json:"active_rules"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// NewPendingAlert stamps id, timestamp, and expiry.
func NewPendingAlert(cameraID, cameraName, level, desc, frameB64, sceneCtx string, rules []RuleRef) PendingAlert {
	now := time.Now()
	return PendingAlert{
		ID:                ids.PendingAlert(),
		CameraID:          cameraID,
		CameraName:        cameraName,
		Timestamp:         now,
		ChangeLevel:       level,
		ChangeDescription: desc,
		FrameBase64:       frameB64,
		SceneContext:      sceneCtx,
		ActiveRules:       rules,
		ExpiresAt:         now.Add(DefaultAlertTTL),
	}
}

// Queue is the bounded TTL queue of pending alerts. Pushes are monotonic in
// time, so the deque stays age-ordered and pruning only ever eats the head.
type Queue struct {
	mu  sync.Mutex
	buf []PendingAlert
	cap int
	now func() time.Time
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{cap: capacity, now: time.Now}
}

// SetClock overrides the clock. Test use only.
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	q.now = now
	q.mu.Unlock()
}

// pruneLocked drops expired entries from the head.
func (q *Queue) pruneLocked() {
	now := q.now()
	i := 0
	for i < len(q.buf) && q.buf[i].ExpiresAt.Before(now) {
		i++
	}
	if i > 0 {
		q.buf = q.buf[i:]
	}
}

// Push appends an alert, pruning expired entries first and evicting the
// oldest on overflow.
func (q *Queue) Push(a PendingAlert) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneLocked()
	q.buf = append(q.buf, a)
	if len(q.buf) > q.cap {
		q.buf = q.buf[len(q.buf)-q.cap:]
	}
}

// PopAll drains the queue, returning live alerts in push order.
func (q *Queue) PopAll() []PendingAlert {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneLocked()
	out := q.buf
	q.buf = nil
	return out
}

// HasPending prunes then reports whether anything is waiting.
func (q *Queue) HasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneLocked()
	return len(q.buf) > 0
}

// Size prunes then returns the queue length.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneLocked()
	return len(q.buf)
}

// FlushRule removes queued alerts that reference the rule; used when the
// rule is deleted. Returns how many entries were dropped.
func (q *Queue) FlushRule(ruleID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.buf[:0]
	dropped := 0
	for _, a := range q.buf {
		refs := false
		for _, r := range a.ActiveRules {
			if r.ID == ruleID {
				refs = true
				break
			}
		}
		if refs {
			dropped++
			continue
		}
		kept = append(kept, a)
	}
	q.buf = kept
	return dropped
}
