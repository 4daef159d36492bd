package camera

import (
	"sync"
	"time"
)

// Health status values. REST and MCP consumers rely on this exact set.
const (
	StatusStarting     = "starting"
	StatusRunning      = "running"
	StatusDegraded     = "degraded"
	StatusBackoff      = "backoff"
	StatusDisconnected = "disconnected"
	StatusUnknown      = "unknown"
)

// Health is the per-camera health snapshot.
type Health struct {
	CameraID          string     `json:"camera_id"`
	CameraName        string     `json:"camera_name"`
	Status            string     `json:"status"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	ProviderErrors    int        `json:"provider_errors,omitempty"`
	BackoffUntil      *time.Time `json:"backoff_until,omitempty"`
	LastSuccessAt     *time.Time `json:"last_success_at,omitempty"`
	LastFrameAt       *time.Time `json:"last_frame_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
}

// Normalize fills missing fields so consumers always see a stable shape.
func (h Health) Normalize(cameraID, cameraName string) Health {
	if h.CameraID == "" {
		h.CameraID = cameraID
	}
	if h.CameraName == "" {
		h.CameraName = cameraName
	}
	if h.Status == "" {
		h.Status = StatusUnknown
	}
	return h
}

// HealthTracker keeps the live health state for one camera. Written by the
// camera's perception loop, read by REST and MCP.
type HealthTracker struct {
	mu sync.Mutex
	h  Health
}

func NewHealthTracker(cameraID, cameraName string) *HealthTracker {
	return &HealthTracker{h: Health{
		CameraID:   cameraID,
		CameraName: cameraName,
		Status:     StatusStarting,
	}}
}

// Snapshot returns a normalized copy.
func (t *HealthTracker) Snapshot() Health {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.h.Normalize(t.h.CameraID, t.h.CameraName)
}

// FrameOK records a successful capture and resets the capture error
// counter. Provider state is untouched: an open backoff window keeps its
// status, and ProviderErrors clears only on ProviderOK, so escalation
// survives the healthy frame grabs between retries.
func (t *HealthTracker) FrameOK() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.h.LastFrameAt = &now
	t.h.ConsecutiveErrors = 0
	if t.h.BackoffUntil != nil && now.Before(*t.h.BackoffUntil) {
		return
	}
	t.h.Status = StatusRunning
	t.h.LastError = ""
}

// CaptureError records a failed grab. The status degrades to disconnected
// once the camera has been silent past the threshold.
func (t *HealthTracker) CaptureError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.h.ConsecutiveErrors++
	if err != nil {
		t.h.LastError = err.Error()
	}
	if t.h.ConsecutiveErrors >= readFailureLimit {
		t.h.Status = StatusDisconnected
	} else if t.h.Status == StatusRunning {
		t.h.Status = StatusDegraded
	}
}

// ProviderError records a VLM failure and the computed backoff window.
func (t *HealthTracker) ProviderError(err error, until time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.h.ProviderErrors++
	if err != nil {
		t.h.LastError = err.Error()
	}
	t.h.BackoffUntil = &until
	t.h.Status = StatusBackoff
}

// ProviderOK clears provider backoff state after a successful analysis.
// This is the only place the provider error counter resets.
func (t *HealthTracker) ProviderOK() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.h.LastSuccessAt = &now
	t.h.BackoffUntil = nil
	t.h.ProviderErrors = 0
	t.h.Status = StatusRunning
	t.h.LastError = ""
}

// InBackoff reports whether the provider backoff window is still open and
// how many consecutive provider errors accumulated so far.
func (t *HealthTracker) InBackoff(now time.Time) (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.h.BackoffUntil != nil && now.Before(*t.h.BackoffUntil) {
		return true, t.h.ProviderErrors
	}
	return false, t.h.ProviderErrors
}
