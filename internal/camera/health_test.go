package camera

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthTracker_FrameOKKeepsBackoff(t *testing.T) {
	tr := NewHealthTracker("cam1", "Cam One")
	tr.FrameOK()
	assert.Equal(t, StatusRunning, tr.Snapshot().Status)

	until := time.Now().Add(5 * time.Second)
	tr.ProviderError(errors.New("rate limited"), until)
	tr.FrameOK()

	h := tr.Snapshot()
	assert.Equal(t, StatusBackoff, h.Status, "a good frame must not close the backoff window")
	assert.Equal(t, 1, h.ProviderErrors)
	assert.Equal(t, "rate limited", h.LastError)

	// Once the window is over, frames restore running but the provider
	// counter stays for escalation.
	expired := time.Now().Add(-time.Second)
	tr.ProviderError(errors.New("rate limited"), expired)
	tr.FrameOK()
	h = tr.Snapshot()
	assert.Equal(t, StatusRunning, h.Status)
	assert.Equal(t, 2, h.ProviderErrors)

	tr.ProviderOK()
	h = tr.Snapshot()
	assert.Equal(t, StatusRunning, h.Status)
	assert.Zero(t, h.ProviderErrors)
	assert.Nil(t, h.BackoffUntil)
}

func TestHealthTracker_CaptureErrorsSeparateFromProvider(t *testing.T) {
	tr := NewHealthTracker("cam1", "Cam One")
	tr.ProviderError(errors.New("boom"), time.Now().Add(time.Minute))

	tr.CaptureError(errors.New("grab failed"))
	h := tr.Snapshot()
	assert.Equal(t, 1, h.ConsecutiveErrors)
	assert.Equal(t, 1, h.ProviderErrors)

	tr.FrameOK()
	h = tr.Snapshot()
	assert.Zero(t, h.ConsecutiveErrors, "capture counter resets on a good frame")
	assert.Equal(t, 1, h.ProviderErrors, "provider counter does not")
}
