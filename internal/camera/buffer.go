package camera

import (
	"sync"
	"time"
)

const DefaultMaxFrames = 300

// FrameBuffer is a bounded ring of recent frames, newest last. A one-shot
// signal channel wakes WaitForFrame callers on every push.
type FrameBuffer struct {
	mu     sync.Mutex
	frames []*Frame
	max    int
	wake   chan struct{}
}

func NewFrameBuffer(max int) *FrameBuffer {
	if max <= 0 {
		max = DefaultMaxFrames
	}
	return &FrameBuffer{
		max:  max,
		wake: make(chan struct{}),
	}
}

// Push appends a frame, evicting the oldest on overflow, then pulses the
// wake signal.
func (b *FrameBuffer) Push(f *Frame) {
	b.mu.Lock()
	b.frames = append(b.frames, f)
	if len(b.frames) > b.max {
		b.frames = b.frames[1:]
	}
	// Swap the wake channel and close the old one; waiters hold the old
	// reference and observe the close.
	old := b.wake
	b.wake = make(chan struct{})
	b.mu.Unlock()

	close(old)
}

// Latest returns the newest frame, or nil when nothing has been pushed yet.
func (b *FrameBuffer) Latest() *Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		return nil
	}
	return b.frames[len(b.frames)-1]
}

// FramesSince returns frames with Timestamp >= t, oldest first.
func (b *FrameBuffer) FramesSince(t time.Time) []*Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Frame
	for _, f := range b.frames {
		if !f.Timestamp.Before(t) {
			out = append(out, f)
		}
	}
	return out
}

// Sampled returns k evenly-spaced frames. A buffer holding <= k frames is
// returned whole.
func (b *FrameBuffer) Sampled(k int) []*Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.frames)
	if k <= 0 || n == 0 {
		return nil
	}
	if n <= k {
		out := make([]*Frame, n)
		copy(out, b.frames)
		return out
	}
	out := make([]*Frame, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, b.frames[i*n/k])
	}
	return out
}

func (b *FrameBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Clear drops all buffered frames. Kept for test harness use.
func (b *FrameBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
}

// WaitForFrame blocks until the next push or the timeout, then returns the
// latest frame (nil when the buffer is still empty).
func (b *FrameBuffer) WaitForFrame(timeout time.Duration) *Frame {
	b.mu.Lock()
	wake := b.wake
	b.mu.Unlock()

	select {
	case <-wake:
	case <-time.After(timeout):
	}
	return b.Latest()
}
