// Package ratelimit bounds the cloud push ingress. Every pushed camera
// gets its own token bucket so one chatty device cannot starve the rest.
package ratelimit

import (
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

var ErrRateLimitExceeded = errors.New("rate_limit_exceeded")

// PushLimiter holds one token bucket per camera.
type PushLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewPushLimiter allows rps sustained pushes with the given burst per
// camera. rps <= 0 disables limiting.
func NewPushLimiter(rps float64, burst int) *PushLimiter {
	if burst < 1 {
		burst = 1
	}
	return &PushLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether a push from cameraID may proceed right now.
func (p *PushLimiter) Allow(cameraID string) bool {
	if p.rps <= 0 {
		return true
	}
	p.mu.Lock()
	l, ok := p.limiters[cameraID]
	if !ok {
		l = rate.NewLimiter(p.rps, p.burst)
		p.limiters[cameraID] = l
	}
	p.mu.Unlock()
	return l.Allow()
}

// Forget drops the bucket for a removed camera.
func (p *PushLimiter) Forget(cameraID string) {
	p.mu.Lock()
	delete(p.limiters, cameraID)
	p.mu.Unlock()
}
