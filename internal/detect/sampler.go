package detect

import (
	"sync"
	"time"
)

// SamplerConfig tunes the cost gate.
type SamplerConfig struct {
	Cooldown  time.Duration // minimum spacing between VLM calls
	Debounce  time.Duration // settle time after a moderate change
	Heartbeat time.Duration // keep-alive analysis interval; 0 disables
}

// Sampler decides when a frame deserves a VLM call. A brief action produces
// one or two moderate frames then returns to none; the pending flags make
// sure that change still fires once the debounce elapses instead of being
// lost on the next quiet frame. Minor changes wait 1.5x longer so flicker
// does not burn budget.
type Sampler struct {
	mu sync.Mutex

	cfg SamplerConfig
	now func() time.Time // injectable clock

	lastAnalysis    time.Time
	pendingModerate bool
	moderateAt      time.Time
	pendingMinor    bool
	minorAt         time.Time
}

func NewSampler(cfg SamplerConfig) *Sampler {
	return &Sampler{cfg: cfg, now: time.Now}
}

// SetClock overrides the clock. Test use only.
func (s *Sampler) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Observe runs the decision ladder for one frame and returns whether the
// frame warrants a VLM call.
func (s *Sampler) Observe(res Result, hasActiveRules bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 1. No active rules: never trigger, zero cost when idle.
	if !hasActiveRules {
		return false
	}

	now := s.now()

	// 2. Cooldown gate.
	if s.cfg.Cooldown > 0 && !s.lastAnalysis.IsZero() && now.Sub(s.lastAnalysis) < s.cfg.Cooldown {
		return false
	}

	// 3. Pending-debounce firing. The current level is irrelevant here: a
	// settled moderate change must fire even on a quiet frame.
	if s.pendingModerate && now.Sub(s.moderateAt) >= s.cfg.Debounce {
		s.fire(now)
		return true
	}
	if s.pendingMinor && now.Sub(s.minorAt) >= s.cfg.Debounce*3/2 {
		s.fire(now)
		return true
	}

	switch res.Level {
	case LevelMajor:
		// 4. Major fires immediately.
		s.fire(now)
		return true
	case LevelModerate:
		// 5. Arm (or re-arm) the moderate debounce; it supersedes minor.
		s.pendingModerate = true
		s.moderateAt = now
		s.pendingMinor = false
		return false
	case LevelMinor:
		// 6. Arm the minor debounce unless a moderate is already pending.
		if !s.pendingModerate && !s.pendingMinor {
			s.pendingMinor = true
			s.minorAt = now
		}
		return false
	default:
		// 7. Heartbeat keep-alive on quiet frames.
		if s.cfg.Heartbeat > 0 && !s.lastAnalysis.IsZero() && now.Sub(s.lastAnalysis) >= s.cfg.Heartbeat {
			s.fire(now)
			return true
		}
		if s.cfg.Heartbeat > 0 && s.lastAnalysis.IsZero() {
			// Never analyzed yet: treat as heartbeat-due.
			s.fire(now)
			return true
		}
		// 8. Otherwise no.
		return false
	}
}

// fire records an analysis decision and clears the pending flags.
func (s *Sampler) fire(now time.Time) {
	s.lastAnalysis = now
	s.pendingModerate = false
	s.pendingMinor = false
}
