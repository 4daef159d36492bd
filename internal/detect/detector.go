package detect

import (
	"fmt"
	"image"
	"sync"
)

// Level is the four-valued change classification.
type Level string

const (
	LevelNone     Level = "none"
	LevelMinor    Level = "minor"
	LevelModerate Level = "moderate"
	LevelMajor    Level = "major"
)

// Result describes how much one frame differs from its predecessor.
type Result struct {
	Level        Level   `json:"level"`
	HashDistance int     `json:"hash_distance"`  // Hamming distance 0..64
	PixelDiffPct float64 `json:"pixel_diff_pct"` // 0..1
	Description  string  `json:"description"`
}

// Thresholds map Hamming distance to a change level.
type Thresholds struct {
	Minor    int
	Moderate int
	Major    int
}

// DefaultThresholds per the perception tuning defaults.
var DefaultThresholds = Thresholds{Minor: 5, Moderate: 12, Major: 25}

// Detector is the stateful per-camera change detector: pHash distance plus
// pixel diff against the previous frame.
type Detector struct {
	mu       sync.Mutex
	th       Thresholds
	prevHash uint64
	prevGrey [greySize * greySize]float64
	havePrev bool
}

func NewDetector(th Thresholds) *Detector {
	if th.Minor <= 0 {
		th = DefaultThresholds
	}
	return &Detector{th: th}
}

// Detect classifies the frame against the previous one and advances state.
// The first frame after construction or Reset is always reported major.
func (d *Detector) Detect(img image.Image) Result {
	grey := greyscale(img)
	hash := phash(&grey)

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.havePrev {
		d.prevHash = hash
		d.prevGrey = grey
		d.havePrev = true
		return Result{
			Level:        LevelMajor,
			HashDistance: 64,
			PixelDiffPct: 1,
			Description:  "initial frame",
		}
	}

	dist := hamming(hash, d.prevHash)
	diff := pixelDiff(&grey, &d.prevGrey)

	d.prevHash = hash
	d.prevGrey = grey

	level := d.classify(dist, diff)
	return Result{
		Level:        level,
		HashDistance: dist,
		PixelDiffPct: diff,
		Description:  describe(level, dist, diff),
	}
}

func (d *Detector) classify(dist int, diff float64) Level {
	switch {
	case dist >= d.th.Major:
		return LevelMajor
	case dist >= d.th.Moderate:
		return LevelModerate
	case dist >= d.th.Minor:
		return LevelMinor
	default:
		return LevelNone
	}
}

// Reset clears state so the next frame is treated as initial again.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.havePrev = false
	d.mu.Unlock()
}

func describe(level Level, dist int, diff float64) string {
	if level == LevelNone {
		return "no significant change"
	}
	return fmt.Sprintf("%s scene change (hash distance %d, %.0f%% pixels)", level, dist, diff*100)
}
