package detect

import (
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func solidImage(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 160, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 160; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func noiseImage(seed int64) image.Image {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, 160, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 160; x++ {
			v := uint8(rng.Intn(256))
			img.Set(x, y, color.RGBA{v, uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	return img
}

func TestDetector_FirstFrameIsMajor(t *testing.T) {
	d := NewDetector(DefaultThresholds)
	r := d.Detect(solidImage(color.Gray{128}))
	assert.Equal(t, LevelMajor, r.Level)
	assert.Equal(t, "initial frame", r.Description)
}

func TestDetector_IdenticalFrameIsNone(t *testing.T) {
	d := NewDetector(DefaultThresholds)
	img := noiseImage(42)
	d.Detect(img)
	r := d.Detect(img)
	assert.Equal(t, LevelNone, r.Level)
	assert.Zero(t, r.HashDistance)
	assert.Zero(t, r.PixelDiffPct)
}

func TestDetector_SceneSwapIsMajor(t *testing.T) {
	d := NewDetector(DefaultThresholds)
	d.Detect(noiseImage(1))
	r := d.Detect(noiseImage(2))
	assert.Equal(t, LevelMajor, r.Level, "hash distance %d", r.HashDistance)
	assert.Greater(t, r.PixelDiffPct, 0.5)
}

func TestDetector_Reset(t *testing.T) {
	d := NewDetector(DefaultThresholds)
	img := solidImage(color.Gray{80})
	d.Detect(img)
	d.Reset()
	r := d.Detect(img)
	assert.Equal(t, LevelMajor, r.Level)
	assert.Equal(t, "initial frame", r.Description)
}

func TestDCTMatchesDirectTransform(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var grey [greySize * greySize]float64
	for i := range grey {
		grey[i] = float64(rng.Intn(256))
	}

	got := dct2d(&grey)

	// Direct (non-separable, per-term cosine) DCT-II of the same block.
	for u := 0; u < hashSize; u++ {
		for v := 0; v < hashSize; v++ {
			var want float64
			for y := 0; y < greySize; y++ {
				for x := 0; x < greySize; x++ {
					want += grey[y*greySize+x] *
						math.Cos(float64(2*y+1)*float64(u)*math.Pi/(2*greySize)) *
						math.Cos(float64(2*x+1)*float64(v)*math.Pi/(2*greySize))
				}
			}
			assert.InDelta(t, want, got[u*hashSize+v], 1e-6, "coefficient (%d,%d)", u, v)
		}
	}
}

func TestHamming(t *testing.T) {
	assert.Equal(t, 0, hamming(0xFFFF, 0xFFFF))
	assert.Equal(t, 64, hamming(0, ^uint64(0)))
	assert.Equal(t, 1, hamming(0b1000, 0b0000))
}

func TestClassifyThresholds(t *testing.T) {
	d := NewDetector(Thresholds{Minor: 5, Moderate: 12, Major: 25})
	assert.Equal(t, LevelNone, d.classify(4, 0))
	assert.Equal(t, LevelMinor, d.classify(5, 0))
	assert.Equal(t, LevelModerate, d.classify(12, 0))
	assert.Equal(t, LevelMajor, d.classify(25, 0))
	assert.Equal(t, LevelMajor, d.classify(64, 0))
}
