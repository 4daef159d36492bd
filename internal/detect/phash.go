// Package detect implements the perceptual change detector and the sampler
// that gates VLM calls. Everything here must stay cheap: a few milliseconds
// per frame on modest hardware, no ML.
package detect

import (
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
)

const (
	greySize = 64 // downscale edge for hashing and pixel diff
	hashSize = 8  // pHash is 8x8 = 64 bits
	diffAbs  = 25 // absolute grey delta that counts as a changed pixel
)

// greyscale downsamples the frame to a 64x64 luma plane.
func greyscale(img image.Image) [greySize * greySize]float64 {
	small := image.NewGray(image.Rect(0, 0, greySize, greySize))
	xdraw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	var out [greySize * greySize]float64
	for i, p := range small.Pix {
		out[i] = float64(p)
	}
	return out
}

// dctBasis[f][p] = cos((2p+1) * f * pi / 128), the cosine terms for the
// hashSize low frequencies over a 64-sample row. Computed once; per-frame
// work is then pure multiply-adds.
var dctBasis = func() [hashSize][greySize]float64 {
	var b [hashSize][greySize]float64
	for f := 0; f < hashSize; f++ {
		for p := 0; p < greySize; p++ {
			b[f][p] = math.Cos(float64(2*p+1) * float64(f) * math.Pi / (2 * greySize))
		}
	}
	return b
}()

// dct2d computes the top-left hashSize x hashSize block of the 2D DCT-II of
// the 64x64 grey plane. The transform is separable: rows are collapsed
// against the basis first, then columns, so only the low-frequency corner
// is ever computed.
func dct2d(grey *[greySize * greySize]float64) [hashSize * hashSize]float64 {
	var rows [hashSize][greySize]float64
	for u := 0; u < hashSize; u++ {
		for x := 0; x < greySize; x++ {
			var sum float64
			for y := 0; y < greySize; y++ {
				sum += grey[y*greySize+x] * dctBasis[u][y]
			}
			rows[u][x] = sum
		}
	}

	var out [hashSize * hashSize]float64
	for u := 0; u < hashSize; u++ {
		for v := 0; v < hashSize; v++ {
			var sum float64
			for x := 0; x < greySize; x++ {
				sum += rows[u][x] * dctBasis[v][x]
			}
			out[u*hashSize+v] = sum
		}
	}
	return out
}

// phash returns the 64-bit perceptual hash of the grey plane: each bit is
// one low-frequency DCT coefficient compared against the block mean (DC
// term excluded from the mean so overall brightness cancels out).
func phash(grey *[greySize * greySize]float64) uint64 {
	coeffs := dct2d(grey)

	var mean float64
	for i := 1; i < len(coeffs); i++ {
		mean += coeffs[i]
	}
	mean /= float64(len(coeffs) - 1)

	var h uint64
	for i, c := range coeffs {
		if c > mean {
			h |= 1 << uint(i)
		}
	}
	return h
}

// hamming counts differing bits between two hashes.
func hamming(a, b uint64) int {
	x := a ^ b
	n := 0
	for x != 0 {
		x &= x - 1
		n++
	}
	return n
}

// pixelDiff returns the fraction of pixels whose grey delta exceeds the
// absolute threshold.
func pixelDiff(a, b *[greySize * greySize]float64) float64 {
	changed := 0
	for i := range a {
		if math.Abs(a[i]-b[i]) > diffAbs {
			changed++
		}
	}
	return float64(changed) / float64(len(a))
}
