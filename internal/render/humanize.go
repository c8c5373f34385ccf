package render

import (
	"image"
	"image/color"
	"math/rand"
	"time"

	"github.com/disintegration/imaging"
)

const (
	whiteLayerOpacity = 0.005
	noiseAlpha        = 0.10
	noiseDeviation    = 0.15
	brightnessNudge   = 1.0
)

// humanize applies the fixed post-process every deliverable goes through:
// a near-transparent white layer, a seeded synthetic noise layer blended with
// a photometric overlay blend, and a +1% brightness adjustment. Combined
// with the metadata-free re-encode this removes AI-generation provenance
// traces from the file.
func humanize(img *image.NRGBA, seed int64) *image.NRGBA {
	bounds := img.Bounds()
	white := imaging.New(bounds.Dx(), bounds.Dy(), color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	out := imaging.Overlay(img, white, image.Pt(0, 0), whiteLayerOpacity)
	out = blendNoise(out, seed, noiseAlpha)
	return imaging.AdjustBrightness(out, brightnessNudge)
}

// blendNoise mixes a full-canvas grayscale noise layer into the image using
// the overlay blend mode at the given alpha. Each noise sample deviates from
// mid-gray by up to ±noiseDeviation of full range. The same seed always
// produces the same bytes.
func blendNoise(img *image.NRGBA, seed int64, alpha float64) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed))
	bounds := img.Bounds()
	out := imaging.Clone(img)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dev := (rng.Float64()*2 - 1) * noiseDeviation
			noise := clampChannel(128 + dev*255)

			i := out.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				base := out.Pix[i+c]
				blended := overlayBlend(base, noise)
				mixed := float64(base) + (float64(blended)-float64(base))*alpha
				out.Pix[i+c] = clampChannel(mixed)
			}
		}
	}
	return out
}

// overlayBlend is the standard photometric overlay mode: dark regions are
// multiplied, light regions are screened.
func overlayBlend(base, blend uint8) uint8 {
	b := int(base)
	o := int(blend)
	var v int
	if b < 128 {
		v = 2 * b * o / 255
	} else {
		v = 255 - 2*(255-b)*(255-o)/255
	}
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return uint8(v)
}

func clampChannel(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func deriveSeed() int64 {
	return time.Now().UnixNano()
}
