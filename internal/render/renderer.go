// Package render is the image codec adapter: it decodes generated images,
// executes composite instructions from the resolver, applies the fixed
// humanization post-process, and re-encodes deliverables from scratch so no
// metadata from the source survives.
package render

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pinforge/internal/compose"
	"pinforge/internal/domain"
)

// Options configures a Renderer.
type Options struct {
	Logger zerolog.Logger
	// NoiseSeed fixes the humanization noise source. Zero means derive a seed
	// per call; tests pass a fixed value for byte-identical output.
	NoiseSeed int64
}

// Renderer applies visual templates and the humanization pass. It owns no
// persistent state; temp files created while encoding are removed before
// every return.
type Renderer struct {
	logger    zerolog.Logger
	noiseSeed int64
}

// New constructs a Renderer.
func New(opts Options) *Renderer {
	return &Renderer{logger: opts.Logger, noiseSeed: opts.NoiseSeed}
}

// ApplyTemplate decodes the image at srcPath, composites the template variant
// onto it, runs the humanization pass, and encodes the result to dstPath as a
// fresh PNG carrying no inherited metadata. The canvas dimensions come from
// the source image itself. An unsupported variant or missing asset leaves the
// base image visually unchanged; the humanization pass still runs.
func (r *Renderer) ApplyTemplate(srcPath string, tmpl domain.VisualTemplate, dstPath string) error {
	img, err := imaging.Open(srcPath)
	if err != nil {
		return fmt.Errorf("render: decode %s: %w", filepath.Base(srcPath), err)
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	canvas := imaging.Clone(img)
	instr := compose.Resolve(tmpl, width, height)

	switch {
	case instr.Overlay != nil:
		asset, err := imaging.Open(instr.Overlay.AssetPath)
		if err != nil {
			r.logger.Warn().Err(err).Str("asset", instr.Overlay.AssetPath).Msg("render: overlay asset unreadable, passing through")
			break
		}
		resized := imaging.Resize(asset, width, height, imaging.Lanczos)
		canvas = imaging.Overlay(canvas, resized, image.Pt(0, 0), instr.Overlay.Opacity)

	case instr.Watermark != nil:
		asset, err := imaging.Open(instr.Watermark.AssetPath)
		if err != nil {
			r.logger.Warn().Err(err).Str("asset", instr.Watermark.AssetPath).Msg("render: watermark asset unreadable, passing through")
			break
		}
		fitted := imaging.Fit(asset, instr.Watermark.BoxWidth, instr.Watermark.BoxHeight, imaging.Lanczos)
		canvas = imaging.Overlay(canvas, fitted, image.Pt(instr.Watermark.X, instr.Watermark.Y), instr.Watermark.Opacity)

	case instr.Text != nil:
		layer, err := renderTextLayer(instr.Text)
		if err != nil {
			r.logger.Warn().Err(err).Msg("render: text layer failed, passing through")
			break
		}
		canvas = imaging.Overlay(canvas, layer, image.Pt(0, instr.Text.TopOffset), 1.0)
	}

	seed := r.noiseSeed
	if seed == 0 {
		seed = deriveSeed()
	}
	canvas = humanize(canvas, seed)

	return r.encode(canvas, dstPath)
}

// encode writes the canvas to a temp file next to dstPath and renames it into
// place. Partial temp files are removed best-effort on failure.
func (r *Renderer) encode(canvas image.Image, dstPath string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("render: ensure output dir: %w", err)
	}
	tmpPath := dstPath + ".tmp-" + uuid.NewString()
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("render: create temp file: %w", err)
	}
	if err := imaging.Encode(f, canvas, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression)); err != nil {
		_ = f.Close()
		r.cleanup(tmpPath)
		return fmt.Errorf("render: encode: %w", err)
	}
	if err := f.Close(); err != nil {
		r.cleanup(tmpPath)
		return fmt.Errorf("render: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dstPath); err != nil {
		r.cleanup(tmpPath)
		return fmt.Errorf("render: move into place: %w", err)
	}
	return nil
}

func (r *Renderer) cleanup(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		r.logger.Warn().Err(err).Str("path", path).Msg("render: temp cleanup failed")
	}
}
