// Package compose maps visual templates onto concrete composite instructions
// for a given canvas. Resolution is pure and deterministic: identical inputs
// always produce identical instructions, including the SVG markup emitted for
// text layers.
package compose

import (
	"fmt"
	"html"
	"math"

	"pinforge/internal/domain"
)

const (
	defaultOverlayOpacity  = 0.1
	defaultWatermarkPct    = 20.0
	defaultFontSizePct     = 8.0
	defaultFontFamily      = "Arial"
	defaultFontColor       = "#ffffff"
	defaultBackgroundColor = "#000000"

	// Band height is a multiple of the resolved font pixel height.
	bandHeightFactor = 3
)

// Instruction describes at most one composite layer for the codec adapter.
// All pointers nil means the base image passes through unchanged.
type Instruction struct {
	Overlay   *OverlayLayer
	Watermark *WatermarkLayer
	Text      *TextLayer
}

// OverlayLayer covers the full canvas with a resized asset at low opacity.
type OverlayLayer struct {
	AssetPath string
	Opacity   float64
}

// WatermarkLayer places an aspect-preserved asset inside a pixel box whose
// top-left corner sits at (X, Y).
type WatermarkLayer struct {
	AssetPath string
	BoxWidth  int
	BoxHeight int
	X         int
	Y         int
	Opacity   float64
}

// TextLayer renders text across the full canvas width. When Band is set the
// layer carries an opaque background bar of LayerHeight pixels; otherwise the
// layer is transparent behind the glyphs.
type TextLayer struct {
	Text        string
	FontFamily  string
	FontPx      int
	Color       string
	Background  string
	Band        bool
	LayerHeight int
	TopOffset   int
	Width       int
	SVG         string
}

// Resolve computes the composite instruction for one template on a canvas of
// the given pixel dimensions. Unknown or unsupported variants (including HTML
// compositions, which need a browser renderer) resolve to the empty
// instruction.
func Resolve(t domain.VisualTemplate, width, height int) Instruction {
	switch t.Kind {
	case domain.TemplateOverlay:
		if t.AssetPath == "" {
			return Instruction{}
		}
		opacity := t.Opacity
		if opacity <= 0 {
			opacity = defaultOverlayOpacity
		}
		return Instruction{Overlay: &OverlayLayer{AssetPath: t.AssetPath, Opacity: opacity}}

	case domain.TemplateWatermark:
		if t.AssetPath == "" {
			return Instruction{}
		}
		return Instruction{Watermark: resolveWatermark(t, width, height)}

	case domain.TemplateText:
		if t.Text == "" {
			return Instruction{}
		}
		return Instruction{Text: resolveText(t, width, height, false)}

	case domain.TemplateTextBand:
		if t.Text == "" {
			return Instruction{}
		}
		return Instruction{Text: resolveText(t, width, height, true)}

	default:
		return Instruction{}
	}
}

func resolveWatermark(t domain.VisualTemplate, width, height int) *WatermarkLayer {
	wPct := t.WidthPct
	if wPct <= 0 {
		wPct = defaultWatermarkPct
	}
	hPct := t.HeightPct
	if hPct <= 0 {
		hPct = defaultWatermarkPct
	}
	opacity := t.Opacity
	if opacity <= 0 {
		opacity = 1.0
	}
	return &WatermarkLayer{
		AssetPath: t.AssetPath,
		BoxWidth:  pct(width, wPct),
		BoxHeight: pct(height, hPct),
		X:         pct(width, t.PositionXPct),
		Y:         pct(height, t.PositionYPct),
		Opacity:   opacity,
	}
}

func resolveText(t domain.VisualTemplate, width, height int, band bool) *TextLayer {
	fontPct := t.FontSizePct
	if fontPct <= 0 {
		fontPct = defaultFontSizePct
	}
	fontPx := pct(height, fontPct)
	if fontPx < 1 {
		fontPx = 1
	}

	layer := &TextLayer{
		Text:       t.Text,
		FontFamily: coalesce(t.FontFamily, defaultFontFamily),
		FontPx:     fontPx,
		Color:      coalesce(t.FontColor, defaultFontColor),
		Band:       band,
		Width:      width,
	}

	if band {
		layer.Background = coalesce(t.BackgroundColor, defaultBackgroundColor)
		layer.LayerHeight = fontPx * bandHeightFactor
		layer.TopOffset = bandTopOffset(t.PositionYPct, height, layer.LayerHeight)
	} else {
		layer.LayerHeight = fontPx * 2
		layer.TopOffset = pct(height, t.PositionYPct)
		if layer.TopOffset+layer.LayerHeight > height {
			layer.TopOffset = height - layer.LayerHeight
		}
		if layer.TopOffset < 0 {
			layer.TopOffset = 0
		}
	}
	layer.SVG = textSVG(layer)
	return layer
}

// bandTopOffset buckets the percentage position into top, middle, or bottom
// alignment: <=33 top, 34-66 centered, >66 bottom.
func bandTopOffset(positionY float64, height, bandHeight int) int {
	switch {
	case positionY <= 33:
		return 0
	case positionY <= 66:
		return (height - bandHeight) / 2
	default:
		return height - bandHeight
	}
}

func textSVG(l *TextLayer) string {
	escaped := html.EscapeString(l.Text)
	if l.Band {
		return fmt.Sprintf(
			`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d">`+
				`<rect width="%d" height="%d" fill="%s"/>`+
				`<text x="50%%" y="50%%" font-family="%s" font-size="%d" fill="%s" text-anchor="middle" dominant-baseline="central">%s</text>`+
				`</svg>`,
			l.Width, l.LayerHeight, l.Width, l.LayerHeight, l.Background,
			l.FontFamily, l.FontPx, l.Color, escaped,
		)
	}
	return fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d">`+
			`<text x="50%%" y="50%%" font-family="%s" font-size="%d" fill="%s" text-anchor="middle" dominant-baseline="central">%s</text>`+
			`</svg>`,
		l.Width, l.LayerHeight, l.FontFamily, l.FontPx, l.Color, escaped,
	)
}

func pct(total int, percent float64) int {
	return int(math.Round(float64(total) * percent / 100))
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
