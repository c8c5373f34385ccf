package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"pinforge/internal/compose"
)

// renderTextLayer rasterizes a resolved text layer onto an RGBA layer sized
// to the layer's width and height. Band layers get an opaque background bar;
// plain text layers stay transparent behind the glyphs. The font file the
// template names is not loaded; glyphs always come from the bundled Go
// Regular face, which keeps rendering deterministic across hosts.
func renderTextLayer(t *compose.TextLayer) (*image.NRGBA, error) {
	layer := image.NewNRGBA(image.Rect(0, 0, t.Width, t.LayerHeight))

	if t.Band {
		bg := parseHexColor(t.Background, color.NRGBA{A: 255})
		draw.Draw(layer, layer.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	}

	parsed, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("render: parse font: %w", err)
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    float64(t.FontPx),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("render: build font face: %w", err)
	}
	defer face.Close()

	fg := parseHexColor(t.Color, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	drawer := &font.Drawer{
		Dst:  layer,
		Src:  image.NewUniform(fg),
		Face: face,
	}

	textWidth := drawer.MeasureString(t.Text).Ceil()
	x := (t.Width - textWidth) / 2
	if x < 0 {
		x = 0
	}
	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	descent := metrics.Descent.Ceil()
	y := (t.LayerHeight-ascent-descent)/2 + ascent

	drawer.Dot = fixed.P(x, y)
	drawer.DrawString(t.Text)
	return layer, nil
}

// parseHexColor accepts #rgb and #rrggbb notations, falling back on anything
// it cannot parse.
func parseHexColor(s string, fallback color.NRGBA) color.NRGBA {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	switch len(s) {
	case 3:
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	case 6:
	default:
		return fallback
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return fallback
	}
	return color.NRGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 255,
	}
}
