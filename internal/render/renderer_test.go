package render

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"pinforge/internal/domain"
)

func testRenderer(seed int64) *Renderer {
	return New(Options{Logger: zerolog.New(io.Discard), NoiseSeed: seed})
}

// writeSeedImage encodes a small gradient PNG and appends a tEXt chunk so the
// source carries metadata that must not survive re-encoding.
func writeSeedImage(t *testing.T, dir string, width, height int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 7 % 256), G: uint8(y * 5 % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode seed image: %v", err)
	}
	data := injectTextChunk(t, buf.Bytes(), "Software", "AI Generator 9000")

	path := filepath.Join(dir, "seed.png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write seed image: %v", err)
	}
	return path
}

func injectTextChunk(t *testing.T, data []byte, key, value string) []byte {
	t.Helper()
	payload := append([]byte(key), 0)
	payload = append(payload, []byte(value)...)

	var chunk bytes.Buffer
	if err := binary.Write(&chunk, binary.BigEndian, uint32(len(payload))); err != nil {
		t.Fatalf("write chunk length: %v", err)
	}
	chunk.WriteString("tEXt")
	chunk.Write(payload)
	crc := crc32.NewIEEE()
	crc.Write([]byte("tEXt"))
	crc.Write(payload)
	if err := binary.Write(&chunk, binary.BigEndian, crc.Sum32()); err != nil {
		t.Fatalf("write chunk crc: %v", err)
	}

	// Insert after IHDR (signature + length/type + 13-byte payload + crc).
	splice := 8 + 8 + 13 + 4
	out := append([]byte{}, data[:splice]...)
	out = append(out, chunk.Bytes()...)
	return append(out, data[splice:]...)
}

func chunkTypes(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read png: %v", err)
	}
	if len(data) < 8 {
		t.Fatal("file too short for png")
	}
	var types []string
	offset := 8
	for offset+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[offset : offset+4]))
		types = append(types, string(data[offset+4:offset+8]))
		offset += 8 + length + 4
	}
	return types
}

func TestApplyTemplateDeterministicForFixedSeed(t *testing.T) {
	dir := t.TempDir()
	src := writeSeedImage(t, dir, 120, 180)
	tmpl := domain.VisualTemplate{
		Kind:         domain.TemplateTextBand,
		Text:         "Hello",
		FontSizePct:  8,
		PositionYPct: 80,
	}

	r := testRenderer(42)
	outA := filepath.Join(dir, "a.png")
	outB := filepath.Join(dir, "b.png")
	if err := r.ApplyTemplate(src, tmpl, outA); err != nil {
		t.Fatalf("ApplyTemplate: %v", err)
	}
	if err := r.ApplyTemplate(src, tmpl, outB); err != nil {
		t.Fatalf("ApplyTemplate: %v", err)
	}

	a, _ := os.ReadFile(outA)
	b, _ := os.ReadFile(outB)
	if !bytes.Equal(a, b) {
		t.Fatal("identical inputs and noise seed should produce identical bytes")
	}

	outC := filepath.Join(dir, "c.png")
	if err := testRenderer(43).ApplyTemplate(src, tmpl, outC); err != nil {
		t.Fatalf("ApplyTemplate: %v", err)
	}
	c, _ := os.ReadFile(outC)
	if bytes.Equal(a, c) {
		t.Fatal("different noise seeds should change output bytes")
	}
}

func TestApplyTemplateStripsSourceMetadata(t *testing.T) {
	dir := t.TempDir()
	src := writeSeedImage(t, dir, 64, 64)
	tagged := false
	for _, typ := range chunkTypes(t, src) {
		if typ == "tEXt" {
			tagged = true
		}
	}
	if !tagged {
		t.Fatal("seed fixture should carry a tEXt chunk")
	}

	out := filepath.Join(dir, "out.png")
	if err := testRenderer(1).ApplyTemplate(src, domain.VisualTemplate{}, out); err != nil {
		t.Fatalf("ApplyTemplate: %v", err)
	}
	for _, typ := range chunkTypes(t, out) {
		if typ == "tEXt" || typ == "iTXt" || typ == "zTXt" {
			t.Fatalf("output should carry no textual metadata, found %s", typ)
		}
	}
}

func TestWriteDescriptiveMetadata(t *testing.T) {
	dir := t.TempDir()
	src := writeSeedImage(t, dir, 32, 32)
	out := filepath.Join(dir, "out.png")
	r := testRenderer(7)
	if err := r.ApplyTemplate(src, domain.VisualTemplate{}, out); err != nil {
		t.Fatalf("ApplyTemplate: %v", err)
	}

	r.WriteDescriptiveMetadata(out, Descriptive{
		Title:       "Autumn Porch Ideas",
		Description: "Warm decor inspiration",
		Keywords:    []string{"autumn", "porch"},
	})

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Contains(data, []byte(xmpKeyword)) {
		t.Fatal("output should contain an XMP iTXt chunk")
	}
	if !bytes.Contains(data, []byte("Autumn Porch Ideas")) {
		t.Fatal("XMP packet should carry the title")
	}

	// The file must still decode after the splice.
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("spliced png no longer decodes: %v", err)
	}

	types := strings.Join(chunkTypes(t, out), ",")
	if !strings.Contains(types, "iTXt") {
		t.Fatalf("expected iTXt chunk, got %s", types)
	}
}

func TestWriteDescriptiveMetadataSwallowsFailures(t *testing.T) {
	r := testRenderer(7)
	// Missing file must not panic or propagate.
	r.WriteDescriptiveMetadata(filepath.Join(t.TempDir(), "missing.png"), Descriptive{Title: "x"})
}

func TestApplyTemplateWatermarkChangesRegion(t *testing.T) {
	dir := t.TempDir()
	src := writeSeedImage(t, dir, 100, 150)

	logo := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			logo.SetNRGBA(x, y, color.NRGBA{R: 255, A: 255})
		}
	}
	logoPath := filepath.Join(dir, "logo.png")
	f, err := os.Create(logoPath)
	if err != nil {
		t.Fatalf("create logo: %v", err)
	}
	if err := png.Encode(f, logo); err != nil {
		t.Fatalf("encode logo: %v", err)
	}
	f.Close()

	tmpl := domain.VisualTemplate{
		Kind:         domain.TemplateWatermark,
		AssetPath:    logoPath,
		WidthPct:     20,
		HeightPct:    20,
		PositionXPct: 50,
		PositionYPct: 50,
	}
	plain := filepath.Join(dir, "plain.png")
	marked := filepath.Join(dir, "marked.png")
	r := testRenderer(5)
	if err := r.ApplyTemplate(src, domain.VisualTemplate{}, plain); err != nil {
		t.Fatalf("ApplyTemplate plain: %v", err)
	}
	if err := r.ApplyTemplate(src, tmpl, marked); err != nil {
		t.Fatalf("ApplyTemplate watermark: %v", err)
	}
	a, _ := os.ReadFile(plain)
	b, _ := os.ReadFile(marked)
	if bytes.Equal(a, b) {
		t.Fatal("watermark should alter the composited output")
	}
}

func TestApplyTemplateMissingAssetPassesThrough(t *testing.T) {
	dir := t.TempDir()
	src := writeSeedImage(t, dir, 50, 50)
	tmpl := domain.VisualTemplate{
		Kind:      domain.TemplateOverlay,
		AssetPath: filepath.Join(dir, "nope.png"),
	}
	plain := filepath.Join(dir, "plain.png")
	missing := filepath.Join(dir, "missing.png")
	r := testRenderer(9)
	if err := r.ApplyTemplate(src, domain.VisualTemplate{}, plain); err != nil {
		t.Fatalf("ApplyTemplate plain: %v", err)
	}
	if err := r.ApplyTemplate(src, tmpl, missing); err != nil {
		t.Fatalf("ApplyTemplate missing asset: %v", err)
	}
	a, _ := os.ReadFile(plain)
	b, _ := os.ReadFile(missing)
	if !bytes.Equal(a, b) {
		t.Fatal("missing asset should leave the base image unchanged")
	}
}

func TestApplyTemplateUnreadableSourceFails(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.png")
	if err := os.WriteFile(bad, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write bad file: %v", err)
	}
	err := testRenderer(3).ApplyTemplate(bad, domain.VisualTemplate{}, filepath.Join(dir, "out.png"))
	if err == nil {
		t.Fatal("expected decode error")
	}
	if _, statErr := os.Stat(filepath.Join(dir, "out.png")); statErr == nil {
		t.Fatal("no output should exist after a decode failure")
	}
}
