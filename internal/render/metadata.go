package render

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/trimmer-io/go-xmp/models/dc"
	"github.com/trimmer-io/go-xmp/xmp"
)

// Descriptive carries the accessibility/metadata fields written into a
// finished pin.
type Descriptive struct {
	Title       string
	Description string
	Keywords    []string
}

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

const xmpKeyword = "XML:com.adobe.xmp"

// WriteDescriptiveMetadata embeds an XMP packet with dc:title,
// dc:description, and dc:subject into the PNG at path. This is best-effort by
// contract: failures are logged and swallowed so metadata can never fail the
// pipeline.
func (r *Renderer) WriteDescriptiveMetadata(path string, meta Descriptive) {
	if err := writeXMP(path, meta); err != nil {
		r.logger.Warn().Err(err).Str("path", path).Msg("render: descriptive metadata write failed")
	}
}

func writeXMP(path string, meta Descriptive) error {
	packet, err := buildXMPPacket(meta)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	out, err := spliceITXt(data, packet)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}

func buildXMPPacket(meta Descriptive) ([]byte, error) {
	doc := xmp.NewDocument()
	model := &dc.DublinCore{
		Title:       xmp.NewAltString(meta.Title),
		Description: xmp.NewAltString(meta.Description),
		Subject:     xmp.StringArray(meta.Keywords),
	}
	if _, err := doc.AddModel(model); err != nil {
		return nil, fmt.Errorf("build xmp model: %w", err)
	}
	packet, err := xmp.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal xmp: %w", err)
	}
	return packet, nil
}

// spliceITXt inserts an iTXt chunk holding the XMP packet directly after the
// IHDR chunk of a PNG stream.
func spliceITXt(data, packet []byte) ([]byte, error) {
	if len(data) < len(pngSignature)+8 || !bytes.Equal(data[:len(pngSignature)], pngSignature) {
		return nil, fmt.Errorf("not a png stream")
	}
	// First chunk must be IHDR; splice point is right behind it.
	offset := len(pngSignature)
	if len(data) < offset+8 {
		return nil, fmt.Errorf("truncated png")
	}
	length := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	if string(data[offset+4:offset+8]) != "IHDR" {
		return nil, fmt.Errorf("missing IHDR chunk")
	}
	splice := offset + 8 + length + 4
	if len(data) < splice {
		return nil, fmt.Errorf("truncated IHDR chunk")
	}

	chunk := buildITXtChunk(packet)
	out := make([]byte, 0, len(data)+len(chunk))
	out = append(out, data[:splice]...)
	out = append(out, chunk...)
	out = append(out, data[splice:]...)
	return out, nil
}

func buildITXtChunk(packet []byte) []byte {
	var payload bytes.Buffer
	payload.WriteString(xmpKeyword)
	// keyword terminator, compression flag/method, empty language tag and
	// translated keyword.
	payload.Write([]byte{0, 0, 0, 0, 0})
	payload.Write(packet)

	var chunk bytes.Buffer
	_ = binary.Write(&chunk, binary.BigEndian, uint32(payload.Len()))
	chunk.WriteString("iTXt")
	chunk.Write(payload.Bytes())

	crc := crc32.NewIEEE()
	crc.Write([]byte("iTXt"))
	crc.Write(payload.Bytes())
	_ = binary.Write(&chunk, binary.BigEndian, crc.Sum32())
	return chunk.Bytes()
}
