// Package zip builds the downloadable archive of a finished run.
package zip

import (
	"archive/zip"
	"bytes"
	"strconv"
	"strings"
)

// Asset is one file destined for the archive.
type Asset struct {
	Filename string
	Data     []byte
}

// ArchiveAssets packs the assets into an in-memory zip. Assets with no data
// are skipped; duplicate filenames get a numeric suffix so nothing is
// silently overwritten.
func ArchiveAssets(assets []Asset) []byte {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	seen := map[string]int{}
	for _, asset := range assets {
		if len(asset.Data) == 0 {
			continue
		}
		base := sanitizeName(asset.Filename)
		name := base
		if n := seen[base]; n > 0 {
			name = numberedName(base, n)
		}
		seen[base]++
		w, err := zw.Create(name)
		if err != nil {
			continue
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil
		}
	}
	_ = zw.Close()
	return buf.Bytes()
}

func sanitizeName(name string) string {
	name = strings.TrimLeft(strings.ReplaceAll(name, "\\", "/"), "/")
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	if name == "" {
		return "asset"
	}
	return name
}

func numberedName(name string, n int) string {
	suffix := "-" + strconv.Itoa(n)
	if dot := strings.LastIndex(name, "."); dot > 0 {
		return name[:dot] + suffix + name[dot:]
	}
	return name + suffix
}
