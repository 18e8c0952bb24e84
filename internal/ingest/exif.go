package ingest

import (
	"fmt"
	"time"

	"github.com/barasher/go-exiftool"
)

// photoAttrs is the subset of EXIF fields the derivation pipeline
// persists: taken-date and pixel dimensions. Width/height fall back to
// the decoded image's own bounds (hash.go already decodes it) when
// EXIF carries no size tag, which is common for PNG/WebP.
type photoAttrs struct {
	DateTaken *time.Time
	Width     int
	Height    int
}

// extractPhotoAttrs runs exiftool once per photo and extracts the
// fields the schema stores, grounded on go-exiftool's batch
// ExtractMetadata API (the teacher's ffmpeg helper follows the same
// "shell out, parse structured output" shape for video).
func extractPhotoAttrs(et *exiftool.Exiftool, path string) (*photoAttrs, error) {
	infos := et.ExtractMetadata(path)
	if len(infos) == 0 {
		return nil, fmt.Errorf("exiftool returned no metadata for %s", path)
	}
	info := infos[0]
	if info.Err != nil {
		return nil, fmt.Errorf("exiftool: %w", info.Err)
	}

	attrs := &photoAttrs{}
	if w, err := info.GetInt("ImageWidth"); err == nil {
		attrs.Width = int(w)
	}
	if h, err := info.GetInt("ImageHeight"); err == nil {
		attrs.Height = int(h)
	}
	for _, field := range []string{"DateTimeOriginal", "CreateDate", "ModifyDate"} {
		if s, err := info.GetString(field); err == nil && s != "" {
			if t, err := time.Parse("2006:01:02 15:04:05", s); err == nil {
				attrs.DateTaken = &t
				break
			}
		}
	}
	return attrs, nil
}

// newExiftool opens a single long-lived exiftool process for reuse
// across an entire scan, since spawning one process per file would
// dominate scan latency on large libraries.
func newExiftool() (*exiftool.Exiftool, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("ingest: start exiftool: %w", err)
	}
	return et, nil
}
