// Package ingest implements the scan and derivation pipeline (spec.md
// §4.2): walking a local root or MTP scratch copy, and for each
// supported media file ensuring a folder/media/asset/instance row
// exists, deriving content hash, perceptual hash, and EXIF/video
// metadata. Grounded on the teacher's internal/utils/ffmpeg.go
// (exec.Command/exec.LookPath wrapping, ffprobe JSON parsing)
// generalized from "extract metadata for an already-known video" to
// "extract as one step of per-file derivation", and on
// original_source/workers/mtp_copy_worker.go +
// original_source/workers/ffmpeg_detection_worker.go for the
// copy-then-poll and per-file-isolated-error idioms.
package ingest

import (
	"path/filepath"
	"strings"
)

// photoExtensions and videoExtensions are the fixed supported-suffix
// sets spec.md §4.2 names; anything else is skipped silently.
var (
	photoExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".heic": true,
		".heif": true, ".webp": true, ".tiff": true,
	}
	videoExtensions = map[string]bool{
		".mp4": true, ".mov": true, ".avi": true, ".mkv": true,
		".webm": true, ".m4v": true,
	}
)

// ignoredDirNames is the fixed platform-spanning denylist; user-configured
// additions (config.IgnoredDirs) are passed separately to isIgnoredDir as
// its extra set.
var ignoredDirNames = map[string]bool{
	".git": true, ".svn": true, ".hg": true,
	"node_modules": true, "__pycache__": true,
	"$RECYCLE.BIN": true, "System Volume Information": true,
	".Trash": true, ".Trashes": true, ".fseventsd": true, ".Spotlight-V100": true,
	"@eaDir": true, ".thumbnails": true,
}

// classify reports which media kind path's extension belongs to, or
// ("", false) for an unsupported extension.
func classify(path string) (kind string, ok bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if photoExtensions[ext] {
		return "photo", true
	}
	if videoExtensions[ext] {
		return "video", true
	}
	return "", false
}

// isIgnoredDir reports whether name (a directory's base name) is on the
// denylist, checked against both the builtin set and extra.
func isIgnoredDir(name string, extra map[string]bool) bool {
	if ignoredDirNames[name] {
		return true
	}
	return extra[name]
}
