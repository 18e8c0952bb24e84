package ingest

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// videoAttrs is the subset of ffprobe output the derivation pipeline
// persists into video_metadata.
type videoAttrs struct {
	DurationSec float64
	Codec       string
	Width       int
	Height      int
	FPS         float64
	BitrateKbps int64
}

// ffprobeOutput mirrors the teacher's ffmpeg helper's JSON-parsing
// shape (format + streams), trimmed to the fields this pipeline reads.
type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		BitRate    string `json:"bit_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

// extractVideoAttrs shells out to ffprobe once per video and parses its
// JSON report, the same "-show_format -show_streams" invocation the
// teacher's FFmpegHelper.GetVideoMetadata used, reduced to the fields
// video_metadata actually stores.
func extractVideoAttrs(ffprobePath, path string) (*videoAttrs, error) {
	cmd := exec.Command(ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("parse ffprobe json: %w", err)
	}

	attrs := &videoAttrs{}
	if parsed.Format.Duration != "" {
		if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
			attrs.DurationSec = d
		}
	}
	if parsed.Format.BitRate != "" {
		if br, err := strconv.ParseInt(parsed.Format.BitRate, 10, 64); err == nil {
			attrs.BitrateKbps = br / 1000
		}
	}
	for _, s := range parsed.Streams {
		if s.CodecType != "video" {
			continue
		}
		attrs.Width = s.Width
		attrs.Height = s.Height
		attrs.Codec = s.CodecName
		if parts := strings.Split(s.RFrameRate, "/"); len(parts) == 2 {
			num, err1 := strconv.ParseFloat(parts[0], 64)
			den, err2 := strconv.ParseFloat(parts[1], 64)
			if err1 == nil && err2 == nil && den > 0 {
				attrs.FPS = num / den
			}
		}
		if attrs.BitrateKbps == 0 && s.BitRate != "" {
			if br, err := strconv.ParseInt(s.BitRate, 10, 64); err == nil {
				attrs.BitrateKbps = br / 1000
			}
		}
		break
	}
	return attrs, nil
}

// locateFFprobe resolves ffprobe's path once at ingest startup,
// mirroring the teacher's NewFFmpegHelper's exec.LookPath guard.
func locateFFprobe() (string, error) {
	path, err := exec.LookPath("ffprobe")
	if err != nil {
		return "", fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return path, nil
}
