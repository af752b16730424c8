// probe.go — ffprobe wrapper for native video dimensions.
//
// Requires ffprobe on PATH (or FFPROBE_PATH). ffprobe is part of the FFmpeg
// distribution: https://ffmpeg.org
package watermark

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// defaultWidth/Height are assumed when probing fails or the file is missing
// or empty. 1080p keeps the derived QR geometry sensible for typical pack
// video.
const (
	defaultWidth  = 1920
	defaultHeight = 1080
)

// ffprobeOutput is the top-level JSON structure returned by ffprobe -show_streams.
type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"` // "video" or "audio"
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// ProbeDimensions returns the native width and height of the video at
// filePath. Any failure (missing binary, empty file, unparseable output)
// falls back to 1920×1080 rather than blocking the bake.
func (e *Engine) ProbeDimensions(ctx context.Context, filePath string) (width, height int) {
	width, height = defaultWidth, defaultHeight

	if fi, err := os.Stat(filePath); err != nil || fi.Size() == 0 {
		return width, height
	}

	probeCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, e.cfg.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		filePath,
	)
	out, err := cmd.Output()
	if err != nil {
		e.log.WithError(err).WithField("path", filePath).Warn("watermark: ffprobe failed, assuming 1080p")
		return width, height
	}

	var data ffprobeOutput
	if err := json.Unmarshal(out, &data); err != nil {
		e.log.WithError(fmt.Errorf("ffprobe parse: %w", err)).Warn("watermark: assuming 1080p")
		return width, height
	}

	for _, s := range data.Streams {
		if s.CodecType == "video" && s.Width > 0 && s.Height > 0 {
			return s.Width, s.Height
		}
	}
	return width, height
}
