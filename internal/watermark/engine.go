// engine.go — Engine construction and shared configuration.
package watermark

import (
	"errors"
	"os"
	"time"

	"github.com/golang/freetype/truetype"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/font/gofont/goregular"
)

// Errors surfaced by the video bake path. Image stamping never fails hard;
// it falls back to the original bytes.
var (
	// ErrTimeout means the transcode subprocess exceeded its wall-clock
	// budget and was killed.
	ErrTimeout = errors.New("watermark: transcode timeout")
	// ErrTranscodeFailure means the subprocess exited non-zero or produced
	// an empty or missing output file.
	ErrTranscodeFailure = errors.New("watermark: transcode failed")
)

// Config holds the engine's tunables. Zero values fall back to working
// defaults.
type Config struct {
	// Domain appears in the QR payload and caption URLs
	// (https://<domain>/<username>).
	Domain string
	// FFmpegPath and FFprobePath locate the transcoding binaries.
	FFmpegPath  string
	FFprobePath string
	// FontFile is the TTF passed to ffmpeg's drawtext filter.
	FontFile string
	// TempDir is where per-bake scratch directories are created.
	TempDir string
	// BakeTimeout is the hard wall-clock budget for one video bake.
	BakeTimeout time.Duration
}

// Engine is the watermarking engine. Construct with New and inject it;
// it holds no connections and is safe for concurrent use.
type Engine struct {
	cfg  Config
	font *truetype.Font
	log  *logrus.Logger
}

// New creates an Engine. log must not be nil.
func New(cfg Config, log *logrus.Logger) *Engine {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.FontFile == "" {
		cfg.FontFile = "/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf"
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.BakeTimeout <= 0 {
		cfg.BakeTimeout = 10 * time.Minute
	}

	// goregular always parses; the error path exists only for corrupt
	// embedded data.
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		log.WithError(err).Error("watermark: parse embedded font")
	}

	return &Engine{cfg: cfg, font: f, log: log}
}
