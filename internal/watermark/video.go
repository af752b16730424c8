// video.go — video watermark bake via an ffmpeg subprocess.
//
// The bake re-encodes the source with a fixed fast preset and bounded
// bitrate, overlaying one QR tile per grid cell plus a translucent caption.
// QR tiles are written as PNG files and fed to ffmpeg as extra inputs; if
// any QR step fails the bake falls back to a text-only overlay rather than
// failing the item.
//
// Every bake carries a hard wall-clock timeout. On expiry the subprocess is
// killed, scratch files are removed, and the item fails; a stuck encode
// never hangs the caller.
package watermark

import (
	"context"
	"fmt"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// maxOverlayInputs bounds the number of tile inputs handed to one ffmpeg
// invocation; the filter graph and argv must stay a sane size for very
// large frames with tight spacing.
const maxOverlayInputs = 48

// BakeVideo re-encodes the video at inputPath into outputPath with the
// watermark baked into every frame. buyerUsername is empty on the one-time
// vendor bake; the gateway's animated-raster path passes both identities.
//
// Returns ErrTimeout if the subprocess exceeded its budget and
// ErrTranscodeFailure if it exited non-zero or produced no output.
func (e *Engine) BakeVideo(ctx context.Context, inputPath, outputPath, buyerUsername, vendorUsername string) error {
	width, height := e.ProbeDimensions(ctx, inputPath)
	spec := VideoSpec(width, height, e.cfg.Domain, buyerUsername, vendorUsername)

	scratch, err := os.MkdirTemp(e.cfg.TempDir, "packseal-bake-")
	if err != nil {
		return fmt.Errorf("watermark: scratch dir: %w", err)
	}
	defer func() {
		// Cleanup is best-effort; a leaked scratch dir is logged, never fatal.
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			e.log.WithError(rmErr).WithField("dir", scratch).Warn("watermark: scratch cleanup failed")
		}
	}()

	args, qrErr := e.overlayArgs(spec, width, height, inputPath, outputPath, scratch)
	if qrErr != nil {
		// QR generation failed: degrade to the text-only caption so the
		// item still carries a trace.
		e.log.WithError(qrErr).Warn("watermark: QR overlay unavailable, falling back to text-only")
		args = e.textOnlyArgs(spec, inputPath, outputPath)
	}

	bakeCtx, cancel := context.WithTimeout(ctx, e.cfg.BakeTimeout)
	defer cancel()

	cmd := exec.CommandContext(bakeCtx, e.cfg.FFmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if bakeCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w after %s", ErrTimeout, e.cfg.BakeTimeout)
		}
		return fmt.Errorf("%w: %v\noutput: %s", ErrTranscodeFailure, err, tail(output, 500))
	}

	if fi, err := os.Stat(outputPath); err != nil || fi.Size() == 0 {
		return fmt.Errorf("%w: empty or missing output", ErrTranscodeFailure)
	}
	return nil
}

// StampVideoBytes bakes a watermark into in-memory video (or animated
// raster) bytes and returns the resulting MP4. Used by the gateway's
// animated-image path, where both identities are known at request time.
func (e *Engine) StampVideoBytes(ctx context.Context, data []byte, buyerUsername, vendorUsername string) ([]byte, error) {
	scratch, err := os.MkdirTemp(e.cfg.TempDir, "packseal-stamp-")
	if err != nil {
		return nil, fmt.Errorf("watermark: scratch dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			e.log.WithError(rmErr).WithField("dir", scratch).Warn("watermark: scratch cleanup failed")
		}
	}()

	inPath := filepath.Join(scratch, "input")
	outPath := filepath.Join(scratch, "output.mp4")
	if err := os.WriteFile(inPath, data, 0600); err != nil {
		return nil, fmt.Errorf("watermark: write input: %w", err)
	}

	if err := e.BakeVideo(ctx, inPath, outPath, buyerUsername, vendorUsername); err != nil {
		return nil, err
	}
	return os.ReadFile(outPath)
}

// ── ffmpeg invocation assembly ────────────────────────────────────────────────

/// overlayArgs writes the QR tile files and builds the full ffmpeg argv:
// one extra input per grid cell and an overlay chain placing each tile at
// its grid coordinate, ending in the caption drawtext pair.
func (e *Engine) overlayArgs(spec Spec, width, height int, inputPath, outputPath, scratch string) ([]string, error) {
	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}

	vendorPath := filepath.Join(scratch, "vendor_qr.png")
	if err := writeTile(spec.VendorURL, spec.CellSize, white, vendorPath); err != nil {
		return nil, err
	}
	buyerPath := ""
	if spec.BuyerURL != "" {
		buyerPath = filepath.Join(scratch, "buyer_qr.png")
		if err := writeTile(spec.BuyerURL, spec.CellSize, white, buyerPath); err != nil {
			return nil, err
		}
	}

	cells := spec.Grid(width, height)
	if len(cells) == 0 {
		return nil, fmt.Errorf("watermark: frame %dx%d smaller than one tile", width, height)
	}
	if len(cells) > maxOverlayInputs {
		cells = cells[:maxOverlayInputs]
	}

	args := []string{"-y", "-i", inputPath}
	for _, cell := range cells {
		if spec.BuyerCell(cell) {
			args = append(args, "-i", buyerPath)
		} else {
			args = append(args, "-i", vendorPath)
		}
	}

	var graph strings.Builder
	prev := "[0:v]"
	for i, cell := range cells {
		label := fmt.Sprintf("[v%d]", i+1)
		fmt.Fprintf(&graph, "%s[%d:v]overlay=%d:%d%s;", prev, i+1, cell.X, cell.Y, label)
		prev = label
	}
	fmt.Fprintf(&graph, "%s%s[vout]", prev, e.captionFilter(spec))

	args = append(args,
		"-filter_complex", graph.String(),
		"-map", "[vout]",
		"-map", "0:a?",
	)
	return append(args, e.encodeArgs(outputPath)...), nil
}

// textOnlyArgs builds the fallback invocation: same encode settings, caption
// only.
func (e *Engine) textOnlyArgs(spec Spec, inputPath, outputPath string) []string {
	args := []string{
		"-y", "-i", inputPath,
		"-vf", e.captionFilter(spec),
	}
	return append(args, e.encodeArgs(outputPath)...)
}

// encodeArgs holds the fixed output parameters: fast preset, bounded
// bitrate, stream-copied audio, faststart for range requests.
func (e *Engine) encodeArgs(outputPath string) []string {
	return []string{
		"-c:v", "libx264",
		"-preset", "fast",
		"-b:v", "2500k",
		"-maxrate", "3000k",
		"-bufsize", "5000k",
		"-c:a", "copy",
		"-movflags", "+faststart",
		outputPath,
	}
}

// captionFilter returns the drawtext filter chain for the translucent
// caption: the vendor profile line, preceded by the buyer line when a buyer
// identity is present.
func (e *Engine) captionFilter(spec Spec) string {
	vendor := e.drawtext(captionText(spec.VendorURL), "20", "h-th-20")
	if spec.BuyerURL == "" {
		return vendor
	}
	buyer := e.drawtext(captionText(spec.BuyerURL), "20", "h-2.2*th-20")
	return buyer + "," + vendor
}

// drawtext builds one drawtext filter. The text has been sanitized before
// it gets here; a crafted username must not be able to inject filter syntax.
func (e *Engine) drawtext(text, x, y string) string {
	return fmt.Sprintf(
		"drawtext=text='%s':x=%s:y=%s:fontsize=36:fontcolor=white@%.2f:fontfile=%s",
		text, x, y, Opacity, e.cfg.FontFile,
	)
}

// captionText turns a profile URL into overlay text: the scheme is dropped
// (':' breaks filter syntax) and remaining characters are whitelisted.
func captionText(profileURL string) string {
	text := strings.TrimPrefix(profileURL, "https://")
	var sb strings.Builder
	for _, c := range text {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == '.' || c == '/' {
			sb.WriteRune(c)
		}
	}
	return sb.String()
}

// writeTile renders one QR tile PNG with transparent background.
func writeTile(payload string, size int, fg color.NRGBA, path string) error {
	tile, err := qrTile(payload, size, fg, Opacity)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("watermark: create tile: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, tile); err != nil {
		return fmt.Errorf("watermark: encode tile: %w", err)
	}
	return nil
}

// tail returns the last n bytes of subprocess output for error messages.
func tail(output []byte, n int) string {
	s := string(output)
	if len(s) > n {
		return "..." + s[len(s)-n:]
	}
	return s
}
