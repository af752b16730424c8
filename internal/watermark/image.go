// image.go — synchronous raster-image stamping.
//
// Every buyer fetch re-stamps the stored original with that buyer's
// identity, so each delivered copy is uniquely traceable. Stamping is
// best-effort: protection never blocks delivery, so any failure returns the
// original bytes unchanged and the caller logs the error.
package watermark

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"

	_ "image/gif"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// jpegQuality matches the delivery encoder settings of the marketplace.
const jpegQuality = 95

// StampImage overlays the QR grid and caption onto a raster image and
// returns the re-encoded bytes plus their content type.
//
// On any failure the original bytes and their sniffed content type are
// returned together with the error, so the caller can log and still serve.
func (e *Engine) StampImage(data []byte, buyerUsername, vendorUsername string) ([]byte, string, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data, "application/octet-stream", fmt.Errorf("watermark: decode image: %w", err)
	}
	origType := mimeForFormat(format)

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return data, origType, fmt.Errorf("watermark: empty image")
	}

	spec := ImageSpec(w, h, e.cfg.Domain, buyerUsername, vendorUsername)

	// QR foreground color: black on bright images, white on dark ones.
	// The tile background is always fully transparent, so contrast against
	// the code modules is all that matters.
	fg := color.NRGBA{A: 255}
	if brightness(src) <= 0.5 {
		fg = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	}

	vendorTile, err := qrTile(spec.VendorURL, spec.CellSize, fg, Opacity)
	if err != nil {
		return data, origType, err
	}
	var buyerTile *image.NRGBA
	if spec.BuyerURL != "" {
		if buyerTile, err = qrTile(spec.BuyerURL, spec.CellSize, fg, Opacity); err != nil {
			return data, origType, err
		}
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), src, bounds.Min, draw.Src)

	for _, cell := range spec.Grid(w, h) {
		tile := vendorTile
		if spec.BuyerCell(cell) {
			tile = buyerTile
		}
		rect := image.Rect(cell.X, cell.Y, cell.X+spec.CellSize, cell.Y+spec.CellSize)
		draw.Draw(canvas, rect, tile, image.Point{}, draw.Over)
	}

	stamped := e.drawCaption(canvas, spec, fg)

	out, outType, err := encodeImage(stamped, format)
	if err != nil {
		return data, origType, err
	}
	return out, outType, nil
}

// drawCaption overlays the two profile URLs in the bottom-left corner at the
// watermark opacity. Font size scales with the image.
func (e *Engine) drawCaption(canvas *image.NRGBA, spec Spec, fg color.NRGBA) image.Image {
	if e.font == nil {
		return canvas
	}

	w, h := canvas.Bounds().Dx(), canvas.Bounds().Dy()
	size := float64(shorter(w, h)) / 40
	if size < 12 {
		size = 12
	}

	dc := gg.NewContextForImage(canvas)
	dc.SetFontFace(truetype.NewFace(e.font, &truetype.Options{Size: size}))
	dc.SetRGBA(float64(fg.R)/255, float64(fg.G)/255, float64(fg.B)/255, Opacity)

	lines := []string{spec.VendorURL}
	if spec.BuyerURL != "" {
		lines = []string{spec.BuyerURL, spec.VendorURL}
	}

	pad := size / 2
	lineHeight := size * 1.4
	y := float64(h) - pad - lineHeight*float64(len(lines)-1)
	for _, line := range lines {
		dc.DrawString(line, pad, y)
		y += lineHeight
	}
	return dc.Image()
}

// brightness returns the average luma of img in [0, 1], computed over a
// 50×50 downsample so huge originals stay cheap.
func brightness(img image.Image) float64 {
	const sample = 50
	small := image.NewNRGBA(image.Rect(0, 0, sample, sample))
	xdraw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	var total float64
	for y := 0; y < sample; y++ {
		for x := 0; x < sample; x++ {
			c := small.NRGBAAt(x, y)
			total += 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
		}
	}
	return total / (sample * sample * 255)
}

// encodeImage re-encodes the stamped canvas in the source's format so the
// delivered content type matches the stored object's. Formats without a
// stdlib encoder (webp, gif) are delivered as JPEG.
func encodeImage(img image.Image, format string) ([]byte, string, error) {
	var buf bytes.Buffer
	switch format {
	case "png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("watermark: encode png: %w", err)
		}
		return buf.Bytes(), "image/png", nil
	default:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, "", fmt.Errorf("watermark: encode jpeg: %w", err)
		}
		return buf.Bytes(), "image/jpeg", nil
	}
}

func mimeForFormat(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
