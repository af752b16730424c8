// qr.go — QR tile generation.
//
// Tiles come out of go-qrcode as opaque black-on-white squares. Overlaying
// those directly would put a visible translucent box around every code, so
// the tile is post-processed: code pixels get the target color at the
// watermark opacity, background pixels become fully transparent.
package watermark

import (
	"fmt"
	"image"
	"image/color"

	qrcode "github.com/skip2/go-qrcode"
)

// qrTile renders payload as a size×size QR code where only the code modules
// are visible, at alpha, in the given foreground color.
func qrTile(payload string, size int, fg color.NRGBA, alpha float64) (*image.NRGBA, error) {
	q, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("watermark: qr encode: %w", err)
	}
	q.DisableBorder = true

	src := q.Image(size)
	bounds := src.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	a := uint8(alpha*255 + 0.5)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := src.At(x, y).RGBA()
			// go-qrcode renders modules dark on a light background; anything
			// darker than mid-grey is a code module.
			luma := (299*r + 587*g + 114*b) / 1000
			if luma < 0x8000 {
				out.SetNRGBA(x-bounds.Min.X, y-bounds.Min.Y, color.NRGBA{R: fg.R, G: fg.G, B: fg.B, A: a})
			}
			// Background pixels stay zero-valued: fully transparent.
		}
	}
	return out, nil
}
