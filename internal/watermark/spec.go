// Package watermark stamps pack media with a machine-readable trace: a
// semi-transparent QR-code grid plus a small text caption, both encoding the
// buyer's and vendor's public profile URLs. Images are stamped in-process at
// serve time; videos are baked once through an ffmpeg subprocess.
package watermark

import "fmt"

// Opacity is the fixed alpha applied to QR code pixels and captions.
const Opacity = 0.15

// Spec is the derived geometry for one stamping operation. It is computed
// from the media dimensions and never persisted.
type Spec struct {
	// CellSize is the edge length of one QR tile in pixels.
	CellSize int
	// Spacing is the distance between grid origins in pixels.
	Spacing int
	// BuyerURL and VendorURL are the profile URLs encoded in the QR payloads.
	// BuyerURL is empty on the one-time vendor bake, where the buyer is
	// unknown.
	BuyerURL  string
	VendorURL string
}

// ImageSpec derives the QR geometry for a raster image of the given
// dimensions. Cell size is 5% of the shorter dimension clamped to
// [50, 150] px; spacing is max(3.5*cell, 180).
func ImageSpec(width, height int, domain, buyerUsername, vendorUsername string) Spec {
	cell := clamp(shorter(width, height)*5/100, 50, 150)
	spacing := int(3.5 * float64(cell))
	if spacing < 180 {
		spacing = 180
	}
	return Spec{
		CellSize:  cell,
		Spacing:   spacing,
		BuyerURL:  ProfileURL(domain, buyerUsername),
		VendorURL: ProfileURL(domain, vendorUsername),
	}
}

// VideoSpec derives the QR geometry for a video frame of the given
// dimensions. Cell size is 20% of the shorter dimension clamped to
// [200, 600] px; spacing is max(2*cell, 100).
func VideoSpec(width, height int, domain, buyerUsername, vendorUsername string) Spec {
	cell := clamp(shorter(width, height)*20/100, 200, 600)
	spacing := 2 * cell
	if spacing < 100 {
		spacing = 100
	}
	return Spec{
		CellSize:  cell,
		Spacing:   spacing,
		BuyerURL:  ProfileURL(domain, buyerUsername),
		VendorURL: ProfileURL(domain, vendorUsername),
	}
}

// ProfileURL builds the public profile URL encoded in QR payloads and
// captions. Returns "" for an empty username.
func ProfileURL(domain, username string) string {
	if username == "" {
		return ""
	}
	return fmt.Sprintf("https://%s/%s", domain, username)
}

// GridCell is one tile placement within the stamping grid.
type GridCell struct {
	X, Y     int
	Row, Col int
}

// Grid returns every tile placement for the given frame size. Cells whose
// bounding box would cross the right or bottom edge are skipped, so a tile
// never exceeds the frame.
func (s Spec) Grid(width, height int) []GridCell {
	var cells []GridCell
	for row, y := 0, 0; y+s.CellSize <= height; row, y = row+1, y+s.Spacing {
		for col, x := 0, 0; x+s.CellSize <= width; col, x = col+1, x+s.Spacing {
			cells = append(cells, GridCell{X: x, Y: y, Row: row, Col: col})
		}
	}
	return cells
}

// BuyerCell reports whether the cell carries the buyer code. Cells alternate
// buyer/vendor in a checkerboard; when no buyer is present every cell
// carries the vendor code.
func (s Spec) BuyerCell(c GridCell) bool {
	if s.BuyerURL == "" {
		return false
	}
	return (c.Row+c.Col)%2 == 0
}

func shorter(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
