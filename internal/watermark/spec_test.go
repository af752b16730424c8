package watermark

import "testing"

func TestImageSpecCellSizeClamp(t *testing.T) {
	cases := []struct {
		name          string
		width, height int
		wantCell      int
	}{
		{"tiny image clamps to floor", 200, 200, 50},
		{"mid image takes 5% of shorter", 2000, 3000, 100},
		{"huge image clamps to ceiling", 8000, 6000, 150},
		{"shorter dimension governs", 10000, 1000, 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := ImageSpec(tc.width, tc.height, "packseal.io", "alice", "bob")
			if s.CellSize != tc.wantCell {
				t.Errorf("cell: got %d, want %d", s.CellSize, tc.wantCell)
			}
		})
	}
}

func TestImageSpecSpacingFloor(t *testing.T) {
	// 3.5 * 50 = 175, below the 180 floor.
	s := ImageSpec(200, 200, "packseal.io", "alice", "bob")
	if s.Spacing != 180 {
		t.Errorf("spacing: got %d, want floor 180", s.Spacing)
	}

	// 3.5 * 150 = 525, above the floor.
	s = ImageSpec(8000, 8000, "packseal.io", "alice", "bob")
	if s.Spacing != 525 {
		t.Errorf("spacing: got %d, want 525", s.Spacing)
	}
}

func TestVideoSpecGeometry(t *testing.T) {
	s := VideoSpec(1920, 1080, "packseal.io", "", "bob")
	// 20% of 1080 = 216.
	if s.CellSize != 216 {
		t.Errorf("cell: got %d, want 216", s.CellSize)
	}
	if s.Spacing != 432 {
		t.Errorf("spacing: got %d, want 432", s.Spacing)
	}

	// 20% of 240 = 48, clamps to 200.
	s = VideoSpec(320, 240, "packseal.io", "", "bob")
	if s.CellSize != 200 {
		t.Errorf("cell: got %d, want clamp 200", s.CellSize)
	}

	// 20% of 4320 = 864, clamps to 600.
	s = VideoSpec(7680, 4320, "packseal.io", "", "bob")
	if s.CellSize != 600 {
		t.Errorf("cell: got %d, want clamp 600", s.CellSize)
	}
}

func TestProfileURL(t *testing.T) {
	if got := ProfileURL("packseal.io", "alice"); got != "https://packseal.io/alice" {
		t.Errorf("got %q", got)
	}
	if got := ProfileURL("packseal.io", ""); got != "" {
		t.Errorf("empty username should yield empty URL, got %q", got)
	}
}

// No generated tile's bounding box may exceed the source dimensions.
func TestGridNeverExceedsBounds(t *testing.T) {
	sizes := []struct{ w, h int }{
		{100, 100}, {300, 200}, {1920, 1080}, {181, 181}, {5000, 333},
	}
	for _, sz := range sizes {
		s := ImageSpec(sz.w, sz.h, "packseal.io", "alice", "bob")
		for _, cell := range s.Grid(sz.w, sz.h) {
			if cell.X+s.CellSize > sz.w || cell.Y+s.CellSize > sz.h {
				t.Errorf("%dx%d: cell at (%d,%d) size %d exceeds bounds",
					sz.w, sz.h, cell.X, cell.Y, s.CellSize)
			}
		}
	}
}

func TestGridAlternatesBuyerVendor(t *testing.T) {
	s := ImageSpec(1000, 1000, "packseal.io", "alice", "bob")
	cells := s.Grid(1000, 1000)
	if len(cells) < 4 {
		t.Fatalf("expected a multi-cell grid, got %d cells", len(cells))
	}
	sawBuyer, sawVendor := false, false
	for _, c := range cells {
		if s.BuyerCell(c) {
			sawBuyer = true
		} else {
			sawVendor = true
		}
		if s.BuyerCell(c) != ((c.Row+c.Col)%2 == 0) {
			t.Errorf("cell (%d,%d): checkerboard violated", c.Row, c.Col)
		}
	}
	if !sawBuyer || !sawVendor {
		t.Error("grid should mix buyer and vendor cells")
	}
}

func TestGridAllVendorWithoutBuyer(t *testing.T) {
	s := VideoSpec(1920, 1080, "packseal.io", "", "bob")
	for _, c := range s.Grid(1920, 1080) {
		if s.BuyerCell(c) {
			t.Fatal("vendor-only spec must never assign a buyer cell")
		}
	}
}
