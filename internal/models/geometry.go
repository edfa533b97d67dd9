package models

import (
	"fmt"
	"strings"
)

// PixelDimensions is the size of one page in raster pixels. The rasterizer
// renders at 72 dpi, so pixels and rounded points coincide.
type PixelDimensions struct {
	Width  int
	Height int
}

// RowBytes is the number of bytes in one raster row at one bit per pixel.
func (d PixelDimensions) RowBytes() int {
	return (d.Width + 7) / 8
}

// Size is the number of raster bytes the page occupies in the stream.
func (d PixelDimensions) Size() int {
	return d.RowBytes() * d.Height
}

// BoundingBox is a rectangle in page space with y growing upward.
// A box with X1 >= X2 or Y1 >= Y2 means that no ink was detected.
type BoundingBox struct {
	X1 int `firestore:"x1" json:"x1"`
	Y1 int `firestore:"y1" json:"y1"`
	X2 int `firestore:"x2" json:"x2"`
	Y2 int `firestore:"y2" json:"y2"`
}

// Valid reports whether b encloses any ink.
func (b BoundingBox) Valid() bool {
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

func (b BoundingBox) Width() int  { return b.X2 - b.X1 }
func (b BoundingBox) Height() int { return b.Y2 - b.Y1 }

// Grow returns b padded by d on every side.
func (b BoundingBox) Grow(d int) BoundingBox {
	return BoundingBox{X1: b.X1 - d, Y1: b.Y1 - d, X2: b.X2 + d, Y2: b.Y2 + d}
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", b.X1, b.Y1, b.X2, b.Y2)
}

// Margins are the resolved outer and inner (fold) margins in points.
//
// In 2-up mode Inner is the total gap between the two pages of a sheet.
// In single-leaf mode it is the distance from the fold to the content.
type Margins struct {
	Outer int
	Inner int
}

// Layout selects how logical pages are placed on physical sheets.
type Layout int

const (
	// LayoutTwoUp places two pages side by side on a landscape sheet that
	// is folded in the middle (saddle stitch).
	LayoutTwoUp Layout = iota
	// LayoutSingleLeaf places one page per half-size sheet and alternates
	// a left/right offset instead of cropping.
	LayoutSingleLeaf
)

func (l Layout) String() string {
	switch l {
	case LayoutTwoUp:
		return "2-up"
	case LayoutSingleLeaf:
		return "single-leaf"
	}
	return fmt.Sprintf("Layout(%d)", int(l))
}

// ParseLayout accepts the names printed by Layout.String, plus "a4" and
// "a5" for the sheet each layout is printed on.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(s) {
	case "", "2-up", "a4":
		return LayoutTwoUp, nil
	case "single-leaf", "a5":
		return LayoutSingleLeaf, nil
	}
	return 0, fmt.Errorf("unknown layout %q", s)
}

// PaperSize is a physical sheet. Width and Height are whole points for
// planning; the millimetre sizes are exact.
type PaperSize struct {
	Name     string
	Width    int
	Height   int
	WidthMM  float64
	HeightMM float64
}

// CropPlan is the outcome of geometry planning.
type CropPlan struct {
	Layout Layout
	// CropBox is applied to every page. In single-leaf mode it equals the
	// content box.
	CropBox BoundingBox
	// Scale is the overall factor from content space to sheet space.
	Scale float64
	// InnerMargin is the inner margin after any redistribution of space
	// freed by height-constrained scaling.
	InnerMargin int
	// PageScale is the additional per-page factor of single-leaf mode,
	// applied on top of the full-page fit. It is 1 in 2-up mode.
	PageScale float64
}
