package imposition

import (
	"math"

	"github.com/Lllllllleong/bookletflow/internal/models"
)

// PointsPerMM converts millimetres to PostScript points.
const PointsPerMM = 2.83464567

// Physical sheets in whole points.
var (
	A4Landscape = models.PaperSize{Name: "A4 landscape", Width: 841, Height: 595, WidthMM: 297, HeightMM: 210}
	A5Portrait  = models.PaperSize{Name: "A5 portrait", Width: 419, Height: 595, WidthMM: 148.5, HeightMM: 210}
)

// Margin defaults in millimetres.
const (
	DefaultOuterMarginMM       = 6
	DefaultInnerMarginTwoUpMM  = 22
	DefaultInnerMarginSingleMM = 16
)

// MMToPoints converts millimetres to points.
func MMToPoints(mm float64) float64 {
	return PointsPerMM * mm
}

// SheetFor returns the physical sheet used by layout.
func SheetFor(layout models.Layout) models.PaperSize {
	if layout == models.LayoutSingleLeaf {
		return A5Portrait
	}
	return A4Landscape
}

// ResolveMargins turns the user's millimetre settings into the point margins
// the planner works with. Nil values select the layout defaults.
//
// In 2-up mode the inner setting is the fold-to-content distance of one page,
// so the gap between the two pages on a sheet is twice the inner setting minus
// the outer margin the typesetter already adds to each page.
func ResolveMargins(layout models.Layout, outerMM, innerMM *int) (models.Margins, error) {
	outer := DefaultOuterMarginMM
	if outerMM != nil {
		outer = *outerMM
	}
	inner := DefaultInnerMarginTwoUpMM
	if layout == models.LayoutSingleLeaf {
		inner = DefaultInnerMarginSingleMM
	}
	if innerMM != nil {
		inner = *innerMM
	}
	if layout == models.LayoutTwoUp {
		inner = 2 * (inner - outer)
	}

	m := models.Margins{
		Outer: int(math.Round(MMToPoints(float64(outer)))),
		Inner: int(math.Round(MMToPoints(float64(inner)))),
	}
	if m.Outer < 0 || m.Inner < 0 {
		return m, &ConfigurationError{Sheet: SheetFor(layout), Margins: m, Reason: "negative margin"}
	}
	return m, nil
}
