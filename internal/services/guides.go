package services

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Lllllllleong/bookletflow/internal/imposition"
	"github.com/Lllllllleong/bookletflow/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Guide geometry in millimetres. The content streams draw in mm after an
// initial scale to points.
const (
	guideMarks       = 5
	guideMarkHeight  = 12.0
	guideTopBottom   = 6.0
	guideFoldOffset  = 2.5
	guideLeafOffset  = 5.0
	guideTickLength  = 2.0
	longArmFirstTick = 21.0
	longArmSpacing   = 42.0
	longArmTickHalf  = 1.0
	guideLineWidth   = 0.1
)

// GuideOptions select the staple guides drawn on the first sheet.
type GuideOptions struct {
	Layout models.Layout
	// LongArm draws ticks across the fold for a long-arm stapler.
	LongArm bool
	// Right puts the short-arm marks on the right of the fold. Signature
	// booklets are stapled from that side.
	Right bool
}

// GuideContent returns the PDF content stream of the staple guides for a
// sheet of the given size.
func GuideContent(sheet models.PaperSize, opts GuideOptions) string {
	var b strings.Builder
	widthMM := sheet.WidthMM
	fmt.Fprintf(&b, "%s 0 0 %s 0 0 cm %s w\n", fmtNum(imposition.PointsPerMM), fmtNum(imposition.PointsPerMM), fmtNum(guideLineWidth))

	if opts.LongArm {
		fmt.Fprintf(&b, "1 0 0 1 %s %s cm\n", fmtNum(widthMM/2), fmtNum(longArmFirstTick))
		for i := range guideMarks {
			if i != 0 {
				fmt.Fprintf(&b, "1 0 0 1 0 %s cm\n", fmtNum(longArmSpacing))
			}
			fmt.Fprintf(&b, "-%s 0 m\n%s 0 l\ns\n", fmtNum(longArmTickHalf), fmtNum(2*longArmTickHalf))
		}
		return b.String()
	}

	x := widthMM/2 - guideFoldOffset
	sign := "-"
	switch {
	case opts.Layout == models.LayoutSingleLeaf:
		x, sign = guideLeafOffset, ""
	case opts.Right:
		x, sign = widthMM/2+guideFoldOffset, ""
	}
	fmt.Fprintf(&b, "1 0 0 1 %s %s cm\n", fmtNum(x), fmtNum(guideTopBottom))

	spacing := (sheet.HeightMM - guideMarkHeight - 2*guideTopBottom) / (guideMarks - 1)
	for i := range guideMarks {
		if i != 0 {
			fmt.Fprintf(&b, "1 0 0 1 0 %s cm\n", fmtNum(spacing))
		}
		fmt.Fprintf(&b, "0 0 m\n0 %s l\ns\n", fmtNum(guideMarkHeight))
		for _, y := range []float64{guideTickLength, guideMarkHeight - guideTickLength} {
			fmt.Fprintf(&b, "0 %s m\n%s%s %s l\ns\n", fmtNum(y), sign, fmtNum(guideTickLength), fmtNum(y))
		}
	}
	return b.String()
}

func fmtNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// WriteOnePagePDF returns a minimal PDF with a single page of the given
// size in points, drawing content.
func WriteOnePagePDF(width, height float64, content string) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(format string, args ...any) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n", len(offsets))
		fmt.Fprintf(&buf, format, args...)
		buf.WriteString("\nendobj\n")
	}

	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj("<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %s %s] /Resources << >> /Contents 4 0 R >>", fmtNum(width), fmtNum(height))
	obj("<< /Length %d >>\nstream\n%s\nendstream", len(content), content)

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Root 1 0 R /Size %d >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

// GuideStamper overlays staple guides on the first page of a booklet.
type GuideStamper struct {
	conf *model.Configuration
}

func NewGuideStamper() *GuideStamper {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &GuideStamper{conf: conf}
}

// Stamp writes inPath with guides on page 1 to outPath. The guide page is
// built in dir.
func (g *GuideStamper) Stamp(dir, inPath, outPath string, sheet models.PaperSize, opts GuideOptions) error {
	guidePath := filepath.Join(dir, "guides.pdf")
	width, height := imposition.MMToPoints(sheet.WidthMM), imposition.MMToPoints(sheet.HeightMM)
	page := WriteOnePagePDF(width, height, GuideContent(sheet, opts))
	if err := os.WriteFile(guidePath, page, 0o644); err != nil {
		return fmt.Errorf("failed to write guide page: %w", err)
	}

	wm, err := pdfcpu.ParsePDFWatermarkDetails(guidePath, "pos:bl, scale:1 abs, rot:0, op:1", true, types.POINTS)
	if err != nil {
		return fmt.Errorf("failed to parse guide stamp: %w", err)
	}
	if err := api.AddWatermarksFile(inPath, outPath, []string{"1"}, wm, g.conf); err != nil {
		return fmt.Errorf("failed to stamp guides: %w", err)
	}
	return nil
}
