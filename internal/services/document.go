package services

import (
	"fmt"
	"math"
	"os"

	"github.com/Lllllllleong/bookletflow/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Page boxes rewritten by ApplyCrop. Bleed, trim and art boxes follow the
// crop box so that no consumer sees the uncropped area.
var cropKeys = []string{"CropBox", "BleedBox", "TrimBox", "ArtBox"}

// PDFDocument reads page geometry and rewrites page boxes with pdfcpu.
type PDFDocument struct {
	conf *model.Configuration
}

func NewPDFDocument() *PDFDocument {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFDocument{conf: conf}
}

// PageDimensions returns the size of every page in whole points, which is
// also its size in pixels at the rasterizer's 72 dpi.
func (d *PDFDocument) PageDimensions(path string) ([]models.PixelDimensions, error) {
	dims, err := api.PageDimsFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read page dimensions: %w", err)
	}
	if len(dims) == 0 {
		return nil, fmt.Errorf("document %s has no pages", path)
	}
	out := make([]models.PixelDimensions, len(dims))
	for i, dim := range dims {
		out[i] = models.PixelDimensions{
			Width:  int(math.Round(dim.Width)),
			Height: int(math.Round(dim.Height)),
		}
	}
	return out, nil
}

// ApplyCrop writes a copy of inPath to outPath in which every page shows
// only box. The box is in page space, relative to the lower left corner of
// each page's media box.
func (d *PDFDocument) ApplyCrop(inPath, outPath string, box models.BoundingBox) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", inPath, err)
	}
	defer in.Close()

	ctx, err := api.ReadValidateAndOptimize(in, d.conf)
	if err != nil {
		return fmt.Errorf("failed to read PDF: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return fmt.Errorf("failed to count pages: %w", err)
	}

	for i := 1; i <= ctx.PageCount; i++ {
		pageDict, _, inh, err := ctx.PageDict(i, false)
		if err != nil {
			return fmt.Errorf("page %d: %w", i, err)
		}
		if pageDict == nil || inh == nil || inh.MediaBox == nil {
			return fmt.Errorf("page %d has no media box", i)
		}
		ll := inh.MediaBox.LL
		r := types.NewRectangle(
			ll.X+float64(box.X1), ll.Y+float64(box.Y1),
			ll.X+float64(box.X2), ll.Y+float64(box.Y2),
		)
		for _, key := range cropKeys {
			pageDict[key] = r.Array()
		}
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outPath, err)
	}
	if err := api.WriteContext(ctx, out); err != nil {
		out.Close()
		return fmt.Errorf("failed to write cropped PDF: %w", err)
	}
	return out.Close()
}
