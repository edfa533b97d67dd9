package imposition

import "github.com/Lllllllleong/bookletflow/internal/models"

// Plan computes the crop and scale geometry of content for the given layout.
func Plan(layout models.Layout, content models.BoundingBox, m models.Margins) (models.CropPlan, error) {
	switch layout {
	case models.LayoutSingleLeaf:
		return PlanSingleLeaf(A5Portrait, content, m)
	default:
		return PlanTwoUp(A4Landscape, content, m)
	}
}

// PlanTwoUp fits two content boxes side by side on a landscape sheet.
//
// The content is first scaled to fill the width available to one page. When
// that overflows the height, the height decides the scale and the horizontal
// space it frees goes to the fold rather than to the outer edges.
func PlanTwoUp(sheet models.PaperSize, content models.BoundingBox, m models.Margins) (models.CropPlan, error) {
	w, h := content.Width(), content.Height()
	if w <= 0 || h <= 0 {
		return models.CropPlan{}, &ConfigurationError{Sheet: sheet, Margins: m, Reason: "content box " + content.String() + " has no area"}
	}

	maxW := (sheet.Width - m.Inner - 4*m.Outer) / 2
	maxH := sheet.Height - 2*m.Outer
	if maxW <= 0 || maxH <= 0 {
		return models.CropPlan{}, &ConfigurationError{Sheet: sheet, Margins: m, Reason: "margins leave no room for content"}
	}

	inner := m.Inner
	scale := float64(maxW) / float64(w)
	if scale*float64(h) > float64(maxH) {
		scale = float64(maxH) / float64(h)
		inner = int(float64(sheet.Width) - scale*float64(w)*2 - 4*float64(m.Outer))
	}
	if scale <= 0 {
		return models.CropPlan{}, &ConfigurationError{Sheet: sheet, Margins: m, Reason: "computed scale is not positive"}
	}

	pad := int(float64(m.Outer) / scale)
	return models.CropPlan{
		Layout:      models.LayoutTwoUp,
		CropBox:     content.Grow(pad),
		Scale:       scale,
		InnerMargin: inner,
		PageScale:   1,
	}, nil
}

// PlanSingleLeaf fits one content box per sheet. Pages are cropped to the
// bare content box and the typesetter shifts alternate pages towards the
// fold.
func PlanSingleLeaf(sheet models.PaperSize, content models.BoundingBox, m models.Margins) (models.CropPlan, error) {
	w, h := float64(content.Width()), float64(content.Height())
	if w <= 0 || h <= 0 {
		return models.CropPlan{}, &ConfigurationError{Sheet: sheet, Margins: m, Reason: "content box " + content.String() + " has no area"}
	}

	availW := float64(sheet.Width - m.Inner - m.Outer)
	availH := float64(sheet.Height - 2*m.Outer)
	if availW <= 0 || availH <= 0 {
		return models.CropPlan{}, &ConfigurationError{Sheet: sheet, Margins: m, Reason: "margins leave no room for content"}
	}

	full := float64(sheet.Width) / w
	if full*h > float64(sheet.Height) {
		full = float64(sheet.Height) / h
	}

	inner := m.Inner
	page := 1.0
	if full*w > availW {
		page = availW / (full * w)
	}
	if page*full*h > availH {
		page = availH / (full * h)
		inner = int(float64(sheet.Width-m.Outer) - page*full*w)
	}

	scale := full * page
	if scale <= 0 {
		return models.CropPlan{}, &ConfigurationError{Sheet: sheet, Margins: m, Reason: "computed scale is not positive"}
	}
	return models.CropPlan{
		Layout:      models.LayoutSingleLeaf,
		CropBox:     content,
		Scale:       scale,
		InnerMargin: inner,
		PageScale:   page,
	}, nil
}
