package imposition

import (
	"fmt"
	"slices"

	"github.com/Lllllllleong/bookletflow/internal/models"
)

// Extrema returns the smallest box containing every inked page box.
// Pages without ink are ignored.
func Extrema(boxes []models.BoundingBox) (models.BoundingBox, error) {
	inked := inkedBoxes(boxes)
	if len(inked) == 0 {
		return models.BoundingBox{}, ErrEmptyAggregation
	}

	out := inked[0]
	for _, b := range inked[1:] {
		out.X1 = min(out.X1, b.X1)
		out.Y1 = min(out.Y1, b.Y1)
		out.X2 = max(out.X2, b.X2)
		out.Y2 = max(out.Y2, b.Y2)
	}
	return out, nil
}

// Median picks each coordinate independently as the lower median over all
// inked page boxes. The result need not match any single page, which keeps
// outliers such as a title page from widening the box.
func Median(boxes []models.BoundingBox) (models.BoundingBox, error) {
	inked := inkedBoxes(boxes)
	if len(inked) == 0 {
		return models.BoundingBox{}, ErrEmptyAggregation
	}

	pick := func(coord func(models.BoundingBox) int) int {
		vals := make([]int, len(inked))
		for i, b := range inked {
			vals[i] = coord(b)
		}
		slices.Sort(vals)
		return vals[len(vals)/2]
	}
	return models.BoundingBox{
		X1: pick(func(b models.BoundingBox) int { return b.X1 }),
		Y1: pick(func(b models.BoundingBox) int { return b.Y1 }),
		X2: pick(func(b models.BoundingBox) int { return b.X2 }),
		Y2: pick(func(b models.BoundingBox) int { return b.Y2 }),
	}, nil
}

// PageBox returns the box of the given 1-based page. The page must exist and
// contain ink.
func PageBox(boxes []models.BoundingBox, page int) (models.BoundingBox, error) {
	if page < 1 || page > len(boxes) {
		return models.BoundingBox{}, fmt.Errorf("bounding box page %d out of range 1-%d", page, len(boxes))
	}
	b := boxes[page-1]
	if !b.Valid() {
		return models.BoundingBox{}, fmt.Errorf("page %d: %w", page, ErrEmptyAggregation)
	}
	return b, nil
}

func inkedBoxes(boxes []models.BoundingBox) []models.BoundingBox {
	out := make([]models.BoundingBox, 0, len(boxes))
	for _, b := range boxes {
		if b.Valid() {
			out = append(out, b)
		}
	}
	return out
}
