package imposition

import (
	"regexp"
	"strconv"

	"github.com/Lllllllleong/bookletflow/internal/models"
)

// boxSpecRe matches "x1,y1,x2,y2" and "x,y+w,h".
var boxSpecRe = regexp.MustCompile(`^(\d+),(\d+)(,|\+)(\d+),(\d+)$`)

// ParseBox parses a user supplied bounding box.
func ParseBox(s string) (models.BoundingBox, error) {
	m := boxSpecRe.FindStringSubmatch(s)
	if m == nil {
		return models.BoundingBox{}, &InputFormatError{Input: s, Reason: "use x1,y1,x2,y2 or x,y+w,h"}
	}

	var v [4]int
	for i, g := range []string{m[1], m[2], m[4], m[5]} {
		n, err := strconv.Atoi(g)
		if err != nil {
			return models.BoundingBox{}, &InputFormatError{Input: s, Reason: err.Error()}
		}
		v[i] = n
	}

	box := models.BoundingBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}
	if m[3] == "+" {
		box.X2 = box.X1 + v[2]
		box.Y2 = box.Y1 + v[3]
	}
	if !box.Valid() {
		return models.BoundingBox{}, &InputFormatError{Input: s, Reason: "box has no area"}
	}
	return box, nil
}
