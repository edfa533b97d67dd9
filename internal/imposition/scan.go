package imposition

import (
	"fmt"
	"io"

	"github.com/Lllllllleong/bookletflow/internal/models"
)

// Calibration of the ink box. X positions are only resolved to whole bytes
// (8 pixels, at most 8pt or about 2.8mm of error), and a single ink row
// extends the box by two units. Downstream margins are tuned to these values.
const (
	pixelsPerByte = 8
	rowExtent     = 2
)

// EmptyBox is the initial box of a page scan. It stays invalid unless ink is
// found.
func EmptyBox(dims models.PixelDimensions) models.BoundingBox {
	return models.BoundingBox{X1: dims.Width - 1, Y1: dims.Height - 1, X2: 0, Y2: 0}
}

// Scan reads one page of a 1-bit raster from r and returns the box enclosing
// all ink. Rows arrive top to bottom, so the first row read is y = height-1.
// Exactly dims.Size() bytes are consumed; a short stream yields a
// *StreamUnderrunError and no box.
func Scan(dims models.PixelDimensions, r io.Reader) (models.BoundingBox, error) {
	if dims.Width < 1 || dims.Height < 1 {
		return models.BoundingBox{}, fmt.Errorf("invalid page dimensions %dx%d", dims.Width, dims.Height)
	}

	box := EmptyBox(dims)
	row := make([]byte, dims.RowBytes())
	read := 0

	for y := dims.Height - 1; y >= 0; y-- {
		n, err := io.ReadFull(r, row)
		read += n
		if err != nil {
			return models.BoundingBox{}, &StreamUnderrunError{Want: dims.Size(), Got: read, Err: err}
		}
		for c, b := range row {
			if b == 0 {
				continue
			}
			box.X1 = min(box.X1, c*pixelsPerByte)
			box.Y1 = min(box.Y1, y)
			box.X2 = max(box.X2, c*pixelsPerByte+pixelsPerByte)
			box.Y2 = max(box.Y2, y+rowExtent)
		}
	}
	return box, nil
}
