package models

import "time"

// Document represents the ledger record for one booklet job in Firestore.
// It is keyed by the SHA-256 of the input file so that repeated runs on the
// same PDF can reuse the scanned page boxes.
type Document struct {
	FileHash         string       `firestore:"fileHash,omitempty"`
	OriginalFilename string       `firestore:"originalFilename,omitempty"`
	Status           string       `firestore:"status,omitempty"`
	ErrorDetails     string       `firestore:"errorDetails,omitempty"`
	PageCount        int          `firestore:"pageCount,omitempty"`
	PageBoxes        []PageBox    `firestore:"pageBoxes,omitempty"`
	Layout           string       `firestore:"layout,omitempty"`
	CropBox          *BoundingBox `firestore:"cropBox,omitempty"`
	Scale            float64      `firestore:"scale,omitempty"`
	CreatedAt        time.Time    `firestore:"createdAt,omitempty"`
	UpdatedAt        time.Time    `firestore:"updatedAt,omitempty"`
}

// Job statuses recorded in the ledger.
const (
	StatusValidating  = "VALIDATING"
	StatusScanning    = "SCANNING"
	StatusTypesetting = "TYPESETTING"
	StatusDone        = "DONE"
	StatusFailed      = "FAILED"
)

// PageBox is the scanned ink box of one page, as stored in the ledger.
// Firestore cannot hold nested arrays, hence the flat fields.
type PageBox struct {
	Page int `firestore:"page"`
	X1   int `firestore:"x1"`
	Y1   int `firestore:"y1"`
	X2   int `firestore:"x2"`
	Y2   int `firestore:"y2"`
}

// Box returns the bounding box held by p.
func (p PageBox) Box() BoundingBox {
	return BoundingBox{X1: p.X1, Y1: p.Y1, X2: p.X2, Y2: p.Y2}
}

// NewPageBox records box as the scan result of the given 1-based page.
func NewPageBox(page int, box BoundingBox) PageBox {
	return PageBox{Page: page, X1: box.X1, Y1: box.Y1, X2: box.X2, Y2: box.Y2}
}
