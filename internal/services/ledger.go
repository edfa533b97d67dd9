package services

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/bookletflow/internal/gcp"
	"github.com/Lllllllleong/bookletflow/internal/models"
)

// Ledger records booklet jobs keyed by the SHA-256 of their input, and
// caches the scanned page boxes so a document is rasterized only once.
type Ledger interface {
	// Lookup returns the record for fileHash, or nil if there is none.
	Lookup(ctx context.Context, fileHash string) (*models.Document, error)
	Create(ctx context.Context, doc models.Document) error
	UpdateStatus(ctx context.Context, fileHash, status, errDetails string) error
	RecordScan(ctx context.Context, fileHash string, boxes []models.BoundingBox) error
	RecordPlan(ctx context.Context, fileHash string, plan models.CropPlan) error
}

// FirestoreLedger keeps the ledger in a Firestore collection.
type FirestoreLedger struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreLedger(client *firestore.Client, collection string) *FirestoreLedger {
	return &FirestoreLedger{client: client, collection: collection}
}

func (l *FirestoreLedger) doc(fileHash string) *firestore.DocumentRef {
	return l.client.Collection(l.collection).Doc(fileHash)
}

func (l *FirestoreLedger) Lookup(ctx context.Context, fileHash string) (*models.Document, error) {
	snap, err := l.doc(fileHash).Get(ctx)
	if gcp.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger document %s: %w", fileHash, err)
	}
	var d models.Document
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("failed to decode ledger document %s: %w", fileHash, err)
	}
	return &d, nil
}

func (l *FirestoreLedger) Create(ctx context.Context, doc models.Document) error {
	now := time.Now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	if _, err := l.doc(doc.FileHash).Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to create ledger document: %w", err)
	}
	return nil
}

func (l *FirestoreLedger) UpdateStatus(ctx context.Context, fileHash, status, errDetails string) error {
	updates := []firestore.Update{
		{Path: "status", Value: status},
		{Path: "updatedAt", Value: time.Now()},
	}
	if errDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: errDetails})
	}
	_, err := l.doc(fileHash).Update(ctx, updates)
	return err
}

func (l *FirestoreLedger) RecordScan(ctx context.Context, fileHash string, boxes []models.BoundingBox) error {
	updates := []firestore.Update{
		{Path: "pageCount", Value: len(boxes)},
		{Path: "pageBoxes", Value: pageBoxes(boxes)},
		{Path: "updatedAt", Value: time.Now()},
	}
	_, err := l.doc(fileHash).Update(ctx, updates)
	return err
}

func (l *FirestoreLedger) RecordPlan(ctx context.Context, fileHash string, plan models.CropPlan) error {
	updates := []firestore.Update{
		{Path: "layout", Value: plan.Layout.String()},
		{Path: "cropBox", Value: plan.CropBox},
		{Path: "scale", Value: plan.Scale},
		{Path: "updatedAt", Value: time.Now()},
	}
	_, err := l.doc(fileHash).Update(ctx, updates)
	return err
}

func pageBoxes(boxes []models.BoundingBox) []models.PageBox {
	out := make([]models.PageBox, len(boxes))
	for i, b := range boxes {
		out[i] = models.NewPageBox(i+1, b)
	}
	return out
}

// cachedBoxes returns the page boxes stored in doc if they cover exactly
// pageCount pages in order.
func cachedBoxes(doc *models.Document, pageCount int) ([]models.BoundingBox, bool) {
	if doc == nil || len(doc.PageBoxes) != pageCount || pageCount == 0 {
		return nil, false
	}
	out := make([]models.BoundingBox, pageCount)
	for i, pb := range doc.PageBoxes {
		if pb.Page != i+1 {
			return nil, false
		}
		out[i] = pb.Box()
	}
	return out, true
}
