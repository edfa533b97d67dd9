package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/bookletflow/internal/gcp"
	"github.com/Lllllllleong/bookletflow/internal/imposition"
	"github.com/Lllllllleong/bookletflow/internal/models"
)

// BookletSuffix is appended to the base name of an uploaded PDF to name its
// booklet.
const BookletSuffix = "-booklet.pdf"

type BookletConfig struct {
	ProjectID      string
	CollectionName string
	OutputBucket   string
	Rasterizer     string
	Typesetter     string
	Viewer         string
	ScanWorkers    int
	// EventOptions are applied to runs triggered by storage events.
	EventOptions models.BookletOptions
}

// LoadBookletConfig reads the configuration from the environment.
func LoadBookletConfig() (BookletConfig, error) {
	config := BookletConfig{
		ProjectID:      gcp.GetEnv("PROJECT_ID", ""),
		CollectionName: gcp.GetEnv("FIRESTORE_COLLECTION", "booklets"),
		OutputBucket:   gcp.GetEnv("OUTPUT_BUCKET", ""),
		Rasterizer:     gcp.GetEnv("MKBOOKLET_RASTERIZER", "gs"),
		Typesetter:     gcp.GetEnv("MKBOOKLET_TYPESETTER", "pdflatex"),
		Viewer:         gcp.GetEnv("MKBOOKLET_VIEWER", "evince"),
	}

	var err error
	if config.ScanWorkers, err = envInt("MAX_SCAN_WORKERS", 0); err != nil {
		return config, err
	}
	if config.EventOptions.Layout, err = models.ParseLayout(gcp.GetEnv("BOOKLET_LAYOUT", "")); err != nil {
		return config, fmt.Errorf("BOOKLET_LAYOUT: %w", err)
	}
	if config.EventOptions.SheetsPerSignature, err = envInt("SHEETS_PER_SIGNATURE", 0); err != nil {
		return config, err
	}
	return config, nil
}

func envInt(key string, fallback int) (int, error) {
	v := gcp.GetEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", key, v)
	}
	return n, nil
}

type pageDocument interface {
	PageDimensions(path string) ([]models.PixelDimensions, error)
	ApplyCrop(inPath, outPath string, box models.BoundingBox) error
}

type boxScanner interface {
	BoundingBoxes(ctx context.Context, path string, dims []models.PixelDimensions) ([]models.BoundingBox, error)
}

type typesetter interface {
	Typeset(ctx context.Context, dir string, job TypesetJob) (string, error)
}

type guideStamper interface {
	Stamp(dir, inPath, outPath string, sheet models.PaperSize, opts GuideOptions) error
}

type viewer interface {
	Open(ctx context.Context, path string) error
}

// BookletFunction runs the booklet pipeline: fetch, scan, plan, crop,
// impose, stamp guides, deliver.
type BookletFunction struct {
	config     BookletConfig
	document   pageDocument
	scanner    boxScanner
	typesetter typesetter
	guides     guideStamper
	viewer     viewer
	ledger     Ledger

	storageOnce   sync.Once
	storageClient *storage.Client
	storageErr    error
}

// GCSEvent is the payload of a Cloud Storage object event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

func NewBooklet(ctx context.Context, config BookletConfig) (*BookletFunction, error) {
	f := &BookletFunction{
		config:     config,
		document:   NewPDFDocument(),
		scanner:    NewRasterizer(config.Rasterizer, config.ScanWorkers),
		typesetter: &LaTeX{Command: config.Typesetter},
		guides:     NewGuideStamper(),
		viewer:     &Viewer{Command: config.Viewer},
	}
	if config.ProjectID != "" {
		firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		f.ledger = NewFirestoreLedger(firestoreClient, config.CollectionName)
	}
	slog.Info("Booklet pipeline initialized.", "rasterizer", config.Rasterizer, "typesetter", config.Typesetter, "ledger", f.ledger != nil)
	return f, nil
}

// gcs returns the Cloud Storage client, creating it on first use so
// that purely local runs need no credentials.
func (f *BookletFunction) gcs(ctx context.Context) (*storage.Client, error) {
	f.storageOnce.Do(func() {
		f.storageClient, f.storageErr = storage.NewClient(ctx)
		if f.storageErr != nil {
			f.storageErr = fmt.Errorf("failed to create Storage client: %w", f.storageErr)
		}
	})
	return f.storageClient, f.storageErr
}

// HandleUpload builds a booklet for a newly uploaded PDF and stores it in
// the output bucket.
func (f *BookletFunction) HandleUpload(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if !strings.EqualFold(path.Ext(e.Name), ".pdf") {
		logCtx.Info("Not a PDF. Skipping.")
		return nil
	}
	if strings.HasSuffix(e.Name, BookletSuffix) {
		logCtx.Info("Object is a booklet. Skipping.")
		return nil
	}
	if f.config.OutputBucket == "" {
		return fmt.Errorf("OUTPUT_BUCKET environment variable must be set")
	}

	req := models.BookletRequest{
		Input:   gcp.GCSURI(e.Bucket, e.Name),
		Output:  gcp.GCSURI(f.config.OutputBucket, BookletObjectName(e.Name)),
		Options: f.config.EventOptions,
	}
	_, err := f.Process(ctx, req)
	return err
}

// BookletObjectName names the booklet of object.
func BookletObjectName(object string) string {
	return strings.TrimSuffix(object, path.Ext(object)) + BookletSuffix
}

// Process runs the pipeline for one request.
func (f *BookletFunction) Process(ctx context.Context, req models.BookletRequest) (*models.BookletResponse, error) {
	opts := req.Options
	logCtx := slog.With("input", req.Input, "layout", opts.Layout.String())
	logCtx.Info("Processing booklet request.")

	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	margins, err := imposition.ResolveMargins(opts.Layout, opts.OuterMarginMM, opts.InnerMarginMM)
	if err != nil {
		return nil, err
	}
	var override *models.BoundingBox
	if opts.BoxOverride != "" {
		box, err := imposition.ParseBox(opts.BoxOverride)
		if err != nil {
			return nil, err
		}
		override = &box
	}

	tempDir, err := os.MkdirTemp("", "mkbooklet-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)
	logCtx.Debug("Created temp directory.", "path", tempDir)

	sourcePath := filepath.Join(tempDir, "source.pdf")
	if err := f.fetch(ctx, req.Input, sourcePath); err != nil {
		logCtx.Error("Failed to fetch source PDF", "error", err)
		return nil, err
	}

	fileHash, err := calculateFileHash(sourcePath)
	if err != nil {
		logCtx.Error("Failed to calculate file hash", "error", err)
		return nil, fmt.Errorf("failed to calculate file hash: %w", err)
	}
	logCtx = logCtx.With("fileHash", fileHash)

	record, err := f.beginJob(ctx, fileHash, req.Input)
	if err != nil {
		logCtx.Error("Failed to record job in ledger", "error", err)
		return nil, err
	}

	dims, err := f.document.PageDimensions(sourcePath)
	if err != nil {
		return nil, f.handleError(ctx, logCtx, fileHash, "failed to read page dimensions", err)
	}
	pageCount := len(dims)
	logCtx = logCtx.With("pageCount", pageCount)

	plan := models.CropPlan{Layout: opts.Layout, Scale: 1, InnerMargin: margins.Inner, PageScale: 1}
	prepared := sourcePath
	if !opts.NoCrop {
		content, err := f.contentBox(ctx, logCtx, fileHash, sourcePath, dims, record, override, opts)
		if err != nil {
			return nil, f.handleError(ctx, logCtx, fileHash, "failed to determine content box", err)
		}
		plan, err = imposition.Plan(opts.Layout, content, margins)
		if err != nil {
			return nil, f.handleError(ctx, logCtx, fileHash, "failed to plan crop geometry", err)
		}
		logCtx = logCtx.With("bbox", content.String(), "scale", plan.Scale)
		logCtx.Info("Crop geometry planned.", "cropBox", plan.CropBox.String(), "innerMargin", plan.InnerMargin)

		prepared = filepath.Join(tempDir, "cropped.pdf")
		if err := f.document.ApplyCrop(sourcePath, prepared, plan.CropBox); err != nil {
			return nil, f.handleError(ctx, logCtx, fileHash, "failed to crop PDF", err)
		}
		if f.ledger != nil {
			if err := f.ledger.RecordPlan(ctx, fileHash, plan); err != nil {
				return nil, f.handleError(ctx, logCtx, fileHash, "failed to record crop plan", err)
			}
		}
	}

	var sequence []imposition.Entry
	if !opts.CropOnly && opts.Layout == models.LayoutTwoUp {
		sequence, err = pageSequence(pageCount, opts.ExtraPages, opts.SheetsPerSignature)
		if err != nil {
			return nil, f.handleError(ctx, logCtx, fileHash, "failed to build page sequence", err)
		}
		logCtx.Debug("Page sequence built.", "sequence", imposition.Format(sequence))
	}

	if err := f.setStatus(ctx, fileHash, models.StatusTypesetting); err != nil {
		return nil, f.handleError(ctx, logCtx, fileHash, "failed to update status to TYPESETTING", err)
	}
	job := TypesetJob{
		Layout:      opts.Layout,
		Source:      filepath.Base(prepared),
		Pages:       pageCount,
		Sequence:    sequence,
		CropOnly:    opts.CropOnly,
		ExtraPages:  opts.ExtraPages,
		InnerMargin: plan.InnerMargin,
		OuterMargin: margins.Outer,
		PageScale:   plan.PageScale,
	}
	result, err := f.typesetter.Typeset(ctx, tempDir, job)
	if err != nil {
		return nil, f.handleError(ctx, logCtx, fileHash, "failed to typeset booklet", err)
	}

	if !opts.NoGuides && !opts.CropOnly {
		guided := filepath.Join(tempDir, "booklet-guides.pdf")
		guideOpts := GuideOptions{Layout: opts.Layout, LongArm: opts.LongArm, Right: opts.SheetsPerSignature > 0}
		if err := f.guides.Stamp(tempDir, result, guided, imposition.SheetFor(opts.Layout), guideOpts); err != nil {
			return nil, f.handleError(ctx, logCtx, fileHash, "failed to add staple guides", err)
		}
		result = guided
	}

	if err := f.deliver(ctx, logCtx, result, req.Output, req.Overwrite); err != nil {
		return nil, f.handleError(ctx, logCtx, fileHash, "failed to write output", err)
	}
	if req.Output == "" || req.View {
		if err := f.viewer.Open(ctx, result); err != nil {
			return nil, f.handleError(ctx, logCtx, fileHash, "failed to show booklet", err)
		}
	}

	if err := f.setStatus(ctx, fileHash, models.StatusDone); err != nil {
		logCtx.Error("Failed to update status to DONE.", "error", err)
	}
	logCtx.Info("Booklet complete.", "output", req.Output)

	return &models.BookletResponse{
		Status:     models.StatusDone,
		FileHash:   fileHash,
		PageCount:  pageCount,
		CropBox:    plan.CropBox,
		Scale:      plan.Scale,
		Sequence:   imposition.Format(sequence),
		OutputPath: req.Output,
	}, nil
}

func validateOptions(opts models.BookletOptions) error {
	switch {
	case opts.SheetsPerSignature < 0:
		return fmt.Errorf("sheets per signature must not be negative, got %d", opts.SheetsPerSignature)
	case opts.ExtraPages < 0:
		return fmt.Errorf("extra pages must not be negative, got %d", opts.ExtraPages)
	case opts.BoxPage < 0:
		return fmt.Errorf("box page must not be negative, got %d", opts.BoxPage)
	}
	return nil
}

// pageSequence lays out pages real pages plus extra blanks, as signatures of
// at most sheets sheets, or as one signature if sheets is zero.
func pageSequence(pages, extra, sheets int) ([]imposition.Entry, error) {
	total := pages + extra
	var entries []imposition.Entry
	if sheets > 0 {
		var err error
		if entries, err = imposition.Sequence(total, sheets); err != nil {
			return nil, err
		}
	} else {
		entries = imposition.SingleSignature(total)
	}
	return imposition.MaskPages(entries, pages), nil
}

// contentBox picks the box the crop is planned around: the override, one
// page's box, or the median or extrema of all pages.
func (f *BookletFunction) contentBox(ctx context.Context, logCtx *slog.Logger, fileHash, pdfPath string, dims []models.PixelDimensions, record *models.Document, override *models.BoundingBox, opts models.BookletOptions) (models.BoundingBox, error) {
	if override != nil {
		logCtx.Info("Using bounding box override.", "bbox", override.String())
		return *override, nil
	}

	boxes, ok := cachedBoxes(record, len(dims))
	if ok {
		logCtx.Info("Reusing page boxes from ledger.")
	} else {
		if err := f.setStatus(ctx, fileHash, models.StatusScanning); err != nil {
			return models.BoundingBox{}, fmt.Errorf("failed to update status to SCANNING: %w", err)
		}
		var err error
		boxes, err = f.scanner.BoundingBoxes(ctx, pdfPath, dims)
		if err != nil {
			return models.BoundingBox{}, err
		}
		if f.ledger != nil {
			if err := f.ledger.RecordScan(ctx, fileHash, boxes); err != nil {
				return models.BoundingBox{}, fmt.Errorf("failed to record page boxes: %w", err)
			}
		}
		logCtx.Info("Pages scanned.")
	}

	switch {
	case opts.BoxPage > 0:
		return imposition.PageBox(boxes, opts.BoxPage)
	case opts.MedianBox:
		return imposition.Median(boxes)
	default:
		return imposition.Extrema(boxes)
	}
}

func (f *BookletFunction) beginJob(ctx context.Context, fileHash, input string) (*models.Document, error) {
	if f.ledger == nil {
		return nil, nil
	}
	record, err := f.ledger.Lookup(ctx, fileHash)
	if err != nil {
		return nil, err
	}
	if record == nil {
		doc := models.Document{FileHash: fileHash, OriginalFilename: input, Status: models.StatusValidating}
		if err := f.ledger.Create(ctx, doc); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err := f.ledger.UpdateStatus(ctx, fileHash, models.StatusValidating, ""); err != nil {
		return nil, fmt.Errorf("failed to update status to VALIDATING: %w", err)
	}
	return record, nil
}

func (f *BookletFunction) setStatus(ctx context.Context, fileHash, status string) error {
	if f.ledger == nil {
		return nil
	}
	return f.ledger.UpdateStatus(ctx, fileHash, status, "")
}

func (f *BookletFunction) handleError(ctx context.Context, logCtx *slog.Logger, fileHash, message string, originalErr error) error {
	logCtx.Error(message, "error", originalErr)
	if f.ledger != nil {
		fullError := fmt.Sprintf("%s: %v", message, originalErr)
		if err := f.ledger.UpdateStatus(ctx, fileHash, models.StatusFailed, fullError); err != nil {
			logCtx.Error("CRITICAL: Failed to update ledger status to FAILED after a processing error.", "updateError", err)
		}
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

// fetch copies the input, local or gs://, to destPath.
func (f *BookletFunction) fetch(ctx context.Context, input, destPath string) error {
	if !gcp.IsGCSURI(input) {
		return copyFile(input, destPath)
	}
	bucket, object, err := gcp.ParseGCSURI(input)
	if err != nil {
		return err
	}
	client, err := f.gcs(ctx)
	if err != nil {
		return err
	}
	return gcp.DownloadFile(ctx, client.Bucket(bucket), object, destPath)
}

// deliver copies the result to output. An empty output keeps the result in
// the temp dir only.
func (f *BookletFunction) deliver(ctx context.Context, logCtx *slog.Logger, result, output string, overwrite bool) error {
	if output == "" {
		return nil
	}
	if !gcp.IsGCSURI(output) {
		return copyFile(result, output)
	}
	bucket, object, err := gcp.ParseGCSURI(output)
	if err != nil {
		return err
	}
	client, err := f.gcs(ctx)
	if err != nil {
		return err
	}
	err = gcp.UploadFile(ctx, client.Bucket(bucket), result, object, overwrite)
	if errors.Is(err, gcp.ErrObjectExists) {
		logCtx.Info("Output already exists. Leaving it in place.", "output", output)
		return nil
	}
	return err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("could not create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
