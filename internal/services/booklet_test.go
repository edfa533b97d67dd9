package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/Lllllllleong/bookletflow/internal/imposition"
	"github.com/Lllllllleong/bookletflow/internal/models"
)

type fakeDocument struct {
	dims    []models.PixelDimensions
	cropped []models.BoundingBox
}

func (d *fakeDocument) PageDimensions(string) ([]models.PixelDimensions, error) {
	return d.dims, nil
}

func (d *fakeDocument) ApplyCrop(inPath, outPath string, box models.BoundingBox) error {
	d.cropped = append(d.cropped, box)
	return copyFile(inPath, outPath)
}

type fakeScanner struct {
	boxes []models.BoundingBox
	err   error
	calls int
}

func (s *fakeScanner) BoundingBoxes(context.Context, string, []models.PixelDimensions) ([]models.BoundingBox, error) {
	s.calls++
	return s.boxes, s.err
}

type fakeTypesetter struct {
	jobs []TypesetJob
}

func (ts *fakeTypesetter) Typeset(_ context.Context, dir string, job TypesetJob) (string, error) {
	ts.jobs = append(ts.jobs, job)
	if _, err := os.Stat(filepath.Join(dir, job.Source)); err != nil {
		return "", fmt.Errorf("source not prepared: %w", err)
	}
	out := filepath.Join(dir, "booklet.pdf")
	return out, os.WriteFile(out, []byte("imposed "+job.Source), 0o644)
}

type fakeStamper struct {
	opts []GuideOptions
}

func (g *fakeStamper) Stamp(_, inPath, outPath string, _ models.PaperSize, opts GuideOptions) error {
	g.opts = append(g.opts, opts)
	b, err := os.ReadFile(inPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, append(b, " with guides"...), 0o644)
}

type fakeViewer struct {
	opened []string
}

func (v *fakeViewer) Open(_ context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	v.opened = append(v.opened, filepath.Base(path))
	return nil
}

type memoryLedger struct {
	docs     map[string]*models.Document
	statuses []string
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{docs: make(map[string]*models.Document)}
}

func (l *memoryLedger) Lookup(_ context.Context, fileHash string) (*models.Document, error) {
	d, ok := l.docs[fileHash]
	if !ok {
		return nil, nil
	}
	c := *d
	return &c, nil
}

func (l *memoryLedger) Create(_ context.Context, doc models.Document) error {
	l.docs[doc.FileHash] = &doc
	l.statuses = append(l.statuses, doc.Status)
	return nil
}

func (l *memoryLedger) UpdateStatus(_ context.Context, fileHash, status, errDetails string) error {
	d, ok := l.docs[fileHash]
	if !ok {
		return fmt.Errorf("no document %s", fileHash)
	}
	d.Status = status
	if errDetails != "" {
		d.ErrorDetails = errDetails
	}
	l.statuses = append(l.statuses, status)
	return nil
}

func (l *memoryLedger) RecordScan(_ context.Context, fileHash string, boxes []models.BoundingBox) error {
	l.docs[fileHash].PageCount = len(boxes)
	l.docs[fileHash].PageBoxes = pageBoxes(boxes)
	return nil
}

func (l *memoryLedger) RecordPlan(_ context.Context, fileHash string, plan models.CropPlan) error {
	box := plan.CropBox
	l.docs[fileHash].Layout = plan.Layout.String()
	l.docs[fileHash].CropBox = &box
	l.docs[fileHash].Scale = plan.Scale
	return nil
}

var scannedBoxes = []models.BoundingBox{
	{X1: 5, Y1: 3, X2: 104, Y2: 109},
	{X1: 4, Y1: 9, X2: 100, Y2: 101},
	{X1: 8, Y1: 2, X2: 108, Y2: 103},
}

type pipeline struct {
	f       *BookletFunction
	doc     *fakeDocument
	scanner *fakeScanner
	typeset *fakeTypesetter
	stamper *fakeStamper
	viewer  *fakeViewer
	input   string
	output  string
}

func newPipeline(t *testing.T, ledger Ledger) *pipeline {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "manual.pdf")
	if err := os.WriteFile(input, []byte("%PDF-1.4 manual"), 0o644); err != nil {
		t.Fatal(err)
	}
	dims := make([]models.PixelDimensions, len(scannedBoxes))
	for i := range dims {
		dims[i] = models.PixelDimensions{Width: 595, Height: 842}
	}
	p := &pipeline{
		doc:     &fakeDocument{dims: dims},
		scanner: &fakeScanner{boxes: scannedBoxes},
		typeset: &fakeTypesetter{},
		stamper: &fakeStamper{},
		viewer:  &fakeViewer{},
		input:   input,
		output:  filepath.Join(dir, "manual-booklet.pdf"),
	}
	p.f = &BookletFunction{
		document:   p.doc,
		scanner:    p.scanner,
		typesetter: p.typeset,
		guides:     p.stamper,
		viewer:     p.viewer,
		ledger:     ledger,
	}
	return p
}

func (p *pipeline) run(t *testing.T, opts models.BookletOptions) (*models.BookletResponse, error) {
	t.Helper()
	return p.f.Process(context.Background(), models.BookletRequest{Input: p.input, Output: p.output, Options: opts})
}

func TestProcessTwoUp(t *testing.T) {
	p := newPipeline(t, nil)
	resp, err := p.run(t, models.BookletOptions{})
	if err != nil {
		t.Fatal(err)
	}

	wantCrop := models.BoundingBox{X1: -1, Y1: -3, X2: 113, Y2: 114}
	want := &models.BookletResponse{
		Status:     models.StatusDone,
		PageCount:  3,
		CropBox:    wantCrop,
		Scale:      341.0 / 104.0,
		Sequence:   "{},1,2,3",
		OutputPath: p.output,
	}
	if d := cmp.Diff(want, resp, cmpopts.IgnoreFields(models.BookletResponse{}, "FileHash"), cmpopts.EquateApprox(0, 1e-12)); d != "" {
		t.Errorf("response (-want +got):\n%s", d)
	}
	if len(resp.FileHash) != 64 {
		t.Errorf("file hash %q is not a SHA-256", resp.FileHash)
	}
	if d := cmp.Diff([]models.BoundingBox{wantCrop}, p.doc.cropped); d != "" {
		t.Errorf("crop (-want +got):\n%s", d)
	}

	if len(p.typeset.jobs) != 1 {
		t.Fatalf("%d typeset jobs", len(p.typeset.jobs))
	}
	job := p.typeset.jobs[0]
	if job.Source != "cropped.pdf" || job.InnerMargin != 91 || job.OuterMargin != 17 || job.CropOnly {
		t.Errorf("unexpected job %+v", job)
	}
	if d := cmp.Diff([]GuideOptions{{Layout: models.LayoutTwoUp}}, p.stamper.opts); d != "" {
		t.Errorf("guides (-want +got):\n%s", d)
	}

	got, err := os.ReadFile(p.output)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "imposed cropped.pdf with guides" {
		t.Errorf("output holds %q", got)
	}
	if len(p.viewer.opened) != 0 {
		t.Errorf("viewer opened %v although an output was given", p.viewer.opened)
	}
}

func TestProcessBoxSelection(t *testing.T) {
	margins := models.Margins{Outer: 17, Inner: 91}
	planFor := func(box models.BoundingBox) models.BoundingBox {
		plan, err := imposition.PlanTwoUp(imposition.A4Landscape, box, margins)
		if err != nil {
			t.Fatal(err)
		}
		return plan.CropBox
	}

	tests := []struct {
		name      string
		opts      models.BookletOptions
		want      models.BoundingBox
		wantScans int
	}{
		{"extrema", models.BookletOptions{}, planFor(models.BoundingBox{X1: 4, Y1: 2, X2: 108, Y2: 109}), 1},
		{"median", models.BookletOptions{MedianBox: true}, planFor(models.BoundingBox{X1: 5, Y1: 3, X2: 104, Y2: 103}), 1},
		{"single page", models.BookletOptions{BoxPage: 2, MedianBox: true}, planFor(scannedBoxes[1]), 1},
		{"override", models.BookletOptions{BoxOverride: "50,60+400,700", BoxPage: 2}, planFor(models.BoundingBox{X1: 50, Y1: 60, X2: 450, Y2: 760}), 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := newPipeline(t, nil)
			if _, err := p.run(t, tc.opts); err != nil {
				t.Fatal(err)
			}
			if p.scanner.calls != tc.wantScans {
				t.Errorf("%d scans, want %d", p.scanner.calls, tc.wantScans)
			}
			if d := cmp.Diff([]models.BoundingBox{tc.want}, p.doc.cropped); d != "" {
				t.Errorf("crop (-want +got):\n%s", d)
			}
		})
	}
}

func TestProcessSignaturesWithExtraPages(t *testing.T) {
	p := newPipeline(t, nil)
	resp, err := p.run(t, models.BookletOptions{SheetsPerSignature: 1, ExtraPages: 2, LongArm: true})
	if err != nil {
		t.Fatal(err)
	}
	// Five logical pages in signatures of one sheet; pages 4 and 5 are blank.
	if want := "{},1,2,3,{},{},{},{}"; resp.Sequence != want {
		t.Errorf("sequence %q, want %q", resp.Sequence, want)
	}
	if d := cmp.Diff([]GuideOptions{{Layout: models.LayoutTwoUp, LongArm: true, Right: true}}, p.stamper.opts); d != "" {
		t.Errorf("guides (-want +got):\n%s", d)
	}
}

func TestProcessSingleLeaf(t *testing.T) {
	p := newPipeline(t, nil)
	resp, err := p.run(t, models.BookletOptions{Layout: models.LayoutSingleLeaf, ExtraPages: 1})
	if err != nil {
		t.Fatal(err)
	}
	content := models.BoundingBox{X1: 4, Y1: 2, X2: 108, Y2: 109}
	if d := cmp.Diff([]models.BoundingBox{content}, p.doc.cropped); d != "" {
		t.Errorf("single-leaf crop is not the bare content box (-want +got):\n%s", d)
	}
	if resp.Sequence != "" {
		t.Errorf("single-leaf run produced a 2-up sequence %q", resp.Sequence)
	}
	job := p.typeset.jobs[0]
	if job.Layout != models.LayoutSingleLeaf || job.ExtraPages != 1 || job.PageScale <= 0 || job.PageScale > 1 {
		t.Errorf("unexpected job %+v", job)
	}
}

func TestProcessNoCropAndCropOnly(t *testing.T) {
	p := newPipeline(t, nil)
	resp, err := p.run(t, models.BookletOptions{NoCrop: true})
	if err != nil {
		t.Fatal(err)
	}
	if p.scanner.calls != 0 || len(p.doc.cropped) != 0 {
		t.Errorf("no-crop run scanned %d times and cropped %v", p.scanner.calls, p.doc.cropped)
	}
	if job := p.typeset.jobs[0]; job.Source != "source.pdf" || job.InnerMargin != 91 || job.PageScale != 1 {
		t.Errorf("unexpected job %+v", job)
	}
	if resp.Scale != 1 {
		t.Errorf("scale %v, want 1", resp.Scale)
	}

	p = newPipeline(t, nil)
	resp, err = p.run(t, models.BookletOptions{CropOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.stamper.opts) != 0 {
		t.Error("guides stamped on crop-only output")
	}
	if resp.Sequence != "" || !p.typeset.jobs[0].CropOnly {
		t.Errorf("crop-only run imposed pages: %q", resp.Sequence)
	}
}

func TestProcessOpensViewerWithoutOutput(t *testing.T) {
	p := newPipeline(t, nil)
	_, err := p.f.Process(context.Background(), models.BookletRequest{Input: p.input, Options: models.BookletOptions{NoGuides: true}})
	if err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff([]string{"booklet.pdf"}, p.viewer.opened); d != "" {
		t.Errorf("viewer (-want +got):\n%s", d)
	}
	if len(p.stamper.opts) != 0 {
		t.Error("guides stamped although disabled")
	}
}

func TestProcessReusesLedgerBoxes(t *testing.T) {
	ledger := newMemoryLedger()
	p := newPipeline(t, ledger)

	first, err := p.run(t, models.BookletOptions{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.run(t, models.BookletOptions{MedianBox: true})
	if err != nil {
		t.Fatal(err)
	}
	if p.scanner.calls != 1 {
		t.Errorf("%d scans, want 1", p.scanner.calls)
	}
	if first.FileHash != second.FileHash {
		t.Errorf("hash changed between runs: %s, %s", first.FileHash, second.FileHash)
	}

	doc := ledger.docs[first.FileHash]
	if doc.Status != models.StatusDone || doc.PageCount != 3 || len(doc.PageBoxes) != 3 {
		t.Errorf("ledger record %+v", doc)
	}
	wantStatuses := []string{
		models.StatusValidating, models.StatusScanning, models.StatusTypesetting, models.StatusDone,
		models.StatusValidating, models.StatusTypesetting, models.StatusDone,
	}
	if d := cmp.Diff(wantStatuses, ledger.statuses); d != "" {
		t.Errorf("statuses (-want +got):\n%s", d)
	}
}

func TestProcessFailureIsRecorded(t *testing.T) {
	ledger := newMemoryLedger()
	p := newPipeline(t, ledger)
	p.scanner.err = &imposition.StreamUnderrunError{Page: 2, Want: 100, Got: 10, Err: errors.New("unexpected EOF")}

	_, err := p.run(t, models.BookletOptions{})
	if !errors.Is(err, imposition.ErrStreamUnderrun) {
		t.Fatalf("got %v, want stream underrun", err)
	}
	if len(ledger.docs) != 1 {
		t.Fatalf("%d ledger records", len(ledger.docs))
	}
	for _, doc := range ledger.docs {
		if doc.Status != models.StatusFailed || doc.ErrorDetails == "" {
			t.Errorf("failure not recorded: %+v", doc)
		}
	}
	if len(p.typeset.jobs) != 0 {
		t.Error("typesetter ran after a failed scan")
	}
}

func TestProcessRejectsBadOptions(t *testing.T) {
	blankLast := func(p *pipeline) {
		p.scanner.boxes = []models.BoundingBox{scannedBoxes[0], scannedBoxes[1], imposition.EmptyBox(p.doc.dims[2])}
	}
	tests := []struct {
		name   string
		opts   models.BookletOptions
		setup  func(*pipeline)
		target error
	}{
		{"malformed override", models.BookletOptions{BoxOverride: "1,2,3"}, nil, imposition.ErrInputFormat},
		{"negative margin", models.BookletOptions{OuterMarginMM: intPtr(-5)}, nil, imposition.ErrConfiguration},
		{"box of a blank page", models.BookletOptions{BoxPage: 3}, blankLast, imposition.ErrEmptyAggregation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := newPipeline(t, nil)
			if tc.setup != nil {
				tc.setup(p)
			}
			_, err := p.run(t, tc.opts)
			if !errors.Is(err, tc.target) {
				t.Errorf("got %v, want %v", err, tc.target)
			}
			if len(p.typeset.jobs) != 0 {
				t.Error("typesetter ran for a rejected request")
			}
		})
	}

	p := newPipeline(t, nil)
	for _, tc := range []struct {
		opts models.BookletOptions
		want string
	}{
		{models.BookletOptions{ExtraPages: -1}, "extra pages must not be negative, got -1"},
		{models.BookletOptions{SheetsPerSignature: -2}, "sheets per signature must not be negative, got -2"},
		{models.BookletOptions{BoxPage: -1}, "box page must not be negative, got -1"},
	} {
		_, err := p.run(t, tc.opts)
		if err == nil {
			t.Errorf("options %+v accepted", tc.opts)
			continue
		}
		if err.Error() != tc.want {
			t.Errorf("options %+v: got %q, want %q", tc.opts, err, tc.want)
		}
	}
}

func TestHandleUploadSkips(t *testing.T) {
	p := newPipeline(t, nil)
	for _, name := range []string{"notes.txt", "scans/manual-booklet.pdf"} {
		if err := p.f.HandleUpload(context.Background(), GCSEvent{Bucket: "in", Name: name}); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	if len(p.typeset.jobs) != 0 {
		t.Error("skipped objects were processed")
	}
	if err := p.f.HandleUpload(context.Background(), GCSEvent{Bucket: "in", Name: "manual.pdf"}); err == nil {
		t.Error("upload processed without an output bucket")
	}
}

func TestBookletObjectName(t *testing.T) {
	for in, want := range map[string]string{
		"manual.pdf":       "manual-booklet.pdf",
		"docs/Manual.PDF":  "docs/Manual-booklet.pdf",
		"archive.v2/a.pdf": "archive.v2/a-booklet.pdf",
		"no-extension":     "no-extension-booklet.pdf",
	} {
		if got := BookletObjectName(in); got != want {
			t.Errorf("BookletObjectName(%q) = %q, want %q", in, got, want)
		}
	}
}

func intPtr(v int) *int { return &v }
