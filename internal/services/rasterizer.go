package services

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"

	"github.com/Lllllllleong/bookletflow/internal/imposition"
	"github.com/Lllllllleong/bookletflow/internal/models"
	"golang.org/x/sync/errgroup"
)

// Ghostscript renders every page at 72 dpi into a 1-bit raster and writes
// the pages back to back, without headers, to stdout.
var rasterizerArgs = []string{"-q", "-dBATCH", "-dNOPAUSE", "-sDEVICE=bit", "-sOutputFile=%stdout"}

// Rasterizer finds the ink bounding box of every page by piping a PDF
// through an external rasterizer.
type Rasterizer struct {
	Command string
	Workers int
}

// NewRasterizer returns a Rasterizer running command with at most workers
// concurrent page scans. A non-positive workers uses the CPU count.
func NewRasterizer(command string, workers int) *Rasterizer {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Rasterizer{Command: command, Workers: workers}
}

// BoundingBoxes rasterizes path and returns one box per entry of dims.
func (r *Rasterizer) BoundingBoxes(ctx context.Context, path string, dims []models.PixelDimensions) ([]models.BoundingBox, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	args := append(append([]string(nil), rasterizerArgs...), path)
	cmd := exec.CommandContext(ctx, r.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open rasterizer output: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start rasterizer %q: %w", r.Command, err)
	}
	slog.Debug("Rasterizer started.", "command", r.Command, "pages", len(dims), "workers", r.Workers)

	boxes, scanErr := ScanStream(stdout, dims, r.Workers)
	if scanErr != nil {
		cancel()
	}
	// Drain anything past the last page so the rasterizer can exit.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	if scanErr != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w (rasterizer: %s)", scanErr, msg)
		}
		return nil, scanErr
	}
	if waitErr != nil {
		return nil, fmt.Errorf("rasterizer failed: %w: %s", waitErr, strings.TrimSpace(stderr.String()))
	}
	return boxes, nil
}

// ScanStream reads len(dims) consecutive page rasters from r and scans them
// with up to workers pages in flight. Pages are read strictly in order; only
// the scanning runs concurrently.
func ScanStream(r io.Reader, dims []models.PixelDimensions, workers int) ([]models.BoundingBox, error) {
	if workers <= 0 {
		workers = 1
	}
	br := bufio.NewReaderSize(r, 1<<16)
	boxes := make([]models.BoundingBox, len(dims))

	eg := new(errgroup.Group)
	eg.SetLimit(workers)

	for i, d := range dims {
		if d.Width <= 0 || d.Height <= 0 {
			_ = eg.Wait()
			return nil, fmt.Errorf("page %d: invalid dimensions %dx%d", i+1, d.Width, d.Height)
		}
		page := make([]byte, d.Size())
		n, err := io.ReadFull(br, page)
		if err != nil {
			_ = eg.Wait()
			return nil, &imposition.StreamUnderrunError{Page: i + 1, Want: len(page), Got: n, Err: err}
		}
		eg.Go(func() error {
			box, err := imposition.Scan(d, bytes.NewReader(page))
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			boxes[i] = box
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return boxes, nil
}
