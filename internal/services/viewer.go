package services

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// Viewer opens a finished booklet in an external PDF viewer.
type Viewer struct {
	Command string
}

// Open shows path and waits for the viewer to exit.
func (v *Viewer) Open(ctx context.Context, path string) error {
	slog.Info("Opening booklet in viewer.", "viewer", v.Command, "path", path)
	if err := exec.CommandContext(ctx, v.Command, path).Run(); err != nil {
		return fmt.Errorf("viewer %q failed: %w", v.Command, err)
	}
	return nil
}
