// Package audio prepares decoded audio for parallel transcription: a scoped
// temporary workspace, media decoders and the frame-accurate splitter.
package audio

import (
	"errors"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/dependency"
)

// ErrDiskFull is returned when the workspace volume is below the configured
// free-space floor.
var ErrDiskFull = errors.New("insufficient free disk space")

// Workspace is a caller-scoped temporary directory. Everything created inside
// it is removed by Close.
type Workspace struct {
	dir   string
	paths *dependency.PathManager
}

// NewWorkspace creates a fresh directory under parent (os.TempDir() when empty).
func NewWorkspace(parent string) (*Workspace, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, fmt.Errorf("create temp parent %s: %w", parent, err)
		}
	}
	dir, err := os.MkdirTemp(parent, "chunkscribe-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{dir: dir, paths: dependency.NewPathManager(dir)}, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// Paths returns the naming helper bound to this workspace.
func (w *Workspace) Paths() *dependency.PathManager { return w.paths }

// CheckFreeSpace fails with ErrDiskFull when the volume holding the workspace
// has less than minMiB free. minMiB == 0 disables the check.
func (w *Workspace) CheckFreeSpace(minMiB uint64) error {
	if minMiB == 0 {
		return nil
	}
	usage, err := disk.Usage(w.dir)
	if err != nil {
		return fmt.Errorf("query disk usage for %s: %w", w.dir, err)
	}
	freeMiB := usage.Free / (1024 * 1024)
	if freeMiB < minMiB {
		return fmt.Errorf("%w: %d MiB free on %s, need %d MiB", ErrDiskFull, freeMiB, usage.Path, minMiB)
	}
	return nil
}

// Close removes the workspace and everything in it. Safe to call repeatedly.
func (w *Workspace) Close() error {
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("remove workspace %s: %w", w.dir, err)
	}
	return nil
}
