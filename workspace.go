package disbatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mossline/disbatch/internal/fsutil"
)

// Workspace is the ephemeral, process-local directory backing one backend
// invocation. The backend sees a private copy of the input under a fresh
// directory named deterministically from the input path plus suffix; on
// success the result is copied out to the caller-visible cache path; the
// directory is removed on every exit path.
//
// Concurrent invocations on the same file and suffix compute the same
// directory path and conflict on creation. That conflict propagates as an
// error wrapping ErrWorkspace; callers must keep each (file, suffix) pair on
// at most one live invocation.
type Workspace struct {
	dir       string
	input     string
	cachePath string
}

// NewWorkspace creates the workspace directory next to the input file.
func NewWorkspace(input, cachePath, suffix string) (*Workspace, error) {
	dir := input + suffix + ".tmp"
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s: %v", ErrWorkspace, dir, err)
		}
		return nil, err
	}
	return &Workspace{dir: dir, input: input, cachePath: cachePath}, nil
}

// Run copies the input into the workspace, invokes the backend against the
// private copy, and on success copies the result out to the cache path.
// Backend log lines are returned in all cases.
func (w *Workspace) Run(ctx context.Context, be Backend, fileType string, decompile bool) ([]string, error) {
	private := filepath.Join(w.dir, filepath.Base(w.input))
	result := filepath.Join(w.dir, filepath.Base(w.cachePath))

	if err := fsutil.CopyFile(private, w.input); err != nil {
		return nil, fmt.Errorf("disbatch: stage input: %w", err)
	}

	lines, err := be.Invoke(ctx, private, fileType, result, decompile)
	if err != nil {
		return lines, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	if err := fsutil.CopyFile(w.cachePath, result); err != nil {
		return lines, fmt.Errorf("disbatch: publish result: %w", err)
	}
	return lines, nil
}

// Close removes the workspace directory and everything in it.
func (w *Workspace) Close() error {
	return os.RemoveAll(w.dir)
}
