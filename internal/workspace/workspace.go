// Package workspace provides the per-run scratch directory. A Workspace is
// created on entry and recursively removed on exit, including on error and
// panic paths when used through Run.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Workspace is a scoped temporary directory owned by a single pipeline run
type Workspace struct {
	dir  string
	once sync.Once
	err  error
}

// New creates a fresh directory under base (os.TempDir() when empty)
func New(base string) (*Workspace, error) {
	if base != "" {
		if err := os.MkdirAll(base, 0o700); err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(base, "pdfsqueeze-run-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

// Run acquires a workspace, calls fn, and always releases it.
// A release failure is reported only when fn itself succeeded.
func Run(base string, fn func(ws *Workspace) error) (err error) {
	ws, err := New(base)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ws.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ws)
}

// Dir returns the workspace root
func (w *Workspace) Dir() string {
	return w.dir
}

// Path joins name onto the workspace root, rejecting names that escape it
func (w *Workspace) Path(name string) (string, error) {
	p := filepath.Join(w.dir, name)
	if p != w.dir && !strings.HasPrefix(p, w.dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace: %s", name)
	}
	return p, nil
}

// WriteFile writes data to name inside the workspace and returns its path
func (w *Workspace) WriteFile(name string, data []byte) (string, error) {
	p, err := w.Path(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return p, nil
}

// Close removes the workspace and everything in it. Safe to call more than once.
func (w *Workspace) Close() error {
	w.once.Do(func() {
		if err := os.RemoveAll(w.dir); err != nil {
			w.err = fmt.Errorf("remove workspace: %w", err)
		}
	})
	return w.err
}
