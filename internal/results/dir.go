package results

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"pdfsqueeze/internal/pipeline"
)

// DirPublisher copies results into a local directory. The handle is the
// written path.
type DirPublisher struct {
	dir string
}

// NewDirPublisher creates dir if needed
func NewDirPublisher(dir string) (*DirPublisher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &DirPublisher{dir: dir}, nil
}

func (p *DirPublisher) Publish(ctx context.Context, a pipeline.Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dst := filepath.Join(p.dir, filepath.Base(a.DownloadName))

	src, err := os.Open(a.Path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(p.dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("create output: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", fmt.Errorf("copy %s: %w", a.DownloadName, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("write %s: %w", dst, err)
	}
	return dst, nil
}
