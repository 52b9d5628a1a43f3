// Package archive decrypts and expands password-protected ZIP uploads.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/yeka/zip"
)

var (
	// ErrWrongSecretOrCorrupt covers every failure to open, decrypt or verify the archive.
	ErrWrongSecretOrCorrupt = errors.New("wrong password or corrupt archive")
	// ErrLimitExceeded is returned when the archive is larger than the configured limits.
	ErrLimitExceeded = errors.New("archive exceeds extraction limits")
)

// Limits bound what a single archive may expand to. Zero means unlimited.
type Limits struct {
	MaxEntries    int
	MaxTotalBytes int64
}

// Extract opens archivePath, applies secret to every encrypted entry and
// writes all entries under destDir. It returns the extracted file paths in
// archive order. Entries that are not encrypted extract regardless of secret.
func Extract(ctx context.Context, archivePath, secret, destDir string, limits Limits) ([]string, error) {
	rc, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongSecretOrCorrupt, err)
	}
	defer rc.Close()

	if limits.MaxEntries > 0 && len(rc.File) > limits.MaxEntries {
		return nil, fmt.Errorf("%w: %d entries, limit %d", ErrLimitExceeded, len(rc.File), limits.MaxEntries)
	}

	root, err := filepath.Abs(destDir)
	if err != nil {
		return nil, fmt.Errorf("resolve destination: %w", err)
	}
	self, err := filepath.Abs(archivePath)
	if err != nil {
		return nil, fmt.Errorf("resolve archive: %w", err)
	}

	var (
		paths   []string
		written int64
	)
	for _, f := range rc.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		target, err := entryPath(root, f.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWrongSecretOrCorrupt, err)
		}

		// An entry named like the archive itself would truncate it mid-read.
		if target == self {
			continue
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o700); err != nil {
				return nil, fmt.Errorf("create directory %s: %w", f.Name, err)
			}
			continue
		}

		if f.IsEncrypted() {
			f.SetPassword(secret)
		}

		remaining := int64(-1)
		if limits.MaxTotalBytes > 0 {
			remaining = limits.MaxTotalBytes - written
		}
		n, err := extractFile(f, target, remaining)
		if err != nil {
			return nil, err
		}
		written += n
		paths = append(paths, target)
	}

	return paths, nil
}

// extractFile streams one entry to target. remaining < 0 disables the byte limit.
func extractFile(f *zip.File, target string, remaining int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return 0, fmt.Errorf("create directory for %s: %w", f.Name, err)
	}

	src, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", ErrWrongSecretOrCorrupt, f.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", f.Name, err)
	}

	var r io.Reader = src
	if remaining >= 0 {
		r = io.LimitReader(src, remaining+1)
	}

	// Reading to EOF is what verifies the CRC32 and, for AES entries, the HMAC.
	n, copyErr := io.Copy(dst, r)
	closeErr := dst.Close()

	if copyErr != nil {
		return n, fmt.Errorf("%w: read %s: %v", ErrWrongSecretOrCorrupt, f.Name, copyErr)
	}
	if remaining >= 0 && n > remaining {
		return n, fmt.Errorf("%w: extracted data over limit at %s", ErrLimitExceeded, f.Name)
	}
	if closeErr != nil {
		return n, fmt.Errorf("write %s: %w", f.Name, closeErr)
	}
	return n, nil
}

// entryPath maps an archive entry name to a path under root, rejecting zip-slip names.
func entryPath(root, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.ReplaceAll(name, `\`, "/")))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal entry path %q", name)
	}
	target := filepath.Join(root, clean)
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal entry path %q", name)
	}
	return target, nil
}
