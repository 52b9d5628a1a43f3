package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pdfsqueeze/internal/circuitbreaker"
	"pdfsqueeze/internal/metrics"
)

// LocalProvider implements Provider for local filesystem storage
type LocalProvider struct {
	basePath       string
	circuitBreaker *circuitbreaker.Breaker
	metrics        *metrics.Metrics
	maxRetries     int
	retryDelay     time.Duration
}

// NewLocalProvider creates a new local filesystem storage provider rooted at basePath
func NewLocalProvider(basePath string, m *metrics.Metrics, cb *circuitbreaker.Breaker, maxRetries int, retryDelay time.Duration) (*LocalProvider, error) {
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("base path error: %w", err)
	}
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, fmt.Errorf("base path error: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base path is not a directory: %s", basePath)
	}

	// Get absolute path for security checks
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}

	return &LocalProvider{
		basePath:       absPath,
		circuitBreaker: cb,
		metrics:        m,
		maxRetries:     maxRetries,
		retryDelay:     retryDelay,
	}, nil
}

// resolve maps key to a path under basePath
func (l *LocalProvider) resolve(key string) (string, error) {
	fullPath := filepath.Clean(filepath.Join(l.basePath, key))
	if !strings.HasPrefix(fullPath, l.basePath+string(os.PathSeparator)) {
		return "", fmt.Errorf("path traversal attempt detected: key=%s", key)
	}
	return fullPath, nil
}

// PutObject writes to a temporary file and renames it into place so that
// readers never observe a partial object
func (l *LocalProvider) PutObject(ctx context.Context, key string, body io.ReadSeeker, size int64) (err error) {
	start := time.Now()
	defer func() { observe(l.metrics, "local", "put", start, err) }()

	fullPath, err := l.resolve(key)
	if err != nil {
		return err
	}

	return l.circuitBreaker.Do(func() error {
		return withRetry(ctx, l.maxRetries, l.retryDelay, isLocalRetryableError, func() error {
			if _, err := body.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("rewind body: %w", err)
			}
			return writeAtomic(fullPath, body)
		})
	})
}

func writeAtomic(path string, body io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write object: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("commit object: %w", err)
	}
	return nil
}

// GetObject opens a stored file
func (l *LocalProvider) GetObject(ctx context.Context, key string) (rc io.ReadCloser, err error) {
	start := time.Now()
	defer func() { observe(l.metrics, "local", "get", start, err) }()

	fullPath, err := l.resolve(key)
	if err != nil {
		return nil, err
	}

	return circuitbreaker.Run(l.circuitBreaker, func() (io.ReadCloser, error) {
		var file *os.File
		err := withRetry(ctx, l.maxRetries, l.retryDelay, isLocalRetryableError, func() error {
			f, err := os.Open(fullPath)
			if err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("%w: %s", ErrNotFound, key)
				}
				return fmt.Errorf("failed to open file: %w", err)
			}
			file = f
			return nil
		})
		if err != nil {
			return nil, err
		}
		return file, nil
	})
}

// DeleteObject removes a stored file
func (l *LocalProvider) DeleteObject(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { observe(l.metrics, "local", "delete", start, err) }()

	fullPath, err := l.resolve(key)
	if err != nil {
		return err
	}

	return l.circuitBreaker.Do(func() error {
		return withRetry(ctx, l.maxRetries, l.retryDelay, isLocalRetryableError, func() error {
			if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove file: %w", err)
			}
			return nil
		})
	})
}

// isLocalRetryableError determines if a local filesystem error should trigger a retry
func isLocalRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are not retryable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	// Missing files and permission problems will not fix themselves
	if errors.Is(err, ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return false
	}

	// Most other errors (like I/O errors on network mounts) might be transient
	return true
}

// HealthCheck verifies the base path is still accessible
func (l *LocalProvider) HealthCheck(ctx context.Context) error {
	// Stat the base path to ensure mount is still accessible
	_, err := os.Stat(l.basePath)
	if err != nil {
		return fmt.Errorf("base path unavailable: %w", err)
	}
	return nil
}
