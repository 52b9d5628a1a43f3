package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"pdfsqueeze/internal/circuitbreaker"
	"pdfsqueeze/internal/config"
	"pdfsqueeze/internal/metrics"
)

// ErrNotFound is returned when no object exists under the key
var ErrNotFound = errors.New("object not found")

// Provider defines the interface for result blob backends
type Provider interface {
	// PutObject stores size bytes read from body under key, replacing any
	// existing object. body is rewound before every attempt.
	PutObject(ctx context.Context, key string, body io.ReadSeeker, size int64) error

	// GetObject opens the object stored under key
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)

	// DeleteObject removes the object under key. Deleting a missing key is not an error.
	DeleteObject(ctx context.Context, key string) error

	// HealthCheck performs a lightweight connectivity check
	HealthCheck(ctx context.Context) error
}

// New creates a new storage provider based on configuration
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics, cb *circuitbreaker.Breaker) (Provider, error) {
	switch cfg.StorageType {
	case "s3":
		return NewS3Provider(ctx, cfg, m, cb)
	case "local":
		if cfg.StoragePath == "" {
			return nil, fmt.Errorf("STORAGE_PATH required for local storage")
		}
		return NewLocalProvider(cfg.StoragePath, m, cb, cfg.StorageMaxRetries, cfg.StorageRetryDelay)
	case "memory", "":
		return NewMemoryProvider(m), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.StorageType)
	}
}

// withRetry calls fn until it succeeds, returns a non-retryable error, or
// maxRetries retries have been spent. Backoff is retryDelay * 2^(attempt-1).
func withRetry(ctx context.Context, maxRetries int, retryDelay time.Duration, retryable func(error) bool, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// observe records one storage operation
func observe(m *metrics.Metrics, storageType, op string, start time.Time, err error) {
	result := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	m.StorageOpDuration.WithLabelValues(storageType, op, result).Observe(time.Since(start).Seconds())
}
