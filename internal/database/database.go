package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pdfsqueeze/internal/config"
	"pdfsqueeze/internal/metrics"
	"pdfsqueeze/internal/models"
)

// ErrNotFound is returned when no record exists for an ID
var ErrNotFound = errors.New("record not found")

// Store defines the interface for the result index
type Store interface {
	// SaveRecord inserts or replaces the record with rec.ID
	SaveRecord(ctx context.Context, rec *models.ResultRecord) error

	// GetRecord looks a record up by ID, returning ErrNotFound when absent
	GetRecord(ctx context.Context, id string) (*models.ResultRecord, error)

	// DeleteExpired removes every record with ExpiresAt at or before before
	// and returns what it removed
	DeleteExpired(ctx context.Context, before time.Time) ([]*models.ResultRecord, error)

	// Ping checks connectivity
	Ping(ctx context.Context) error

	Close() error
}

// These indirection variables allow tests to override the concrete
// store constructors so we can exercise New(...) without real DBs.
var (
	newPostgresStoreFunc = func(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (Store, error) {
		return NewPostgresStore(ctx, cfg, m)
	}
	newMySQLStoreFunc = func(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (Store, error) {
		return NewMySQLStore(ctx, cfg, m)
	}
	newRedisStoreFunc = func(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (Store, error) {
		return NewRedisStore(ctx, cfg, m)
	}
)

// New creates a new result index based on the configured engine
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (Store, error) {
	switch cfg.DBEngine {
	case "memory", "":
		return NewMemoryStore(m), nil
	case "postgres", "postgresql":
		return newPostgresStoreFunc(ctx, cfg, m)
	case "mysql":
		return newMySQLStoreFunc(ctx, cfg, m)
	case "redis", "rediss":
		return newRedisStoreFunc(ctx, cfg, m)
	default:
		return nil, fmt.Errorf("unsupported database engine: %s", cfg.DBEngine)
	}
}

// queryContext applies the per-query timeout; zero disables it
func queryContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func observe(m *metrics.Metrics, dbType, op string, start time.Time) {
	m.DatabaseQueryDuration.WithLabelValues(dbType, op).Observe(time.Since(start).Seconds())
}
