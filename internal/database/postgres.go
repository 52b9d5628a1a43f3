package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pdfsqueeze/internal/config"
	"pdfsqueeze/internal/metrics"
	"pdfsqueeze/internal/models"
)

const recordColumns = "id, filename, source_name, storage_key, content_type, original_bytes, compressed_bytes, created_at, expires_at"

// PostgresStore implements Store for PostgreSQL
type PostgresStore struct {
	pool      *pgxpool.Pool
	tableName string
	timeout   time.Duration
	metrics   *metrics.Metrics
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("postgres config error: %w", err)
	}
	if cfg.DBMaxConnections > 0 {
		poolCfg.MaxConns = int32(cfg.DBMaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect error: %w", err)
	}

	s := &PostgresStore{
		pool:      pool,
		tableName: cfg.TableName,
		timeout:   cfg.DatabaseQueryTimeout,
		metrics:   m,
	}

	if cfg.DBAutoMigrate {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	source_name TEXT NOT NULL,
	storage_key TEXT NOT NULL,
	content_type TEXT NOT NULL,
	original_bytes BIGINT NOT NULL,
	compressed_bytes BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
)`, s.tableName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_expires_at_idx ON %s (expires_at)", s.tableName, s.tableName),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate error: %w", err)
		}
	}
	return nil
}

// SaveRecord upserts a result record
func (s *PostgresStore) SaveRecord(ctx context.Context, rec *models.ResultRecord) error {
	defer observe(s.metrics, "postgres", "save", time.Now())

	queryCtx, cancel := queryContext(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET filename = EXCLUDED.filename, source_name = EXCLUDED.source_name,
storage_key = EXCLUDED.storage_key, content_type = EXCLUDED.content_type,
original_bytes = EXCLUDED.original_bytes, compressed_bytes = EXCLUDED.compressed_bytes,
created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`, s.tableName, recordColumns)

	_, err := s.pool.Exec(queryCtx, query,
		rec.ID, rec.Filename, rec.SourceName, rec.StorageKey, rec.ContentType,
		rec.OriginalBytes, rec.CompressedBytes, rec.CreatedAt.UTC(), rec.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.ID, err)
	}
	return nil
}

// GetRecord retrieves a result record by ID
func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*models.ResultRecord, error) {
	defer observe(s.metrics, "postgres", "get", time.Now())

	// Apply timeout
	queryCtx, cancel := queryContext(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", recordColumns, s.tableName)

	rec, err := scanRecord(s.pool.QueryRow(queryCtx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteExpired removes and returns expired records in one statement
func (s *PostgresStore) DeleteExpired(ctx context.Context, before time.Time) ([]*models.ResultRecord, error) {
	defer observe(s.metrics, "postgres", "delete_expired", time.Now())

	queryCtx, cancel := queryContext(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE expires_at <= $1 RETURNING %s", s.tableName, recordColumns)
	rows, err := s.pool.Query(queryCtx, query, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("delete expired: %w", err)
	}
	defer rows.Close()

	var removed []*models.ResultRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		removed = append(removed, rec)
	}
	return removed, rows.Err()
}

// Ping checks the pool can reach the server
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.ResultRecord, error) {
	var rec models.ResultRecord
	err := row.Scan(
		&rec.ID,
		&rec.Filename,
		&rec.SourceName,
		&rec.StorageKey,
		&rec.ContentType,
		&rec.OriginalBytes,
		&rec.CompressedBytes,
		&rec.CreatedAt,
		&rec.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
