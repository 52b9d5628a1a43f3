package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"pdfsqueeze/internal/config"
	"pdfsqueeze/internal/metrics"
	"pdfsqueeze/internal/models"
)

// keyGrace keeps a record key alive past its expiry so the janitor can
// still find the blob it points at
const keyGrace = 24 * time.Hour

// RedisStore implements Store for Redis. Records are JSON values under
// prefix+id; a sorted set scored by expiry time indexes them for sweeping.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	timeout   time.Duration
	metrics   *metrics.Metrics
}

// NewRedisStore creates a new Redis store
func NewRedisStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("redis parse url error: %w", err)
	}

	// Configure connection pool
	if cfg.DBMaxConnections > 0 {
		opts.PoolSize = cfg.DBMaxConnections
		opts.MinIdleConns = min(2, cfg.DBMaxConnections) // Keep a few connections warm (or max if max < 2)
	}
	opts.ConnMaxLifetime = 1 * time.Hour    // Recycle connections after 1 hour
	opts.ConnMaxIdleTime = 30 * time.Minute // Close idle connections after 30 min

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connect error: %w", err)
	}

	return &RedisStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		timeout:   cfg.DatabaseQueryTimeout,
		metrics:   m,
	}, nil
}

func (s *RedisStore) recordKey(id string) string {
	return s.keyPrefix + "result:" + id
}

func (s *RedisStore) expiryKey() string {
	return s.keyPrefix + "expiry"
}

// SaveRecord writes the record and its expiry index entry atomically
func (s *RedisStore) SaveRecord(ctx context.Context, rec *models.ResultRecord) error {
	defer observe(s.metrics, "redis", "save", time.Now())

	queryCtx, cancel := queryContext(ctx, s.timeout)
	defer cancel()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	var ttl time.Duration
	if !rec.ExpiresAt.IsZero() {
		ttl = max(time.Until(rec.ExpiresAt), 0) + keyGrace
	}

	_, err = s.client.TxPipelined(queryCtx, func(pipe redis.Pipeliner) error {
		pipe.Set(queryCtx, s.recordKey(rec.ID), data, ttl)
		if !rec.ExpiresAt.IsZero() {
			pipe.ZAdd(queryCtx, s.expiryKey(), redis.Z{
				Score:  float64(rec.ExpiresAt.Unix()),
				Member: rec.ID,
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.ID, err)
	}
	return nil
}

// GetRecord retrieves a result record by ID
func (s *RedisStore) GetRecord(ctx context.Context, id string) (*models.ResultRecord, error) {
	defer observe(s.metrics, "redis", "get", time.Now())

	// Apply timeout
	queryCtx, cancel := queryContext(ctx, s.timeout)
	defer cancel()

	data, err := s.client.Get(queryCtx, s.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var record models.ResultRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}

	record.ID = id
	return &record, nil
}

// DeleteExpired pops expired IDs from the expiry index and deletes their
// records. IDs whose record key already vanished are dropped silently.
func (s *RedisStore) DeleteExpired(ctx context.Context, before time.Time) ([]*models.ResultRecord, error) {
	defer observe(s.metrics, "redis", "delete_expired", time.Now())

	queryCtx, cancel := queryContext(ctx, s.timeout)
	defer cancel()

	ids, err := s.client.ZRangeByScore(queryCtx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan expiry index: %w", err)
	}

	var removed []*models.ResultRecord
	for _, id := range ids {
		key := s.recordKey(id)

		var get *redis.StringCmd
		_, err := s.client.TxPipelined(queryCtx, func(pipe redis.Pipeliner) error {
			get = pipe.Get(queryCtx, key)
			pipe.Del(queryCtx, key)
			pipe.ZRem(queryCtx, s.expiryKey(), id)
			return nil
		})
		if err != nil && !errors.Is(err, redis.Nil) {
			return removed, fmt.Errorf("delete record %s: %w", id, err)
		}

		data, err := get.Bytes()
		if err != nil {
			continue
		}
		var rec models.ResultRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		rec.ID = id
		removed = append(removed, &rec)
	}
	return removed, nil
}

// Ping checks the server is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
