package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pdfsqueeze/internal/metrics"
	"pdfsqueeze/internal/models"
)

// MemoryStore keeps records in process memory. It is the default index
// and forgets everything on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.ResultRecord
	metrics *metrics.Metrics
}

// NewMemoryStore creates an empty in-memory index
func NewMemoryStore(m *metrics.Metrics) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]models.ResultRecord),
		metrics: m,
	}
}

func (s *MemoryStore) SaveRecord(ctx context.Context, rec *models.ResultRecord) error {
	defer observe(s.metrics, "memory", "save", time.Now())
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	s.mu.Lock()
	s.records[rec.ID] = *rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetRecord(ctx context.Context, id string) (*models.ResultRecord, error) {
	defer observe(s.metrics, "memory", "get", time.Now())
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, before time.Time) ([]*models.ResultRecord, error) {
	defer observe(s.metrics, "memory", "delete_expired", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []*models.ResultRecord
	for id, rec := range s.records {
		if rec.Expired(before) {
			rec := rec
			removed = append(removed, &rec)
			delete(s.records, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ExpiresAt.Before(removed[j].ExpiresAt) })
	return removed, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
