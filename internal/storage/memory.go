package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"pdfsqueeze/internal/metrics"
)

// MemoryProvider keeps objects in process memory. Contents are lost on restart.
type MemoryProvider struct {
	mu      sync.RWMutex
	objects map[string][]byte
	metrics *metrics.Metrics
}

// NewMemoryProvider creates an empty in-memory provider
func NewMemoryProvider(m *metrics.Metrics) *MemoryProvider {
	return &MemoryProvider{
		objects: make(map[string][]byte),
		metrics: m,
	}
}

func (p *MemoryProvider) PutObject(ctx context.Context, key string, body io.ReadSeeker, size int64) (err error) {
	start := time.Now()
	defer func() { observe(p.metrics, "memory", "put", start, err) }()

	if _, err = body.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind body: %w", err)
	}
	buf := bytes.NewBuffer(make([]byte, 0, max(size, 0)))
	if _, err = io.Copy(buf, body); err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	p.mu.Lock()
	p.objects[key] = buf.Bytes()
	p.mu.Unlock()
	return nil
}

func (p *MemoryProvider) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()

	p.mu.RLock()
	data, ok := p.objects[key]
	p.mu.RUnlock()

	if !ok {
		err := fmt.Errorf("%w: %s", ErrNotFound, key)
		observe(p.metrics, "memory", "get", start, err)
		return nil, err
	}
	observe(p.metrics, "memory", "get", start, nil)
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (p *MemoryProvider) DeleteObject(ctx context.Context, key string) error {
	start := time.Now()
	p.mu.Lock()
	delete(p.objects, key)
	p.mu.Unlock()
	observe(p.metrics, "memory", "delete", start, nil)
	return nil
}

func (p *MemoryProvider) HealthCheck(ctx context.Context) error {
	return nil
}

// Len returns the number of stored objects
func (p *MemoryProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.objects)
}
