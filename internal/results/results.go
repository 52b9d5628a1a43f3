// Package results keeps recompressed documents available after their run's
// workspace is gone. Blobs live in a storage.Provider and are indexed by a
// database.Store with an expiry; signed links point at them.
package results

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pdfsqueeze/internal/auth"
	"pdfsqueeze/internal/database"
	"pdfsqueeze/internal/models"
	"pdfsqueeze/internal/pipeline"
	"pdfsqueeze/internal/storage"
)

var (
	// ErrNotFound is returned for unknown IDs and for records whose blob is gone
	ErrNotFound = errors.New("result not found")
	// ErrExpired is returned for records past their expiry that the janitor
	// has not swept yet
	ErrExpired = errors.New("result has expired")
)

// keyPrefix namespaces result blobs inside shared buckets
const keyPrefix = "results/"

// Options configures a Service
type Options struct {
	TTL           time.Duration // zero keeps results until deleted
	PublicBaseURL string        // prefix for links, empty = relative links
}

// Service publishes, serves and expires results
type Service struct {
	logger *zap.Logger
	index  database.Store
	blobs  storage.Provider
	signer *auth.Signer
	opts   Options

	now   func() time.Time
	newID func() string
}

// New creates a results service
func New(logger *zap.Logger, index database.Store, blobs storage.Provider, signer *auth.Signer, opts Options) *Service {
	return &Service{
		logger: logger,
		index:  index,
		blobs:  blobs,
		signer: signer,
		opts:   opts,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Publish stores the artifact and indexes it. The returned handle is the
// result ID used in download links.
func (s *Service) Publish(ctx context.Context, a pipeline.Artifact) (string, error) {
	id := s.newID()
	key := keyPrefix + id + "/" + a.DownloadName

	f, err := os.Open(a.Path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	if err := s.blobs.PutObject(ctx, key, f, a.Size); err != nil {
		return "", fmt.Errorf("store %s: %w", a.DownloadName, err)
	}

	now := s.now().UTC()
	rec := &models.ResultRecord{
		ID:              id,
		Filename:        a.DownloadName,
		SourceName:      a.Name,
		StorageKey:      key,
		ContentType:     models.ContentTypePDF,
		OriginalBytes:   a.OriginalSize,
		CompressedBytes: a.Size,
		CreatedAt:       now,
	}
	if s.opts.TTL > 0 {
		rec.ExpiresAt = now.Add(s.opts.TTL)
	}

	if err := s.index.SaveRecord(ctx, rec); err != nil {
		// An unindexed blob would never be swept
		if derr := s.blobs.DeleteObject(context.WithoutCancel(ctx), key); derr != nil {
			s.logger.Warn("failed to remove unindexed blob", zap.String("key", key), zap.Error(derr))
		}
		return "", fmt.Errorf("index %s: %w", a.DownloadName, err)
	}

	s.logger.Debug("result published",
		zap.String("run_id", a.RunID),
		zap.String("result_id", id),
		zap.String("key", key),
		zap.Int64("bytes", a.Size),
	)
	return id, nil
}

// Open returns the record and its content. The caller closes the reader.
func (s *Service) Open(ctx context.Context, id string) (*models.ResultRecord, io.ReadCloser, error) {
	rec, err := s.index.GetRecord(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lookup %s: %w", id, err)
	}
	if rec.Expired(s.now()) {
		return nil, nil, ErrExpired
	}

	body, err := s.blobs.GetObject(ctx, rec.StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", id, err)
	}
	return rec, body, nil
}

// Link returns a signed download URL for a published result
func (s *Service) Link(ctx context.Context, id string) (string, error) {
	rec, err := s.index.GetRecord(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", id, err)
	}
	return s.link(rec.ID, rec.ExpiresAt), nil
}

func (s *Service) link(id string, expiresAt time.Time) string {
	expiryStr, sig := s.signer.Sign(id, expiresAt)

	q := url.Values{}
	if expiryStr != "" {
		q.Set("expiry", expiryStr)
	}
	q.Set("signature", sig)

	return strings.TrimSuffix(s.opts.PublicBaseURL, "/") + path.Join("/downloads", url.PathEscape(id)) + "?" + q.Encode()
}

// Sweep removes every result expired at now. Blob deletion failures are
// logged and reported but do not stop the sweep.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed, err := s.index.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired records: %w", err)
	}

	var errs []error
	for _, rec := range removed {
		if err := s.blobs.DeleteObject(ctx, rec.StorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("failed to delete expired blob",
				zap.String("result_id", rec.ID),
				zap.String("key", rec.StorageKey),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return len(removed), errors.Join(errs...)
}
