package results

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pdfsqueeze/internal/auth"
	"pdfsqueeze/internal/database"
	"pdfsqueeze/internal/metrics"
	"pdfsqueeze/internal/models"
	"pdfsqueeze/internal/pipeline"
	"pdfsqueeze/internal/storage"
)

type fixture struct {
	svc    *Service
	index  *database.MemoryStore
	blobs  *storage.MemoryProvider
	signer *auth.Signer
	clock  time.Time
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()
	m := metrics.New()
	f := &fixture{
		index:  database.NewMemoryStore(m),
		blobs:  storage.NewMemoryProvider(m),
		signer: auth.NewSigner([]byte("secret"), true, m),
		clock:  time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	f.svc = New(zap.NewNop(), f.index, f.blobs, f.signer, Options{
		TTL:           ttl,
		PublicBaseURL: "https://squeeze.example.com/",
	})
	f.svc.now = func() time.Time { return f.clock }
	n := 0
	f.svc.newID = func() string {
		n++
		return "r" + string(rune('0'+n))
	}
	return f
}

func writeArtifact(t *testing.T, name, content string) pipeline.Artifact {
	t.Helper()
	p := filepath.Join(t.TempDir(), pipeline.DownloadName(name))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return pipeline.Artifact{
		RunID:        "run-1",
		Name:         name,
		DownloadName: pipeline.DownloadName(name),
		Path:         p,
		Size:         int64(len(content)),
		OriginalSize: 4 * int64(len(content)),
	}
}

func TestService_PublishThenOpen(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	id, err := f.svc.Publish(ctx, writeArtifact(t, "a.pdf", "%PDF-small"))
	require.NoError(t, err)
	assert.Equal(t, "r1", id)

	rec, body, err := f.svc.Open(ctx, id)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-small", string(data))

	assert.Equal(t, "compressed_a.pdf", rec.Filename)
	assert.Equal(t, "a.pdf", rec.SourceName)
	assert.Equal(t, models.ContentTypePDF, rec.ContentType)
	assert.Equal(t, int64(10), rec.CompressedBytes)
	assert.Equal(t, int64(40), rec.OriginalBytes)
	assert.Equal(t, "results/r1/compressed_a.pdf", rec.StorageKey)
	assert.Equal(t, f.clock.Add(time.Hour), rec.ExpiresAt)
}

func TestService_PublishSurvivesArtifactRemoval(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	a := writeArtifact(t, "a.pdf", "content")
	id, err := f.svc.Publish(ctx, a)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(filepath.Dir(a.Path)))

	_, body, err := f.svc.Open(ctx, id)
	require.NoError(t, err)
	body.Close()
}

func TestService_PublishMissingArtifact(t *testing.T) {
	f := newFixture(t, time.Hour)
	_, err := f.svc.Publish(context.Background(), pipeline.Artifact{
		Name:         "gone.pdf",
		DownloadName: "compressed_gone.pdf",
		Path:         filepath.Join(t.TempDir(), "nope.pdf"),
	})
	require.Error(t, err)
	assert.Zero(t, f.blobs.Len())
}

type failingIndex struct {
	*database.MemoryStore
}

func (failingIndex) SaveRecord(ctx context.Context, rec *models.ResultRecord) error {
	return errors.New("index down")
}

func TestService_PublishRemovesBlobWhenIndexFails(t *testing.T) {
	m := metrics.New()
	blobs := storage.NewMemoryProvider(m)
	svc := New(zap.NewNop(), failingIndex{database.NewMemoryStore(m)}, blobs, auth.NewSigner([]byte("k"), true, m), Options{TTL: time.Hour})

	_, err := svc.Publish(context.Background(), writeArtifact(t, "a.pdf", "content"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index down")
	assert.Zero(t, blobs.Len())
}

func TestService_OpenErrors(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	_, _, err := f.svc.Open(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	id, err := f.svc.Publish(ctx, writeArtifact(t, "a.pdf", "content"))
	require.NoError(t, err)

	f.clock = f.clock.Add(time.Hour)
	_, _, err = f.svc.Open(ctx, id)
	assert.ErrorIs(t, err, ErrExpired)

	// Index entry without a blob
	f.clock = f.clock.Add(-time.Hour)
	require.NoError(t, f.blobs.DeleteObject(ctx, "results/"+id+"/compressed_a.pdf"))
	_, _, err = f.svc.Open(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_NoTTLNeverExpires(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	id, err := f.svc.Publish(ctx, writeArtifact(t, "a.pdf", "content"))
	require.NoError(t, err)

	f.clock = f.clock.Add(24 * 365 * time.Hour)
	_, body, err := f.svc.Open(ctx, id)
	require.NoError(t, err)
	body.Close()

	link, err := f.svc.Link(ctx, id)
	require.NoError(t, err)
	assert.NotContains(t, link, "expiry=")
}

func TestService_LinkVerifies(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	id, err := f.svc.Publish(ctx, writeArtifact(t, "a.pdf", "content"))
	require.NoError(t, err)

	link, err := f.svc.Link(ctx, id)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "https://squeeze.example.com/downloads/r1?"), link)

	u, err := url.Parse(link)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "1777629600", q.Get("expiry"))

	expiryStr, sig := f.signer.Sign(id, f.clock.Add(time.Hour))
	assert.Equal(t, expiryStr, q.Get("expiry"))
	assert.Equal(t, sig, q.Get("signature"))

	_, err = f.svc.Link(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_RelativeLinks(t *testing.T) {
	m := metrics.New()
	svc := New(zap.NewNop(), database.NewMemoryStore(m), storage.NewMemoryProvider(m), auth.NewSigner([]byte("k"), false, m), Options{})
	link := svc.link("abc", time.Time{})
	assert.True(t, strings.HasPrefix(link, "/downloads/abc?signature="), link)
}

func TestService_Sweep(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	first, err := f.svc.Publish(ctx, writeArtifact(t, "a.pdf", "first"))
	require.NoError(t, err)

	f.clock = f.clock.Add(30 * time.Minute)
	second, err := f.svc.Publish(ctx, writeArtifact(t, "b.pdf", "second"))
	require.NoError(t, err)
	require.Equal(t, 2, f.blobs.Len())

	n, err := f.svc.Sweep(ctx, f.clock.Add(31*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.blobs.Len())

	_, _, err = f.svc.Open(ctx, first)
	assert.ErrorIs(t, err, ErrNotFound)
	_, body, err := f.svc.Open(ctx, second)
	require.NoError(t, err)
	body.Close()

	n, err = f.svc.Sweep(ctx, f.clock.Add(31*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_SweepToleratesMissingBlobs(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	id, err := f.svc.Publish(ctx, writeArtifact(t, "a.pdf", "content"))
	require.NoError(t, err)
	require.NoError(t, f.blobs.DeleteObject(ctx, "results/"+id+"/compressed_a.pdf"))

	n, err := f.svc.Sweep(ctx, f.clock.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDirPublisher(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	p, err := NewDirPublisher(out)
	require.NoError(t, err)

	handle, err := p.Publish(context.Background(), writeArtifact(t, "a.pdf", "bytes"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "compressed_a.pdf"), handle)

	data, err := os.ReadFile(handle)
	require.NoError(t, err)
	assert.Equal(t, "bytes", string(data))

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files left behind")
}

func TestDirPublisher_CancelledContext(t *testing.T) {
	p, err := NewDirPublisher(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Publish(ctx, writeArtifact(t, "a.pdf", "bytes"))
	assert.ErrorIs(t, err, context.Canceled)
}
