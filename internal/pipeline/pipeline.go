// Package pipeline runs one archive through extraction, discovery and
// per-document recompression.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pdfsqueeze/internal/archive"
	"pdfsqueeze/internal/metrics"
	"pdfsqueeze/internal/recompress"
	"pdfsqueeze/internal/workspace"
)

// Artifact is a recompressed document handed to a Publisher.
// Path is only valid for the duration of the Publish call.
type Artifact struct {
	RunID        string
	Name         string // name inside the archive
	DownloadName string
	Path         string
	Size         int64
	OriginalSize int64
}

// Publisher makes a recompressed document available after the run ends
// and returns a handle to it
type Publisher interface {
	Publish(ctx context.Context, a Artifact) (string, error)
}

// Options configures a Pipeline
type Options struct {
	WorkDir         string
	Limits          archive.Limits
	DocumentTimeout time.Duration
	DefaultQuality  int
	DefaultScale    float64
}

// Pipeline is safe for concurrent use; every Run owns its own workspace
type Pipeline struct {
	logger       *zap.Logger
	recompressor recompress.Recompressor
	publisher    Publisher
	metrics      *metrics.Metrics
	opts         Options
}

// New creates a pipeline
func New(logger *zap.Logger, rc recompress.Recompressor, pub Publisher, m *metrics.Metrics, opts Options) *Pipeline {
	return &Pipeline{
		logger:       logger,
		recompressor: rc,
		publisher:    pub,
		metrics:      m,
		opts:         opts,
	}
}

// Strategy names the recompressor in use
func (p *Pipeline) Strategy() string {
	return p.recompressor.Name()
}

// Run processes req. Archive failures, missing documents and invalid input
// halt the run and return an error; per-document failures are recorded in
// the report and do not.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	p.metrics.ActiveRuns.Inc()
	defer p.metrics.ActiveRuns.Dec()

	req, err := req.Validate(p.opts.DefaultQuality, p.opts.DefaultScale)
	if err != nil {
		p.finish(start, "invalid")
		return nil, err
	}

	runID := req.ID
	if runID == "" {
		runID = uuid.NewString()
	}

	logger := p.logger.With(
		zap.String("run_id", runID),
		zap.String("archive", req.ArchiveName),
	)

	var rep *Report
	err = workspace.Run(p.opts.WorkDir, func(ws *workspace.Workspace) error {
		var runErr error
		rep, runErr = p.run(ctx, ws, req, runID, logger)
		return runErr
	})

	switch {
	case errors.Is(err, archive.ErrWrongSecretOrCorrupt):
		logger.Info("Archive rejected", zap.Error(err))
		p.finish(start, "wrong_secret")
		return nil, err
	case errors.Is(err, archive.ErrLimitExceeded):
		logger.Warn("Archive over extraction limits", zap.Error(err))
		p.finish(start, "too_large")
		return nil, err
	case errors.Is(err, ErrNoDocuments):
		logger.Info("No documents in archive")
		p.finish(start, "no_documents")
		return nil, err
	case err != nil:
		logger.Error("Run failed", zap.Error(err))
		p.finish(start, "failed")
		return nil, err
	}

	succeeded, failed := len(rep.Succeeded()), len(rep.Failed())
	outcome := "completed"
	switch {
	case succeeded == 0:
		outcome = "failed"
	case failed > 0:
		outcome = "partial"
	}
	p.finish(start, outcome)

	logger.Info("Run finished",
		zap.Int("documents", rep.CandidateCount),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)))

	return rep, nil
}

func (p *Pipeline) run(ctx context.Context, ws *workspace.Workspace, req Request, runID string, logger *zap.Logger) (*Report, error) {
	archivePath, err := ws.WriteFile(UploadName, req.Archive)
	if err != nil {
		return nil, err
	}

	extracted, err := archive.Extract(ctx, archivePath, req.Secret, ws.Dir(), p.opts.Limits)
	if err != nil {
		return nil, fmt.Errorf("extract archive: %w", err)
	}
	p.metrics.ExtractedEntriesHist.Observe(float64(len(extracted)))
	logger.Debug("Archive extracted", zap.Int("entries", len(extracted)))

	docs, err := Discover(ws.Dir())
	if err != nil {
		return nil, err
	}

	// Outputs go to a directory no archive entry can already occupy.
	outDir, err := os.MkdirTemp(ws.Dir(), "out-")
	if err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	rep := &Report{
		ID:             runID,
		ArchiveName:    req.ArchiveName,
		ExtractedCount: len(extracted),
		CandidateCount: len(docs),
		Outcomes:       make([]Outcome, 0, len(docs)),
		Strategy:       p.recompressor.Name(),
		Quality:        req.Quality,
		Scale:          req.Scale,
	}

	opts := recompress.Options{Quality: req.Quality, Scale: req.Scale}
	for _, doc := range docs {
		rep.Outcomes = append(rep.Outcomes, p.process(ctx, doc, outDir, runID, opts, logger))
	}
	return rep, nil
}

// process recompresses and publishes one document. It never returns an
// error; failures become the Outcome.
func (p *Pipeline) process(ctx context.Context, src, outDir, runID string, opts recompress.Options, logger *zap.Logger) Outcome {
	name := filepath.Base(src)
	logger = logger.With(zap.String("document", name))

	fail := func(stage string, err error) Outcome {
		p.metrics.DocumentsTotal.WithLabelValues("error").Inc()
		logger.Warn("Document failed", zap.String("stage", stage), zap.Error(err))
		return Outcome{Name: name, Err: &DocumentError{Name: name, Stage: stage, Err: err}}
	}

	if err := ctx.Err(); err != nil {
		return fail(StageCancelled, err)
	}

	before, err := os.Stat(src)
	if err != nil {
		return fail(StageStat, err)
	}

	docCtx := ctx
	if p.opts.DocumentTimeout > 0 {
		var cancel context.CancelFunc
		docCtx, cancel = context.WithTimeout(ctx, p.opts.DocumentTimeout)
		defer cancel()
	}

	dst := filepath.Join(outDir, DownloadName(name))
	start := time.Now()
	err = p.recompressor.Recompress(docCtx, src, dst, opts)
	p.metrics.DocumentDuration.WithLabelValues(p.recompressor.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return fail(StageCancelled, err)
		}
		return fail(StageRecompress, err)
	}

	after, err := os.Stat(dst)
	if err != nil {
		return fail(StageStat, err)
	}

	handle, err := p.publisher.Publish(ctx, Artifact{
		RunID:        runID,
		Name:         name,
		DownloadName: DownloadName(name),
		Path:         dst,
		Size:         after.Size(),
		OriginalSize: before.Size(),
	})
	if err != nil {
		return fail(StagePublish, err)
	}

	res := &Result{
		Name:            name,
		OriginalBytes:   before.Size(),
		CompressedBytes: after.Size(),
		Handle:          handle,
	}

	p.metrics.DocumentsTotal.WithLabelValues("success").Inc()
	p.metrics.OriginalBytesHist.Observe(float64(res.OriginalBytes))
	p.metrics.CompressedBytesHist.Observe(float64(res.CompressedBytes))
	if res.OriginalBytes > 0 {
		p.metrics.ReductionRatio.Observe(float64(res.CompressedBytes) / float64(res.OriginalBytes))
	}

	logger.Debug("Document recompressed",
		zap.Int64("original_bytes", res.OriginalBytes),
		zap.Int64("compressed_bytes", res.CompressedBytes),
		zap.Duration("duration", time.Since(start)))

	return Outcome{Name: name, Result: res}
}

func (p *Pipeline) finish(start time.Time, outcome string) {
	p.metrics.RunsTotal.WithLabelValues(outcome).Inc()
	p.metrics.RunDuration.Observe(time.Since(start).Seconds())
}
