package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"pdfsqueeze/internal/archive"
	"pdfsqueeze/internal/metrics"
	"pdfsqueeze/internal/models"
	"pdfsqueeze/internal/pipeline"
	"pdfsqueeze/internal/report"
)

// User-facing messages for runs that halt before any document is processed
const (
	msgWrongSecret = "wrong password or corrupt archive"
	msgTooLarge    = "archive exceeds extraction limits"
	msgBusy        = "too many active runs, try again later"
)

// maxFormMemory is the multipart size kept in memory before spilling to disk
const maxFormMemory = 32 << 20

// Runner executes one pipeline run
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Report, error)
}

// Linker builds download links for published results
type Linker interface {
	Link(ctx context.Context, id string) (string, error)
}

// CompressHandler accepts archives and returns recompression reports
type CompressHandler struct {
	logger     *zap.Logger
	runner     Runner
	links      Linker
	callbacks  *Callbacker
	metrics    *metrics.Metrics
	maxUpload  int64
	activeRuns *semaphore.Weighted // nil = unlimited
	validate   *validator.Validate
}

// NewCompressHandler creates the upload handler. maxActiveRuns <= 0 means
// no limit.
func NewCompressHandler(
	logger *zap.Logger,
	runner Runner,
	links Linker,
	callbacks *Callbacker,
	m *metrics.Metrics,
	maxUpload int64,
	maxActiveRuns int,
) *CompressHandler {
	h := &CompressHandler{
		logger:    logger,
		runner:    runner,
		links:     links,
		callbacks: callbacks,
		metrics:   m,
		maxUpload: maxUpload,
		validate:  validator.New(),
	}
	if maxActiveRuns > 0 {
		h.activeRuns = semaphore.NewWeighted(int64(maxActiveRuns))
	}
	return h
}

// Compress handles POST /compress
func (h *CompressHandler) Compress(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	logger := requestLogger(h.logger, ctx)

	respond := func(status int, v any) {
		countRequest(h.metrics, "compress", status)
		writeJSON(w, status, v)
	}

	if h.activeRuns != nil {
		if !h.activeRuns.TryAcquire(1) {
			w.Header().Set("Retry-After", "5")
			respond(http.StatusServiceUnavailable, errorResponse{Error: msgBusy})
			return
		}
		defer h.activeRuns.Release(1)
	}

	req, callback, status, err := h.parseRequest(w, r)
	if err != nil {
		respond(status, errorResponse{Error: err.Error()})
		return
	}
	req.ID = GetRequestID(ctx)

	rep, runErr := h.runner.Run(ctx, req)

	if callback != "" && h.callbacks != nil {
		payload := callbackPayload(req.ID, rep, runErr, time.Since(start))
		go h.callbacks.Send(context.WithoutCancel(ctx), callback, payload)
	}

	switch {
	case runErr == nil:
	case errors.Is(runErr, pipeline.ErrInvalidRequest):
		respond(http.StatusBadRequest, errorResponse{Error: runErr.Error()})
		return
	case errors.Is(runErr, archive.ErrWrongSecretOrCorrupt):
		respond(http.StatusUnprocessableEntity, errorResponse{Error: msgWrongSecret})
		return
	case errors.Is(runErr, archive.ErrLimitExceeded):
		respond(http.StatusUnprocessableEntity, errorResponse{Error: msgTooLarge})
		return
	case errors.Is(runErr, pipeline.ErrNoDocuments):
		respond(http.StatusUnprocessableEntity, errorResponse{Warning: pipeline.ErrNoDocuments.Error()})
		return
	default:
		logger.Error("run failed", zap.Error(runErr))
		respond(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	link := h.linkFunc(ctx, logger, rep)

	if wantsMarkdown(r) {
		countRequest(h.metrics, "compress", http.StatusOK)
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		io.WriteString(w, report.Markdown(rep, link))
		return
	}
	respond(http.StatusOK, report.JSON(rep, link))
}

// parseRequest reads the multipart form. On error it returns the status to
// answer with.
func (h *CompressHandler) parseRequest(w http.ResponseWriter, r *http.Request) (pipeline.Request, string, int, error) {
	var req pipeline.Request

	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, "", http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit)
		}
		return req, "", http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("archive")
	if err != nil {
		return req, "", http.StatusBadRequest, errors.New("archive is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return req, "", http.StatusBadRequest, fmt.Errorf("read archive: %w", err)
	}

	password := r.FormValue("password")
	if password == "" {
		return req, "", http.StatusBadRequest, errors.New("password is required")
	}

	req = pipeline.Request{
		Archive:     data,
		ArchiveName: header.Filename,
		Secret:      password,
	}

	if v := strings.TrimSpace(r.FormValue("quality")); v != "" {
		q, err := strconv.Atoi(v)
		if err != nil {
			return req, "", http.StatusBadRequest, errors.New("quality must be an integer")
		}
		req.Quality = q
	}
	if v := strings.TrimSpace(r.FormValue("scale")); v != "" {
		s, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, "", http.StatusBadRequest, errors.New("scale must be a number")
		}
		req.Scale = s
	}

	callback := strings.TrimSpace(r.FormValue("callback"))
	if err := h.validate.Var(callback, "omitempty,http_url"); err != nil {
		return req, "", http.StatusBadRequest, errors.New("callback must be an http(s) URL")
	}

	return req, callback, 0, nil
}

// linkFunc resolves download links up front so rendering never blocks
func (h *CompressHandler) linkFunc(ctx context.Context, logger *zap.Logger, rep *pipeline.Report) report.LinkFunc {
	if h.links == nil {
		return nil
	}
	urls := make(map[string]string)
	for _, res := range rep.Succeeded() {
		u, err := h.links.Link(ctx, res.Handle)
		if err != nil {
			logger.Warn("failed to build download link", zap.String("document", res.Name), zap.Error(err))
			continue
		}
		urls[res.Handle] = u
	}
	return func(res *pipeline.Result) string {
		return urls[res.Handle]
	}
}

func wantsMarkdown(r *http.Request) bool {
	if f := r.URL.Query().Get("format"); f != "" {
		return strings.EqualFold(f, "markdown") || strings.EqualFold(f, "md")
	}
	return strings.Contains(r.Header.Get("Accept"), "text/markdown")
}

func callbackPayload(id string, rep *pipeline.Report, runErr error, d time.Duration) models.CallbackPayload {
	p := models.CallbackPayload{
		ID:         id,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		DurationMs: d.Milliseconds(),
	}
	if runErr != nil {
		p.Status = "failed"
		p.Message = runErr.Error()
		if errors.Is(runErr, archive.ErrWrongSecretOrCorrupt) {
			p.Message = msgWrongSecret
		}
		return p
	}

	succeeded, failed := len(rep.Succeeded()), len(rep.Failed())
	p.DocumentCount = len(rep.Outcomes)
	p.Succeeded = succeeded
	p.Failed = failed
	p.OriginalSizeBytes, p.CompressedSizeBytes = rep.Totals()

	switch {
	case failed == 0:
		p.Status = "completed"
	case succeeded == 0:
		p.Status = "failed"
	default:
		p.Status = "partial"
		p.Message = fmt.Sprintf("%d of %d documents failed", failed, p.DocumentCount)
	}
	return p
}
