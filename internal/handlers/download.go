package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"pdfsqueeze/internal/auth"
	"pdfsqueeze/internal/metrics"
	"pdfsqueeze/internal/models"
	"pdfsqueeze/internal/results"
)

// ResultOpener serves published results
type ResultOpener interface {
	Open(ctx context.Context, id string) (*models.ResultRecord, io.ReadCloser, error)
}

// DownloadHandler serves recompressed documents behind signed links
type DownloadHandler struct {
	logger  *zap.Logger
	results ResultOpener
	signer  *auth.Signer
	metrics *metrics.Metrics
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(logger *zap.Logger, opener ResultOpener, signer *auth.Signer, m *metrics.Metrics) *DownloadHandler {
	return &DownloadHandler{
		logger:  logger,
		results: opener,
		signer:  signer,
		metrics: m,
	}
}

// Download handles GET /downloads/{id}
func (h *DownloadHandler) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := requestLogger(h.logger, ctx)
	id := mux.Vars(r)["id"]

	fail := func(status int, label, msg string) {
		h.metrics.DownloadsTotal.WithLabelValues(label).Inc()
		countRequest(h.metrics, "download", status)
		http.Error(w, msg, status)
	}

	if id == "" {
		fail(http.StatusBadRequest, "error", "missing id")
		return
	}

	query := r.URL.Query()
	if err := h.signer.Verify(id, query.Get("expiry"), query.Get("signature")); err != nil {
		if errors.Is(err, auth.ErrExpired) {
			logger.Warn("expired link", zap.String("id", id))
			fail(http.StatusGone, "expired", err.Error())
			return
		}
		logger.Warn("verification failed", zap.String("id", id), zap.Error(err))
		fail(http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	rec, body, err := h.results.Open(ctx, id)
	switch {
	case errors.Is(err, results.ErrExpired):
		fail(http.StatusGone, "expired", err.Error())
		return
	case errors.Is(err, results.ErrNotFound):
		fail(http.StatusNotFound, "not_found", "not found")
		return
	case err != nil:
		logger.Error("failed to open result", zap.String("id", id), zap.Error(err))
		fail(http.StatusBadGateway, "error", "result unavailable")
		return
	}
	defer body.Close()

	contentType := rec.ContentType
	if contentType == "" {
		contentType = models.ContentTypePDF
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, sanitizeFilename(rec.Filename)))
	if rec.CompressedBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(rec.CompressedBytes, 10))
	}

	out := &models.ByteCounter{Writer: w}
	if _, err := io.Copy(out, body); err != nil {
		// Headers are gone; the client sees a truncated body
		logger.Warn("download interrupted", zap.String("id", id), zap.Int64("bytes", out.Count), zap.Error(err))
		h.metrics.DownloadsTotal.WithLabelValues("error").Inc()
		return
	}

	h.metrics.DownloadsTotal.WithLabelValues("served").Inc()
	countRequest(h.metrics, "download", http.StatusOK)
	logger.Info("download served", zap.String("id", id), zap.String("filename", rec.Filename), zap.Int64("bytes", out.Count))
}

func sanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		if r < 32 || r > 126 || strings.ContainsRune(`\/:*?"<>|`, r) {
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(name, " .")
	if name == "" {
		return "download.pdf"
	}
	return name
}
