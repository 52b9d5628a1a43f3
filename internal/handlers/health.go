package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pdfsqueeze/internal/metrics"
)

// Pinger is the index side of a health check
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker is the storage side of a health check
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	logger  *zap.Logger
	index   Pinger
	storage HealthChecker
	metrics *metrics.Metrics
}

// NewHealthHandler creates a new health check handler
func NewHealthHandler(logger *zap.Logger, index Pinger, storageProvider HealthChecker, m *metrics.Metrics) *HealthHandler {
	return &HealthHandler{
		logger:  logger,
		index:   index,
		storage: storageProvider,
		metrics: m,
	}
}

type healthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks,omitempty"`
	Version string            `json:"version,omitempty"`
}

// Version is reported by the health endpoint
var Version = "1.0.0"

// Health returns health status (checks dependencies)
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	components := []struct {
		name  string
		check func(context.Context) error
	}{
		{"index", h.index.Ping},
		{"storage", h.storage.HealthCheck},
	}
	for _, c := range components {
		if err := c.check(ctx); err != nil {
			checks[c.name] = "unavailable"
			allHealthy = false
			h.metrics.HealthStatus.WithLabelValues(c.name).Set(0)
			h.metrics.HealthChecksFailed.WithLabelValues(c.name).Inc()
			h.logger.Warn("health check failed", zap.String("component", c.name), zap.Error(err))
			continue
		}
		checks[c.name] = "ok"
		h.metrics.HealthStatus.WithLabelValues(c.name).Set(1)
	}

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}
	countRequest(h.metrics, "health", status)

	writeJSON(w, status, healthResponse{
		Status:  map[bool]string{true: "healthy", false: "unhealthy"}[allHealthy],
		Checks:  checks,
		Version: Version,
	})
}
