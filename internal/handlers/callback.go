package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pdfsqueeze/internal/metrics"
	"pdfsqueeze/internal/models"
)

// Callbacker posts run summaries to caller supplied URLs
type Callbacker struct {
	logger     *zap.Logger
	metrics    *metrics.Metrics
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
}

// NewCallbacker creates a callback sender
func NewCallbacker(logger *zap.Logger, m *metrics.Metrics, maxRetries int, retryDelay time.Duration) *Callbacker {
	return &Callbacker{
		logger:     logger,
		metrics:    m,
		client:     &http.Client{Timeout: 30 * time.Second},
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Send delivers payload to url with exponential backoff. It blocks until
// delivery succeeds, retries are exhausted or ctx is done.
func (c *Callbacker) Send(ctx context.Context, url string, payload models.CallbackPayload) error {
	if url == "" {
		return nil
	}

	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.metrics.CallbackRetries.Inc()
			// Exponential backoff: retryDelay * 2^(attempt-1)
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				c.metrics.CallbacksTotal.WithLabelValues("failure").Inc()
				return ctx.Err()
			case <-time.After(delay):
			}
			c.logger.Info("retrying callback", zap.String("url", url), zap.Int("attempt", attempt))
		}

		err = c.send(ctx, url, payload)
		if err == nil {
			c.metrics.CallbacksTotal.WithLabelValues("success").Inc()
			return nil
		}

		c.logger.Warn("callback attempt failed", zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
	}

	c.metrics.CallbacksTotal.WithLabelValues("failure").Inc()
	c.logger.Error("callback failed after retries", zap.String("url", url), zap.Int("total_attempts", c.maxRetries+1), zap.Error(err))
	return err
}

// send sends a single callback request
func (c *Callbacker) send(ctx context.Context, url string, payload models.CallbackPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request creation error: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("bad status: %d", resp.StatusCode)
	}
	return nil
}
