// Package janitor periodically sweeps expired results out of the index and
// result storage.
package janitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"pdfsqueeze/internal/metrics"
)

// Sweeper removes everything expired at t and returns how many results it
// removed. A partial failure returns a non-zero count and an error.
type Sweeper interface {
	Sweep(ctx context.Context, t time.Time) (int, error)
}

// Janitor runs a Sweeper on a fixed interval
type Janitor struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs but does not start a Janitor. Non-positive intervals
// default to one minute.
func New(logger *zap.Logger, sweeper Sweeper, interval time.Duration, m *metrics.Metrics) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger.With(zap.String("component", "janitor")),
		metrics:  m,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the janitor loop in a new goroutine
func (j *Janitor) Start(ctx context.Context) {
	if j.ticker != nil {
		return
	}
	j.ticker = time.NewTicker(j.interval)
	go j.loop(ctx)
}

// Stop signals the loop to exit and waits for it. Stop on a janitor that
// was never started returns immediately.
func (j *Janitor) Stop() {
	j.once.Do(func() { close(j.stopCh) })
	if j.ticker == nil {
		return
	}
	<-j.doneCh
}

func (j *Janitor) loop(ctx context.Context) {
	defer func() {
		j.ticker.Stop()
		close(j.doneCh)
	}()
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor stop", zap.String("reason", "context_cancel"))
			return
		case <-j.stopCh:
			j.logger.Info("janitor stop", zap.String("reason", "stop_signal"))
			return
		case <-j.ticker.C:
			j.runCycle(ctx)
		}
	}
}

// runCycle performs one sweep
func (j *Janitor) runCycle(ctx context.Context) {
	start := time.Now()
	count, err := j.sweeper.Sweep(ctx, start.UTC())

	if count > 0 {
		j.metrics.JanitorDeletedTotal.Add(float64(count))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		j.metrics.JanitorSweepsTotal.WithLabelValues("error").Inc()
		j.logger.Error("sweep failed", zap.Int("deleted", count), zap.Error(err))
		return
	}
	j.metrics.JanitorSweepsTotal.WithLabelValues("ok").Inc()

	if count > 0 {
		j.logger.Info("sweep complete",
			zap.Int("deleted", count),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
