// Package recompress re-encodes the visual content of PDF documents to shrink them.
package recompress

import (
	"context"
	"fmt"

	"pdfsqueeze/internal/config"
)

// Options are the per-run recompression knobs
type Options struct {
	Quality int     // JPEG quality, 10..95
	Scale   float64 // render scale, 1.0 = 72 DPI
}

// DPI is the raster resolution implied by Scale
func (o Options) DPI() float64 {
	return 72 * o.Scale
}

// Recompressor turns the PDF at src into a smaller PDF at dst
type Recompressor interface {
	Name() string
	Recompress(ctx context.Context, src, dst string, opts Options) error
}

// New returns the recompressor selected by cfg.Strategy
func New(cfg *config.Config) (Recompressor, error) {
	switch cfg.Strategy {
	case config.StrategyRasterize, "":
		return NewRasterizer(), nil
	case config.StrategyOptimize:
		return NewOptimizer(cfg.GhostscriptPath), nil
	default:
		return nil, fmt.Errorf("unsupported recompression strategy: %s", cfg.Strategy)
	}
}
