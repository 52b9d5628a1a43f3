package circuitbreaker

import (
	"errors"
	"fmt"

	"github.com/sony/gobreaker"

	"pdfsqueeze/internal/config"
	"pdfsqueeze/internal/metrics"
)

// ErrUnavailable is returned when the breaker rejects a call without running it
var ErrUnavailable = errors.New("backend unavailable")

// Breaker wraps gobreaker with metrics
type Breaker struct {
	cb   *gobreaker.CircuitBreaker
	name string
}

// New creates a new circuit breaker. Errors matching any of ignore (via
// errors.Is) are returned to the caller but do not count as failures.
func New(name string, cfg *config.Config, m *metrics.Metrics, ignore ...error) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(cfg.CircuitBreakerMaxRequests),
		Interval:    cfg.CircuitBreakerTimeout,
		Timeout:     cfg.CircuitBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.CircuitBreakerThreshold)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			for _, target := range ignore {
				if errors.Is(err, target) {
					return true
				}
			}
			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	}

	m.CircuitBreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))

	return &Breaker{
		cb:   gobreaker.NewCircuitBreaker(settings),
		name: name,
	}
}

// Do runs fn through the breaker
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return b.translate(err)
}

// Run runs fn through the breaker and returns its typed result
func Run[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	out, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return zero, b.translate(err)
	}
	if out == nil {
		return zero, nil
	}
	return out.(T), nil
}

func (b *Breaker) translate(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w: %v", b.name, ErrUnavailable, err)
	}
	return err
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name returns the backend name the breaker guards
func (b *Breaker) Name() string {
	return b.name
}
