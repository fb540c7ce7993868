// Package resilience provides the circuit breaker, retry, and deadline
// primitives shared by the outbound dependencies.
package resilience

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/logging"
	"github.com/traffic-tacos/reservation-api-sub000/internal/common/metrics"
)

// BreakerConfig tunes one protected dependency.
type BreakerConfig struct {
	Name           string
	FailureRate    float64       // trip when failures/requests reaches this ratio
	WindowSize     uint32        // minimum observed calls before the ratio applies
	OpenDuration   time.Duration // how long the breaker stays open
	HalfOpenProbes uint32        // probe calls admitted while half-open
}

// NewBreaker builds a circuit breaker for a dependency.
// Closed-state counts reset every OpenDuration, approximating a sliding window.
// State changes are logged and exported as a gauge.
func NewBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenProbes,
		Interval:    cfg.OpenDuration,
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.WindowSize {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn("Circuit breaker state change",
				"dependency", name,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.RecordBreakerState(name, stateValue(to))
		},
	}

	return gobreaker.NewCircuitBreaker(settings)
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// IsBreakerOpen reports whether an error came from the breaker rejecting the
// call rather than from the dependency itself.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
