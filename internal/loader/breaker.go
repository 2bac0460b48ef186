package loader

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/timmy/loadgate/internal/logger"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = gobreaker.ErrOpenState

// BreakerConfig configures a BreakerInvoker.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// BreakerInvoker stops calling a loader that keeps failing to run. Only
// Invoke errors count as failures; rejected records do not.
type BreakerInvoker struct {
	next Invoker
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerInvoker wraps next in a circuit breaker.
func NewBreakerInvoker(next Invoker, cfg BreakerConfig) *BreakerInvoker {
	if cfg.Name == "" {
		cfg.Name = "loader"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	threshold := cfg.FailureThreshold

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.GetDefault().WithFields(logger.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Log(levelFor(to), "Loader circuit breaker state changed")
		},
	})
	return &BreakerInvoker{next: next, cb: cb}
}

func levelFor(s gobreaker.State) logrus.Level {
	if s == gobreaker.StateOpen {
		return logrus.WarnLevel
	}
	return logrus.InfoLevel
}

// Invoke forwards to the wrapped invoker unless the breaker is open.
func (b *BreakerInvoker) Invoke(ctx context.Context, batch Batch) (*LoadResult, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Invoke(ctx, batch)
	})
	if err != nil {
		return nil, err
	}
	return out.(*LoadResult), nil
}

// State returns the breaker state name.
func (b *BreakerInvoker) State() string {
	return b.cb.State().String()
}
