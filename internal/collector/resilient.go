package collector

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"

	"github.com/leapstack-labs/dfmigrate/internal/engine"
	"github.com/leapstack-labs/dfmigrate/pkg/core"
)

// Retry and breaker defaults.
const (
	DefaultMaxRetries      = 3
	DefaultRetryBase       = 200 * time.Millisecond
	DefaultTripAfter       = 3
	DefaultBreakerCooldown = 30 * time.Second
)

// Resilient retries transient collection failures with exponential backoff
// and stops calling a project whose collections keep failing. Breakers are
// per project, so one unreachable project does not block the others.
type Resilient struct {
	inner      engine.Collector
	maxRetries uint64
	base       time.Duration
	tripAfter  uint32
	cooldown   time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

var _ engine.Collector = (*Resilient)(nil)

// ResilientOption configures a Resilient collector.
type ResilientOption func(*Resilient)

// WithRetries sets the retry count and the first backoff interval.
func WithRetries(n uint64, base time.Duration) ResilientOption {
	return func(r *Resilient) {
		r.maxRetries = n
		r.base = base
	}
}

// WithBreaker sets how many consecutive failures open a project's breaker
// and how long it stays open.
func WithBreaker(failures uint32, cooldown time.Duration) ResilientOption {
	return func(r *Resilient) {
		r.tripAfter = failures
		r.cooldown = cooldown
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ResilientOption {
	return func(r *Resilient) { r.logger = logger }
}

// NewResilient wraps inner.
func NewResilient(inner engine.Collector, opts ...ResilientOption) *Resilient {
	r := &Resilient{
		inner:      inner,
		maxRetries: DefaultMaxRetries,
		base:       DefaultRetryBase,
		tripAfter:  DefaultTripAfter,
		cooldown:   DefaultBreakerCooldown,
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	// zero values from an unset config mean defaults
	if r.base <= 0 {
		r.base = DefaultRetryBase
	}
	if r.tripAfter == 0 {
		r.tripAfter = DefaultTripAfter
	}
	return r
}

// Collect implements engine.Collector.
func (r *Resilient) Collect(ctx context.Context, req engine.CollectRequest) (*core.RawSnapshot, error) {
	cb := r.breaker(req.Pair.Project)
	log := r.logger.With(slog.String("project", req.Pair.Project), slog.String("location", req.Pair.Location))

	var snap *core.RawSnapshot
	attempt := 0
	backoff := retry.WithMaxRetries(r.maxRetries, retry.WithJitterPercent(10, retry.NewExponential(r.base)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		out, err := cb.Execute(func() (interface{}, error) {
			return r.inner.Collect(ctx, req)
		})
		if err != nil {
			if !transient(ctx, err) {
				return err
			}
			log.Warn("collect attempt failed", slog.Int("attempt", attempt), slog.Any("error", err))
			return retry.RetryableError(err)
		}
		snap = out.(*core.RawSnapshot)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *Resilient) breaker(project string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[project]; ok {
		return cb
	}
	tripAfter := r.tripAfter
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    project,
		Timeout: r.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		IsSuccessful: func(err error) bool {
			return err == nil || permanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("collector breaker state change",
				slog.String("project", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	r.breakers[project] = cb
	return cb
}

// permanent errors say nothing about the health of the source.
func permanent(err error) bool {
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, ErrMalformed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func transient(ctx context.Context, err error) bool {
	if ctx.Err() != nil || permanent(err) {
		return false
	}
	return !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests)
}
