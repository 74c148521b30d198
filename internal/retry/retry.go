// Package retry wraps side-effecting calls with error classification and
// exponential backoff.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	syncerrors "github.com/randalmurphal/incsync/internal/errors"
	"github.com/randalmurphal/incsync/internal/metrics"
)

// Policy controls retry behavior.
type Policy struct {
	MaxRetries   int           `yaml:"max_retries" mapstructure:"max_retries" validate:"gte=0,lte=10"`
	InitialDelay time.Duration `yaml:"initial_delay" mapstructure:"initial_delay" validate:"gte=0"`
	MaxDelay     time.Duration `yaml:"max_delay" mapstructure:"max_delay" validate:"gte=0"`
	Multiplier   float64       `yaml:"multiplier" mapstructure:"multiplier" validate:"gte=1"`
}

// DefaultPolicy returns the default policy: three retries starting at one
// second, doubling, capped at thirty seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

// Delay returns the computed backoff before retry number attempt (1-based):
// min(InitialDelay * Multiplier^(attempt-1), MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Attempt records one failed try.
type Attempt struct {
	Number int           `json:"number"`
	Kind   Kind          `json:"kind"`
	Error  string        `json:"error"`
	Delay  time.Duration `json:"delay,omitempty"`
}

// Result is the outcome of Do.
type Result[T any] struct {
	Success  bool
	Value    T
	Err      error
	Attempts int
	History  []Attempt
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Handler retries operations under a Policy.
type Handler struct {
	policy   Policy
	classify Classifier
	sleep    SleepFunc
	logger   *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithClassifier replaces the default classifier.
func WithClassifier(c Classifier) Option {
	return func(h *Handler) { h.classify = c }
}

// WithSleep replaces the timer used between attempts.
func WithSleep(s SleepFunc) Option {
	return func(h *Handler) { h.sleep = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// New creates a Handler.
func New(p Policy, opts ...Option) *Handler {
	h := &Handler{
		policy:   p,
		classify: Classify,
		sleep:    sleep,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Policy returns the handler's policy.
func (h *Handler) Policy() Policy { return h.policy }

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// policy's retry budget is spent. At most MaxRetries+1 attempts are made.
// A rate-limit wait hint replaces the computed delay, still capped by
// MaxDelay. Cancellation stops retrying.
func Do[T any](ctx context.Context, h *Handler, op func(ctx context.Context) (T, error)) Result[T] {
	var res Result[T]
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		res.Attempts = attempt
		v, err := op(ctx)
		if err == nil {
			res.Success = true
			res.Value = v
			res.Err = nil
			return res
		}

		c := h.classify(err)
		rec := Attempt{Number: attempt, Kind: c.Kind, Error: err.Error()}
		metrics.RetryAttempt(string(c.Kind))

		if !c.Kind.Retryable() {
			res.History = append(res.History, rec)
			res.Err = err
			h.logger.Debug("operation failed, not retrying", "attempt", attempt, "kind", c.Kind, "error", err)
			return res
		}
		if attempt > h.policy.MaxRetries {
			res.History = append(res.History, rec)
			res.Err = syncerrors.NewMaxRetries(attempt, err)
			h.logger.Warn("retries exhausted", "attempts", attempt, "kind", c.Kind, "error", err)
			return res
		}

		delay := h.policy.Delay(attempt)
		if c.Wait > 0 {
			delay = c.Wait
			if h.policy.MaxDelay > 0 && delay > h.policy.MaxDelay {
				delay = h.policy.MaxDelay
			}
		}
		rec.Delay = delay
		res.History = append(res.History, rec)
		metrics.RetryDelay(delay.Seconds())
		h.logger.Warn("operation failed, retrying",
			"attempt", attempt,
			"max_attempts", h.policy.MaxRetries+1,
			"kind", c.Kind,
			"backoff", delay,
			"error", err,
		)

		if serr := h.sleep(ctx, delay); serr != nil {
			res.Err = fmt.Errorf("%w (last error: %v)", serr, err)
			return res
		}
	}
}
