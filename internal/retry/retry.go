// Package retry re-attempts fallible operations whose failures classify as
// retryable, with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kalambet/tfmt/internal/apperr"
	"github.com/kalambet/tfmt/internal/telemetry"
)

const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = 1000 * time.Millisecond
	DefaultMaxDelay     = 10000 * time.Millisecond
	DefaultMultiplier   = 2.0
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Options controls the retry loop. Non-positive delays and multipliers fall
// back to the defaults; a negative MaxRetries is treated as zero.
type Options struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// Sleep defaults to a timer that aborts when ctx is done.
	Sleep  Sleeper
	Logger *slog.Logger

	// OnFailure sees every classified failure with its zero-based attempt,
	// including ones a later attempt recovers from.
	OnFailure func(err *apperr.Error, attempt int)
}

// DefaultOptions returns 3 retries, 1s initial delay, 10s cap, multiplier 2.
func DefaultOptions() Options {
	return Options{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Multiplier:   DefaultMultiplier,
	}
}

func (o Options) normalized() Options {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.Multiplier <= 0 {
		o.Multiplier = DefaultMultiplier
	}
	if o.Sleep == nil {
		o.Sleep = sleepCtx
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Delay returns the wait before the retry that follows the given zero-based
// failed attempt: min(InitialDelay * Multiplier^attempt, MaxDelay).
func (o Options) Delay(attempt int) time.Duration {
	o = o.normalized()
	d := float64(o.InitialDelay) * math.Pow(o.Multiplier, float64(attempt))
	if d > float64(o.MaxDelay) || math.IsInf(d, 1) {
		return o.MaxDelay
	}
	return time.Duration(d)
}

var attemptCounter, _ = telemetry.Meter("github.com/kalambet/tfmt/internal/retry").Int64Counter(
	"tfmt.retry.attempts",
	metric.WithDescription("Failed attempts seen by the retry engine, by outcome"),
)

// Do runs op until it succeeds, fails with a non-retryable code, or the
// retry budget is spent.
//
// ctx is the owner's lifecycle context: it is passed to op and aborts a
// pending backoff sleep, so callers hand in the process context rather than
// a per-request one.
//
// A non-retryable failure is returned as classified after a single attempt.
// Exhausting the budget returns NETWORK_ERROR whatever the last retryable
// code was, with {retryCount, maxRetries} in the details.
func Do[T any](ctx context.Context, opts Options, op func(context.Context) (T, error)) (T, error) {
	opts = opts.normalized()

	var zero T
	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		classified := apperr.Classify(err)
		if opts.OnFailure != nil {
			opts.OnFailure(classified, attempt)
		}
		if !classified.Retryable() {
			attemptCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "fatal")))
			return zero, classified
		}

		if attempt >= opts.MaxRetries {
			attemptCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "exhausted")))
			opts.Logger.Warn("retries exhausted",
				"attempts", attempt+1, "max_retries", opts.MaxRetries, "code", classified.Code, "error", classified.Message)
			return zero, exhausted(classified, attempt, opts.MaxRetries)
		}

		delay := opts.Delay(attempt)
		attemptCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "retry")))
		opts.Logger.Info("retrying after failure",
			"attempt", attempt+1, "delay", delay, "code", classified.Code, "error", classified.Message)

		if err := opts.Sleep(ctx, delay); err != nil {
			aborted := apperr.Wrap(classified.Code, "retry aborted: "+err.Error(), errors.Join(err, classified))
			aborted.Details = classified.Details
			return zero, aborted
		}
	}
}

func exhausted(last *apperr.Error, retryCount, maxRetries int) *apperr.Error {
	e := apperr.Wrap(apperr.CodeNetworkError, "A network error occurred. Check your connection.", last)
	e.Details = map[string]any{
		"retryCount": retryCount,
		"maxRetries": maxRetries,
		"lastCode":   last.Code,
	}
	e.Context = map[string]any{
		"lastCode":    last.Code,
		"lastMessage": last.Message,
		"lastDetails": last.Details,
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
