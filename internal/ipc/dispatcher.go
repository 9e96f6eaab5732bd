// Package ipc is the command boundary: a closed catalog of named commands,
// each validated against its schema and answered with an Envelope.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kalambet/tfmt/internal/apperr"
	"github.com/kalambet/tfmt/internal/errlog"
	"github.com/kalambet/tfmt/internal/schema"
	"github.com/kalambet/tfmt/internal/telemetry"
)

var (
	ErrUnknownCommand    = errors.New("command is not in the catalog")
	ErrAlreadyRegistered = errors.New("command already has a handler")
	ErrNotArmed          = errors.New("dispatcher is not armed")
	ErrArmed             = errors.New("dispatcher is already armed")
	ErrMissingHandlers   = errors.New("catalog commands without handlers")
)

// Handler runs one command. req is the validated request value produced by
// the command's schema. Handlers return plain errors or *apperr.Error and
// never build envelopes.
type Handler func(ctx context.Context, req any) (any, error)

// Handle adapts a handler over the concrete request type T.
func Handle[T any](fn func(ctx context.Context, req T) (any, error)) Handler {
	return func(ctx context.Context, req any) (any, error) {
		r, ok := req.(T)
		if !ok {
			var want T
			return nil, fmt.Errorf("handler wants %T, got %T", want, req)
		}
		return fn(ctx, r)
	}
}

type requestIDKey struct{}

// RequestID returns the id the dispatcher assigned to the current command.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

var (
	tracer = telemetry.Tracer("github.com/kalambet/tfmt/internal/ipc")
	meter  = telemetry.Meter("github.com/kalambet/tfmt/internal/ipc")

	commandCounter, _  = meter.Int64Counter("tfmt.commands", metric.WithDescription("Dispatched commands by outcome"))
	commandDuration, _ = meter.Float64Histogram("tfmt.command.duration", metric.WithUnit("ms"))
)

// Dispatcher routes named commands to their handlers. Handlers are
// registered during startup; Arm freezes the table and opens the
// dispatcher for traffic.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	armed    bool

	errs *errlog.Logger
	log  *slog.Logger
}

// New creates an unarmed dispatcher. errs may be nil.
func New(errs *errlog.Logger, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string]Handler),
		errs:     errs,
		log:      logger,
	}
}

// Register binds h to a catalog command. Each command is registered once,
// before Arm.
func (d *Dispatcher) Register(name string, h Handler) error {
	if !schema.Known(name) {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	if h == nil {
		return fmt.Errorf("nil handler for %q", name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.armed {
		return fmt.Errorf("%w: cannot register %q", ErrArmed, name)
	}
	if _, dup := d.handlers[name]; dup {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, name)
	}
	d.handlers[name] = h
	return nil
}

// Arm checks that every catalog command has a handler and starts accepting
// dispatches.
func (d *Dispatcher) Arm() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var missing []string
	for _, name := range schema.Commands() {
		if _, ok := d.handlers[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingHandlers, strings.Join(missing, ", "))
	}
	d.armed = true
	return nil
}

// Commands lists the catalog.
func (d *Dispatcher) Commands() []string {
	return schema.Commands()
}

// Dispatch validates raw against the command's schema, runs its handler
// and wraps the outcome. It never returns an error: every failure is
// classified into the envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, raw json.RawMessage) Envelope {
	start := time.Now()
	reqID := uuid.NewString()
	ctx = context.WithValue(ctx, requestIDKey{}, reqID)

	ctx, span := tracer.Start(ctx, "ipc "+name, trace.WithAttributes(
		attribute.String("tfmt.command", name),
		attribute.String("tfmt.request_id", reqID),
	))
	defer span.End()

	data, failed := d.dispatch(ctx, name, raw)

	outcome, code := "success", ""
	if failed != nil {
		outcome, code = "failure", string(failed.Code)
		span.SetStatus(codes.Error, failed.Message)
		span.SetAttributes(attribute.String("tfmt.error_code", code))
	}
	attrs := metric.WithAttributes(
		attribute.String("command", name),
		attribute.String("outcome", outcome),
		attribute.String("code", code),
	)
	commandCounter.Add(ctx, 1, attrs)
	commandDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)

	if failed != nil {
		d.errs.Log(name, failed)
		return failure(apperr.Humanize(failed))
	}
	d.log.Debug("command ok", "command", name, "request_id", reqID, "duration", time.Since(start))
	return success(data)
}

func (d *Dispatcher) dispatch(ctx context.Context, name string, raw json.RawMessage) (any, *apperr.Error) {
	d.mu.RLock()
	armed := d.armed
	h, ok := d.handlers[name]
	d.mu.RUnlock()

	if !armed {
		return nil, apperr.Wrap(apperr.CodeUnknown, "command dispatcher is not ready", ErrNotArmed)
	}
	if !ok {
		details := map[string]any{"command": name}
		if s := suggest(name); s != "" {
			details["suggestion"] = s
		}
		e := apperr.Validation(fmt.Sprintf("Unknown command %q", name), details)
		e.Cause = ErrUnknownCommand
		return nil, e
	}

	req, verr := schema.Validate(name, raw)
	if verr != nil {
		return nil, verr
	}

	data, err := d.call(ctx, name, h, req)
	if err != nil {
		return nil, apperr.Classify(err)
	}
	return data, nil
}

// call runs h, turning a panic into UNKNOWN_ERROR. Dispatch logs it.
func (d *Dispatcher) call(ctx context.Context, name string, h Handler, req any) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = d.errs.Recover(name, r)
		}
	}()
	return h(ctx, req)
}

// suggest returns the catalog command closest to name, if it is close
// enough to be a plausible typo.
func suggest(name string) string {
	best, bestDist := "", -1
	for _, c := range schema.Commands() {
		dist := levenshtein.ComputeDistance(name, c)
		if bestDist < 0 || dist < bestDist {
			best, bestDist = c, dist
		}
	}
	if bestDist < 0 || bestDist > max(2, len(name)/3) {
		return ""
	}
	return best
}
