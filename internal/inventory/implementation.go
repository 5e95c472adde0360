// internal/inventory/implementation.go
package inventory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"hdlend/internal/errs"
)

// service implements the Service interface.
type service struct {
	store      Store
	now        func() time.Time
	policy     Policy
	logger     *slog.Logger
	tracer     trace.Tracer
	operations metric.Int64Counter
}

// Option configures a service.
type Option func(*service)

// WithClock injects the time source used for slot timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPolicy overrides the default lending policy.
func WithPolicy(p Policy) Option {
	return func(s *service) { s.policy = p }
}

// WithLogger sets the logger for operation traces.
func WithLogger(l *slog.Logger) Option {
	return func(s *service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a new inventory service backed by store.
func NewService(store Store, opts ...Option) Service {
	s := &service{
		store:  store,
		now:    time.Now,
		policy: DefaultPolicy(),
		logger: slog.Default(),
		tracer: otel.Tracer("hdlend/inventory"),
	}
	for _, opt := range opts {
		opt(s)
	}

	counter, err := otel.Meter("hdlend/inventory").Int64Counter(
		"hdlend.inventory.operations",
		metric.WithDescription("Inventory engine operations by outcome"),
	)
	if err != nil {
		counter = noop.Int64Counter{}
	}
	s.operations = counter

	return s
}

func (s *service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// run executes fn inside one store transaction and classifies the result.
func (s *service) run(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(context.Context, Tx) error) error {
	ctx, span := s.tracer.Start(ctx, "inventory."+op, trace.WithAttributes(attrs...))
	defer span.End()

	err := s.classify(s.store.WithTx(ctx, func(tx Tx) error {
		return fn(ctx, tx)
	}))

	outcome := "ok"
	if err != nil {
		outcome = string(errs.CodeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, errs.MessageOf(err))
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	s.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))

	switch code := errs.CodeOf(err); {
	case err == nil:
		s.logger.DebugContext(ctx, "inventory operation", "op", op)
	case code == errs.CodeInternal || code == errs.CodeUnavailable:
		s.logger.ErrorContext(ctx, "inventory operation failed", "op", op, "error", err)
	default:
		s.logger.DebugContext(ctx, "inventory operation rejected", "op", op, "outcome", outcome, "reason", errs.MessageOf(err))
	}

	return err
}

// classify maps store errors that escaped the operation onto domain kinds.
func (s *service) classify(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *errs.Error
	if errors.As(err, &domainErr) {
		return err
	}
	switch {
	case errors.Is(err, ErrTransient),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return errs.Unavailable("store unavailable", err)
	case errors.Is(err, ErrNoRecord):
		return errs.NotFound("record not found").WithCause(err)
	default:
		return errs.Internal("store failure", err)
	}
}

// timestamp reads the injected clock. Slot timestamps never run backwards
// relative to floor.
func (s *service) timestamp(floor *time.Time) time.Time {
	now := s.now().UTC()
	if floor != nil && now.Before(*floor) {
		return *floor
	}
	return now
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, ErrNoRecord) {
		return errs.NotFoundf(format, args...)
	}
	return err
}
