package observability

import (
	"context"
	"time"

	"tally/internal/ledger"
	"tally/internal/ratelimit"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedLedger wraps a ledger.Ledger implementation with OpenTelemetry
// tracing and metrics instrumentation. The transaction is traced as one span;
// individual statements inside it are not.
type InstrumentedLedger struct {
	inner    ledger.Ledger
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedLedger creates a ledger wrapper that records trace spans,
// transaction latency histograms, and error counters.
func NewInstrumentedLedger(inner ledger.Ledger) (*InstrumentedLedger, error) {
	tracer := otel.Tracer("tally/ledger")
	meter := otel.Meter("tally/ledger")

	duration, err := meter.Float64Histogram(
		"ledger.transaction.duration",
		metric.WithDescription("Duration of ledger transactions in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"ledger.transaction.errors",
		metric.WithDescription("Number of failed ledger transactions"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedLedger{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (l *InstrumentedLedger) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	l.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		l.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (l *InstrumentedLedger) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	ctx, span := l.tracer.Start(ctx, "ledger.InTx")
	start := time.Now()
	err := l.inner.InTx(ctx, fn)
	l.record(ctx, span, "InTx", start, err)
	return err
}

func (l *InstrumentedLedger) Ping(ctx context.Context) error {
	ctx, span := l.tracer.Start(ctx, "ledger.Ping")
	start := time.Now()
	err := l.inner.Ping(ctx)
	l.record(ctx, span, "Ping", start, err)
	return err
}

func (l *InstrumentedLedger) Close() error {
	return l.inner.Close()
}

// InstrumentedChecker wraps a ratelimit.Checker, counting every decision with
// its outcome and which backend served it. The fallback path shows up here as
// backend="local" without any log scraping.
type InstrumentedChecker struct {
	inner     ratelimit.Checker
	decisions metric.Int64Counter
}

// NewInstrumentedChecker creates a rate-limit checker wrapper that records a
// decision counter per resource class, action, backend, and outcome.
func NewInstrumentedChecker(inner ratelimit.Checker) (*InstrumentedChecker, error) {
	meter := otel.Meter("tally/ratelimit")

	decisions, err := meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Number of rate limit decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedChecker{inner: inner, decisions: decisions}, nil
}

func (c *InstrumentedChecker) Check(ctx context.Context, resourceClass, action string, subjects ratelimit.Subjects) ratelimit.Decision {
	decision := c.inner.Check(ctx, resourceClass, action, subjects)

	c.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource_class", resourceClass),
		attribute.String("action", action),
		attribute.String("backend", string(decision.Backend)),
		attribute.Bool("allowed", decision.Allowed),
	))

	return decision
}
