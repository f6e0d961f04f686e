package identity

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "finitefield.org/hanko-signin/internal/signin/identity"

var tracer = otel.Tracer(instrumentationName)

type tracedProvider struct {
	next     Provider
	latency  metric.Float64Histogram
	failures metric.Int64Counter
}

// Traced wraps p so that every provider round-trip is recorded as a client
// span, with its latency and failures reported to the global meter provider.
func Traced(p Provider) Provider {
	return TracedWithMeter(p, otel.GetMeterProvider().Meter(instrumentationName))
}

// TracedWithMeter is Traced with an explicit meter.
func TracedWithMeter(p Provider, meter metric.Meter) Provider {
	if p == nil {
		panic("identity: provider is required")
	}
	if _, ok := p.(*tracedProvider); ok {
		return p
	}
	t := &tracedProvider{next: p}
	// Instruments stay nil when registration fails.
	t.latency, _ = meter.Float64Histogram(
		"identity.call.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds of identity provider calls"),
	)
	t.failures, _ = meter.Int64Counter(
		"identity.call.failures",
		metric.WithDescription("Count of identity provider calls that returned an error"),
	)
	return t
}

func (t *tracedProvider) SignInMethods(ctx context.Context, email string) ([]string, error) {
	ctx, span := startSpan(ctx, "identity.SignInMethods")
	defer span.End()
	start := time.Now()
	methods, err := t.next.SignInMethods(ctx, email)
	span.SetAttributes(attribute.Int("identity.sign_in_methods", len(methods)))
	return methods, t.finish(ctx, span, "sign_in_methods", start, err)
}

func (t *tracedProvider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	ctx, span := startSpan(ctx, "identity.SignIn")
	defer span.End()
	start := time.Now()
	sess, err := t.next.SignIn(ctx, email, password)
	return sess, t.finish(ctx, span, "sign_in", start, err)
}

func (t *tracedProvider) CreateAccount(ctx context.Context, email, password string) (*Session, error) {
	ctx, span := startSpan(ctx, "identity.CreateAccount")
	defer span.End()
	start := time.Now()
	sess, err := t.next.CreateAccount(ctx, email, password)
	return sess, t.finish(ctx, span, "create_account", start, err)
}

func (t *tracedProvider) UpdateDisplayName(ctx context.Context, sess *Session, name string) (*Session, error) {
	ctx, span := startSpan(ctx, "identity.UpdateDisplayName")
	defer span.End()
	start := time.Now()
	updated, err := t.next.UpdateDisplayName(ctx, sess, name)
	return updated, t.finish(ctx, span, "update_display_name", start, err)
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
}

func (t *tracedProvider) finish(ctx context.Context, span trace.Span, op string, start time.Time, err error) error {
	opAttr := attribute.String("identity.operation", op)
	if t.latency != nil {
		elapsed := float64(time.Since(start)) / float64(time.Millisecond)
		t.latency.Record(ctx, elapsed, metric.WithAttributes(opAttr))
	}

	if err == nil {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	kind := KindOf(err)
	kindAttr := attribute.String("identity.error_kind", string(kind))
	span.SetAttributes(kindAttr)
	if t.failures != nil {
		t.failures.Add(ctx, 1, metric.WithAttributes(opAttr, kindAttr))
	}
	if kind == KindUnexpected {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
