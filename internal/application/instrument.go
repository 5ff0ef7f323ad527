package application

import (
	"context"
	"time"

	"github.com/Zhima-Mochi/diner/internal/domain/apperr"
	"github.com/Zhima-Mochi/diner/internal/observability"
	"github.com/Zhima-Mochi/diner/internal/observability/logctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const SpanPrefix = "UC."

// Instrumentation holds the RED instruments shared by the use cases of one service.
type Instrumentation struct {
	tracer       observability.Tracer
	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
}

func NewInstrumentation(service string, tel observability.Observability) Instrumentation {
	tel = observability.Or(tel)
	return Instrumentation{
		tracer:       tel.Tracer(),
		log:          tel.Logger().With(observability.F("service", service)),
		reqCounter:   tel.Metrics().Counter(observability.MUsecaseRequests),
		durHistogram: tel.Metrics().Histogram(observability.MUsecaseDuration),
	}
}

// Logger returns the request-scoped logger from ctx, falling back to the service logger.
func (i Instrumentation) Logger(ctx context.Context) observability.Logger {
	return logctx.FromOr(ctx, i.log)
}

// Run tracks one use case execution. Set the status with Fail or Status, then call End from a defer.
type Run struct {
	ctx        context.Context
	span       trace.Span
	useCase    string
	start      time.Time
	outcome    string
	statusText string
	fields     []observability.Field
	inst       Instrumentation
}

func (i Instrumentation) Start(ctx context.Context, useCase, spanName string, attrs ...attribute.KeyValue) (context.Context, *Run) {
	attrs = append([]attribute.KeyValue{attribute.String("use_case", useCase)}, attrs...)
	ctx, span := i.tracer.Start(ctx, SpanPrefix+spanName, attrs...)
	return ctx, &Run{
		ctx:        ctx,
		span:       span,
		useCase:    useCase,
		start:      time.Now(),
		outcome:    "success",
		statusText: "OK",
		inst:       i,
	}
}

func (r *Run) Span() trace.Span { return r.span }

func (r *Run) Logger() observability.Logger {
	return r.inst.Logger(r.ctx).With(observability.F("use_case", r.useCase))
}

// Fail marks the run as failed with an upper-snake status such as "CART_NOT_FOUND".
func (r *Run) Fail(statusText string) {
	r.outcome, r.statusText = "error", statusText
}

// Status overrides the status text without changing the outcome.
func (r *Run) Status(statusText string) {
	r.statusText = statusText
}

// With adds fields to the use_case_done line.
func (r *Run) With(fields ...observability.Field) {
	r.fields = append(r.fields, fields...)
}

// End closes the span, records metrics and writes the use_case_done line.
func (r *Run) End(err error) {
	lat := time.Since(r.start).Seconds()
	if err != nil && r.outcome == "success" {
		r.outcome = "error"
		if r.statusText == "OK" {
			r.statusText = "UNEXPECTED_ERROR"
		}
	}

	if r.span != nil {
		if err != nil {
			r.span.RecordError(err)
			r.span.SetStatus(codes.Error, r.statusText)
		} else {
			r.span.SetStatus(codes.Ok, r.statusText)
		}
		r.span.End()
	}

	r.inst.reqCounter.Add(1,
		observability.L("use_case", r.useCase),
		observability.L("outcome", r.outcome),
	)
	r.inst.durHistogram.Observe(lat,
		observability.L("use_case", r.useCase),
	)

	fields := []observability.Field{
		observability.F("outcome", r.outcome),
		observability.F("status", r.statusText),
		observability.F("latency_seconds", lat),
	}
	if sc := trace.SpanContextFromContext(r.ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	fields = append(fields, r.fields...)

	logger := r.Logger()
	if err == nil {
		logger.Info("use_case_done", fields...)
		return
	}
	fields = append(fields,
		observability.F("error", err.Error()),
		observability.F("error_kind", apperr.Kind(err)),
	)
	switch apperr.Kind(err) {
	case "upstream_error", "internal":
		logger.Error("use_case_done", fields...)
	default:
		logger.Warn("use_case_done", fields...)
	}
}
