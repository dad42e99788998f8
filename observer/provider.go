package observer

import (
	"context"
	"time"

	relay "github.com/nevindra/relay"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	relaylog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedProvider wraps a relay.ProviderAdapter with OTEL instrumentation.
type ObservedProvider struct {
	inner relay.ProviderAdapter
	inst  *Instruments
}

// WrapProvider returns an instrumented adapter that emits traces, metrics,
// and logs per generation attempt. Register the wrapped adapter into the
// router in place of the raw one.
func WrapProvider(inner relay.ProviderAdapter, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst}
}

func (o *ObservedProvider) Name() string { return o.inner.Name() }

func (o *ObservedProvider) Health() bool { return o.inner.Health() }

func (o *ObservedProvider) Generate(ctx context.Context, req relay.ProviderRequest) (relay.ProviderResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "provider.generate", trace.WithAttributes(
		AttrProvider.String(o.inner.Name()),
		AttrModel.String(req.Model),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Generate(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(attribute.Int("provider.output_length", len(resp.OutputText)))

	o.inst.ProviderAttempts.Add(ctx, 1, metric.WithAttributes(
		AttrProvider.String(o.inner.Name()),
		AttrModel.String(req.Model),
		attribute.String("status", status),
	))
	o.inst.ProviderDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrProvider.String(o.inner.Name()),
		AttrModel.String(req.Model),
	))

	// Structured log
	var rec relaylog.Record
	rec.SetSeverity(relaylog.SeverityInfo)
	rec.SetBody(relaylog.StringValue("provider call completed"))
	rec.AddAttributes(
		relaylog.String("llm.provider", o.inner.Name()),
		relaylog.String("llm.model", req.Model),
		relaylog.Int("provider.output_length", len(resp.OutputText)),
		relaylog.Float64("provider.duration_ms", durationMs),
		relaylog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)

	return resp, err
}

var _ relay.ProviderAdapter = (*ObservedProvider)(nil)
