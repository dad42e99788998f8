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

// WrapHandler returns an instrumented relay.ToolHandler. Wrap handlers
// before registering them so every execution emits a span, a counter
// increment, and a structured log record.
func WrapHandler(name string, inner relay.ToolHandler, inst *Instruments) relay.ToolHandler {
	return func(ctx context.Context, call *relay.ToolCallContext, args map[string]any) (map[string]any, error) {
		ctx, span := inst.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(
			AttrToolName.String(name),
		))
		defer span.End()
		start := time.Now()

		result, err := inner(ctx, call, args)

		durationMs := float64(time.Since(start).Milliseconds())
		status := "ok"
		if s, ok := result["status"].(string); ok && s != "" && s != "ok" {
			status = s
		}
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		span.SetAttributes(
			AttrToolStatus.String(status),
			attribute.Int("tool.result_keys", len(result)),
		)

		inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
			AttrToolName.String(name),
			attribute.String("status", status),
		))
		inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
			AttrToolName.String(name),
		))

		// Structured log
		var rec relaylog.Record
		rec.SetSeverity(relaylog.SeverityInfo)
		rec.SetBody(relaylog.StringValue("tool executed"))
		rec.AddAttributes(
			relaylog.String("tool.name", name),
			relaylog.String("tool.status", status),
			relaylog.Float64("tool.duration_ms", durationMs),
		)
		if call != nil {
			rec.AddAttributes(relaylog.String("request.id", call.RequestID))
		}
		inst.Logger.Emit(ctx, rec)

		return result, err
	}
}
