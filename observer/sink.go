package observer

import (
	"context"

	relay "github.com/nevindra/relay"

	relaylog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
)

// NewTraceSink returns a relay.TraceSink that ships every pipeline trace
// event to the OTEL backend as a counter increment and a structured log
// record. Pass it to the pipeline via relay.WithTraceSink.
func NewTraceSink(inst *Instruments) relay.TraceSink {
	return func(ev relay.TraceEvent) {
		ctx := context.Background()

		inst.TraceEvents.Add(ctx, 1, metric.WithAttributes(
			AttrTraceEvent.String(ev.Event),
			AttrEventStatus.String(ev.Status),
			AttrAgentID.String(ev.AgentID),
		))
		if ev.Event == relay.EventPipelineEnd {
			inst.PipelineRuns.Add(ctx, 1, metric.WithAttributes(
				AttrEventStatus.String(ev.Status),
			))
		}

		var rec relaylog.Record
		rec.SetSeverity(relaylog.SeverityInfo)
		rec.SetBody(relaylog.StringValue(ev.Event))
		rec.AddAttributes(
			relaylog.String("trace.event", ev.Event),
			relaylog.String("trace.status", ev.Status),
			relaylog.String("request.id", ev.RequestID),
			relaylog.Int64("task.id", ev.TaskID),
			relaylog.Int64("session.id", ev.SessionID),
			relaylog.String("agent.id", ev.AgentID),
			relaylog.String("pipeline.phase", ev.Phase),
		)
		inst.Logger.Emit(ctx, rec)
	}
}
