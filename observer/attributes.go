package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for pipeline observability spans and metrics.
var (
	AttrProvider = attribute.Key("llm.provider")
	AttrModel    = attribute.Key("llm.model")

	AttrToolName   = attribute.Key("tool.name")
	AttrToolStatus = attribute.Key("tool.status")

	AttrAgentID     = attribute.Key("agent.id")
	AttrPhase       = attribute.Key("pipeline.phase")
	AttrRequestID   = attribute.Key("request.id")
	AttrTraceEvent  = attribute.Key("trace.event")
	AttrEventStatus = attribute.Key("trace.status")
)
