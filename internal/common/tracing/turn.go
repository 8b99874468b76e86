package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const turnTracerName = "arena-orchestrator"

func turnTracer() trace.Tracer {
	return Tracer(turnTracerName)
}

// TraceTurnExecute creates a span covering one full orchestrated turn.
func TraceTurnExecute(ctx context.Context, groupID, turnID string, chainDepth int) (context.Context, trace.Span) {
	ctx, span := turnTracer().Start(ctx, "turn.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("group_id", groupID),
		attribute.String("turn_id", turnID),
		attribute.Int("chain_depth", chainDepth),
	)
	return ctx, span
}

// TraceAgentInvoke creates a child span for a single agent invocation.
// Mode is "must_reply" or "may_reply".
func TraceAgentInvoke(ctx context.Context, agentID, turnID, mode string) (context.Context, trace.Span) {
	ctx, span := turnTracer().Start(ctx, "agent.invoke",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("agent_id", agentID),
		attribute.String("turn_id", turnID),
		attribute.String("mode", mode),
	)
	return ctx, span
}

// TraceInvokeResult records the outcome of an agent invocation on its span.
func TraceInvokeResult(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TraceContextBuild creates a span for invocation-record assembly.
func TraceContextBuild(ctx context.Context, groupID, agentID string) (context.Context, trace.Span) {
	ctx, span := turnTracer().Start(ctx, "context.build",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("group_id", groupID),
		attribute.String("agent_id", agentID),
	)
	return ctx, span
}
