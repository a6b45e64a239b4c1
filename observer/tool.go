package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lattixhq/lattix"
)

// WrapTool returns a copy of the tool whose Execute emits a span, counters,
// and a duration histogram. Register the wrapped tool in place of the
// original.
func WrapTool(t lattix.Tool, inst *Instruments) lattix.Tool {
	inner := t.Execute
	t.Execute = func(ctx context.Context, params map[string]any, tc *lattix.ToolContext) lattix.Result {
		ctx, span := inst.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(
			AttrToolName.String(t.Name),
			AttrRepository.String(tc.ActiveRepositoryID()),
		))
		defer span.End()
		start := time.Now()

		res := inner(ctx, params, tc)

		status := "ok"
		if !res.OK {
			status = "tool_error"
		}
		span.SetAttributes(AttrToolStatus.String(status))
		inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
			AttrToolName.String(t.Name),
			AttrStatus.String(status),
		))
		inst.ToolDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(AttrToolName.String(t.Name)))
		return res
	}
	return t
}
