package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lattixhq/lattix"
)

// ObservedProvider wraps a lattix.ModelProvider with OTEL instrumentation.
type ObservedProvider struct {
	inner lattix.ModelProvider
	inst  *Instruments
	model string
}

// WrapProvider returns an instrumented provider that emits traces,
// metrics, and logs for every model call.
func WrapProvider(inner lattix.ModelProvider, model string, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst, model: model}
}

func (o *ObservedProvider) Name() string { return o.inner.Name() }

func (o *ObservedProvider) Chat(ctx context.Context, req lattix.ModelRequest) (lattix.ModelResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		AttrModel.String(o.model),
		AttrProvider.String(o.inner.Name()),
		AttrLabel.String(req.Label),
		AttrConversation.String(req.ConversationID),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Chat(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.inst.ModelRequests.Add(ctx, 1, metric.WithAttributes(
		AttrModel.String(o.model),
		AttrLabel.String(req.Label),
		AttrStatus.String(status),
	))
	o.inst.ModelDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrModel.String(o.model),
		AttrLabel.String(req.Label),
	))
	if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
		o.inst.TokenUsage.Add(ctx, int64(resp.Usage.InputTokens), metric.WithAttributes(
			AttrModel.String(o.model), AttrTokenType.String("input")))
		o.inst.TokenUsage.Add(ctx, int64(resp.Usage.OutputTokens), metric.WithAttributes(
			AttrModel.String(o.model), AttrTokenType.String("output")))
	}

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("model call"))
	rec.AddAttributes(
		otellog.String("llm.model", o.model),
		otellog.String("llm.label", req.Label),
		otellog.String("llm.status", status),
		otellog.Float64("llm.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return resp, err
}

// compile-time check
var _ lattix.ModelProvider = (*ObservedProvider)(nil)
