package middleware

import (
	"context"
	"errors"
	"time"

	"goa.design/checkin/runtime/checkin/model"
	"goa.design/checkin/runtime/checkin/telemetry"
)

type instrumentedClient struct {
	next     model.Client
	provider string
	logger   telemetry.Logger
	metrics  telemetry.Metrics
	tracer   telemetry.Tracer
}

// Instrument returns a middleware that traces every completion and records
// its latency, outcome and token usage under the given provider tag.
func Instrument(provider string, logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) func(model.Client) model.Client {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return func(next model.Client) model.Client {
		if next == nil {
			return nil
		}
		return &instrumentedClient{next: next, provider: provider, logger: logger, metrics: metrics, tracer: tracer}
	}
}

func (c *instrumentedClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	ctx, span := c.tracer.Start(ctx, "checkin.model.complete")
	defer span.End()
	start := time.Now()
	resp, err := c.next.Complete(ctx, req)
	c.metrics.RecordTimer("checkin.model.latency", time.Since(start), "provider", c.provider)
	if err != nil {
		outcome := "error"
		if errors.Is(err, model.ErrRateLimited) {
			outcome = "rate_limited"
		}
		span.RecordError(err)
		c.metrics.IncCounter("checkin.model.calls", 1, "provider", c.provider, "outcome", outcome)
		c.logger.Warn(ctx, "model completion failed", "provider", c.provider, "outcome", outcome, "err", err)
		return nil, err
	}
	c.metrics.IncCounter("checkin.model.calls", 1, "provider", c.provider, "outcome", "ok")
	c.metrics.IncCounter("checkin.model.tokens", float64(resp.Usage.TotalTokens), "provider", c.provider)
	span.AddEvent("checkin.model.usage", "input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)
	return resp, nil
}
