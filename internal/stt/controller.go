package stt

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-dictate/internal/stt"

// Policy carries the acceptance settings the controller needs per call.
type Policy struct {
	MinConfidence float64
	RetryEnabled  bool
}

// Outcome is the pass the controller settled on.
type Outcome struct {
	Pass      DecodePass
	Attempts  int
	Retried   bool
	RetryKept bool
}

// Controller runs the two-pass decode policy.
type Controller struct {
	logger *slog.Logger
	tracer trace.Tracer
	passes metric.Int64Counter
}

func NewController(logger *slog.Logger) *Controller {
	c := &Controller{
		logger: logger.With(slog.String("component", "decode")),
		tracer: otel.Tracer(instrumentationName),
	}
	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"dictation.decode.passes",
		metric.WithDescription("Recognition engine invocations"),
	)
	if err != nil {
		c.logger.Warn("failed to create decode pass counter", slogError(err))
	} else {
		c.passes = counter
	}
	return c
}

// Decode runs a first pass with req.Options and, when the result is empty,
// below policy.MinConfidence or fragmented, a higher-effort retry. The retry
// wins ties on quality score.
func (c *Controller) Decode(ctx context.Context, handle Handle, req DecodeRequest, policy Policy) Outcome {
	first := c.pass(ctx, handle, req, "first")
	out := Outcome{Pass: first, Attempts: 1}

	needsRetry := first.Text == "" || first.Confidence < policy.MinConfidence || LooksFragmented(first.Text)
	if !policy.RetryEnabled || !needsRetry {
		return out
	}

	retryReq := req
	retryReq.Options = RetryOptions(req.Options)
	retry := c.pass(ctx, handle, retryReq, "retry")
	out.Attempts = 2
	out.Retried = true

	bestScore := QualityScore(first)
	retryScore := QualityScore(retry)
	if retryScore >= bestScore || (first.Text == "" && retry.Text != "") {
		out.Pass = retry
		out.RetryKept = true
	}
	c.logger.Debug("decode retry finished",
		slog.Float64("first_score", bestScore),
		slog.Float64("retry_score", retryScore),
		slog.Bool("retry_kept", out.RetryKept),
	)
	return out
}

func (c *Controller) pass(ctx context.Context, handle Handle, req DecodeRequest, kind string) DecodePass {
	ctx, span := c.tracer.Start(ctx, "stt.decode_pass", trace.WithAttributes(
		attribute.String("pass", kind),
		attribute.Int("beam_size", req.Options.BeamSize),
		attribute.Int("best_of", req.Options.BestOf),
	))
	defer span.End()
	if c.passes != nil {
		c.passes.Add(ctx, 1, metric.WithAttributes(attribute.String("pass", kind)))
	}

	pass, err := RunPass(ctx, handle, req)
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("decode pass failed", slog.String("pass", kind), slogError(err))
		return emptyPass()
	}
	span.SetAttributes(attribute.Float64("confidence", pass.Confidence))
	return pass
}
