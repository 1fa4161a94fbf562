package executor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/task"
)

const tracerName = "github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/executor"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// startBatchSpan starts a span covering one ExecuteBatch call.
func startBatchSpan(ctx context.Context, batchID string, size, limit int) (context.Context, trace.Span) {
	ctx, span := tracer().Start(ctx, "executor.batch")
	span.SetAttributes(
		attribute.String("batch.id", batchID),
		attribute.Int("batch.size", size),
		attribute.Int("batch.max_parallel", limit),
	)
	return ctx, span
}

// endBatchSpan records the aggregate counts and ends the span.
func endBatchSpan(span trace.Span, result *task.BatchResult) {
	span.SetAttributes(
		attribute.Int("batch.successful", len(result.Successful)),
		attribute.Int("batch.failed", len(result.Failed)),
		attribute.Int64("batch.duration_ms", result.Duration.Milliseconds()),
	)
	if result.AllFailed() {
		span.SetStatus(codes.Error, "all steps failed")
	}
	span.End()
}

// startStepSpan starts a child span for one step.
func startStepSpan(ctx context.Context, step task.Step) (context.Context, trace.Span) {
	ctx, span := tracer().Start(ctx, "executor.step")
	span.SetAttributes(
		attribute.String("step.id", step.StepID),
		attribute.String("step.tool", step.Tool),
	)
	return ctx, span
}

// endStepSpan ends the step span with its outcome.
func endStepSpan(span trace.Span, result task.StepResult) {
	span.SetAttributes(attribute.String("step.status", string(result.Status)))
	if !result.Succeeded() {
		span.SetStatus(codes.Error, Truncate(result.Error, 200))
	}
	span.End()
}
