package operations

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"edustat/internal/infrastructure"
)

// startTaskSpan opens the span covering a whole task
func startTaskSpan(ctx context.Context, task *TaskState) (context.Context, trace.Span) {
	return infrastructure.StartSpan(ctx, fmt.Sprintf("task.%s", task.Request.Kind),
		attribute.String("task.id", task.ID),
		attribute.String("task.kind", string(task.Request.Kind)),
		attribute.String("task.batch_code", task.Request.BatchCode),
		attribute.String("task.school_id", task.Request.SchoolID),
		attribute.String("trace_id", task.TraceID),
	)
}

// startStageSpan opens the span of one stage attempt
func startStageSpan(ctx context.Context, task *TaskState, stageID string, attempt int) (context.Context, trace.Span) {
	return infrastructure.StartSpan(ctx, fmt.Sprintf("task.stage.%s", stageID),
		attribute.String("task.id", task.ID),
		attribute.String("stage.id", stageID),
		attribute.Int("stage.attempt", attempt),
	)
}

// endSpan records the outcome and ends the span
func endSpan(span trace.Span, err error) {
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case IsCancellation(err):
		span.SetAttributes(attribute.Bool("cancelled", true))
		span.SetStatus(codes.Error, "cancelled")
	default:
		span.RecordError(err)
		span.SetAttributes(attribute.String("error.type", string(GetErrorType(err))))
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
