package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if taskID := TaskIDFromContext(ctx); taskID != "" {
		fields = append(fields, zap.String("task.id", taskID))
	}
	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("run.id", runID))
	}
	if stageID := StageIDFromContext(ctx); stageID != "" {
		fields = append(fields, zap.String("stage.id", stageID))
	}
	if lens := LensFromContext(ctx); lens != "" {
		fields = append(fields, zap.String("lens", lens))
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

type taskCtxKey struct{}
type runCtxKey struct{}
type stageCtxKey struct{}
type lensCtxKey struct{}
type requestCtxKey struct{}

// WithTaskID attaches the task id to the context.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskCtxKey{}, id)
}

// TaskIDFromContext returns the task id or "".
func TaskIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(taskCtxKey{}).(string)
	return id
}

// WithRunID attaches the run id to the context.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, id)
}

// RunIDFromContext returns the run id or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runCtxKey{}).(string)
	return id
}

// WithStageID attaches the current stage id to the context.
func WithStageID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, stageCtxKey{}, id)
}

// StageIDFromContext returns the stage id or "".
func StageIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(stageCtxKey{}).(string)
	return id
}

// WithLens attaches the review lens name to the context.
func WithLens(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, lensCtxKey{}, name)
}

// LensFromContext returns the lens name or "".
func LensFromContext(ctx context.Context) string {
	name, _ := ctx.Value(lensCtxKey{}).(string)
	return name
}

// WithRequestID attaches an HTTP request id to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request id or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}
