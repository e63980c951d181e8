package logging

import (
	"context"
	"log/slog"

	"warthog/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldCorrelationID carries the ingest run identifier.
	FieldCorrelationID = "correlation_id"
	// FieldCapturePath is the capture file a log line refers to.
	FieldCapturePath = "capture_path"
	// FieldRelease is the catalog release a log line refers to.
	FieldRelease = "release"
	// FieldMatchID is the derived match identifier.
	FieldMatchID = "match_id"
	// FieldEventType classifies warnings and errors for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step to the operator.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if path, ok := services.CapturePathFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCapturePath, path))
	}
	if release, ok := services.ReleaseFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRelease, release))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
