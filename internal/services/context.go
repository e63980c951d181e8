package services

import "context"

type contextKey string

const (
	runIDKey       contextKey = "run_id"
	stageKey       contextKey = "stage"
	capturePathKey contextKey = "capture_path"
	releaseKey     contextKey = "release"
)

// WithRunID annotates context with the ingest run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the ingest run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stageKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithCapturePath annotates context with the capture file being processed.
func WithCapturePath(ctx context.Context, path string) context.Context {
	if path == "" {
		return ctx
	}
	return context.WithValue(ctx, capturePathKey, path)
}

// CapturePathFromContext returns the capture path if present.
func CapturePathFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(capturePathKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRelease annotates context with the catalog release being fetched.
func WithRelease(ctx context.Context, release string) context.Context {
	if release == "" {
		return ctx
	}
	return context.WithValue(ctx, releaseKey, release)
}

// ReleaseFromContext returns the catalog release if present.
func ReleaseFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(releaseKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
