// Package observer defines logging and metrics hooks for sandbox execution.
package observer

import (
	"context"

	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
)

// MetricsRecorder records sandbox metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, language string, ok bool, elapsedMs int64)
	ObserveRun(ctx context.Context, language string, outcome string, elapsedMs int64, memoryKB int64)
}

// NoopMetricsRecorder drops every observation.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveCompile(context.Context, string, bool, int64) {}

func (NoopMetricsRecorder) ObserveRun(context.Context, string, string, int64, int64) {}

// LogRecorder writes observations to the debug log.
type LogRecorder struct{}

func (LogRecorder) ObserveCompile(ctx context.Context, language string, ok bool, elapsedMs int64) {
	logger.Debug(ctx, "sandbox compile",
		zap.String("language", language),
		zap.Bool("ok", ok),
		zap.Int64("elapsed_ms", elapsedMs),
	)
}

func (LogRecorder) ObserveRun(ctx context.Context, language string, outcome string, elapsedMs int64, memoryKB int64) {
	logger.Debug(ctx, "sandbox run",
		zap.String("language", language),
		zap.String("outcome", outcome),
		zap.Int64("elapsed_ms", elapsedMs),
		zap.Int64("memory_kb", memoryKB),
	)
}
