package logger

import (
	"context"

	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"subtrack/pkg/config"
	"subtrack/pkg/trace"
)

var Log *zap.Logger

// NewLogger builds the process logger: JSON in production, console output in
// development. An unknown level falls back to info.
func NewLogger(cfg config.LogConfig) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	Log = l
	return l
}

// WithTrace 从 context 中提取 trace_id（以及 OTel span_id）并添加到 logger
func WithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	var fields []zap.Field
	if traceID := trace.FromContext(ctx); traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	if sc := oteltrace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields, zap.String("span_id", sc.SpanID().String()))
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
