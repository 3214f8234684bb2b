package observability

import (
	"os"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	base *zap.Logger
}

func NewLogger() *Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.Lock(os.Stdout),
		zap.InfoLevel,
	)

	return NewLoggerWithCore(core)
}

// NewLoggerWithCore lets callers route entries to a custom sink, e.g. zaptest/observer.
func NewLoggerWithCore(core zapcore.Core) *Logger {
	return &Logger{base: zap.New(core)}
}

func (l *Logger) Info(message string, fields map[string]any) {
	l.base.Info(message, toZapFields(fields)...)
}

func (l *Logger) Warn(message string, fields map[string]any) {
	l.base.Warn(message, toZapFields(fields)...)
}

func (l *Logger) Error(message string, fields map[string]any) {
	l.base.Error(message, toZapFields(fields)...)
}

func (l *Logger) Sync() error {
	return l.base.Sync()
}

func toZapFields(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}
