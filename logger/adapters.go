package logger

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

type gocronLogger struct {
	l *zap.Logger
}

// Gocron adapts l to the gocron logger interface.
func Gocron(l *zap.Logger) gocron.Logger {
	return gocronLogger{l: OrNop(l).Named("gocron")}
}

func (l gocronLogger) Debug(msg string, args ...any) {
	l.l.Debug(msg, fields(args)...)
}

func (l gocronLogger) Error(msg string, args ...any) {
	l.l.Error(msg, fields(args)...)
}

func (l gocronLogger) Info(msg string, args ...any) {
	l.l.Info(msg, fields(args)...)
}

func (l gocronLogger) Warn(msg string, args ...any) {
	l.l.Warn(msg, fields(args)...)
}

type watermillLogger struct {
	l *zap.Logger
}

// Watermill adapts l to watermill.LoggerAdapter. Trace is logged at debug.
func Watermill(l *zap.Logger) watermill.LoggerAdapter {
	return watermillLogger{l: OrNop(l).Named("watermill")}
}

func (l watermillLogger) Error(msg string, err error, f watermill.LogFields) {
	l.l.Error(msg, append(logFields(f), zap.Error(err))...)
}

func (l watermillLogger) Info(msg string, f watermill.LogFields) {
	l.l.Info(msg, logFields(f)...)
}

func (l watermillLogger) Debug(msg string, f watermill.LogFields) {
	l.l.Debug(msg, logFields(f)...)
}

func (l watermillLogger) Trace(msg string, f watermill.LogFields) {
	l.l.Debug(msg, logFields(f)...)
}

func (l watermillLogger) With(f watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{l: l.l.With(logFields(f)...)}
}

func logFields(f watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}
