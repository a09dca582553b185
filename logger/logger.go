package logger

import (
	"fmt"
	"strings"

	"github.com/Deepreo/jobscheduler/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Standard field names used across the scheduler.
const (
	FieldJobID          = "job_id"
	FieldNotificationID = "notification_id"
	FieldState          = "state"
	FieldComponent      = "component"
	FieldCorrelationID  = "correlation_id"
	FieldCount          = "count"
	FieldTopic          = "topic"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func DefaultConfig() Config {
	return Config{Level: "info", Format: FormatJSON}
}

func (c Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	switch strings.ToLower(c.Format) {
	case FormatJSON, FormatConsole:
		return nil
	default:
		return errors.Newf("invalid log format %q", c.Format)
	}
}

// New builds a zap logger for cfg. JSON uses the production encoder, console
// the development one.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse log level")
	}

	var zc zap.Config
	if strings.EqualFold(cfg.Format, FormatConsole) {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	l, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build logger")
	}
	return l, nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// fields turns alternating key/value args into zap fields.
func fields(args []any) []zap.Field {
	if len(args)%2 != 0 {
		return []zap.Field{zap.Any("data", args)}
	}

	m := len(args) / 2
	out := make([]zap.Field, m)
	for i, j := 0, 0; i < m; i++ {
		out[i] = zap.Any(fmt.Sprintf("%v", args[j]), args[j+1])
		j += 2
	}
	return out
}
