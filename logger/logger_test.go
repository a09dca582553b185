package logger

import (
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, Config{Level: "debug", Format: "console"}.Validate())
	assert.Error(t, Config{Level: "loud", Format: "json"}.Validate())
	assert.Error(t, Config{Level: "info", Format: "xml"}.Validate())
}

func TestNew(t *testing.T) {
	l, err := New(Config{Level: "warn", Format: FormatJSON})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	_, err = New(Config{Level: "nope"})
	assert.Error(t, err)
}

func TestFields(t *testing.T) {
	out := fields([]any{"a", 1, "b", "two"})
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Key)
	assert.Equal(t, "b", out[1].Key)

	odd := fields([]any{"a"})
	require.Len(t, odd, 1)
	assert.Equal(t, "data", odd[0].Key)
}

func TestAdapters(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	t.Run("gocron", func(t *testing.T) {
		Gocron(base).Warn("slow job", "job", "tick")
		entries := logs.FilterMessage("slow job").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "gocron", entries[0].LoggerName)
		assert.Equal(t, "tick", entries[0].ContextMap()["job"])
	})

	t.Run("watermill", func(t *testing.T) {
		wl := Watermill(base).With(watermill.LogFields{"topic": "job.lifecycle"})
		wl.Error("publish failed", errors.New("boom"), watermill.LogFields{"attempt": 2})

		entries := logs.FilterMessage("publish failed").All()
		require.Len(t, entries, 1)
		ctx := entries[0].ContextMap()
		assert.Equal(t, "job.lifecycle", ctx["topic"])
		assert.Equal(t, "boom", ctx["error"])
		assert.EqualValues(t, 2, ctx["attempt"])
	})

	t.Run("nil logger", func(t *testing.T) {
		assert.NotPanics(t, func() {
			Gocron(nil).Info("x")
			Watermill(nil).Trace("x", nil)
		})
	})
}
