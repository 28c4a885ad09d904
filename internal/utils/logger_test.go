package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetRootLogger(zap.New(core))
	t.Cleanup(func() { SetRootLogger(nil) })

	logger := NewLogger("scheduler").With("tenant_id", "t1")
	logger.Info("Request queued", "request_id", "r1")
	logger.Debug("Dispatching")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "scheduler", entries[0].LoggerName)
	assert.Equal(t, "Request queued", entries[0].Message)
	assert.Equal(t, "t1", entries[0].ContextMap()["tenant_id"])
	assert.Equal(t, "r1", entries[0].ContextMap()["request_id"])
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
}

func TestInitLogger(t *testing.T) {
	t.Cleanup(func() { SetRootLogger(nil) })

	logger, err := InitLogger(LoggerConfig{Level: "warn", Format: "json", ServiceName: "gw", PodName: "p0"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = InitLogger(LoggerConfig{Level: "nonsense", Format: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}
