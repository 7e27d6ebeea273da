package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerProvider_DisabledYieldsNopCore(t *testing.T) {
	lp, err := NewLoggerProvider(context.Background(), Config{}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, lp.IsEnabled())
	core := lp.ZapCore(zapcore.InfoLevel)
	assert.False(t, core.Enabled(zapcore.ErrorLevel))
	assert.NoError(t, lp.Shutdown(context.Background()))

	var missing *LoggerProvider
	assert.False(t, missing.IsEnabled())
}

func TestLevelFilterCore(t *testing.T) {
	inner, recorded := observer.New(zapcore.DebugLevel)
	core := &levelFilterCore{Core: inner, minLevel: zapcore.WarnLevel}
	logger := zap.New(core).With(zap.Int64("application_id", 5))

	logger.Info("dropped")
	logger.Warn("kept")

	require.Equal(t, 1, recorded.Len())
	entry := recorded.All()[0]
	assert.Equal(t, "kept", entry.Message)
	assert.Equal(t, int64(5), entry.ContextMap()["application_id"])
}
