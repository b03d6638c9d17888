package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_ValidConfig(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestNewLogger_NoOutputs(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Stdout = false
	cfg.Output.OTEL = false
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestLogger_ContextFieldsAttached(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithTaskID(context.Background(), "task-9")
	ctx = WithStageID(ctx, "codex_verify")
	tl.Info(ctx, "stage started")

	tl.AssertField(t, "stage started", "task.id", "task-9")
	tl.AssertField(t, "stage started", "stage.id", "codex_verify")
}

func TestLogger_With(t *testing.T) {
	tl := NewTestLogger()
	child := tl.With(zap.String("tool", "gemini"))
	child.Info(context.Background(), "invoked")

	entries := tl.FilterMessage("invoked").All()
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Context, 1)
	assert.Equal(t, "tool", entries[0].Context[0].Key)
}

func TestLogger_Named(t *testing.T) {
	tl := NewTestLogger()
	tl.Named("review").Info(context.Background(), "merged")

	entries := tl.FilterMessage("merged").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "review", entries[0].LoggerName)
}

func TestLogger_TraceGated(t *testing.T) {
	tl := NewTestLogger()
	tl.Trace(context.Background(), "argv dump")
	tl.AssertLogged(t, TraceLevel, "argv dump")
}

func TestNewNop_Discards(t *testing.T) {
	logger := NewNop()
	// Must not panic or emit anywhere.
	logger.Error(context.Background(), "swallowed")
	assert.NoError(t, logger.Sync())
}

func TestLevelFromString(t *testing.T) {
	l, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, l)

	l, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, l)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}
