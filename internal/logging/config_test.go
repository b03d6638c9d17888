package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, zapcore.InfoLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.True(t, cfg.Output.Stdout)
	assert.Equal(t, "stagehand", cfg.Fields["service"])
}

func TestConfigValidate_BadFormat(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "logfmt"
	assert.Error(t, cfg.Validate())
}

func TestConfigValidate_NoOutputs(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{}
	assert.Error(t, cfg.Validate())
}

func TestConfigValidate_BadSamplingTick(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Tick = 0
	assert.Error(t, cfg.Validate())
}

func TestConfigValidate_NegativeCallerSkip(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Caller.Skip = -1
	assert.Error(t, cfg.Validate())
}

func TestConfigValidate_BadRedactionPattern(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Redaction.Patterns = append(cfg.Redaction.Patterns, "[")
	assert.Error(t, cfg.Validate())
}

func TestConfigValidate_EmptyFieldValue(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Fields["env"] = ""
	assert.Error(t, cfg.Validate())
}
