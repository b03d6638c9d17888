package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// buildRedacting returns a JSON logger writing through the redacting
// encoder into buf.
func buildRedacting(t *testing.T, cfg RedactionConfig) (*zap.Logger, *bytes.Buffer) {
	t.Helper()
	enc, err := NewRedactingEncoder(newEncoder("json"), cfg)
	require.NoError(t, err)
	buf := &bytes.Buffer{}
	core := zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel)
	return zap.New(core), buf
}

func defaultRedaction() RedactionConfig {
	return NewDefaultConfig().Redaction
}

func TestRedactingEncoder_FieldName(t *testing.T) {
	logger, buf := buildRedacting(t, defaultRedaction())
	logger.Info("login", zap.String("api_key", "sk-12345"))

	out := buf.String()
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "sk-12345")
}

func TestRedactingEncoder_PatternInValue(t *testing.T) {
	logger, buf := buildRedacting(t, defaultRedaction())
	logger.Info("request", zap.String("header", "Bearer abc.def.ghi"))

	out := buf.String()
	assert.Contains(t, out, "[REDACTED:pattern]")
	assert.NotContains(t, out, "abc.def.ghi")
}

func TestRedactingEncoder_CaseInsensitiveKeys(t *testing.T) {
	logger, buf := buildRedacting(t, defaultRedaction())
	logger.Info("login", zap.String("API_KEY", "sk-999"))

	assert.NotContains(t, buf.String(), "sk-999")
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	logger, buf := buildRedacting(t, RedactionConfig{Enabled: false})
	logger.Info("login", zap.String("api_key", "sk-12345"))

	assert.Contains(t, buf.String(), "sk-12345")
}

func TestRedactingEncoder_InvalidPattern(t *testing.T) {
	_, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{
		Enabled:  true,
		Patterns: []string{"("},
	})
	assert.Error(t, err)
}

func TestRedactedString(t *testing.T) {
	f := RedactedString("token", "secret-value")
	assert.Equal(t, "[REDACTED:12]", f.String)
}

func TestRedactingEncoder_CloneKeepsRules(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), defaultRedaction())
	require.NoError(t, err)

	clone, ok := enc.Clone().(*RedactingEncoder)
	require.True(t, ok)
	assert.True(t, clone.shouldRedactKey("password"))
}
