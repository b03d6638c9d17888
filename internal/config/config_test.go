package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	assert.NoError(t, NewDefaultConfig().Validate())
}

func TestValidate_BadBudget(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Budget.PaidCalls = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_BadSessionMode(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Session.Mode = "maybe"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session.mode")
}

func TestValidate_BadTimeoutMode(t *testing.T) {
	cfg := NewDefaultConfig()
	tool := cfg.Tools["codex"]
	tool.TimeoutMode = "poll"
	cfg.Tools["codex"] = tool
	assert.Error(t, cfg.Validate())
}

func TestValidate_BadEffort(t *testing.T) {
	cfg := NewDefaultConfig()
	tool := cfg.Tools["codex"]
	tool.Effort = "extreme"
	cfg.Tools["codex"] = tool
	assert.Error(t, cfg.Validate())
}

func TestValidate_BadPurposeKey(t *testing.T) {
	cfg := NewDefaultConfig()
	tool := cfg.Tools["codex"]
	tool.PurposeModels = map[string]string{"deploy": "some-model"}
	cfg.Tools["codex"] = tool
	assert.Error(t, cfg.Validate())
}

func TestValidate_BadPurposeEffort(t *testing.T) {
	cfg := NewDefaultConfig()
	tool := cfg.Tools["codex"]
	tool.PurposeEfforts = map[string]string{"impl": "extreme"}
	cfg.Tools["codex"] = tool
	assert.Error(t, cfg.Validate())
}

func TestValidate_PipelineUnknownTool(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Pipelines["bad"] = PipelineConfig{Phase: "x", Stages: []string{"claude_implement"}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
}

func TestValidate_DuplicateLens(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Review.Lenses = append(cfg.Review.Lenses, LensConfig{Name: "security", Tool: "codex"})
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestValidate_FixToolMustExist(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Review.FixTool = "ghost"
	assert.Error(t, cfg.Validate())
}

func TestDuration_RoundTrip(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(out))

	var back Duration
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, d, back)
}

func TestDuration_RejectsNegative(t *testing.T) {
	var d Duration
	assert.Error(t, d.UnmarshalText([]byte("-5s")))
}
