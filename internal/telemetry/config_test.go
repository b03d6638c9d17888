package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/stagehand/internal/config"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, "grpc", cfg.Protocol)
	assert.Equal(t, "stagehand", cfg.ServiceName)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.Sampling.Rate)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 15*time.Second, cfg.Metrics.ExportInterval.Duration())
	assert.Equal(t, 5*time.Second, cfg.Shutdown.Timeout.Duration())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "disabled skips validation",
			mutate: func(c *Config) { c.Enabled = false; c.Endpoint = "" },
		},
		{
			name:   "valid enabled config",
			mutate: func(c *Config) { c.Enabled = true },
		},
		{
			name:    "missing endpoint",
			mutate:  func(c *Config) { c.Enabled = true; c.Endpoint = "" },
			wantErr: "endpoint is required",
		},
		{
			name:    "missing service name",
			mutate:  func(c *Config) { c.Enabled = true; c.ServiceName = "" },
			wantErr: "service_name is required",
		},
		{
			name:    "missing service version",
			mutate:  func(c *Config) { c.Enabled = true; c.ServiceVersion = "" },
			wantErr: "service_version is required",
		},
		{
			name:    "bad protocol",
			mutate:  func(c *Config) { c.Enabled = true; c.Protocol = "udp" },
			wantErr: "protocol must be",
		},
		{
			name:    "insecure remote endpoint rejected",
			mutate:  func(c *Config) { c.Enabled = true; c.Endpoint = "collector.example.com:4317" },
			wantErr: "insecure connections to remote endpoints",
		},
		{
			name: "secure remote endpoint allowed",
			mutate: func(c *Config) {
				c.Enabled = true
				c.Endpoint = "collector.example.com:4317"
				c.Insecure = false
			},
		},
		{
			name:    "sampling rate above one",
			mutate:  func(c *Config) { c.Enabled = true; c.Sampling.Rate = 1.5 },
			wantErr: "sampling.rate",
		},
		{
			name:    "sampling rate negative",
			mutate:  func(c *Config) { c.Enabled = true; c.Sampling.Rate = -0.1 },
			wantErr: "sampling.rate",
		},
		{
			name: "zero export interval with metrics enabled",
			mutate: func(c *Config) {
				c.Enabled = true
				c.Metrics.ExportInterval = config.Duration(0)
			},
			wantErr: "export_interval",
		},
		{
			name: "zero shutdown timeout",
			mutate: func(c *Config) {
				c.Enabled = true
				c.Shutdown.Timeout = config.Duration(0)
			},
			wantErr: "shutdown.timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_IsLocalEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		local    bool
	}{
		{"localhost:4317", true},
		{"127.0.0.1:4317", true},
		{"127.1.2.3:4317", true},
		{"[::1]:4317", true},
		{"::1", true},
		{"collector.example.com:4317", false},
		{"10.0.0.5:4317", false},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			cfg := &Config{Endpoint: tt.endpoint}
			assert.Equal(t, tt.local, cfg.isLocalEndpoint())
		})
	}
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "host:4317", stripScheme("http://host:4317"))
	assert.Equal(t, "host:4318", stripScheme("https://host:4318"))
	assert.Equal(t, "host:4317", stripScheme("host:4317"))
}
