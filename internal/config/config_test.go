package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Driver.SurfaceURL = "https://surface.example.com"
	cfg.AI.Profiles = []AIProfile{
		{
			ID:       "primary",
			Provider: "openai",
			APIKey:   "test-key",
			Model:    "gpt-4o",
		},
	}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.True(t, cfg.Driver.Headless)
	assert.Equal(t, 3000, cfg.Engine.PollIntervalMs)
	assert.Equal(t, 6000, cfg.Engine.MaxContextChars)
	assert.Equal(t, 30, cfg.Engine.MaxSessionDurationMin)
	assert.Equal(t, 500, cfg.Snapshot.IntervalMs)
	assert.Equal(t, 2000, cfg.Snapshot.MinIntervalMs)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name: "no AI profiles",
			mutate: func(c *Config) {
				c.AI.Profiles = nil
			},
			wantErr: "no AI credentials configured",
		},
		{
			name: "profile missing id",
			mutate: func(c *Config) {
				c.AI.Profiles[0].ID = ""
			},
			wantErr: "ID is required",
		},
		{
			name: "profile missing provider",
			mutate: func(c *Config) {
				c.AI.Profiles[0].Provider = ""
			},
			wantErr: "provider is required",
		},
		{
			name: "profile missing api key",
			mutate: func(c *Config) {
				c.AI.Profiles[0].APIKey = ""
			},
			wantErr: "api_key is required",
		},
		{
			name: "unknown provider",
			mutate: func(c *Config) {
				c.AI.Profiles[0].Provider = "gemini"
			},
			wantErr: "invalid provider",
		},
		{
			name: "bad server port",
			mutate: func(c *Config) {
				c.Server.Port = -1
			},
			wantErr: "invalid server port",
		},
		{
			name: "missing surface url",
			mutate: func(c *Config) {
				c.Driver.SurfaceURL = ""
			},
			wantErr: "surface_url is required",
		},
		{
			name: "zero poll interval",
			mutate: func(c *Config) {
				c.Engine.PollIntervalMs = 0
			},
			wantErr: "poll_interval_ms",
		},
		{
			name: "negative session duration",
			mutate: func(c *Config) {
				c.Engine.MaxSessionDurationMin = -5
			},
			wantErr: "max_session_duration_min",
		},
		{
			name: "snapshot min below interval",
			mutate: func(c *Config) {
				c.Snapshot.MinIntervalMs = 100
			},
			wantErr: "min_interval_ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestZeroSessionDurationAllowed(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.MaxSessionDurationMin = 0

	// Zero disables the session duration cap.
	assert.NoError(t, cfg.Validate())
}

func TestString(t *testing.T) {
	cfg := validConfig()
	s := cfg.String()

	assert.True(t, strings.Contains(s, "surface.example.com"))
	assert.True(t, strings.Contains(s, "poll_interval_ms"))
}
