package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero height",
			mutate:  func(c *Config) { c.Panel.Height = 0 },
			wantErr: "panel.height",
		},
		{
			name:    "negative height",
			mutate:  func(c *Config) { c.Panel.Height = -40 },
			wantErr: "panel.height",
		},
		{
			name:    "bad anchor",
			mutate:  func(c *Config) { c.Panel.Anchor = "left" },
			wantErr: "panel.anchor",
		},
		{
			name:    "zero font size",
			mutate:  func(c *Config) { c.Font.Size = 0 },
			wantErr: "font.size",
		},
		{
			name:    "negative coalesce window",
			mutate:  func(c *Config) { c.Telemetry.CoalesceWindowMs = -1 },
			wantErr: "coalesce_window_ms",
		},
		{
			name:    "negative reconnect budget",
			mutate:  func(c *Config) { c.Control.MaxReconnects = -1 },
			wantErr: "max_reconnects",
		},
		{
			name:   "bottom anchor is valid",
			mutate: func(c *Config) { c.Panel.Anchor = "bottom" },
		},
		{
			name:   "zero reconnects means unlimited",
			mutate: func(c *Config) { c.Control.MaxReconnects = 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig
			tt.mutate(&cfg)
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

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledge.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[panel]
height = 32
anchor = "bottom"
background = "#000000"

[font]
size = 12.5

[control]
max_reconnects = 3
`), 0o644))

	SetConfigPath(path)
	defer SetConfigPath("")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 32, cfg.Panel.Height)
	assert.Equal(t, "bottom", cfg.Panel.Anchor)
	assert.Equal(t, "#000000", cfg.Panel.Background)
	assert.Equal(t, 12.5, cfg.Font.Size)
	assert.Equal(t, 3, cfg.Control.MaxReconnects)

	// Unset keys keep their defaults.
	assert.Equal(t, DefaultConfig.Panel.ClockFormat, cfg.Panel.ClockFormat)
	assert.Equal(t, DefaultConfig.Telemetry.CoalesceWindowMs, cfg.Telemetry.CoalesceWindowMs)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledge.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[panel]
height = -1
`), 0o644))

	SetConfigPath(path)
	defer SetConfigPath("")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panel.height")
}
