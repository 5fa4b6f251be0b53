// Package config handles configuration management using Viper
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/veldt/ledge/internal/logger"
)

// Config represents the panel configuration
type Config struct {
	Panel     PanelConfig     `mapstructure:"panel"`
	Font      FontConfig      `mapstructure:"font"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Control   ControlConfig   `mapstructure:"control"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// PanelConfig contains surface placement and appearance settings
type PanelConfig struct {
	Height      int    `mapstructure:"height"`       // Panel height in logical units
	Anchor      string `mapstructure:"anchor"`       // "top" or "bottom"
	ClockFormat string `mapstructure:"clock_format"` // Go time layout for the clock
	Background  string `mapstructure:"background"`   // #rrggbb
	Foreground  string `mapstructure:"foreground"`   // #rrggbb
}

// FontConfig locates the single UI font
type FontConfig struct {
	Path string  `mapstructure:"path"` // Path to a TTF/OTF file
	Size float64 `mapstructure:"size"` // Size in logical pixels
}

// TelemetryConfig tunes the hardware event watcher
type TelemetryConfig struct {
	CoalesceWindowMs int `mapstructure:"coalesce_window_ms"` // Burst collapse window
}

// ControlConfig contains control-channel settings
type ControlConfig struct {
	SocketPath    string `mapstructure:"socket_path"` // Compositor control socket; empty = $XDG_RUNTIME_DIR discovery
	MaxReconnects int    `mapstructure:"max_reconnects"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	LogLevel string `mapstructure:"log_level"` // Override LOG_LEVEL env var
}

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Panel: PanelConfig{
			Height:      40,
			Anchor:      "top",
			ClockFormat: "15:04",
			Background:  "#181818",
			Foreground:  "#e8e8e8",
		},
		Font: FontConfig{
			Path: "/usr/share/fonts/TTF/DejaVuSans.ttf",
			Size: 14,
		},
		Telemetry: TelemetryConfig{
			CoalesceWindowMs: 100,
		},
		Control: ControlConfig{
			SocketPath:    "",
			MaxReconnects: 8,
		},
		Logging: LoggingConfig{
			LogLevel: "",
		},
	}

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Load reads the configuration, falling back to defaults when no file
// is present.
func Load() (*Config, error) {
	viper.SetConfigName("ledge")
	viper.SetConfigType("toml")

	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			viper.AddConfigPath(filepath.Join(xdg, "ledge"))
		} else if home := os.Getenv("HOME"); home != "" {
			viper.AddConfigPath(filepath.Join(home, ".config", "ledge"))
		}
		viper.AddConfigPath("/etc/ledge")
	}

	viper.SetDefault("panel.height", DefaultConfig.Panel.Height)
	viper.SetDefault("panel.anchor", DefaultConfig.Panel.Anchor)
	viper.SetDefault("panel.clock_format", DefaultConfig.Panel.ClockFormat)
	viper.SetDefault("panel.background", DefaultConfig.Panel.Background)
	viper.SetDefault("panel.foreground", DefaultConfig.Panel.Foreground)
	viper.SetDefault("font.path", DefaultConfig.Font.Path)
	viper.SetDefault("font.size", DefaultConfig.Font.Size)
	viper.SetDefault("telemetry.coalesce_window_ms", DefaultConfig.Telemetry.CoalesceWindowMs)
	viper.SetDefault("control.socket_path", DefaultConfig.Control.SocketPath)
	viper.SetDefault("control.max_reconnects", DefaultConfig.Control.MaxReconnects)
	viper.SetDefault("logging.log_level", DefaultConfig.Logging.LogLevel)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the panel cannot run with.
func (c *Config) Validate() error {
	if c.Panel.Height <= 0 {
		return fmt.Errorf("panel.height must be positive, got %d", c.Panel.Height)
	}
	if c.Panel.Anchor != "top" && c.Panel.Anchor != "bottom" {
		return fmt.Errorf("panel.anchor must be \"top\" or \"bottom\", got %q", c.Panel.Anchor)
	}
	if c.Font.Size <= 0 {
		return fmt.Errorf("font.size must be positive, got %v", c.Font.Size)
	}
	if c.Telemetry.CoalesceWindowMs < 0 {
		return fmt.Errorf("telemetry.coalesce_window_ms must not be negative")
	}
	if c.Control.MaxReconnects < 0 {
		return fmt.Errorf("control.max_reconnects must not be negative")
	}
	return nil
}

// Watch reloads the config file on change and invokes apply with each
// valid new configuration. Invalid edits are logged and skipped so a
// half-saved file never takes the panel down. The watcher goroutine
// lives until the process exits.
func Watch(apply func(*Config)) error {
	path := viper.ConfigFileUsed()
	if path == "" {
		// Running on pure defaults, nothing to watch
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	// Watch the directory: editors replace the file, which drops a
	// watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load()
				if err != nil {
					logger.Warnf("Ignoring config reload: %v", err)
					continue
				}
				logger.Info("Configuration reloaded", "path", path)
				apply(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("Config watcher error: %v", err)
			}
		}
	}()

	return nil
}
