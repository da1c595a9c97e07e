// Package config handles scrollsync configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tOgg1/scrollsync/internal/models"
)

// Config is the root configuration structure.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Database settings
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Sync settings shared by every viewport
	Sync SyncConfig `yaml:"sync" mapstructure:"sync"`

	// Metrics endpoint settings
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`

	// Event log settings
	Events EventsConfig `yaml:"events" mapstructure:"events"`

	// Viewports opened by the simulate command
	Viewports []ViewportConfig `yaml:"viewports" mapstructure:"viewports"`
}

// GlobalConfig contains global settings.
type GlobalConfig struct {
	// DataDir is where the bar database lives (default: ~/.local/share/scrollsync).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config and layout files are stored (default: ~/.config/scrollsync).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`

	// BusyTimeout is how long to wait for a locked database (milliseconds).
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console, auto).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// SyncConfig contains synchronizer and viewport settings.
type SyncConfig struct {
	// Mode selects which viewports follow a leader
	// (all, same_granularity, same_instrument).
	Mode string `yaml:"mode" mapstructure:"mode"`

	// PageSize is how many bars each history load requests.
	PageSize int `yaml:"page_size" mapstructure:"page_size"`

	// VisibleBars is the width of each viewport's window.
	VisibleBars int `yaml:"visible_bars" mapstructure:"visible_bars"`

	// ErrorMessage overrides the text drawn when history runs out.
	ErrorMessage string `yaml:"error_message" mapstructure:"error_message"`

	// SweepInterval is how often the registry is swept for dead handles.
	// Zero disables the sweep.
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// MetricsConfig contains Prometheus endpoint settings.
type MetricsConfig struct {
	// Enabled serves /metrics while simulate runs.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Addr is the listen address for the metrics endpoint.
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// EventsConfig contains sync event log settings.
type EventsConfig struct {
	// Persist writes every sync event to the database.
	Persist bool `yaml:"persist" mapstructure:"persist"`

	// History is how many recent events are kept in memory.
	History int `yaml:"history" mapstructure:"history"`

	// MaxAge deletes persisted events older than this on startup.
	// Zero keeps everything.
	MaxAge time.Duration `yaml:"max_age" mapstructure:"max_age"`
}

// ViewportConfig describes one viewport.
type ViewportConfig struct {
	Instrument  string `yaml:"instrument" mapstructure:"instrument"`
	Granularity string `yaml:"granularity" mapstructure:"granularity"`
	ViewKind    string `yaml:"view_kind" mapstructure:"view_kind"`
}

// Key converts the viewport description into a classification key.
func (v ViewportConfig) Key() (models.ClassificationKey, error) {
	granularity, err := models.ParseGranularity(v.Granularity)
	if err != nil {
		return models.ClassificationKey{}, err
	}
	viewKind := models.ViewKind(v.ViewKind)
	if viewKind == "" {
		viewKind = models.ViewKindCandlestick
	}
	key := models.NewKey(v.Instrument, granularity, viewKind)
	if err := key.Validate(); err != nil {
		return models.ClassificationKey{}, err
	}
	return key, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "scrollsync"),
			ConfigDir: filepath.Join(homeDir, ".config", "scrollsync"),
		},
		Database: DatabaseConfig{
			Path:          "", // Will be set to DataDir/scrollsync.db
			BusyTimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "auto",
			EnableCaller: false,
		},
		Sync: SyncConfig{
			Mode:          string(models.SyncModeAll),
			PageSize:      200,
			VisibleBars:   100,
			SweepInterval: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Events: EventsConfig{
			Persist: true,
			History: 256,
		},
		Viewports: []ViewportConfig{
			{Instrument: "EURUSD", Granularity: "h1", ViewKind: "candlestick"},
			{Instrument: "EURUSD", Granularity: "m5", ViewKind: "candlestick"},
			{Instrument: "GBPUSD", Granularity: "h1", ViewKind: "line"},
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if _, err := models.ParseSyncMode(c.Sync.Mode); err != nil {
		return fmt.Errorf("sync.mode: %w", err)
	}
	if c.Sync.PageSize < 1 {
		return fmt.Errorf("sync.page_size must be at least 1")
	}
	if c.Sync.VisibleBars < 1 {
		return fmt.Errorf("sync.visible_bars must be at least 1")
	}
	if c.Sync.SweepInterval < 0 {
		return fmt.Errorf("sync.sweep_interval must not be negative")
	}
	if c.Database.BusyTimeoutMs < 0 {
		return fmt.Errorf("database.busy_timeout_ms must not be negative")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	if c.Events.History < 0 {
		return fmt.Errorf("events.history must not be negative")
	}

	for i, viewport := range c.Viewports {
		if _, err := viewport.Key(); err != nil {
			return fmt.Errorf("viewports[%d]: %w", i, err)
		}
	}

	return nil
}

// SyncMode returns the parsed sync mode. Call Validate first.
func (c *Config) SyncMode() models.SyncMode {
	mode, err := models.ParseSyncMode(c.Sync.Mode)
	if err != nil {
		return models.SyncModeAll
	}
	return mode
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Global.DataDir,
		c.Global.ConfigDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// DatabasePath returns the full database path.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Global.DataDir, "scrollsync.db")
}

// LayoutPath returns the file the simulate command saves its layout to.
func (c *Config) LayoutPath() string {
	return filepath.Join(c.Global.ConfigDir, "layout.yaml")
}
