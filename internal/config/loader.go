package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// envPrefix prefixes every environment override, e.g. SCROLLSYNC_SYNC_MODE.
const envPrefix = "SCROLLSYNC"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars < CLI flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()
	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Slices decode element-wise into existing values, so start from nil
	// and let the viper default supply the built-in viewports.
	cfg.Viewports = nil
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

func expandPaths(cfg *Config) {
	cfg.Global.DataDir = expandTilde(cfg.Global.DataDir)
	cfg.Global.ConfigDir = expandTilde(cfg.Global.ConfigDir)
	cfg.Database.Path = expandTilde(cfg.Database.Path)
	cfg.Logging.File = expandTilde(cfg.Logging.File)
}

func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "scrollsync"))
	}
	if homeDir, _ := os.UserHomeDir(); homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "scrollsync"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)

	// Unmarshal only sees env vars for nested keys that are bound explicitly.
	// AutomaticEnv stays off: it would hand the raw SCROLLSYNC_VIEWPORTS
	// string to the viewports slice.
	for _, key := range envKeys {
		_ = v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
}

func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	// Global
	v.SetDefault("global.data_dir", cfg.Global.DataDir)
	v.SetDefault("global.config_dir", cfg.Global.ConfigDir)

	// Database
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.busy_timeout_ms", cfg.Database.BusyTimeoutMs)

	// Logging
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	// Sync
	v.SetDefault("sync.mode", cfg.Sync.Mode)
	v.SetDefault("sync.page_size", cfg.Sync.PageSize)
	v.SetDefault("sync.visible_bars", cfg.Sync.VisibleBars)
	v.SetDefault("sync.error_message", cfg.Sync.ErrorMessage)
	v.SetDefault("sync.sweep_interval", cfg.Sync.SweepInterval)

	// Metrics
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)

	// Events
	v.SetDefault("events.persist", cfg.Events.Persist)
	v.SetDefault("events.history", cfg.Events.History)
	v.SetDefault("events.max_age", cfg.Events.MaxAge)

	// Viewports
	v.SetDefault("viewports", cfg.Viewports)
}

// envKeys lists every scalar key that supports an environment override.
var envKeys = []string{
	"global.data_dir",
	"global.config_dir",
	"database.path",
	"database.busy_timeout_ms",
	"logging.level",
	"logging.format",
	"logging.file",
	"logging.enable_caller",
	"sync.mode",
	"sync.page_size",
	"sync.visible_bars",
	"sync.error_message",
	"sync.sweep_interval",
	"metrics.enabled",
	"metrics.addr",
	"events.persist",
	"events.history",
	"events.max_age",
}

func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}

	return nil
}

// applyEnvOverrides handles overrides that viper cannot bind to a key.
// SCROLLSYNC_VIEWPORTS replaces the viewport list with a comma-separated
// list of instrument/granularity[/view_kind] entries.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	raw := strings.TrimSpace(os.Getenv(envPrefix + "_VIEWPORTS"))
	if raw == "" {
		return nil
	}
	viewports, err := ParseViewports(raw)
	if err != nil {
		return fmt.Errorf("%s_VIEWPORTS: %w", envPrefix, err)
	}
	cfg.Viewports = viewports
	return nil
}

// ParseViewports parses a comma-separated list of
// instrument/granularity[/view_kind] entries.
func ParseViewports(raw string) ([]ViewportConfig, error) {
	var out []ViewportConfig
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "/")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("invalid viewport %q: want instrument/granularity[/view_kind]", entry)
		}
		viewport := ViewportConfig{Instrument: parts[0], Granularity: parts[1]}
		if len(parts) == 3 {
			viewport.ViewKind = parts[2]
		}
		if _, err := viewport.Key(); err != nil {
			return nil, fmt.Errorf("invalid viewport %q: %w", entry, err)
		}
		out = append(out, viewport)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no viewports in %q", raw)
	}
	return out, nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Viper returns the underlying Viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	return NewLoader().Load()
}
