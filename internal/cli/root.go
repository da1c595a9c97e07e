// Package cli implements the scrollsync command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tOgg1/scrollsync/internal/config"
	"github.com/tOgg1/scrollsync/internal/db"
	"github.com/tOgg1/scrollsync/internal/logging"
)

// Execute runs the root command.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

// app carries state shared by every subcommand.
type app struct {
	configFile string
	logLevel   string
	logFormat  string

	cfg     *config.Config
	logFile io.Closer
}

func newRootCmd(version string) *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "scrollsync",
		Short: "Keep timeline viewports scrolled together",
		Long: "scrollsync links timeline viewports so that scrolling one scrolls every\n" +
			"matching viewport to the same instant, paging in history as needed.",
		SilenceUsage:       true,
		SilenceErrors:      true,
		Version:            version,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default: search $XDG_CONFIG_HOME/scrollsync, ~/.config/scrollsync, .)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "", "log format (json, console, auto)")

	cmd.AddCommand(
		newSeedCmd(a),
		newSimulateCmd(a),
		newEventsCmd(a),
		newVersionCmd(version),
	)
	return cmd
}

// setup loads configuration and initializes logging. Flags override
// environment, which overrides the config file.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	loader := config.NewLoader()
	if a.configFile != "" {
		loader.SetConfigFile(a.configFile)
	}

	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	a.cfg = cfg

	logCfg := logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cmd.ErrOrStderr(),
		EnableCaller: cfg.Logging.EnableCaller,
	}
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		a.logFile = f
		logCfg.Output = f
	}
	logging.Init(logCfg)

	logging.Logger.Debug().
		Str("config_file", loader.ConfigFileUsed()).
		Str("database", cfg.DatabasePath()).
		Msg("configuration loaded")
	return nil
}

func (a *app) teardown(*cobra.Command, []string) error {
	if a.logFile == nil {
		return nil
	}
	err := a.logFile.Close()
	a.logFile = nil
	return err
}

// openDB opens the configured database and applies the schema.
func (a *app) openDB(ctx context.Context) (*db.DB, error) {
	if err := a.cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	database, err := db.Open(db.Config{
		Path:          a.cfg.DatabasePath(),
		BusyTimeoutMs: a.cfg.Database.BusyTimeoutMs,
	})
	if err != nil {
		return nil, err
	}
	if _, err := database.MigrateUp(ctx); err != nil {
		_ = database.Close()
		return nil, err
	}
	return database, nil
}
