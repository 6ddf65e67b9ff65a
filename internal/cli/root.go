// Package cli provides the command-line interface for etfwatch.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"etfwatch/internal/config"
	"etfwatch/internal/logging"
	"etfwatch/internal/reconcile"
	"etfwatch/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2025-06-01"
)

// staleTempAge is how old an orphaned temp file must be before startup
// removes it.
const staleTempAge = time.Hour

// skipConfig marks commands that run without loading configuration.
const skipConfig = "skip-config"

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	store    store.SnapshotStore
	lockWait time.Duration
}

// NewRootCmd creates the root command for the CLI. logger is used until the
// configuration is loaded, after which a logger built from the [logging]
// section replaces it.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "etfwatch",
		Short: "Track daily holdings changes of actively managed ETFs",
		Long: `etfwatch keeps a dated history of fund holdings snapshots, compares each
new snapshot with its baseline and reports the positions that moved.

Snapshots are stored per fund; a rerun on the same day replaces the stored
snapshot and compares against the previous day again.

Use 'etfwatch help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfig] == "true" {
				return nil
			}
			return app.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/etfwatch)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Duration("wait", 0, "wait up to this long for another run to finish")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	addSnapshotCommands(rootCmd, app)
	addReportCommands(rootCmd, app)

	return rootCmd
}

// init loads configuration and rebuilds the logger from it.
func (a *App) init(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	a.Config = cfg
	a.lockWait, _ = cmd.Flags().GetDuration("wait")

	lc := logging.LogConfig{
		Level:      cfg.Logging.Level,
		Console:    cfg.Logging.Console,
		File:       cfg.Logging.File,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Out:        cmd.ErrOrStderr(),
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		lc.Level = "debug"
	}
	a.Logger = logging.NewLoggerWithConfig(lc)
	a.Logger.Debug().
		Str("config", cfg.Dir).
		Str("data", cfg.Data.Dir).
		Str("backend", cfg.Data.Backend).
		Msg("Configuration loaded")
	return nil
}

// Store opens the configured snapshot store on first use.
func (a *App) Store() (store.SnapshotStore, error) {
	if a.store != nil {
		return a.store, nil
	}

	var (
		s   store.SnapshotStore
		err error
	)
	switch a.Config.Data.Backend {
	case config.BackendSQLite:
		s, err = store.NewSQLiteStore(a.Config.Data.SQLitePath, a.Logger)
	default:
		s, err = store.NewJSONStore(a.Config.Data.Dir, a.Logger)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", a.Config.Data.Backend, err)
	}
	a.store = s
	return s, nil
}

// Engine returns a reconciliation engine over the configured store.
func (a *App) Engine() (*reconcile.Engine, error) {
	s, err := a.Store()
	if err != nil {
		return nil, err
	}
	return reconcile.NewEngine(a.Config, s, a.Logger), nil
}

// Close releases the store if one was opened.
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// exclusive runs fn while holding the data directory's run lock, after
// clearing temp files left behind by interrupted writes.
func (a *App) exclusive(ctx context.Context, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	lock, err := store.WaitRunLock(ctx, a.Config.Data.Dir, store.DefaultLockWait(a.lockWait))
	if err != nil {
		return err
	}
	lockPath := lock.Path()
	defer func() {
		if err := lock.Release(); err != nil {
			a.Logger.Warn().Err(err).Str("path", lockPath).Msg("Failed to release run lock")
		}
	}()

	if n, err := store.RemoveStaleTemp(a.Config.Data.Dir, staleTempAge); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to clean up temp files")
	} else if n > 0 {
		a.Logger.Info().Int("removed", n).Msg("Removed stale temp files")
	}

	return fn(ctx)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("etfwatch v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": app.Config.Dir})
			}
			output.Println(app.Config.Dir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Data")
	output.Printf("  Directory:       %s\n", cfg.Data.Dir)
	output.Printf("  Backend:         %s\n", cfg.Data.Backend)
	if cfg.Data.Backend == config.BackendSQLite {
		output.Printf("  Database:        %s\n", cfg.Data.SQLitePath)
	}
	output.Println()

	t := cfg.Thresholds
	output.Bold("Thresholds")
	output.Printf("  Presence:        %s shares\n", FormatCount(t.PresenceShares))
	output.Printf("  Major weight:    %.2f%%\n", t.WeightMajor)
	output.Printf("  Major count:     %s shares\n", FormatCount(t.CountMajor))
	output.Printf("  Detailed count:  %s shares\n", FormatCount(t.CountDetailed))
	output.Printf("  Display weight:  %.2f%%\n", t.WeightDisplay)
	output.Println()

	output.Bold("Funds")
	if len(cfg.Funds) == 0 {
		output.Dim("  (none configured)")
	}
	for _, f := range cfg.Funds {
		output.Printf("  %-8s %s\n", f.ID, f.Name)
	}
	output.Println()

	output.Bold("Artifacts")
	output.Printf("  Change report:   %s\n", cfg.ReportPath())
	output.Printf("  History:         %s\n", cfg.HistoryPath())
	output.Printf("  Numeric only:    %v\n", cfg.Filter.NumericCodesOnly)
}
