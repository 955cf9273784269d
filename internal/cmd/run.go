package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/livepatch/internal/config"
	"github.com/Iron-Ham/livepatch/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run [dir...]",
	Short: "Load units and keep them up to date with their files",
	Long: `Load every unit file under the given directories (default: units.dirs
from the configuration), call the main() function of each unit that defines
one, and then reload changed units on a fixed interval until interrupted.

Objects created by a reloaded unit's classes keep their identity and fields
but switch to the new method definitions. A unit whose new source fails to
load is reported and keeps its previous version.

Examples:
  # Reload units under ./services every second
  livepatch run services

  # React to file writes immediately and expose Prometheus metrics
  livepatch run --watch --metrics --metrics-addr :9100 services`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().Int("interval-ms", 0, "wait between reload cycles in milliseconds (default from reload.interval_ms)")
	runCmd.Flags().Bool("watch", false, "start a cycle as soon as a unit file is written")
	runCmd.Flags().Bool("prune", false, "drop superseded class versions with no live instances")
	runCmd.Flags().Bool("metrics", false, "serve Prometheus metrics")
	runCmd.Flags().String("metrics-addr", "", "metrics listen address (default from metrics.addr)")

	_ = viper.BindPFlag("reload.interval_ms", runCmd.Flags().Lookup("interval-ms"))
	_ = viper.BindPFlag("reload.watch", runCmd.Flags().Lookup("watch"))
	_ = viper.BindPFlag("reload.prune_versions", runCmd.Flags().Lookup("prune"))
	_ = viper.BindPFlag("metrics.enabled", runCmd.Flags().Lookup("metrics"))
	_ = viper.BindPFlag("metrics.addr", runCmd.Flags().Lookup("metrics-addr"))

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	dirs := args
	if len(dirs) == 0 {
		dirs = cfg.Units.Dirs
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := newEngine(afero.NewOsFs(), cfg, logger)
	defer eng.close()

	units, err := eng.load(dirs)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d units from %s\n", len(units), strings.Join(dirs, ", "))

	if err := eng.start(ctx); err != nil {
		return err
	}
	return eng.run(ctx, dirs)
}

// newLogger builds the process logger. Log files are always JSON so that
// `livepatch logs` can read them back.
func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Level)
	if cfg.File == "" {
		return logging.NewWriterLogger(os.Stderr, level, cfg.Format), nil
	}
	logger, err := logging.NewLoggerWithRotation(cfg.File, level, logging.RotationConfig{
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	if rw := logger.RotatingWriter(); rw != nil {
		logger.Debug("logging to file", "path", rw.FilePath(), "size_bytes", rw.CurrentSize())
	}
	return logger, nil
}
