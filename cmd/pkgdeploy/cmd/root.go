package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/pkgdeploy/internal/config"
	"github.com/oshokin/pkgdeploy/internal/logger"
	"github.com/oshokin/pkgdeploy/internal/version"
)

var errUnknownLogLevel = errors.New("unknown log level")

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel overrides the log level from the configuration file.
	logLevel string

	// rootCmd represents the base command when called without any subcommands.
	rootCmd = &cobra.Command{
		Use:   "pkgdeploy",
		Short: "Install, update and remove file packages transactionally.",
		Long: `Installs, updates and removes versioned file packages inside a product folder.

Every run is a transaction: if any step fails, the files and the installed
package records are restored to their state before the run.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if logLevel == "" {
				return nil
			}

			lvl, ok := logger.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("%q: %w", logLevel, errUnknownLogLevel)
			}

			logger.SetLevel(lvl)

			return nil
		},
	}
)

// Execute runs the pkgdeploy CLI and exits with non-zero status on error.
func Execute() {
	defer logger.Sync()

	// Setup graceful shutdown handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().
		StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		installCmd,
		uninstallCmd,
		listCmd,
		historyCmd,
		packCmd,
		serveCmd,
		version.NewCommand(),
	)
}
