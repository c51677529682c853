package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/pkgdeploy/internal/logger"
	"github.com/oshokin/pkgdeploy/internal/service/deployer"
)

var (
	// dryRun prints the plan instead of executing it.
	dryRun bool
	// removePackages lists packages to uninstall together with an install run.
	removePackages []string

	// installCmd installs or updates packages.
	installCmd = &cobra.Command{
		Use:   "install name@version...",
		Short: "Install or update packages from the feed.",
		Long: `Downloads the requested package versions from the feed and installs them.

A package that is already installed in another version is updated: its old
files are removed and the new version is installed in the same transaction.
Packages passed with --remove are uninstalled in the same run.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deploy(cmd, args, removePackages)
		},
	}

	// uninstallCmd removes packages from the product.
	uninstallCmd = &cobra.Command{
		Use:   "uninstall name...",
		Short: "Remove installed packages from the product.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deploy(cmd, nil, args)
		},
	}
)

func deploy(cmd *cobra.Command, install, uninstall []string) error {
	ctx := cmd.Context()

	result, err := deployer.Run(ctx, &deployer.Options{
		ConfigPath: configPath,
		Install:    install,
		Uninstall:  uninstall,
		DryRun:     dryRun,
		Output:     cmd.OutOrStdout(),
		LogLevel:   logLevel,
	})
	if err != nil {
		return err
	}

	if dryRun {
		return nil
	}

	logger.InfoKV(ctx, "Run finished",
		"run_id", result.RunID,
		"installed_packages", len(result.Installed),
		"deleted_packages", len(result.Deleted),
		"installed_files", result.Summary.InstalledFiles,
		"deleted_files", result.Summary.DeletedFiles)

	return nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	for _, c := range []*cobra.Command{installCmd, uninstallCmd} {
		c.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "print the plan without changing anything")
	}

	installCmd.Flags().StringSliceVarP(&removePackages, "remove", "r", nil, "packages to uninstall in the same run")
}
