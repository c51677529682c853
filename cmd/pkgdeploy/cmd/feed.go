package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/pkgdeploy/internal/service/feedserver"
	"github.com/oshokin/pkgdeploy/internal/service/packager"
)

var (
	packOptions  packager.Options
	serveOptions feedserver.Options

	// packCmd publishes a folder into a feed.
	packCmd = &cobra.Command{
		Use:   "pack name@version source-folder feed-folder",
		Short: "Publish a folder as a package version in a feed folder.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			packOptions.Package = args[0]
			packOptions.SourceDir = args[1]
			packOptions.FeedRoot = args[2]

			_, err := packager.Run(cmd.Context(), &packOptions)

			return err
		},
	}

	// serveCmd serves a feed folder.
	serveCmd = &cobra.Command{
		Use:   "serve feed-folder [listen-address]",
		Short: "Serve a feed folder over HTTP with a gRPC health endpoint.",
		Long: `Serves the feed folder over HTTP and reports its health over gRPC.

The listen address can be provided as argument (e.g., :8080). Otherwise the
ports of feed_url and feed_health_address in the configuration file are used.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveOptions.FeedRoot = args[0]
			serveOptions.ConfigPath = configPath

			if len(args) > 1 {
				serveOptions.ListenAddress = args[1]
			}

			return feedserver.Run(cmd.Context(), &serveOptions)
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	packCmd.Flags().StringSliceVar(&packOptions.Conflicts, "conflict", nil, "conflict mode of a file as path=keep|override|fail")
	packCmd.Flags().StringSliceVar(&packOptions.Obsolete, "obsolete", nil, "product file removed when the package is installed")
	packCmd.Flags().StringVarP(&packOptions.PropertiesFile, "properties", "p", "", "YAML file with package properties")

	serveCmd.Flags().StringVar(&serveOptions.HealthAddress, "health-address", "", "gRPC health listen address")
}
