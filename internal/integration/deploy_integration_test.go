package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/pkgdeploy/internal/config"
	"github.com/oshokin/pkgdeploy/internal/domain/deployment"
	"github.com/oshokin/pkgdeploy/internal/repository/history"
	"github.com/oshokin/pkgdeploy/internal/service/deployer"
	"github.com/oshokin/pkgdeploy/internal/service/packager"
)

func packageMatch(name, version string) deployment.PackageMatch {
	return deployment.PackageMatch{Name: name, Version: version}
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(data)
}

// TestDeploy_InstallUpdateUninstall drives the packager, the feed server and the deployer
// through a full package lifecycle, checking the product, the records, history and metrics.
//
//nolint:funlen // Integration test requires comprehensive setup and verification.
func TestDeploy_InstallUpdateUninstall(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	feedRoot := filepath.Join(dir, "feed")
	product := filepath.Join(dir, "product")

	publish(t, feedRoot, "core@1.0.0", map[string]string{"bin/core": "v1", "conf/app.ini": "default"},
		func(o *packager.Options) { o.Conflicts = []string{"conf/app.ini=keep"} })
	publish(t, feedRoot, "core@2.0.0", map[string]string{"bin/core": "v2", "conf/app.ini": "default2"},
		func(o *packager.Options) { o.Conflicts = []string{"conf/app.ini=keep"} })
	publish(t, feedRoot, "plugin@1.0.0", map[string]string{"plugins/p.so": "P"})

	feedURL, healthAddress, stop := startFeed(t, feedRoot)
	defer stop()

	// Create configuration file pointing to the feed server.
	cfgPath := filepath.Join(dir, config.DefaultConfigFilename)
	require.NoError(t, config.Save(cfgPath, &config.Config{
		ProductPath:       product,
		FeedURL:           feedURL,
		FeedHealthAddress: healthAddress,
		StagingPath:       filepath.Join(dir, "staging"),
		StateFile:         filepath.Join(dir, "state.json"),
		HistoryDB:         filepath.Join(dir, "history.db"),
		BackupRoot:        filepath.Join(dir, "backups"),
		MetricsFile:       filepath.Join(dir, "pkgdeploy.prom"),
	}))

	ctx := context.Background()

	// Fresh install of two packages in one run.
	_, err := deployer.Run(ctx, &deployer.Options{ConfigPath: cfgPath, Install: []string{"core@1.0.0", "plugin@1.0.0"}})
	require.NoError(t, err)
	require.Equal(t, "v1", readFile(t, filepath.Join(product, "bin", "core")))
	require.Equal(t, "P", readFile(t, filepath.Join(product, "plugins", "p.so")))

	_, err = deployer.Run(ctx, &deployer.Options{ConfigPath: cfgPath, Install: []string{"core@2.0.0"}})
	require.NoError(t, err)
	require.Equal(t, "v2", readFile(t, filepath.Join(product, "bin", "core")))
	require.Equal(t, "default2", readFile(t, filepath.Join(product, "conf", "app.ini")))

	packages, err := deployer.List(ctx, cfgPath)
	require.NoError(t, err)
	require.Len(t, packages, 2)
	require.Equal(t, "2.0.0", packages[0].ID().Version)

	// Uninstall the plugin, its folder goes away with it.
	_, err = deployer.Run(ctx, &deployer.Options{ConfigPath: cfgPath, Uninstall: []string{"plugin"}})
	require.NoError(t, err)
	require.NoDirExists(t, filepath.Join(product, "plugins"))
	require.DirExists(t, product)

	// A missing version fails and leaves the product as it was.
	_, err = deployer.Run(ctx, &deployer.Options{ConfigPath: cfgPath, Install: []string{"core@9.9.9"}})
	require.Error(t, err)
	require.Equal(t, "v2", readFile(t, filepath.Join(product, "bin", "core")))

	runs, err := deployer.History(ctx, cfgPath, 0)
	require.NoError(t, err)
	require.Len(t, runs, 4)
	require.Equal(t, history.StatusRolledBack, runs[0].Status)
	require.Equal(t, history.StatusCommitted, runs[1].Status)

	metrics := readFile(t, filepath.Join(dir, "pkgdeploy.prom"))
	require.Contains(t, metrics, "pkgdeploy_runs_completed_total")
	require.Contains(t, metrics, "pkgdeploy_packages_installed 1")
}
