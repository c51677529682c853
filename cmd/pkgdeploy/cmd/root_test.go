package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/pkgdeploy/internal/version"
)

// The commands share package-level flag variables, so these tests do not run in parallel.

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(context.Background())

	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, version.Full())
}

func TestUnknownLogLevel(t *testing.T) {
	t.Cleanup(func() { logLevel = "" })

	_, err := execute(t, "--log-level", "verbose", "version")
	require.ErrorIs(t, err, errUnknownLogLevel)
}

func TestPackThenDryRunInstall(t *testing.T) {
	dir := t.TempDir()
	src, feedRoot, product := filepath.Join(dir, "src"), filepath.Join(dir, "feed"), filepath.Join(dir, "product")

	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.MkdirAll(product, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("A"), 0o644))

	_, err := execute(t, "pack", "core@1.0.0", src, feedRoot)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(feedRoot, "core", "1.0.0", "package.yaml"))

	cfgPath := filepath.Join(dir, "pkgdeploy.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"product_path: "+product+"\n"+
			"feed_url: http://127.0.0.1:1/\n"+
			"state_file: "+filepath.Join(dir, "state.json")+"\n"+
			"staging_path: "+filepath.Join(dir, "staging")+"\n"), 0o600))

	out, err := execute(t, "--config", cfgPath, "install", "--dry-run", "core@1.0.0")
	require.NoError(t, err)
	require.Contains(t, out, "core")
	require.NoFileExists(t, filepath.Join(product, "a.txt"))

	dryRun = false

	out, err = execute(t, "--config", cfgPath, "list")
	require.NoError(t, err)
	require.Contains(t, out, "NAME")
	require.NotContains(t, out, "core")
}
