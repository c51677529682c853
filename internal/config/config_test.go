package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/pkgdeploy/internal/domain/deployment"
)

// TestValidate checks required fields, defaults and format validations.
func TestValidate(t *testing.T) {
	t.Parallel()

	// Missing product path.
	require.Error(t, Validate(new(Config)))
	require.Error(t, Validate(nil))

	// Defaults are filled in.
	cfg := &Config{ProductPath: "/opt/product"}
	require.NoError(t, Validate(cfg))
	require.Equal(t, DefaultStagingPath, cfg.StagingPath)
	require.Equal(t, DefaultStateFilename, cfg.StateFile)
	require.Equal(t, DefaultTimeout, cfg.Timeout)
	require.Equal(t, DefaultDownloadWorkers, cfg.DownloadWorkers)
	require.Equal(t, deployment.ConflictFail, cfg.Conflict())
	require.True(t, cfg.JournalsConfiguration())

	// Bad conflict mode.
	require.Error(t, Validate(&Config{ProductPath: "/p", DefaultConflict: "merge"}))

	// Bad log level.
	require.Error(t, Validate(&Config{ProductPath: "/p", LogLevel: "loud"}))

	// Health address without feed.
	require.Error(t, Validate(&Config{ProductPath: "/p", FeedHealthAddress: "127.0.0.1:1"}))

	// Bad feed URL.
	require.Error(t, Validate(&Config{ProductPath: "/p", FeedURL: "not a url"}))

	// Explicitly disabled journaling survives validation.
	off := false
	cfg = &Config{ProductPath: "/p", FeedURL: "http://feed.local/", JournalConfiguration: &off}
	require.NoError(t, Validate(cfg))
	require.False(t, cfg.JournalsConfiguration())
}

// TestValidate_FeedHealthAddress checks the address shape without resolving the host.
func TestValidate_FeedHealthAddress(t *testing.T) {
	t.Parallel()

	valid := []string{"feed.invalid:9091", "127.0.0.1:1", "[::1]:65535"}
	for _, address := range valid {
		cfg := &Config{ProductPath: "/p", FeedURL: "http://feed.invalid/", FeedHealthAddress: address}
		require.NoError(t, Validate(cfg), address)
	}

	invalid := []string{"feed.invalid", ":9091", "feed.invalid:0", "feed.invalid:70000", "feed.invalid:grpc"}
	for _, address := range invalid {
		cfg := &Config{ProductPath: "/p", FeedURL: "http://feed.invalid/", FeedHealthAddress: address}
		require.Error(t, Validate(cfg), address)
	}
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	cfg := &Config{
		ProductPath:       filepath.Join(dir, "product"),
		FeedURL:           "https://feed.local/packages/",
		FeedHealthAddress: "127.0.0.1:50051",
		DefaultConflict:   "keep",
		StopProcesses:     true,
	}

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.ProductPath, loaded.ProductPath)
	require.Equal(t, cfg.FeedURL, loaded.FeedURL)
	require.Equal(t, deployment.ConflictKeepExisting, loaded.Conflict())
	require.True(t, loaded.StopProcesses)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(DefaultFilePermissions), info.Mode().Perm())
}

// TestLoad_MissingFile reports a read error.
func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
