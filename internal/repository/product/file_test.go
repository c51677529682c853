package product

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/pkgdeploy/internal/domain/deployment"
)

func record(t *testing.T, name, version string, files ...string) *deployment.ProductPackageInfo {
	t.Helper()

	props, err := structpb.NewStruct(map[string]any{"channel": "stable", "weight": 2})
	require.NoError(t, err)

	info := &deployment.ProductPackageInfo{
		Configuration: deployment.PackageConfiguration{
			ID:         deployment.PackageID{Name: name, Version: version},
			Properties: props,
		},
	}

	for _, f := range files {
		info.Files = append(info.Files, deployment.PackageFileInfo{Path: f})
	}

	return info
}

// TestFileRepository_MissingFile treats a missing state file as an empty product.
func TestFileRepository_MissingFile(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "missing.json"))

	packages, err := repo.ListPackages(context.Background())
	require.NoError(t, err)
	require.Empty(t, packages)

	_, err = repo.InstalledFiles(context.Background(), deployment.PackageID{Name: "core", Version: "1"}, false)
	require.ErrorIs(t, err, ErrNotInstalled)
}

// TestFileRepository_SaveAndList keeps properties, files and the install time.
func TestFileRepository_SaveAndList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	file := filepath.Join(t.TempDir(), "state", "product.json")
	repo := NewFileRepository(file)

	installedAt := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	core := record(t, "core", "1.0.0", "bin/core", "README.md")
	core.InstalledAt = installedAt

	require.NoError(t, repo.SavePackage(ctx, record(t, "addon", "0.1.0", "addon.dll")))
	require.NoError(t, repo.SavePackage(ctx, core))

	packages, err := repo.ListPackages(ctx)
	require.NoError(t, err)
	require.Len(t, packages, 2)
	require.Equal(t, "addon", packages[0].ID().Name)
	require.False(t, packages[0].InstalledAt.IsZero())

	got := packages[1]
	require.Equal(t, core.ID(), got.ID())
	require.Equal(t, core.Files, got.Files)
	require.True(t, installedAt.Equal(got.InstalledAt))
	require.Equal(t, "stable", got.Configuration.Properties.GetFields()["channel"].GetStringValue())
	require.InDelta(t, 2, got.Configuration.Properties.GetFields()["weight"].GetNumberValue(), 0)

	_, err = os.Stat(file)
	require.NoError(t, err)
}

// TestFileRepository_SaveReplacesByName keeps one record per package name.
func TestFileRepository_SaveReplacesByName(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewFileRepository(filepath.Join(t.TempDir(), "product.json"))

	require.NoError(t, repo.SavePackage(ctx, record(t, "core", "1.0.0", "a")))
	require.NoError(t, repo.SavePackage(ctx, record(t, "core", "2.0.0", "b")))

	got, err := repo.Package(ctx, "core")
	require.NoError(t, err)
	require.Equal(t, "2.0.0", got.ID().Version)
	require.Equal(t, []deployment.PackageFileInfo{{Path: "b"}}, got.Files)

	_, err = repo.Package(ctx, "other")
	require.ErrorIs(t, err, ErrNotInstalled)
}

// TestFileRepository_InstalledFilesExclusive leaves out files owned by other packages.
func TestFileRepository_InstalledFilesExclusive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewFileRepository(filepath.Join(t.TempDir(), "product.json"))

	core := record(t, "core", "1.0.0", "shared.cfg", "core.bin")
	require.NoError(t, repo.SavePackage(ctx, core))
	require.NoError(t, repo.SavePackage(ctx, record(t, "addon", "1.0.0", "shared.cfg")))

	all, err := repo.InstalledFiles(ctx, core.ID(), false)
	require.NoError(t, err)
	require.Len(t, all, 2)

	own, err := repo.InstalledFiles(ctx, core.ID(), true)
	require.NoError(t, err)
	require.Equal(t, []deployment.PackageFileInfo{{Path: "core.bin"}}, own)

	_, err = repo.InstalledFiles(ctx, deployment.PackageID{Name: "core", Version: "9"}, true)
	require.ErrorIs(t, err, ErrNotInstalled)
}

// TestFileRepository_RemovePackage returns the removed record.
func TestFileRepository_RemovePackage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewFileRepository(filepath.Join(t.TempDir(), "product.json"))

	core := record(t, "core", "1.0.0", "core.bin")
	require.NoError(t, repo.SavePackage(ctx, core))

	removed, err := repo.RemovePackage(ctx, core.ID())
	require.NoError(t, err)
	require.Equal(t, core.Files, removed.Files)

	removed, err = repo.RemovePackage(ctx, core.ID())
	require.NoError(t, err)
	require.Nil(t, removed)

	packages, err := repo.ListPackages(ctx)
	require.NoError(t, err)
	require.Empty(t, packages)
}

// TestFileRepository_CorruptFile reports a decode error.
func TestFileRepository_CorruptFile(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "product.json")
	require.NoError(t, os.WriteFile(file, []byte("{not json"), 0o600))

	_, err := NewFileRepository(file).ListPackages(context.Background())
	require.ErrorContains(t, err, "decode state file")
}
