package strategy

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/pkgdeploy/internal/domain/deployment"
	"github.com/oshokin/pkgdeploy/internal/feed"
	"github.com/oshokin/pkgdeploy/internal/logger"
)

// Property names added to every package configuration.
const (
	PropertyPackageName    = "package_name"
	PropertyPackageVersion = "package_version"
	PropertyPackagePath    = "package_path"
)

// DirectoryStrategy installs every manifest file at the same relative path under the product root.
type DirectoryStrategy struct {
	// ProductPath is the product root.
	ProductPath string
	// DefaultConflict applies to files whose manifest names no mode.
	DefaultConflict deployment.ConflictResolution
}

// PackageFiles lists the copies of the manifest files, in lexical order,
// followed by deletions of the obsolete files still present in the product.
func (s *DirectoryStrategy) PackageFiles(ctx context.Context, id deployment.PackageID,
	packagePath string,
) ([]deployment.PackageFileDeploymentInfo, error) {
	m, err := feed.ReadManifest(packagePath)
	if err != nil {
		return nil, err
	}

	names := m.SortedFiles()
	files := make([]deployment.PackageFileDeploymentInfo, 0, len(names)+len(m.Obsolete))

	for _, name := range names {
		rel := filepath.FromSlash(name)

		files = append(files, deployment.PackageFileDeploymentInfo{
			Source:   filepath.Join(packagePath, rel),
			Target:   filepath.Join(s.ProductPath, rel),
			Action:   deployment.FileActionCopy,
			Conflict: m.Conflict(name, s.DefaultConflict),
		})
	}

	for _, name := range m.Obsolete {
		target := filepath.Join(s.ProductPath, filepath.FromSlash(name))

		if _, err = os.Stat(target); errors.Is(err, os.ErrNotExist) {
			logger.DebugKV(ctx, "Obsolete file already absent", "package", id.String(), "file", name)
			continue
		}

		files = append(files, deployment.PackageFileDeploymentInfo{
			Target: target,
			Action: deployment.FileActionDelete,
		})
	}

	return files, nil
}

// ManifestConfigurationProvider builds package configuration from the manifest properties.
type ManifestConfigurationProvider struct{}

// PackageConfiguration returns the manifest properties plus the package identity and source folder.
func (ManifestConfigurationProvider) PackageConfiguration(_ context.Context, id deployment.PackageID,
	packagePath string,
) (deployment.PackageConfiguration, error) {
	m, err := feed.ReadManifest(packagePath)
	if err != nil {
		return deployment.PackageConfiguration{}, err
	}

	props, err := m.PropertiesStruct()
	if err != nil {
		return deployment.PackageConfiguration{}, err
	}

	if props.Fields == nil {
		props.Fields = make(map[string]*structpb.Value)
	}

	props.Fields[PropertyPackageName] = structpb.NewStringValue(id.Name)
	props.Fields[PropertyPackageVersion] = structpb.NewStringValue(id.Version)
	props.Fields[PropertyPackagePath] = structpb.NewStringValue(packagePath)

	return deployment.PackageConfiguration{ID: id, Properties: props}, nil
}
