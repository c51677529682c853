package action

import (
	"context"

	"github.com/oshokin/pkgdeploy/internal/domain/deployment"
)

// PackageSource fetches package contents.
type PackageSource interface {
	// Download retrieves the matching package under root and returns when it is complete.
	Download(ctx context.Context, match deployment.PackageMatch, root string) error
	// PackagePath returns where a downloaded package lives under root.
	PackagePath(name, version, root string) string
}

// FileListStrategy decides which files of a package go where.
type FileListStrategy interface {
	PackageFiles(ctx context.Context, id deployment.PackageID, packagePath string) ([]deployment.PackageFileDeploymentInfo, error)
}

// PackageConfigurationProvider builds the configuration persisted for an installed package.
type PackageConfigurationProvider interface {
	PackageConfiguration(ctx context.Context, id deployment.PackageID, packagePath string) (deployment.PackageConfiguration, error)
}

// ProductConfigurationProvider persists which packages are installed and the files they own.
type ProductConfigurationProvider interface {
	// InstalledFiles returns the product-relative files of the package.
	// With exclusive set, files also owned by another installed package are left out.
	InstalledFiles(ctx context.Context, id deployment.PackageID, exclusive bool) ([]deployment.PackageFileInfo, error)
	// RemovePackage drops the package record and returns it, or nil if there was none.
	RemovePackage(ctx context.Context, id deployment.PackageID) (*deployment.ProductPackageInfo, error)
	// SavePackage adds or replaces the package record.
	SavePackage(ctx context.Context, info *deployment.ProductPackageInfo) error
	// ListPackages returns every installed package.
	ListPackages(ctx context.Context) ([]*deployment.ProductPackageInfo, error)
}
