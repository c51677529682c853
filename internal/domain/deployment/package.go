package deployment

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	errInvalidPackageRef = errors.New("package reference must look like name@version")
	errUnsafePackageRef  = errors.New("package name and version must be single path segments")
)

// PackageID identifies a package by name and version.
type PackageID struct {
	// Name is the package name.
	Name string
	// Version is the exact package version.
	Version string
}

// String renders the identity as name/version.
func (id PackageID) String() string {
	return id.Name + "/" + id.Version
}

// IsZero reports whether the identity is empty.
func (id PackageID) IsZero() bool {
	return id.Name == "" && id.Version == ""
}

// ParsePackageRef parses a name@version reference.
func ParsePackageRef(ref string) (PackageID, error) {
	name, ver, found := strings.Cut(strings.TrimSpace(ref), "@")
	if !found || name == "" || ver == "" {
		return PackageID{}, fmt.Errorf("%q: %w", ref, errInvalidPackageRef)
	}

	if !isPathSegment(name) || !isPathSegment(ver) {
		return PackageID{}, fmt.Errorf("%q: %w", ref, errUnsafePackageRef)
	}

	return PackageID{Name: name, Version: ver}, nil
}

// isPathSegment reports whether s can name one folder inside a feed or staging root.
func isPathSegment(s string) bool {
	return s != "." && filepath.IsLocal(s) && !strings.ContainsAny(s, `/\`)
}

// PackageMatch describes which package the source should fetch.
type PackageMatch struct {
	Name    string
	Version string
}

// DeploymentPackageInfo is a package scheduled for deployment.
// Path is empty until the package has been downloaded.
type DeploymentPackageInfo struct {
	// ID is the package identity.
	ID PackageID
	// Match is what the package source is asked for.
	Match PackageMatch
	// Path is the on-disk location of the downloaded package contents.
	Path string
}

// NewDeploymentPackageInfo returns a deployment entry matching the identity exactly.
func NewDeploymentPackageInfo(id PackageID) *DeploymentPackageInfo {
	return &DeploymentPackageInfo{
		ID:    id,
		Match: PackageMatch{Name: id.Name, Version: id.Version},
	}
}

// PackageFileInfo is a file owned by an installed package.
type PackageFileInfo struct {
	// Path is relative to the product root once persisted, absolute while deploying.
	// Files installed outside the product root keep their absolute path.
	Path string
}

// Resolve returns the on-disk path of the file for the given product root.
func (f PackageFileInfo) Resolve(productPath string) string {
	path := filepath.FromSlash(f.Path)
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(productPath, path)
}

// PackageConfiguration is the structured configuration persisted for an installed package.
type PackageConfiguration struct {
	// ID identifies the package the configuration belongs to.
	ID PackageID
	// Properties holds arbitrary package-defined settings.
	Properties *structpb.Struct
}

// ProductPackageInfo is the persisted record of an installed package.
type ProductPackageInfo struct {
	// Configuration is the resolved package configuration.
	Configuration PackageConfiguration
	// Files lists the files owned by the package, relative to the product root.
	Files []PackageFileInfo
	// InstalledAt is when the record was persisted.
	InstalledAt time.Time
}

// ID returns the identity of the recorded package.
func (p *ProductPackageInfo) ID() PackageID {
	return p.Configuration.ID
}

// Clone returns a copy that shares no slices with the receiver.
func (p *ProductPackageInfo) Clone() *ProductPackageInfo {
	if p == nil {
		return nil
	}

	cloned := *p
	cloned.Files = append([]PackageFileInfo(nil), p.Files...)

	if p.Configuration.Properties != nil {
		//nolint:forcetypeassert // proto.Clone preserves the message type.
		cloned.Configuration.Properties = proto.Clone(p.Configuration.Properties).(*structpb.Struct)
	}

	return &cloned
}
