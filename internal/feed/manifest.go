package feed

import (
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/pkgdeploy/internal/domain/deployment"

	// Ensure SHA512 available for checksum calculation.
	_ "crypto/sha512"
)

const (
	// ManifestFilename is the manifest stored next to the package files.
	ManifestFilename = "package.yaml"

	// ChecksumFunction is used to calculate package file hashes.
	ChecksumFunction crypto.Hash = crypto.SHA512

	// DefaultFileMode is used for downloaded and published files.
	DefaultFileMode os.FileMode = 0o755
)

var (
	errHashUnavailable  = errors.New("hash function unavailable")
	errManifestIdentity = errors.New("manifest must name the package and its version")
	errUnsafeFilePath   = errors.New("file path escapes the package folder")
	errNoChecksum       = errors.New("checksum missing for file")
	errManifestMismatch = errors.New("manifest describes another package")
)

// Manifest describes one package version in the feed.
type Manifest struct {
	// Name is the package name.
	Name string `yaml:"name"`
	// Version is the package version.
	Version string `yaml:"version"`
	// Files maps slash-separated package paths to base64-encoded checksums.
	Files map[string]string `yaml:"files"`
	// Conflicts optionally maps package paths to a conflict mode (keep, override, fail).
	Conflicts map[string]string `yaml:"conflicts,omitempty"`
	// Obsolete lists product-relative files removed from the product when the package is installed.
	Obsolete []string `yaml:"obsolete,omitempty"`
	// Properties is the configuration persisted for the installed package.
	Properties map[string]any `yaml:"properties,omitempty"`
}

// NewManifest creates an empty manifest for the package.
func NewManifest(id deployment.PackageID) *Manifest {
	return &Manifest{
		Name:    id.Name,
		Version: id.Version,
		Files:   make(map[string]string),
	}
}

// ID returns the package identity.
func (m *Manifest) ID() deployment.PackageID {
	return deployment.PackageID{Name: m.Name, Version: m.Version}
}

// Validate checks the identity, the file paths, checksums and conflict modes.
func (m *Manifest) Validate() error {
	if m.Name == "" || m.Version == "" {
		return errManifestIdentity
	}

	for name, sum := range m.Files {
		if name == ManifestFilename || !isPackagePath(name) {
			return fmt.Errorf("%s: %w", name, errUnsafeFilePath)
		}

		if _, err := base64.StdEncoding.DecodeString(sum); err != nil {
			return fmt.Errorf("checksum of %s: %w", name, err)
		}
	}

	for _, name := range m.Obsolete {
		if !isPackagePath(name) {
			return fmt.Errorf("obsolete %s: %w", name, errUnsafeFilePath)
		}
	}

	for name, mode := range m.Conflicts {
		if _, err := deployment.ParseConflictResolution(mode); err != nil {
			return fmt.Errorf("conflict of %s: %w", name, err)
		}
	}

	return nil
}

// isPackagePath reports whether name is a clean slash path that stays inside its root.
func isPackagePath(name string) bool {
	return filepath.IsLocal(filepath.FromSlash(name)) && path.Clean(name) == name
}

// SortedFiles returns the package paths in lexical order.
func (m *Manifest) SortedFiles() []string {
	files := make([]string, 0, len(m.Files))
	for name := range m.Files {
		files = append(files, name)
	}

	sort.Strings(files)

	return files
}

// Checksum returns the decoded checksum of a package file.
func (m *Manifest) Checksum(name string) ([]byte, error) {
	encoded, ok := m.Files[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, errNoChecksum)
	}

	return base64.StdEncoding.DecodeString(encoded)
}

// Conflict returns the conflict mode of a package file, or def when none is set.
func (m *Manifest) Conflict(name string, def deployment.ConflictResolution) deployment.ConflictResolution {
	mode, ok := m.Conflicts[name]
	if !ok {
		return def
	}

	parsed, err := deployment.ParseConflictResolution(mode)
	if err != nil {
		return def
	}

	return parsed
}

// PropertiesStruct converts the properties into a protobuf Struct.
func (m *Manifest) PropertiesStruct() (*structpb.Struct, error) {
	if len(m.Properties) == 0 {
		return &structpb.Struct{}, nil
	}

	props, err := structpb.NewStruct(m.Properties)
	if err != nil {
		return nil, fmt.Errorf("properties of %s: %w", m.ID(), err)
	}

	return props, nil
}

// ParseManifest decodes and validates manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// ReadManifest reads the manifest stored in a package folder.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFilename))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	return ParseManifest(data)
}

// Save writes the manifest into a package folder.
func (m *Manifest) Save(dir string) error {
	contents, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	return os.WriteFile(filepath.Join(dir, ManifestFilename), contents, DefaultFileMode)
}

// FileChecksum returns checksum bytes for a file using ChecksumFunction.
func FileChecksum(path string) ([]byte, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	return checksum(contents)
}

func checksum(contents []byte) ([]byte, error) {
	if !ChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	hasher := ChecksumFunction.New()
	if _, err := hasher.Write(contents); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}
