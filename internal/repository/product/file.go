package product

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/pkgdeploy/internal/config"
	"github.com/oshokin/pkgdeploy/internal/domain/deployment"
)

const (
	fieldPackages    = "packages"
	fieldName        = "name"
	fieldVersion     = "version"
	fieldInstalledAt = "installed_at"
	fieldProperties  = "properties"
	fieldFiles       = "files"
)

var (
	// ErrNotInstalled is returned when a package has no record.
	ErrNotInstalled = errors.New("package is not installed")

	errMalformedRecord = errors.New("malformed package record")
)

// FileRepository persists installed package records to a JSON file on disk.
// JSON is produced and consumed via protojson from a structpb document.
type FileRepository struct {
	// path is the filesystem location of the JSON state file.
	path string
	// mu serializes read-modify-write cycles on the state file.
	mu sync.Mutex
}

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// ListPackages returns every installed package ordered by name.
func (r *FileRepository) ListPackages(_ context.Context) ([]*deployment.ProductPackageInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.load()
}

// Package returns the record of the installed package with the given name.
func (r *FileRepository) Package(_ context.Context, name string) (*deployment.ProductPackageInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	packages, err := r.load()
	if err != nil {
		return nil, err
	}

	for _, p := range packages {
		if p.ID().Name == name {
			return p, nil
		}
	}

	return nil, fmt.Errorf("%s: %w", name, ErrNotInstalled)
}

// InstalledFiles returns the product-relative files of the package.
// With exclusive set, files that another installed package also owns are omitted.
func (r *FileRepository) InstalledFiles(_ context.Context, id deployment.PackageID,
	exclusive bool,
) ([]deployment.PackageFileInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	packages, err := r.load()
	if err != nil {
		return nil, err
	}

	idx := slices.IndexFunc(packages, func(p *deployment.ProductPackageInfo) bool { return p.ID() == id })
	if idx < 0 {
		return nil, fmt.Errorf("%s: %w", id, ErrNotInstalled)
	}

	shared := make(map[string]struct{})

	if exclusive {
		for i, p := range packages {
			if i == idx {
				continue
			}

			for _, f := range p.Files {
				shared[f.Path] = struct{}{}
			}
		}
	}

	files := make([]deployment.PackageFileInfo, 0, len(packages[idx].Files))

	for _, f := range packages[idx].Files {
		if _, ok := shared[f.Path]; ok {
			continue
		}

		files = append(files, f)
	}

	return files, nil
}

// RemovePackage drops the record of the package and returns it.
// It returns nil without error when the package has no record.
func (r *FileRepository) RemovePackage(_ context.Context, id deployment.PackageID) (*deployment.ProductPackageInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	packages, err := r.load()
	if err != nil {
		return nil, err
	}

	idx := slices.IndexFunc(packages, func(p *deployment.ProductPackageInfo) bool { return p.ID() == id })
	if idx < 0 {
		return nil, nil //nolint:nilnil // a missing record is not an error here.
	}

	removed := packages[idx]

	if err = r.save(slices.Delete(packages, idx, idx+1)); err != nil {
		return nil, err
	}

	return removed, nil
}

// SavePackage adds the record or replaces the record with the same package name.
func (r *FileRepository) SavePackage(_ context.Context, info *deployment.ProductPackageInfo) error {
	if info == nil || info.ID().Name == "" {
		return errMalformedRecord
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	packages, err := r.load()
	if err != nil {
		return err
	}

	record := info.Clone()
	if record.InstalledAt.IsZero() {
		record.InstalledAt = time.Now()
	}

	idx := slices.IndexFunc(packages, func(p *deployment.ProductPackageInfo) bool { return p.ID().Name == info.ID().Name })
	if idx < 0 {
		packages = append(packages, record)
	} else {
		packages[idx] = record
	}

	return r.save(packages)
}

// load reads the records, treating a missing file as an empty product.
func (r *FileRepository) load() ([]*deployment.ProductPackageInfo, error) {
	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("read state file: %w", err)
	}

	var doc structpb.Struct
	if err = protojson.Unmarshal(contents, &doc); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	return fromProto(&doc)
}

func (r *FileRepository) save(packages []*deployment.ProductPackageInfo) error {
	sort.Slice(packages, func(i, j int) bool { return packages[i].ID().Name < packages[j].ID().Name })

	marshalOptions := protojson.MarshalOptions{
		Multiline: true,
		Indent:    "  ",
	}

	data, err := marshalOptions.Marshal(toProto(packages))
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create state folder: %w", err)
	}

	if err = os.WriteFile(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	return nil
}

// fromProto converts the stored document into package records.
func fromProto(doc *structpb.Struct) ([]*deployment.ProductPackageInfo, error) {
	list := doc.GetFields()[fieldPackages].GetListValue()
	result := make([]*deployment.ProductPackageInfo, 0, len(list.GetValues()))

	for i, v := range list.GetValues() {
		fields := v.GetStructValue().GetFields()

		name := fields[fieldName].GetStringValue()
		if name == "" {
			return nil, fmt.Errorf("package #%d: %w", i, errMalformedRecord)
		}

		record := &deployment.ProductPackageInfo{
			Configuration: deployment.PackageConfiguration{
				ID: deployment.PackageID{
					Name:    name,
					Version: fields[fieldVersion].GetStringValue(),
				},
				Properties: fields[fieldProperties].GetStructValue(),
			},
		}

		if ts := fields[fieldInstalledAt].GetStringValue(); ts != "" {
			installedAt, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil {
				return nil, fmt.Errorf("package %s: %w", name, err)
			}

			record.InstalledAt = installedAt
		}

		for _, f := range fields[fieldFiles].GetListValue().GetValues() {
			record.Files = append(record.Files, deployment.PackageFileInfo{Path: f.GetStringValue()})
		}

		result = append(result, record)
	}

	return result, nil
}

// toProto converts package records into the stored document.
func toProto(packages []*deployment.ProductPackageInfo) *structpb.Struct {
	values := make([]*structpb.Value, 0, len(packages))

	for _, p := range packages {
		files := make([]*structpb.Value, 0, len(p.Files))
		for _, f := range p.Files {
			files = append(files, structpb.NewStringValue(f.Path))
		}

		props := p.Configuration.Properties
		if props == nil {
			props = &structpb.Struct{}
		}

		record := &structpb.Struct{
			Fields: map[string]*structpb.Value{
				fieldName:       structpb.NewStringValue(p.ID().Name),
				fieldVersion:    structpb.NewStringValue(p.ID().Version),
				fieldProperties: structpb.NewStructValue(props),
				fieldFiles:      structpb.NewListValue(&structpb.ListValue{Values: files}),
			},
		}

		if !p.InstalledAt.IsZero() {
			record.Fields[fieldInstalledAt] = structpb.NewStringValue(p.InstalledAt.UTC().Format(time.RFC3339Nano))
		}

		values = append(values, structpb.NewStructValue(record))
	}

	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			fieldPackages: structpb.NewListValue(&structpb.ListValue{Values: values}),
		},
	}
}
