package action_test

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"slices"
	"sync"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/pkgdeploy/internal/deployment/action"
	"github.com/oshokin/pkgdeploy/internal/domain/deployment"
)

// stagedSource serves packages that are already present under the staging root.
type stagedSource struct {
	downloads []deployment.PackageMatch
	err       error
}

func (s *stagedSource) Download(_ context.Context, match deployment.PackageMatch, _ string) error {
	s.downloads = append(s.downloads, match)

	return s.err
}

func (s *stagedSource) PackagePath(name, version, root string) string {
	return filepath.Join(root, name+"."+version)
}

// mirrorStrategy maps every package file to the same relative path under the product.
type mirrorStrategy struct {
	productPath string
	conflict    deployment.ConflictResolution
	order       []string
}

func (s *mirrorStrategy) PackageFiles(_ context.Context, _ deployment.PackageID,
	packagePath string,
) ([]deployment.PackageFileDeploymentInfo, error) {
	var rels []string

	err := filepath.WalkDir(packagePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		rel, err := filepath.Rel(packagePath, path)
		if err != nil {
			return err
		}

		rels = append(rels, rel)

		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(s.order) > 0 {
		rels = s.order
	}

	files := make([]deployment.PackageFileDeploymentInfo, 0, len(rels))
	for _, rel := range rels {
		files = append(files, deployment.PackageFileDeploymentInfo{
			Source:   filepath.Join(packagePath, rel),
			Target:   filepath.Join(s.productPath, rel),
			Action:   deployment.FileActionCopy,
			Conflict: s.conflict,
		})
	}

	return files, nil
}

// nameConfigs returns a configuration holding the package name.
type nameConfigs struct{}

func (nameConfigs) PackageConfiguration(_ context.Context, id deployment.PackageID,
	_ string,
) (deployment.PackageConfiguration, error) {
	props, err := structpb.NewStruct(map[string]any{"name": id.Name})
	if err != nil {
		return deployment.PackageConfiguration{}, err
	}

	return deployment.PackageConfiguration{ID: id, Properties: props}, nil
}

// memProducts keeps package records in memory.
type memProducts struct {
	mu       sync.Mutex
	packages map[string]*deployment.ProductPackageInfo
}

func newMemProducts(records ...*deployment.ProductPackageInfo) *memProducts {
	p := &memProducts{packages: make(map[string]*deployment.ProductPackageInfo)}
	for _, r := range records {
		p.packages[r.ID().Name] = r
	}

	return p
}

func (p *memProducts) InstalledFiles(_ context.Context, id deployment.PackageID,
	exclusive bool,
) ([]deployment.PackageFileInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	record, ok := p.packages[id.Name]
	if !ok || record.ID() != id {
		return nil, errors.New("package is not installed")
	}

	var files []deployment.PackageFileInfo

	for _, file := range record.Files {
		if exclusive && p.sharedLocked(id, file.Path) {
			continue
		}

		files = append(files, file)
	}

	return files, nil
}

func (p *memProducts) sharedLocked(id deployment.PackageID, path string) bool {
	for _, other := range p.packages {
		if other.ID() == id {
			continue
		}

		if slices.ContainsFunc(other.Files, func(f deployment.PackageFileInfo) bool { return f.Path == path }) {
			return true
		}
	}

	return false
}

func (p *memProducts) RemovePackage(_ context.Context, id deployment.PackageID) (*deployment.ProductPackageInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	record, ok := p.packages[id.Name]
	if !ok {
		return nil, nil
	}

	delete(p.packages, id.Name)

	return record, nil
}

func (p *memProducts) SavePackage(_ context.Context, info *deployment.ProductPackageInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.packages[info.ID().Name] = info.Clone()

	return nil
}

func (p *memProducts) ListPackages(_ context.Context) ([]*deployment.ProductPackageInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := make([]*deployment.ProductPackageInfo, 0, len(p.packages))
	for _, r := range p.packages {
		result = append(result, r.Clone())
	}

	return result, nil
}

func (p *memProducts) has(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.packages[name]

	return ok
}

var (
	_ action.PackageSource                = (*stagedSource)(nil)
	_ action.FileListStrategy             = (*mirrorStrategy)(nil)
	_ action.PackageConfigurationProvider = nameConfigs{}
	_ action.ProductConfigurationProvider = (*memProducts)(nil)
)
