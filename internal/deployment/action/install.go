package action

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/oshokin/pkgdeploy/internal/domain/deployment"
	"github.com/oshokin/pkgdeploy/internal/logger"
)

// InstallAction copies the files of a downloaded package into the product.
type InstallAction struct {
	base
}

// NewInstallAction creates an install of pkg, which must be downloaded by an earlier action.
func NewInstallAction(actx *Context, pkg *deployment.DeploymentPackageInfo, isUpdate bool) *InstallAction {
	return &InstallAction{base{ctx: actx, pkg: pkg, isUpdate: isUpdate}}
}

// Kind returns KindInstall.
func (a *InstallAction) Kind() Kind {
	return KindInstall
}

func (a *InstallAction) String() string {
	return "install " + a.pkg.ID.String()
}

// Execute installs the package files and journals the package record.
func (a *InstallAction) Execute(ctx context.Context, tx Transaction) error {
	if a.pkg.Path == "" {
		return fmt.Errorf("package %s has not been downloaded", a.pkg.ID)
	}

	logger.InfoKV(ctx, "Installing package", "update", a.isUpdate)

	files, err := a.ctx.Strategy.PackageFiles(ctx, a.pkg.ID, a.pkg.Path)
	if err != nil {
		return err
	}

	files, err = a.ctx.Events.RaiseBeforeInstall(ctx, a.event(EventBeforeInstall), files)
	if err != nil {
		return err
	}

	installed := make([]deployment.PackageFileInfo, 0, len(files))

	for _, file := range files {
		switch file.Action {
		case deployment.FileActionCopy:
			if err = tx.InstallFile(ctx, file); err != nil {
				return err
			}

			installed = append(installed, deployment.PackageFileInfo{
				Path: a.relativePath(file.Target),
			})
		case deployment.FileActionDelete:
			if err = tx.DeleteFile(ctx, file.Target); err != nil {
				return err
			}
		default:
			return fmt.Errorf("file %s: unknown action %d", file.Target, file.Action)
		}
	}

	cfg, err := a.ctx.PackageConfigs.PackageConfiguration(ctx, a.pkg.ID, a.pkg.Path)
	if err != nil {
		return err
	}

	cfg.ID = a.pkg.ID
	tx.TrackInstalledPackage(cfg, installed)

	return a.ctx.Events.RaiseAfter(ctx, a.event(EventAfterInstall))
}

// relativePath returns target relative to the product root with forward slashes.
// Targets outside the product root keep their full path.
func (a *InstallAction) relativePath(target string) string {
	target = filepath.Clean(target)

	rel, err := filepath.Rel(filepath.Clean(a.ctx.ProductPath), target)
	if err != nil || !filepath.IsLocal(rel) {
		return filepath.ToSlash(target)
	}

	return filepath.ToSlash(rel)
}
