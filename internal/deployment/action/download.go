package action

import (
	"context"
	"fmt"

	"github.com/oshokin/pkgdeploy/internal/domain/deployment"
	"github.com/oshokin/pkgdeploy/internal/logger"
)

// DownloadAction fetches a package into the staging area.
// Downloads are not journaled, so a rollback leaves them in place.
type DownloadAction struct {
	base
}

// NewDownloadAction creates a download of pkg. The resolved path is stored back into pkg.
func NewDownloadAction(actx *Context, pkg *deployment.DeploymentPackageInfo, isUpdate bool) *DownloadAction {
	return &DownloadAction{base{ctx: actx, pkg: pkg, isUpdate: isUpdate}}
}

// Kind returns KindDownload.
func (a *DownloadAction) Kind() Kind {
	return KindDownload
}

func (a *DownloadAction) String() string {
	return "download " + a.pkg.ID.String()
}

// Execute blocks until the package is downloaded.
func (a *DownloadAction) Execute(ctx context.Context, _ Transaction) error {
	logger.Info(ctx, "Downloading package")

	if err := a.ctx.Source.Download(ctx, a.pkg.Match, a.ctx.StagingPath); err != nil {
		return err
	}

	a.pkg.Path = a.ctx.Source.PackagePath(a.pkg.ID.Name, a.pkg.ID.Version, a.ctx.StagingPath)
	if a.pkg.Path == "" {
		return fmt.Errorf("package %s: download produced no path", a.pkg.ID)
	}

	logger.DebugKV(ctx, "Package downloaded", "path", a.pkg.Path)

	return a.ctx.Events.RaiseAfter(ctx, a.event(EventAfterDownload))
}
