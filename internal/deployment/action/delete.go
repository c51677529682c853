package action

import (
	"context"

	"github.com/oshokin/pkgdeploy/internal/domain/deployment"
	"github.com/oshokin/pkgdeploy/internal/logger"
)

// DeleteAction removes an installed package from the product.
type DeleteAction struct {
	base
}

// NewDeleteAction creates a delete of the installed package id.
func NewDeleteAction(actx *Context, id deployment.PackageID, isUpdate bool) *DeleteAction {
	return &DeleteAction{base{ctx: actx, pkg: deployment.NewDeploymentPackageInfo(id), isUpdate: isUpdate}}
}

// Kind returns KindDelete.
func (a *DeleteAction) Kind() Kind {
	return KindDelete
}

func (a *DeleteAction) String() string {
	return "delete " + a.pkg.ID.String()
}

// Execute deletes the files only this package owns and drops its record.
func (a *DeleteAction) Execute(ctx context.Context, tx Transaction) error {
	id := a.pkg.ID

	logger.InfoKV(ctx, "Uninstalling package", "update", a.isUpdate)

	owned, err := a.ctx.Products.InstalledFiles(ctx, id, true)
	if err != nil {
		return err
	}

	candidates := make([]deployment.PackageFileInfo, 0, len(owned))
	for _, file := range owned {
		candidates = append(candidates, deployment.PackageFileInfo{Path: file.Resolve(a.ctx.ProductPath)})
	}

	files, err := a.ctx.Events.RaiseBeforeUninstall(ctx, a.event(EventBeforeUninstall), candidates)
	if err != nil {
		return err
	}

	for _, file := range files {
		if err = tx.DeleteFile(ctx, file.Path); err != nil {
			return err
		}
	}

	removed, err := a.ctx.Products.RemovePackage(ctx, id)
	if err != nil {
		return err
	}

	if removed != nil && a.ctx.JournalConfiguration {
		products := a.ctx.Products

		tx.OnRollback("restore record of "+id.String(), func(ctx context.Context) error {
			return products.SavePackage(ctx, removed)
		})
	}

	tx.TrackDeletedPackage(id)

	return a.ctx.Events.RaiseAfter(ctx, a.event(EventAfterUninstall))
}
