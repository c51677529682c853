package action

import (
	"context"
	"fmt"

	"github.com/oshokin/pkgdeploy/internal/domain/deployment"
	"github.com/oshokin/pkgdeploy/internal/logger"
)

// Kind identifies the variant of an action.
type Kind int

const (
	// KindDownload fetches a package into the staging area.
	KindDownload Kind = iota
	// KindInstall copies package files into the product.
	KindInstall
	// KindDelete removes an installed package from the product.
	KindDelete
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindDownload:
		return "download"
	case KindInstall:
		return "install"
	case KindDelete:
		return "delete"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Transaction is the part of the deployment transaction the actions need.
type Transaction interface {
	DeleteFile(ctx context.Context, path string) error
	InstallFile(ctx context.Context, file deployment.PackageFileDeploymentInfo) error
	TrackDeletedPackage(id deployment.PackageID)
	TrackInstalledPackage(cfg deployment.PackageConfiguration, files []deployment.PackageFileInfo)
	OnRollback(name string, fn func(ctx context.Context) error)
}

// Action is one ordered unit of work of a deployment run.
// The set of implementations is closed: *DownloadAction, *InstallAction and *DeleteAction.
type Action interface {
	fmt.Stringer

	Execute(ctx context.Context, tx Transaction) error
	Kind() Kind
	PackageID() deployment.PackageID

	sealed()
}

// Context is shared by every action of a run.
type Context struct {
	// ProductPath is the product root all targets live under.
	ProductPath string
	// StagingPath is where packages are downloaded to.
	StagingPath string
	// Source downloads packages.
	Source PackageSource
	// Strategy lists the files of a downloaded package.
	Strategy FileListStrategy
	// PackageConfigs builds the persisted configuration of an installed package.
	PackageConfigs PackageConfigurationProvider
	// Products stores which packages and files are installed.
	Products ProductConfigurationProvider
	// Events receives lifecycle events, may be nil.
	Events *EventBus
	// JournalConfiguration restores removed package records on rollback.
	JournalConfiguration bool
}

// base carries what every action variant shares.
type base struct {
	ctx      *Context
	pkg      *deployment.DeploymentPackageInfo
	isUpdate bool
}

func (b *base) PackageID() deployment.PackageID {
	return b.pkg.ID
}

func (b *base) event(kind EventKind) Event {
	return Event{
		Kind:     kind,
		Package:  b.pkg.ID,
		Path:     b.pkg.Path,
		IsUpdate: b.isUpdate,
	}
}

func (b *base) sealed() {}

// RunAll executes the actions in order and stops at the first failure.
// The returned error names the failing action and still matches the original kind.
func RunAll(ctx context.Context, tx Transaction, actions []Action) error {
	for i, a := range actions {
		actionCtx := logger.WithKV(ctx, "action", a.Kind().String(), "package", a.PackageID().String())

		logger.DebugKV(actionCtx, "Executing action", "step", i+1, "total", len(actions))

		if err := a.Execute(actionCtx, tx); err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
	}

	return nil
}
