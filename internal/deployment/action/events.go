package action

import (
	"context"
	"fmt"

	"github.com/oshokin/pkgdeploy/internal/domain/deployment"
)

// EventKind identifies a lifecycle event.
type EventKind int

const (
	// EventAfterDownload is raised once a package is in the staging area.
	EventAfterDownload EventKind = iota
	// EventBeforeInstall is raised with the candidate file list of an install.
	EventBeforeInstall
	// EventAfterInstall is raised once the package files are in place.
	EventAfterInstall
	// EventBeforeUninstall is raised with the candidate file list of a delete.
	EventBeforeUninstall
	// EventAfterUninstall is raised once the package files are gone.
	EventAfterUninstall
)

// String returns the name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventAfterDownload:
		return "after_download"
	case EventBeforeInstall:
		return "before_install"
	case EventAfterInstall:
		return "after_install"
	case EventBeforeUninstall:
		return "before_uninstall"
	case EventAfterUninstall:
		return "after_uninstall"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event describes a lifecycle step of a package.
type Event struct {
	Kind     EventKind
	Package  deployment.PackageID
	Path     string
	IsUpdate bool
}

type (
	// BeforeInstallFunc receives the candidate list and returns the list to install.
	BeforeInstallFunc func(ctx context.Context, event Event,
		files []deployment.PackageFileDeploymentInfo) ([]deployment.PackageFileDeploymentInfo, error)

	// BeforeUninstallFunc receives the absolute candidate paths and returns the paths to delete.
	BeforeUninstallFunc func(ctx context.Context, event Event,
		files []deployment.PackageFileInfo) ([]deployment.PackageFileInfo, error)

	// AfterFunc observes a completed step.
	AfterFunc func(ctx context.Context, event Event) error
)

// EventBus delivers lifecycle events synchronously in subscription order.
// A nil bus delivers nothing.
type EventBus struct {
	beforeInstall   []BeforeInstallFunc
	beforeUninstall []BeforeUninstallFunc
	after           []AfterFunc
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// OnBeforeInstall subscribes to EventBeforeInstall.
func (b *EventBus) OnBeforeInstall(fn BeforeInstallFunc) {
	b.beforeInstall = append(b.beforeInstall, fn)
}

// OnBeforeUninstall subscribes to EventBeforeUninstall.
func (b *EventBus) OnBeforeUninstall(fn BeforeUninstallFunc) {
	b.beforeUninstall = append(b.beforeUninstall, fn)
}

// OnAfter subscribes to every "after" event.
func (b *EventBus) OnAfter(fn AfterFunc) {
	b.after = append(b.after, fn)
}

// RaiseBeforeInstall passes an owned copy of files through the subscribers in turn.
func (b *EventBus) RaiseBeforeInstall(ctx context.Context, event Event,
	files []deployment.PackageFileDeploymentInfo,
) ([]deployment.PackageFileDeploymentInfo, error) {
	result := append([]deployment.PackageFileDeploymentInfo(nil), files...)
	if b == nil {
		return result, nil
	}

	for _, fn := range b.beforeInstall {
		var err error
		if result, err = fn(ctx, event, result); err != nil {
			return nil, fmt.Errorf("%s subscriber: %w", event.Kind, err)
		}
	}

	return result, nil
}

// RaiseBeforeUninstall passes an owned copy of files through the subscribers in turn.
func (b *EventBus) RaiseBeforeUninstall(ctx context.Context, event Event,
	files []deployment.PackageFileInfo,
) ([]deployment.PackageFileInfo, error) {
	result := append([]deployment.PackageFileInfo(nil), files...)
	if b == nil {
		return result, nil
	}

	for _, fn := range b.beforeUninstall {
		var err error
		if result, err = fn(ctx, event, result); err != nil {
			return nil, fmt.Errorf("%s subscriber: %w", event.Kind, err)
		}
	}

	return result, nil
}

// RaiseAfter notifies the "after" subscribers, stopping at the first error.
func (b *EventBus) RaiseAfter(ctx context.Context, event Event) error {
	if b == nil {
		return nil
	}

	for _, fn := range b.after {
		if err := fn(ctx, event); err != nil {
			return fmt.Errorf("%s subscriber: %w", event.Kind, err)
		}
	}

	return nil
}
