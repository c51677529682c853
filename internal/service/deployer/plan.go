package deployer

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/oshokin/pkgdeploy/internal/deployment/action"
	"github.com/oshokin/pkgdeploy/internal/domain/deployment"
)

var (
	errDuplicatePackage   = errors.New("package requested more than once")
	errConflictingRequest = errors.New("package is both installed and uninstalled")
	errNotInstalled       = errors.New("package is not installed")
)

// Step is one planned action.
type Step struct {
	Kind     action.Kind
	Package  deployment.PackageID
	IsUpdate bool
}

// String renders the step for plan output.
func (s Step) String() string {
	if s.IsUpdate {
		return fmt.Sprintf("%s %s (update)", s.Kind, s.Package)
	}

	return fmt.Sprintf("%s %s", s.Kind, s.Package)
}

// Plan orders the steps that bring the installed packages to the requested state.
// Requested packages come first in request order: a new package is downloaded and
// installed, a different version of an installed package is downloaded, the old
// version deleted and the new one installed. Removals follow in request order.
// A package already installed at the requested version is skipped.
func Plan(installed []*deployment.ProductPackageInfo, install []deployment.PackageID, uninstall []string) ([]Step, error) {
	current := make(map[string]deployment.PackageID, len(installed))
	for _, p := range installed {
		current[p.ID().Name] = p.ID()
	}

	seen := make(map[string]struct{}, len(install)+len(uninstall))

	var steps []Step

	for _, id := range install {
		if _, dup := seen[id.Name]; dup {
			return nil, fmt.Errorf("%s: %w", id.Name, errDuplicatePackage)
		}

		seen[id.Name] = struct{}{}

		old, ok := current[id.Name]

		switch {
		case !ok:
			steps = append(steps,
				Step{Kind: action.KindDownload, Package: id},
				Step{Kind: action.KindInstall, Package: id})
		case old == id:
			continue
		default:
			steps = append(steps,
				Step{Kind: action.KindDownload, Package: id, IsUpdate: true},
				Step{Kind: action.KindDelete, Package: old, IsUpdate: true},
				Step{Kind: action.KindInstall, Package: id, IsUpdate: true})
		}
	}

	for _, name := range uninstall {
		if _, dup := seen[name]; dup {
			if slices.ContainsFunc(install, func(id deployment.PackageID) bool { return id.Name == name }) {
				return nil, fmt.Errorf("%s: %w", name, errConflictingRequest)
			}

			return nil, fmt.Errorf("%s: %w", name, errDuplicatePackage)
		}

		seen[name] = struct{}{}

		old, ok := current[name]
		if !ok {
			return nil, fmt.Errorf("%s: %w", name, errNotInstalled)
		}

		steps = append(steps, Step{Kind: action.KindDelete, Package: old})
	}

	return steps, nil
}

// buildActions turns the steps into actions sharing one deployment entry per package version.
func buildActions(actx *action.Context, steps []Step) []action.Action {
	packages := make(map[deployment.PackageID]*deployment.DeploymentPackageInfo)
	entry := func(id deployment.PackageID) *deployment.DeploymentPackageInfo {
		info, ok := packages[id]
		if !ok {
			info = deployment.NewDeploymentPackageInfo(id)
			packages[id] = info
		}

		return info
	}

	actions := make([]action.Action, 0, len(steps))

	for _, s := range steps {
		switch s.Kind {
		case action.KindDownload:
			actions = append(actions, action.NewDownloadAction(actx, entry(s.Package), s.IsUpdate))
		case action.KindInstall:
			actions = append(actions, action.NewInstallAction(actx, entry(s.Package), s.IsUpdate))
		case action.KindDelete:
			actions = append(actions, action.NewDeleteAction(actx, s.Package, s.IsUpdate))
		}
	}

	return actions
}

func needsFeed(steps []Step) bool {
	return slices.ContainsFunc(steps, func(s Step) bool { return s.Kind == action.KindDownload })
}

func printPlan(w io.Writer, steps []Step) error {
	if len(steps) == 0 {
		_, err := fmt.Fprintln(w, "Nothing to do")

		return err
	}

	for i, s := range steps {
		if _, err := fmt.Fprintf(w, "%d. %s\n", i+1, s); err != nil {
			return err
		}
	}

	return nil
}
