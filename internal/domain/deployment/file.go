package deployment

import (
	"errors"
	"fmt"
	"strings"
)

// FileAction is what to do with a pending package file.
type FileAction int

const (
	// FileActionCopy installs the source file at the target path.
	FileActionCopy FileAction = iota
	// FileActionDelete removes the target path from the product.
	FileActionDelete
)

// String returns the textual form used in logs and manifests.
func (a FileAction) String() string {
	switch a {
	case FileActionCopy:
		return "copy"
	case FileActionDelete:
		return "delete"
	default:
		return fmt.Sprintf("FileAction(%d)", int(a))
	}
}

// ConflictResolution controls what happens when an install target already exists.
type ConflictResolution int

const (
	// ConflictOverride replaces the existing file, backing it up first.
	ConflictOverride ConflictResolution = iota
	// ConflictKeepExisting leaves the existing file untouched.
	ConflictKeepExisting
	// ConflictFail aborts the deployment.
	ConflictFail
)

var errUnknownConflictResolution = errors.New("unknown conflict resolution")

// String returns the textual form accepted by ParseConflictResolution.
func (c ConflictResolution) String() string {
	switch c {
	case ConflictOverride:
		return "override"
	case ConflictKeepExisting:
		return "keep"
	case ConflictFail:
		return "fail"
	default:
		return fmt.Sprintf("ConflictResolution(%d)", int(c))
	}
}

// ParseConflictResolution converts config and manifest text into a mode.
func ParseConflictResolution(s string) (ConflictResolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "override", "overwrite":
		return ConflictOverride, nil
	case "keep", "keep-existing", "keep_existing":
		return ConflictKeepExisting, nil
	case "fail":
		return ConflictFail, nil
	default:
		return ConflictFail, fmt.Errorf("%q: %w", s, errUnknownConflictResolution)
	}
}

// PackageFileDeploymentInfo is a pending file operation produced by a file-list strategy.
type PackageFileDeploymentInfo struct {
	// Source is the file inside the downloaded package.
	Source string
	// Target is the destination inside the product tree.
	Target string
	// Action selects copy or delete.
	Action FileAction
	// Conflict applies when Target already exists.
	Conflict ConflictResolution
}

// ConflictDecision is the outcome of the conflict policy.
type ConflictDecision int

const (
	// DecisionFail aborts the install.
	DecisionFail ConflictDecision = iota
	// DecisionKeep keeps the existing target.
	DecisionKeep
	// DecisionOverwrite backs up and replaces the existing target.
	DecisionOverwrite
)

// String returns a readable decision name.
func (d ConflictDecision) String() string {
	switch d {
	case DecisionKeep:
		return "keep existing"
	case DecisionOverwrite:
		return "override"
	default:
		return "fail"
	}
}

// ResolveConflict decides what to do with a target that already exists.
// Unknown modes fail.
func ResolveConflict(mode ConflictResolution) ConflictDecision {
	switch mode {
	case ConflictKeepExisting:
		return DecisionKeep
	case ConflictOverride:
		return DecisionOverwrite
	default:
		return DecisionFail
	}
}
