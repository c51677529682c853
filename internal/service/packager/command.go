package packager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/pkgdeploy/internal/domain/deployment"
	"github.com/oshokin/pkgdeploy/internal/feed"
	"github.com/oshokin/pkgdeploy/internal/logger"
)

var (
	errSourceRequired   = errors.New("source folder must be provided")
	errFeedRootRequired = errors.New("feed folder must be provided")
	errBadConflictSpec  = errors.New("conflict must look like path=mode")
)

// Options contains inputs for the packager entry point.
type Options struct {
	// Package is the name@version to publish.
	Package string
	// SourceDir holds the package files.
	SourceDir string
	// FeedRoot is the feed folder the package is published into.
	FeedRoot string
	// Conflicts lists path=mode pairs for files that need a conflict mode.
	Conflicts []string
	// Obsolete lists product files removed when the package is installed.
	Obsolete []string
	// PropertiesFile is an optional YAML file with the package properties.
	PropertiesFile string
}

// packager prepares a package manifest for distribution.
type packager struct {
	// manifest is the manifest being built.
	manifest *feed.Manifest
	// source is the folder with the package files.
	source string
	// feedRoot is the publishing destination.
	feedRoot string
}

// Run executes the packaging workflow and returns the published folder.
func Run(ctx context.Context, opts *Options) (string, error) {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "packager")

	pkg, err := newPackager(opts)
	if err != nil {
		return "", fmt.Errorf("initialize packager: %w", err)
	}

	dir, err := feed.Publish(ctx, pkg.source, pkg.feedRoot, pkg.manifest)
	if err != nil {
		return "", fmt.Errorf("packager failed: %w", err)
	}

	pkg.printNextSteps(ctx, dir)

	return dir, nil
}

func newPackager(opts *Options) (*packager, error) {
	id, err := deployment.ParsePackageRef(opts.Package)
	if err != nil {
		return nil, err
	}

	if opts.SourceDir == "" {
		return nil, errSourceRequired
	}

	if opts.FeedRoot == "" {
		return nil, errFeedRootRequired
	}

	info, err := os.Stat(opts.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("source folder: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", opts.SourceDir, errSourceRequired)
	}

	m := feed.NewManifest(id)
	m.Obsolete = append(m.Obsolete, opts.Obsolete...)

	for _, spec := range opts.Conflicts {
		name, mode, found := strings.Cut(spec, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("%q: %w", spec, errBadConflictSpec)
		}

		if m.Conflicts == nil {
			m.Conflicts = make(map[string]string)
		}

		m.Conflicts[filepath.ToSlash(name)] = mode
	}

	if opts.PropertiesFile != "" {
		if m.Properties, err = readProperties(opts.PropertiesFile); err != nil {
			return nil, err
		}
	}

	return &packager{
		manifest: m,
		source:   opts.SourceDir,
		feedRoot: opts.FeedRoot,
	}, nil
}

func readProperties(path string) (map[string]any, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read properties: %w", err)
	}

	var props map[string]any
	if err = yaml.Unmarshal(contents, &props); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}

	return props, nil
}

// printNextSteps logs human-readable guidance for next actions with the published package.
func (p *packager) printNextSteps(ctx context.Context, dir string) {
	var builder strings.Builder

	builder.WriteString("Published ")
	builder.WriteString(p.manifest.ID().String())
	builder.WriteString(" to ")
	builder.WriteString(dir)
	builder.WriteString(" with files:\n")

	for i, name := range p.manifest.SortedFiles() {
		if i > 0 {
			builder.WriteString(",\n")
		}

		builder.WriteString(name)
	}

	builder.WriteString("\n\nServe the folder ")
	builder.WriteString(p.feedRoot)
	builder.WriteString(" with \"pkgdeploy serve\" and run: pkgdeploy install ")
	builder.WriteString(p.manifest.Name)
	builder.WriteString("@")
	builder.WriteString(p.manifest.Version)

	logger.Info(ctx, builder.String())
}
