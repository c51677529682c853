package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	goupdate "github.com/doitdistributed/go-update"
	"golang.org/x/sync/errgroup"

	"github.com/oshokin/pkgdeploy/internal/domain/deployment"
	"github.com/oshokin/pkgdeploy/internal/logger"
)

var (
	errFeedURLRequired = errors.New("feed URL must be provided")
	errBadHTTPStatus   = errors.New("unexpected http status")
)

const defaultWorkers = 4

// HTTPSource downloads packages from a feed served over HTTP.
type HTTPSource struct {
	// baseURL is the feed root.
	baseURL *url.URL
	// client performs the requests.
	client *http.Client
	// workers bounds the parallel file downloads of one package.
	workers int
}

// SourceOption configures an HTTPSource.
type SourceOption func(*HTTPSource)

// WithTimeout bounds every request made by the source.
func WithTimeout(timeout time.Duration) SourceOption {
	return func(s *HTTPSource) {
		if timeout > 0 {
			s.client.Timeout = timeout
		}
	}
}

// WithWorkers sets how many files of one package are fetched in parallel.
func WithWorkers(workers int) SourceOption {
	return func(s *HTTPSource) {
		if workers > 0 {
			s.workers = workers
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) SourceOption {
	return func(s *HTTPSource) {
		if client != nil {
			s.client = client
		}
	}
}

// NewHTTPSource creates a source for the feed at feedURL.
func NewHTTPSource(feedURL string, opts ...SourceOption) (*HTTPSource, error) {
	if feedURL == "" {
		return nil, errFeedURLRequired
	}

	baseURL, err := url.Parse(feedURL)
	if err != nil {
		return nil, fmt.Errorf("parse feed URL: %w", err)
	}

	s := &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{},
		workers: defaultWorkers,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// PackagePath returns the staging folder of a package version.
func (s *HTTPSource) PackagePath(name, version, root string) string {
	return filepath.Join(root, name+"."+version)
}

// Manifest fetches the manifest of a package version.
func (s *HTTPSource) Manifest(ctx context.Context, match deployment.PackageMatch) (*Manifest, error) {
	data, err := s.fetch(ctx, match.Name, match.Version, ManifestFilename)
	if err != nil {
		return nil, err
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}

	if m.Name != match.Name || m.Version != match.Version {
		return nil, fmt.Errorf("%s/%s got %s: %w", match.Name, match.Version, m.ID(), errManifestMismatch)
	}

	return m, nil
}

// Download fetches the package files into its staging folder under root.
// Files are fetched in parallel and each one is verified against the manifest checksum.
func (s *HTTPSource) Download(ctx context.Context, match deployment.PackageMatch, root string) error {
	m, err := s.Manifest(ctx, match)
	if err != nil {
		return err
	}

	dir := s.PackagePath(match.Name, match.Version, root)
	if err = os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clean staging folder: %w", err)
	}

	if err = os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create staging folder: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.workers)

	for _, name := range m.SortedFiles() {
		group.Go(func() error {
			return s.downloadFile(groupCtx, m, name, dir)
		})
	}

	if err = group.Wait(); err != nil {
		return fmt.Errorf("download %s: %w", m.ID(), err)
	}

	if err = m.Save(dir); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Package downloaded", "package", m.ID().String(), "files", len(m.Files), "path", dir)

	return nil
}

// downloadFile fetches one file and applies it with go-update checksum validation.
func (s *HTTPSource) downloadFile(ctx context.Context, m *Manifest, name, dir string) error {
	sum, err := m.Checksum(name)
	if err != nil {
		return err
	}

	data, err := s.fetch(ctx, m.Name, m.Version, name)
	if err != nil {
		return err
	}

	target := filepath.Join(dir, filepath.FromSlash(name))
	if err = os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	// go-update replaces an existing file, so the target has to be there first.
	placeholder, err := os.Create(target)
	if err != nil {
		return err
	}

	if err = placeholder.Close(); err != nil {
		return err
	}

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: DefaultFileMode,
		Checksum:   sum,
		Hash:       ChecksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		_ = os.Remove(target)

		return fmt.Errorf("apply %s: %w", name, err)
	}

	oldFileName := target + ".old"
	if _, err = os.Stat(oldFileName); err == nil {
		_ = os.Remove(oldFileName)
	}

	logger.DebugKV(ctx, "Downloaded file", "file", name)

	return nil
}

// fetch reads a file of a package version from the feed.
func (s *HTTPSource) fetch(ctx context.Context, name, version, file string) ([]byte, error) {
	fileURL := *s.baseURL
	// Use path.Join to normalize duplicate slashes when composing the URL path.
	fileURL.Path = path.Join(fileURL.Path, name, version, file)
	finalURL := fileURL.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	response, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s, %s: %w", finalURL, response.Status, errBadHTTPStatus)
	}

	return io.ReadAll(response.Body)
}
