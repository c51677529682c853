package feed

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/pkgdeploy/internal/domain/deployment"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// publish builds a package from files and publishes it into a new feed root.
func publish(t *testing.T, m *Manifest, files map[string]string) string {
	t.Helper()

	src, feedRoot := t.TempDir(), t.TempDir()
	for name, content := range files {
		writeFile(t, filepath.Join(src, filepath.FromSlash(name)), content)
	}

	dir, err := Publish(context.Background(), src, feedRoot, m)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(feedRoot, m.Name, m.Version), dir)

	return feedRoot
}

func TestManifest_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		manifest Manifest
		wantErr  bool
	}{
		{name: "valid", manifest: Manifest{Name: "core", Version: "1", Files: map[string]string{"bin/core": "AAAA"}}},
		{name: "no version", manifest: Manifest{Name: "core"}, wantErr: true},
		{name: "parent path", manifest: Manifest{Name: "core", Version: "1", Files: map[string]string{"../x": "AAAA"}}, wantErr: true},
		{name: "absolute path", manifest: Manifest{Name: "core", Version: "1", Files: map[string]string{"/etc/x": "AAAA"}}, wantErr: true},
		{name: "manifest as file", manifest: Manifest{Name: "core", Version: "1", Files: map[string]string{ManifestFilename: "AAAA"}}, wantErr: true},
		{name: "bad checksum", manifest: Manifest{Name: "core", Version: "1", Files: map[string]string{"a": "%%"}}, wantErr: true},
		{
			name: "bad conflict",
			manifest: Manifest{
				Name: "core", Version: "1",
				Files:     map[string]string{"a": "AAAA"},
				Conflicts: map[string]string{"a": "merge"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.manifest.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestManifest_ConflictAndProperties(t *testing.T) {
	t.Parallel()

	m := &Manifest{
		Name:       "core",
		Version:    "1.0.0",
		Conflicts:  map[string]string{"app.ini": "keep"},
		Properties: map[string]any{"channel": "beta", "replicas": 3},
	}

	require.Equal(t, deployment.ConflictKeepExisting, m.Conflict("app.ini", deployment.ConflictFail))
	require.Equal(t, deployment.ConflictFail, m.Conflict("bin/core", deployment.ConflictFail))

	props, err := m.PropertiesStruct()
	require.NoError(t, err)
	require.Equal(t, "beta", props.GetFields()["channel"].GetStringValue())
	require.InDelta(t, 3, props.GetFields()["replicas"].GetNumberValue(), 0)

	empty, err := (&Manifest{}).PropertiesStruct()
	require.NoError(t, err)
	require.Empty(t, empty.GetFields())
}

func TestPublish_WritesManifest(t *testing.T) {
	t.Parallel()

	m := NewManifest(deployment.PackageID{Name: "core", Version: "1.0.0"})
	m.Conflicts = map[string]string{"app.ini": "keep"}

	feedRoot := publish(t, m, map[string]string{"bin/core": "binary", "app.ini": "a=1"})

	got, err := ReadManifest(PackagePath(feedRoot, "core", "1.0.0"))
	require.NoError(t, err)
	require.Equal(t, []string{"app.ini", "bin/core"}, got.SortedFiles())
	require.Equal(t, "keep", got.Conflicts["app.ini"])

	want, err := FileChecksum(filepath.Join(feedRoot, "core", "1.0.0", "bin", "core"))
	require.NoError(t, err)

	sum, err := got.Checksum("bin/core")
	require.NoError(t, err)
	require.Equal(t, want, sum)
}

func TestHTTPSource_Download(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewManifest(deployment.PackageID{Name: "core", Version: "1.0.0"})
	feedRoot := publish(t, m, map[string]string{"bin/core": "binary", "app.ini": "a=1", "docs/readme.md": "hi"})

	server := httptest.NewServer(http.FileServer(http.Dir(feedRoot)))
	t.Cleanup(server.Close)

	source, err := NewHTTPSource(server.URL+"/", WithWorkers(2), WithTimeout(5*time.Second))
	require.NoError(t, err)

	staging := t.TempDir()
	writeFile(t, filepath.Join(staging, "core.1.0.0", "stale.txt"), "old")

	require.NoError(t, source.Download(ctx, deployment.PackageMatch{Name: "core", Version: "1.0.0"}, staging))

	dir := source.PackagePath("core", "1.0.0", staging)
	require.Equal(t, filepath.Join(staging, "core.1.0.0"), dir)

	data, err := os.ReadFile(filepath.Join(dir, "bin", "core"))
	require.NoError(t, err)
	require.Equal(t, "binary", string(data))
	require.FileExists(t, filepath.Join(dir, "docs", "readme.md"))
	require.FileExists(t, filepath.Join(dir, ManifestFilename))
	require.NoFileExists(t, filepath.Join(dir, "stale.txt"))
	require.NoFileExists(t, filepath.Join(dir, "bin", "core.old"))
}

func TestHTTPSource_ChecksumMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewManifest(deployment.PackageID{Name: "core", Version: "1.0.0"})
	feedRoot := publish(t, m, map[string]string{"bin/core": "binary"})

	// Tamper with the published file after its checksum was recorded.
	writeFile(t, filepath.Join(feedRoot, "core", "1.0.0", "bin", "core"), "tampered")

	server := httptest.NewServer(http.FileServer(http.Dir(feedRoot)))
	t.Cleanup(server.Close)

	source, err := NewHTTPSource(server.URL)
	require.NoError(t, err)

	err = source.Download(ctx, deployment.PackageMatch{Name: "core", Version: "1.0.0"}, t.TempDir())
	require.ErrorContains(t, err, "apply bin/core")
}

func TestHTTPSource_MissingPackage(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.FileServer(http.Dir(t.TempDir())))
	t.Cleanup(server.Close)

	source, err := NewHTTPSource(server.URL)
	require.NoError(t, err)

	err = source.Download(context.Background(), deployment.PackageMatch{Name: "core", Version: "9"}, t.TempDir())
	require.ErrorIs(t, err, errBadHTTPStatus)
}

func TestHTTPSource_ManifestMismatch(t *testing.T) {
	t.Parallel()

	m := NewManifest(deployment.PackageID{Name: "core", Version: "1.0.0"})
	feedRoot := publish(t, m, map[string]string{"a": "A"})
	require.NoError(t, os.Rename(filepath.Join(feedRoot, "core", "1.0.0"), filepath.Join(feedRoot, "core", "2.0.0")))

	server := httptest.NewServer(http.FileServer(http.Dir(feedRoot)))
	t.Cleanup(server.Close)

	source, err := NewHTTPSource(server.URL)
	require.NoError(t, err)

	_, err = source.Manifest(context.Background(), deployment.PackageMatch{Name: "core", Version: "2.0.0"})
	require.ErrorIs(t, err, errManifestMismatch)
}

func TestNewHTTPSource_RequiresURL(t *testing.T) {
	t.Parallel()

	_, err := NewHTTPSource("")
	require.ErrorIs(t, err, errFeedURLRequired)
}

func TestCheckHealth(t *testing.T) {
	t.Parallel()

	lis, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_SERVING)

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	go func() {
		_ = grpcServer.Serve(lis)
	}()

	t.Cleanup(grpcServer.Stop)

	ctx := context.Background()
	require.NoError(t, CheckHealth(ctx, lis.Addr().String(), 5*time.Second))

	healthServer.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	require.ErrorIs(t, CheckHealth(ctx, lis.Addr().String(), 5*time.Second), errFeedNotServing)

	require.ErrorIs(t, CheckHealth(ctx, "", time.Second), errAddressRequired)
}
