package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	m := New()
	m.RecordRun("committed", 2*time.Second, time.Unix(1700000000, 0))
	m.RecordAction("install")
	m.RecordAction("install")
	m.RecordFiles(3, 1)
	m.SetPackagesInstalled(2)

	path := filepath.Join(t.TempDir(), "pkgdeploy.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	text := string(data)
	require.Contains(t, text, `pkgdeploy_runs_completed_total{status="committed"} 1`)
	require.Contains(t, text, `pkgdeploy_actions_executed_total{kind="install"} 2`)
	require.Contains(t, text, `pkgdeploy_files_changed_total{operation="install"} 3`)
	require.Contains(t, text, `pkgdeploy_files_changed_total{operation="delete"} 1`)
	require.Contains(t, text, "pkgdeploy_packages_installed 2")
	require.Contains(t, text, "pkgdeploy_last_run_timestamp_seconds 1.7e+09")
}

func TestNilMetrics(t *testing.T) {
	t.Parallel()

	var m *Metrics

	m.RecordRun("committed", time.Second, time.Now())
	m.RecordAction("delete")
	m.RecordFiles(1, 1)
	m.SetPackagesInstalled(1)
	require.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))

	rec := httptest.NewRecorder()
	m.InstrumentFeed(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInstrumentFeed(t *testing.T) {
	t.Parallel()

	m := New()
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/", m.InstrumentFeed(http.NotFoundHandler()))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL + "/core/1.0.0/package.yaml")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Contains(t, string(body), `pkgdeploy_feed_requests_total{code="404"} 1`)
}
