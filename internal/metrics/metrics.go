package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pkgdeploy"

// Metrics collects pkgdeploy metrics in a private registry.
// A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runsCompleted     *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	actionsExecuted   *prometheus.CounterVec
	filesChanged      *prometheus.CounterVec
	packagesInstalled prometheus.Gauge
	lastRunTimestamp  prometheus.Gauge
	feedRequests      *prometheus.CounterVec
}

// New creates the collectors and registers them.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of deployment runs by outcome",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of deployment runs in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		actionsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_executed_total",
				Help:      "Total number of deployment actions by kind",
			},
			[]string{"kind"},
		),
		filesChanged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_changed_total",
				Help:      "Total number of committed file changes by operation",
			},
			[]string{"operation"},
		),
		packagesInstalled: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "packages_installed",
				Help:      "Number of packages installed in the product",
			},
		),
		lastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time of the last finished deployment run",
			},
		),
		feedRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feed_requests_total",
				Help:      "Total number of feed HTTP requests by status code",
			},
			[]string{"code"},
		),
	}

	m.registry.MustRegister(
		m.runsCompleted,
		m.runDuration,
		m.actionsExecuted,
		m.filesChanged,
		m.packagesInstalled,
		m.lastRunTimestamp,
		m.feedRequests,
	)

	return m
}

// RecordRun records the outcome of a deployment run.
func (m *Metrics) RecordRun(status string, duration time.Duration, finishedAt time.Time) {
	if m == nil {
		return
	}

	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.lastRunTimestamp.Set(float64(finishedAt.Unix()))
}

// RecordAction counts an executed action.
func (m *Metrics) RecordAction(kind string) {
	if m == nil {
		return
	}

	m.actionsExecuted.WithLabelValues(kind).Inc()
}

// RecordFiles counts committed file changes.
func (m *Metrics) RecordFiles(installed, deleted int) {
	if m == nil {
		return
	}

	m.filesChanged.WithLabelValues("install").Add(float64(installed))
	m.filesChanged.WithLabelValues("delete").Add(float64(deleted))
}

// SetPackagesInstalled sets the number of installed packages.
func (m *Metrics) SetPackagesInstalled(n int) {
	if m == nil {
		return
	}

	m.packagesInstalled.Set(float64(n))
}

// WriteTextfile writes every metric to path in the Prometheus text format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}

	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}

	return nil
}

// Handler serves the metrics over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InstrumentFeed counts the responses of a feed handler by status code.
func (m *Metrics) InstrumentFeed(next http.Handler) http.Handler {
	if m == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.feedRequests.WithLabelValues(strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter

	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
