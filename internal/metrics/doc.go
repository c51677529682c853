// Package metrics exposes deployment and feed metrics in Prometheus format.
//
// The deployer is a short-lived process, so its metrics are written to a
// node-exporter textfile after each run. The feed server serves them over HTTP.
package metrics
