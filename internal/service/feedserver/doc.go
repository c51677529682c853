// Package feedserver serves a feed folder over HTTP together with a gRPC
// health endpoint that deployers probe before downloading.
package feedserver
