// Package deployment contains the core value types of package deployment.
//
// It defines package identities, pending file operations, persisted package
// records, the conflict policy applied when an install target already exists,
// and the error kinds the deployment engine reports.
package deployment
