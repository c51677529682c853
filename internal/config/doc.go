// Package config defines the deployer settings and helpers to load, validate
// and save them in YAML format.
//
// The Config type points the deployer at the product directory, the package
// feed and the local state files, and controls rollback-related behavior such
// as whether configuration changes are journaled.
package config
