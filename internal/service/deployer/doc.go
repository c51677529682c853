// Package deployer drives a deployment run.
//
// It compares the requested packages with the installed ones, plans the
// download, install and delete actions, runs them inside one transaction and
// commits only when every action succeeded. Installed package records, run
// history and metrics are written as part of the run.
package deployer
