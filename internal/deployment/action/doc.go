// Package action holds the deployment actions that drive a transaction:
// downloading a package, installing it and deleting it.
package action
