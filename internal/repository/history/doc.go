// Package history records deployment runs in a SQLite database.
//
// The schema is managed with embedded golang-migrate migrations and every
// run is keyed by a random UUID.
package history
