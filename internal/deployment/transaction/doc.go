// Package transaction implements the journal that makes a deployment run
// all-or-nothing.
//
// Every file the run installs, every file it deletes and every folder it
// creates is performed on disk immediately and recorded in the journal.
// Deleted files are copied to a private backup folder first. Commit forgets
// the journal; Close without a preceding Commit undoes the recorded changes.
// Close always removes the backup folder.
//
// A Transaction belongs to a single deployment run and must not be shared
// between goroutines.
package transaction
