// Package packager publishes a directory as a package version in a feed.
//
// It copies the files into <feed>/<name>/<version>/, computes their SHA-512
// checksums and writes the package manifest next to them.
package packager
