// Package feed reads and publishes packages in a package feed.
//
// A feed is a directory tree, usually served over HTTP, laid out as
// <feed>/<name>/<version>/package.yaml next to the package files. The manifest
// lists every file with its base64 SHA-512 checksum, so downloads are applied
// with checksum verification.
package feed
