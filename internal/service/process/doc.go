// Package process stops running product executables before their files are replaced.
package process
