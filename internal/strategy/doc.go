// Package strategy maps downloaded packages onto the product directory.
package strategy
