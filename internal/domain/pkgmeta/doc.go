// Package pkgmeta holds the value types shared by the recipe and its host:
// package identity, the settings and options a build is configured with, and the
// cpp_info block a package exposes to its consumers.
package pkgmeta
