// Package host drives a package descriptor through its lifecycle.
//
// The host resolves the descriptor's requirements against the dependencies of a
// build profile, derives the package ID and folders, and invokes the lifecycle
// callbacks in the fixed order source, imports, build, package, package_info.
// One run per package ID is allowed at a time; a lock marker in the package root
// guards it. After package_info the host writes a manifest describing the package.
package host
