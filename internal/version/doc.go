// Package version exposes build metadata for the mpfr-recipe binary.
//
// Version, Commit and BuildTime are injected with -ldflags and default to
// values suitable for local builds. The recorded tool version also lands in
// every package manifest so a cached artifact can be traced to its builder.
package version
