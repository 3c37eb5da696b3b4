// Package packager is the application layer behind the mpfr-recipe CLI.
//
// It loads a build profile, applies command line overrides, runs the MPFR recipe
// through the host lifecycle and reports the result. It also renders the
// read-only views: the recipe metadata and the resolved build plan.
package packager
