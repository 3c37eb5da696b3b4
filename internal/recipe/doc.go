// Package recipe is the MPFR package descriptor.
//
// It downloads the MPFR release, builds it out of tree with autotools against the
// resolved GMP package and installs straight into the package folder. Windows
// targets are cross compiled with MinGW; shared Windows builds also get an MSVC
// style import library generated with dlltool.
package recipe
