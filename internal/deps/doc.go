// Package deps parses package references and resolves them against the
// dependencies provided locally in the build profile.
//
// A reference has the form "name/version@user/channel". The version is either
// an exact version or a range in square brackets, e.g. "gmp/[>=5.0]@grif/dev".
// Ranges follow the semver constraint syntax; the highest matching provided
// version wins.
package deps
