// Package shell runs external build tools.
//
// Commands are rendered into a quoted POSIX command line and executed by the
// mvdan.cc/sh interpreter with an explicit directory and environment. On Windows
// build machines a command may instead be handed to the subsystem's bash, which is
// how autotools pipelines run there.
package shell
