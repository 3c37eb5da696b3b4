// Package pathconv rewrites native Windows paths into the form a POSIX shell
// layer (MSYS2, Cygwin, WSL) expects. On other build machines paths pass through.
package pathconv

import (
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"strings"
)

// Subsystem is a POSIX compatibility layer running on Windows.
type Subsystem string

// Supported subsystems.
const (
	MSYS2  Subsystem = "msys2"
	MSYS   Subsystem = "msys"
	Cygwin Subsystem = "cygwin"
	WSL    Subsystem = "wsl"
)

// ErrUnknownSubsystem is returned by ParseSubsystem for unsupported names.
var ErrUnknownSubsystem = errors.New("unknown subsystem")

//nolint:gochecknoglobals // Compiled once.
var driveLetter = regexp.MustCompile(`(?i)([a-z]):\\`)

// ParseSubsystem validates a subsystem name; an empty name selects MSYS2.
func ParseSubsystem(name string) (Subsystem, error) {
	switch s := Subsystem(strings.ToLower(strings.TrimSpace(name))); s {
	case "":
		return MSYS2, nil
	case MSYS2, MSYS, Cygwin, WSL:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSubsystem, name)
	}
}

// Converter rewrites paths for one build machine and subsystem.
type Converter struct {
	// Windows reports whether the build machine runs Windows.
	Windows bool
	// Subsystem is the shell layer commands run under.
	Subsystem Subsystem
}

// ForBuildMachine returns a Converter for the current process.
func ForBuildMachine(subsystem Subsystem) Converter {
	return Converter{
		Windows:   runtime.GOOS == "windows",
		Subsystem: subsystem,
	}
}

// UnixPath converts a native path. Empty paths and non-Windows machines are left alone.
func (c Converter) UnixPath(path string) string {
	if path == "" || !c.Windows {
		return path
	}

	path = strings.ReplaceAll(path, ":/", `:\`)
	path = driveLetter.ReplaceAllString(path, `/$1/`)
	path = strings.ReplaceAll(path, `\`, "/")

	switch c.Subsystem {
	case Cygwin:
		return "/cygdrive" + strings.ToLower(path)
	case WSL:
		if len(path) < 2 {
			return "/mnt" + path
		}

		return "/mnt" + strings.ToLower(path[:2]) + path[2:]
	default:
		return strings.ToLower(path)
	}
}
