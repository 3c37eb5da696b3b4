package pkgmeta

import (
	"runtime"
	"strconv"
)

// Operating systems and architectures referenced by name in recipes.
const (
	OSWindows = "Windows"
	OSLinux   = "Linux"
	OSMacos   = "Macos"
	OSFreeBSD = "FreeBSD"

	ArchX86    = "x86"
	ArchX86_64 = "x86_64"
	ArchArmv7  = "armv7"
	ArchArmv8  = "armv8"
)

// Settings describes the machine a package is built for.
type Settings struct {
	// OS is the target operating system, e.g. "Windows" or "Linux".
	OS string `yaml:"os"`
	// Arch is the target CPU architecture, e.g. "x86" or "x86_64".
	Arch string `yaml:"arch"`
}

// IsWindows reports whether the settings target Windows.
func (s Settings) IsWindows() bool {
	return s.OS == OSWindows
}

// Options holds the recipe options a package is configured with.
type Options struct {
	// Shared selects a shared library instead of a static one.
	Shared bool `yaml:"shared"`
}

// String renders options the way they appear in package references.
func (o Options) String() string {
	return "shared=" + strconv.FormatBool(o.Shared)
}

// BuildMachine returns the settings of the machine this process runs on.
// Unknown values are passed through from the Go runtime unchanged.
func BuildMachine() Settings {
	return machineSettings(runtime.GOOS, runtime.GOARCH)
}

func machineSettings(goos, goarch string) Settings {
	var s Settings

	switch goos {
	case "windows":
		s.OS = OSWindows
	case "linux":
		s.OS = OSLinux
	case "darwin":
		s.OS = OSMacos
	case "freebsd":
		s.OS = OSFreeBSD
	default:
		s.OS = goos
	}

	switch goarch {
	case "386":
		s.Arch = ArchX86
	case "amd64":
		s.Arch = ArchX86_64
	case "arm":
		s.Arch = ArchArmv7
	case "arm64":
		s.Arch = ArchArmv8
	default:
		s.Arch = goarch
	}

	return s
}
