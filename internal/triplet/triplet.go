// Package triplet maps recipe settings to GNU target triplets as understood by
// autoconf's --host and --build flags.
package triplet

import (
	"errors"
	"fmt"
	"strings"
)

// Compilers with a dedicated Windows triplet flavour.
const (
	CompilerGCC          = "gcc"
	CompilerVisualStudio = "Visual Studio"
)

const (
	windowsOS = "Windows"
	linuxOS   = "Linux"
	androidOS = "Android"
	aixOS     = "AIX"

	windowsGCCSystem     = "w64-mingw32"
	windowsMSVCSystem    = "windows-msvc"
	windowsGenericSystem = "windows"
)

// ErrUnknownArch is returned when an architecture has no GNU machine name.
var ErrUnknownArch = errors.New("unknown architecture")

//nolint:gochecknoglobals // Read-only lookup tables.
var (
	exactMachines = map[string]string{
		"x86_64":   "x86_64",
		"armv8":    "aarch64",
		"armv8_32": "aarch64",
		"armv8.3":  "aarch64",
		"asm.js":   "asmjs",
		"wasm":     "wasm32",
	}

	// Checked in order: more specific prefixes first.
	familyMachines = []struct{ fragment, machine string }{
		{"ppc64le", "powerpc64le"},
		{"ppc64", "powerpc64"},
		{"ppc32", "powerpc"},
		{"mips64", "mips64"},
		{"mips", "mips"},
		{"sparcv9", "sparc64"},
		{"sparc", "sparc"},
		{"s390x", "s390x-ibm"},
		{"s390", "s390-ibm"},
		{"sh4", "sh4"},
		{"e2k", "e2k-unknown"},
	}

	systems = map[string]string{
		"Linux":      "linux-gnu",
		"Darwin":     "apple-darwin",
		"Macos":      "apple-darwin",
		"Android":    "linux-android",
		"iOS":        "apple-ios",
		"watchOS":    "apple-watchos",
		"tvOS":       "apple-tvos",
		"FreeBSD":    "freebsd",
		"AIX":        "ibm-aix",
		"Neutrino":   "nto-qnx",
		"Emscripten": "local-emscripten",
	}
)

// Triplet returns the "<machine>-<system>" triplet for the given settings and compiler.
func Triplet(os, arch, compiler string) (string, error) {
	machine, err := machineFor(os, arch)
	if err != nil {
		return "", err
	}

	return machine + "-" + systemFor(os, arch, compiler), nil
}

func machineFor(os, arch string) (string, error) {
	if arch == "x86" {
		if os == linuxOS {
			return "x86", nil
		}

		return "i686", nil
	}

	if machine, ok := exactMachines[arch]; ok {
		return machine, nil
	}

	if os == aixOS {
		switch {
		case strings.Contains(arch, "ppc32"):
			return "rs6000", nil
		case strings.Contains(arch, "ppc64"):
			return "powerpc", nil
		}
	}

	if strings.Contains(arch, "arm") {
		return "arm", nil
	}

	for _, family := range familyMachines {
		if strings.Contains(arch, family.fragment) {
			return family.machine, nil
		}
	}

	return "", fmt.Errorf("%w %q for os %q", ErrUnknownArch, arch, os)
}

func systemFor(os, arch, compiler string) string {
	var system string

	if os == windowsOS {
		switch compiler {
		case CompilerGCC:
			system = windowsGCCSystem
		case CompilerVisualStudio:
			system = windowsMSVCSystem
		default:
			system = windowsGenericSystem
		}
	} else if known, ok := systems[os]; ok {
		system = known
	} else {
		system = strings.ToLower(os)
	}

	if os != linuxOS && os != androidOS {
		return system
	}

	if strings.Contains(arch, "arm") && !strings.Contains(arch, "armv8") {
		system += "eabi"
	}

	if os == linuxOS && (arch == "armv5hf" || arch == "armv7hf") {
		system += "hf"
	}

	if os == linuxOS && arch == "armv8_32" {
		system += "_ilp32"
	}

	return system
}
