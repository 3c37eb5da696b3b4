package pkgmeta

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestMachineSettings checks the mapping of Go runtime names to recipe settings.
func TestMachineSettings(t *testing.T) {
	t.Parallel()

	cases := []struct {
		goos, goarch string
		want         Settings
	}{
		{"windows", "386", Settings{OS: OSWindows, Arch: ArchX86}},
		{"windows", "amd64", Settings{OS: OSWindows, Arch: ArchX86_64}},
		{"linux", "arm64", Settings{OS: OSLinux, Arch: ArchArmv8}},
		{"darwin", "amd64", Settings{OS: OSMacos, Arch: ArchX86_64}},
		{"freebsd", "amd64", Settings{OS: OSFreeBSD, Arch: ArchX86_64}},
		{"plan9", "mips", Settings{OS: "plan9", Arch: "mips"}},
	}

	for _, tc := range cases {
		require.Equal(t, tc.want, machineSettings(tc.goos, tc.goarch), tc.goos+"/"+tc.goarch)
	}
}

// TestIdentityNames verifies the derived archive stem and reference.
func TestIdentityNames(t *testing.T) {
	t.Parallel()

	id := Identity{Name: "mpfr", Version: "4.0.1"}
	require.Equal(t, "mpfr-4.0.1", id.FullName())
	require.Equal(t, "mpfr/4.0.1", id.Ref())
	require.Equal(t, "shared=true", Options{Shared: true}.String())
}
