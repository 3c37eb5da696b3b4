package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/mpfr-recipe/internal/deps"
	"github.com/oshokin/mpfr-recipe/internal/domain/pkgmeta"
)

// TestValidate checks required fields, formatting rules and defaults.
func TestValidate(t *testing.T) {
	t.Parallel()

	// Missing OS.
	require.ErrorIs(t, Validate(new(Config)), errOSRequired)

	// Missing arch.
	require.ErrorIs(t, Validate(&Config{Settings: pkgmeta.Settings{OS: "Linux"}}), errArchRequired)

	// Bad checksum.
	cfg := &Config{
		Settings: pkgmeta.Settings{OS: "Linux", Arch: "x86_64"},
		Source:   Source{SHA256: "abc"},
	}
	require.ErrorIs(t, Validate(cfg), errBadSHA256)

	// Signature without keyring.
	cfg = &Config{
		Settings: pkgmeta.Settings{OS: "Linux", Arch: "x86_64"},
		Source:   Source{SignatureURL: "https://www.mpfr.org/mpfr-current/mpfr-4.0.1.tar.bz2.asc"},
	}
	require.ErrorIs(t, Validate(cfg), errSignatureNoKeys)

	// Dependency without root.
	cfg = &Config{
		Settings:     pkgmeta.Settings{OS: "Linux", Arch: "x86_64"},
		Dependencies: []deps.Dependency{{Name: "gmp", Version: "6.1.2"}},
	}
	require.ErrorIs(t, Validate(cfg), errDependencyNoRoot)

	// Unknown subsystem.
	cfg = &Config{
		Settings:  pkgmeta.Settings{OS: "Windows", Arch: "x86"},
		Subsystem: "sfu",
	}
	require.Error(t, Validate(cfg))

	// Defaults.
	cfg = &Config{Settings: pkgmeta.Settings{OS: "Windows", Arch: "x86"}}
	require.NoError(t, Validate(cfg))
	require.Equal(t, runtime.NumCPU(), cfg.MakeJobs)
	require.Equal(t, DefaultDownloadTimeout, cfg.DownloadTimeout)
	require.Equal(t, "msys2", cfg.Subsystem)
	require.Equal(t, defaultSourceFolder, cfg.Folders.Source)
	require.Equal(t, defaultBuildFolder, cfg.Folders.Build)
	require.Equal(t, defaultPackageRootFolder, cfg.Folders.PackageRoot)
}

// TestSaveLoadRoundtrip ensures profiles are persisted and loaded back with resolved folders.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")

	cfg := &Config{
		Settings: pkgmeta.Settings{OS: "Windows", Arch: "x86"},
		Options:  pkgmeta.Options{Shared: true},
		Dependencies: []deps.Dependency{
			{Name: "gmp", Version: "6.1.2", User: "grif", Channel: "dev", Root: "deps/gmp"},
		},
		Source: Source{
			SHA256: "0000000000000000000000000000000000000000000000000000000000000000",
		},
		MakeJobs:        3,
		Subsystem:       "cygwin",
		DownloadTimeout: 2 * time.Minute,
	}

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Settings, loaded.Settings)
	require.True(t, loaded.Options.Shared)
	require.Equal(t, 3, loaded.MakeJobs)
	require.Equal(t, "cygwin", loaded.Subsystem)
	require.Equal(t, 2*time.Minute, loaded.DownloadTimeout)
	require.Equal(t, filepath.Join(dir, "deps", "gmp"), loaded.Dependencies[0].Root)
	require.Equal(t, filepath.Join(dir, defaultBuildFolder), loaded.Folders.Build)
	require.Empty(t, loaded.Folders.Package)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

// TestLoad_ParsesHandWrittenProfile verifies the documented YAML layout.
func TestLoad_ParsesHandWrittenProfile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFilename)

	contents := `settings:
  os: Linux
  arch: x86_64
options:
  shared: false
folders:
  source: /abs/src
  package: out/pkg
dependencies:
  - name: gmp
    version: 6.1.2
    root: /opt/gmp
    cpp_info:
      libdirs: [lib64]
      libs: [gmp]
download_timeout: 90s
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/abs/src", cfg.Folders.Source)
	require.Equal(t, filepath.Join(dir, "out", "pkg"), cfg.Folders.Package)
	require.Equal(t, 90*time.Second, cfg.DownloadTimeout)
	require.Equal(t, []string{"lib64"}, cfg.Dependencies[0].CppInfo.LibDirs)
}

// TestSave_KeepsDefaultsUnresolved writes the caller's values, not the filled defaults.
func TestSave_KeepsDefaultsUnresolved(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), DefaultConfigFilename)
	cfg := &Config{
		Settings: pkgmeta.Settings{OS: "Linux", Arch: "x86_64"},
	}

	require.NoError(t, Save(path, cfg))
	require.Zero(t, cfg.MakeJobs)
	require.Empty(t, cfg.Folders.Source)
	require.Empty(t, cfg.Subsystem)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), "make_jobs: 0")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, runtime.NumCPU(), loaded.MakeJobs)
	require.Equal(t, DefaultDownloadTimeout, loaded.DownloadTimeout)
	require.Equal(t, "msys2", loaded.Subsystem)
}

// TestSave_RejectsInvalidProfile validates before writing.
func TestSave_RejectsInvalidProfile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), DefaultConfigFilename)

	require.ErrorIs(t, Save(path, &Config{}), errOSRequired)
	require.NoFileExists(t, path)
}
