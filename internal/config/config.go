package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/mpfr-recipe/internal/deps"
	"github.com/oshokin/mpfr-recipe/internal/domain/pkgmeta"
	"github.com/oshokin/mpfr-recipe/internal/pathconv"
)

// Config is a build profile.
type Config struct {
	// Settings is the target machine.
	Settings pkgmeta.Settings `yaml:"settings"`
	// Options are the recipe option values.
	Options pkgmeta.Options `yaml:"options"`
	// Folders are the working folders of the build.
	Folders Folders `yaml:"folders"`
	// Dependencies are the already built packages requirements resolve against.
	Dependencies []deps.Dependency `yaml:"dependencies"`
	// Source overrides where and how the release archive is fetched.
	Source Source `yaml:"source"`
	// MakeJobs is the parallelism passed to make; 0 means the number of CPUs.
	MakeJobs int `yaml:"make_jobs"`
	// Subsystem is the POSIX layer used on Windows build machines (msys2, msys, cygwin, wsl).
	Subsystem string `yaml:"subsystem"`
	// DownloadTimeout bounds the archive download.
	DownloadTimeout time.Duration `yaml:"download_timeout"`
}

// Folders are the working folders of a build. Relative paths are resolved
// against the directory of the profile file.
type Folders struct {
	// Source receives the extracted release archive.
	Source string `yaml:"source"`
	// Build is the out-of-tree build folder.
	Build string `yaml:"build"`
	// PackageRoot holds one package folder per package ID.
	PackageRoot string `yaml:"package_root"`
	// Package pins the package folder instead of deriving it from PackageRoot.
	Package string `yaml:"package,omitempty"`
}

// Source overrides the recipe's release download.
type Source struct {
	// URL replaces the recipe's archive URL, e.g. with a mirror.
	URL string `yaml:"url,omitempty"`
	// SHA256 is the expected hex digest of the archive.
	SHA256 string `yaml:"sha256,omitempty"`
	// SignatureURL is the detached OpenPGP signature; defaults to "<archive URL>.asc".
	SignatureURL string `yaml:"signature_url,omitempty"`
	// Keyring is an armored public keyring file; signatures are checked only when set.
	Keyring string `yaml:"keyring,omitempty"`
}

const (
	// DefaultConfigFilename is the default profile filename.
	DefaultConfigFilename = "mpfr-profile.yaml"

	// DefaultDownloadTimeout bounds source downloads when the profile does not.
	DefaultDownloadTimeout = 10 * time.Minute

	// DefaultFilePermissions is the permission for files written by the tool.
	DefaultFilePermissions = 0o600

	defaultSourceFolder      = "work/source"
	defaultBuildFolder       = "work/build"
	defaultPackageRootFolder = "work/package"
)

var (
	errConfigIsNotSet    = errors.New("configuration is not set")
	errOSRequired        = errors.New("settings.os must be provided")
	errArchRequired      = errors.New("settings.arch must be provided")
	errNegativeMakeJobs  = errors.New("make_jobs must not be negative")
	errBadSHA256         = errors.New("source.sha256 must be 64 hex characters")
	errSignatureNoKeys   = errors.New("source.signature_url requires source.keyring")
	errDependencyNoRoot  = errors.New("dependency root must be provided")
	errDependencyNoName  = errors.New("dependency name and version must be provided")
	errNegativeDLTimeout = errors.New("download_timeout must not be negative")
)

// Load reads the profile at path, validates it and resolves relative folders.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve profile directory: %w", err)
	}

	cfg.resolveFolders(base)

	return &cfg, nil
}

// Save validates the profile and writes it to path as given. Defaults are
// filled on Load, so values like make_jobs: 0 stay portable.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	validated := *cfg
	if err := Validate(&validated); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}

	return nil
}

// Validate checks required fields and fills defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.Settings.OS == "" {
		return errOSRequired
	}

	if cfg.Settings.Arch == "" {
		return errArchRequired
	}

	if cfg.MakeJobs < 0 {
		return errNegativeMakeJobs
	}

	if cfg.MakeJobs == 0 {
		cfg.MakeJobs = runtime.NumCPU()
	}

	if cfg.DownloadTimeout < 0 {
		return errNegativeDLTimeout
	}

	if cfg.DownloadTimeout == 0 {
		cfg.DownloadTimeout = DefaultDownloadTimeout
	}

	subsystem, err := pathconv.ParseSubsystem(cfg.Subsystem)
	if err != nil {
		return err
	}

	cfg.Subsystem = string(subsystem)

	if err := validateSource(&cfg.Source); err != nil {
		return err
	}

	for i := range cfg.Dependencies {
		dep := &cfg.Dependencies[i]
		if dep.Name == "" || dep.Version == "" {
			return fmt.Errorf("dependency #%d: %w", i+1, errDependencyNoName)
		}

		if dep.Root == "" {
			return fmt.Errorf("dependency %s/%s: %w", dep.Name, dep.Version, errDependencyNoRoot)
		}
	}

	if cfg.Folders.Source == "" {
		cfg.Folders.Source = defaultSourceFolder
	}

	if cfg.Folders.Build == "" {
		cfg.Folders.Build = defaultBuildFolder
	}

	if cfg.Folders.PackageRoot == "" {
		cfg.Folders.PackageRoot = defaultPackageRootFolder
	}

	return nil
}

func validateSource(src *Source) error {
	if src.URL != "" {
		if _, err := url.ParseRequestURI(src.URL); err != nil {
			return fmt.Errorf("invalid source.url: %w", err)
		}
	}

	if src.SHA256 != "" {
		if decoded, err := hex.DecodeString(src.SHA256); err != nil || len(decoded) != 32 {
			return errBadSHA256
		}
	}

	if src.SignatureURL != "" {
		if src.Keyring == "" {
			return errSignatureNoKeys
		}

		if _, err := url.ParseRequestURI(src.SignatureURL); err != nil {
			return fmt.Errorf("invalid source.signature_url: %w", err)
		}
	}

	return nil
}

// resolveFolders makes every relative folder absolute against base.
func (cfg *Config) resolveFolders(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}

		return filepath.Join(base, p)
	}

	cfg.Folders.Source = abs(cfg.Folders.Source)
	cfg.Folders.Build = abs(cfg.Folders.Build)
	cfg.Folders.PackageRoot = abs(cfg.Folders.PackageRoot)
	cfg.Folders.Package = abs(cfg.Folders.Package)
	cfg.Source.Keyring = abs(cfg.Source.Keyring)

	for i := range cfg.Dependencies {
		cfg.Dependencies[i].Root = abs(cfg.Dependencies[i].Root)
	}
}
