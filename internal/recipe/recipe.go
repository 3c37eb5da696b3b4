package recipe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/mpfr-recipe/internal/autotools"
	"github.com/oshokin/mpfr-recipe/internal/deps"
	"github.com/oshokin/mpfr-recipe/internal/domain/pkgmeta"
	"github.com/oshokin/mpfr-recipe/internal/environ"
	"github.com/oshokin/mpfr-recipe/internal/fetch"
	"github.com/oshokin/mpfr-recipe/internal/host"
	"github.com/oshokin/mpfr-recipe/internal/imports"
	"github.com/oshokin/mpfr-recipe/internal/logger"
	"github.com/oshokin/mpfr-recipe/internal/shell"
	"github.com/oshokin/mpfr-recipe/internal/triplet"
)

const (
	// GMPRequirement is the only dependency of the package.
	GMPRequirement = "gmp/[>=5.0]@grif/dev"

	sourceBaseURL = "https://www.mpfr.org/mpfr-current/"

	// importLibDef is the export definition libtool leaves in the build tree.
	importLibDef = "src/.libs/libmpfr-6.dll.def"
	// importLibDLL is the DLL name the import library points at.
	importLibDLL = "libmpfr-6.dll"

	safeSEHFlag = "/SAFESEH:NO"

	wslEnvAllowlist = "CC/u:CFLAGS/u:LDFLAGS/u:LIBS/u:CPPFLAGS/u:CPP/u:LT_SYS_LIBRARY_PATH/u"

	defaultDirPermissions = 0o755
)

var gmpReference = deps.MustParseReference(GMPRequirement)

// Identity returns the package identity.
func Identity() pkgmeta.Identity {
	return pkgmeta.Identity{
		Name:    "mpfr",
		Version: "4.0.1",
		License: "LGPL v3",
		URL:     "git@github.com:garlyon/conan-mpfr.git",
		Description: "The MPFR library is a C library for multiple-precision floating-point " +
			"computations with correct rounding",
	}
}

// Metadata returns what the host needs before instantiating the recipe.
func Metadata() host.Metadata {
	return host.Metadata{
		Identity: Identity(),
		Requires: []string{GMPRequirement},
	}
}

// Recipe builds MPFR for one host context.
type Recipe struct {
	hc *host.Context
}

// New binds the recipe to a host context.
func New(hc *host.Context) *Recipe {
	return &Recipe{hc: hc}
}

// Factory adapts New to host.Factory.
func Factory(hc *host.Context) host.Descriptor {
	return New(hc)
}

// FullName is "<name>-<version>", the directory the release archive unpacks to.
func (r *Recipe) FullName() string {
	return r.hc.Identity.FullName()
}

// Host returns the GNU triplet of the target.
func (r *Recipe) Host() (string, error) {
	return triplet.Triplet(r.hc.Settings.OS, r.hc.Settings.Arch, triplet.CompilerGCC)
}

// ConfigureDir is where the configure script lives.
func (r *Recipe) ConfigureDir() string {
	return filepath.Join(r.hc.SourceFolder, r.FullName())
}

// GMPRoot returns the package folder of the resolved GMP.
func (r *Recipe) GMPRoot() (string, error) {
	return r.hc.Deps.RootPath(gmpReference.Name)
}

// ConfigureArgs returns the recipe's configure flags.
func (r *Recipe) ConfigureArgs() ([]string, error) {
	gmpRoot, err := r.GMPRoot()
	if err != nil {
		return nil, err
	}

	args := []string{"--prefix=" + r.hc.Paths.UnixPath(r.hc.PackageFolder)}

	if r.hc.Options.Shared {
		args = append(args, "--enable-shared", "--disable-static")
	} else {
		args = append(args, "--enable-static", "--disable-shared")
	}

	return append(args,
		"--with-pic",
		"--with-gmp="+r.hc.Paths.UnixPath(gmpRoot),
	), nil
}

// ConfigureEnvs returns the variables configure runs with. MinGW builds on a
// Windows machine link libgcc statically.
func (r *Recipe) ConfigureEnvs() (map[string]string, error) {
	if !r.hc.Machine.IsWindows() {
		return map[string]string{}, nil
	}

	hostTriplet, err := r.Host()
	if err != nil {
		return nil, err
	}

	return map[string]string{"CC": hostTriplet + "-gcc -static-libgcc"}, nil
}

// WSLEnv lists the variables forwarded between Windows and WSL.
func (r *Recipe) WSLEnv() map[string]string {
	return map[string]string{"WSLENV": wslEnvAllowlist}
}

// SourceURL returns the release archive location, honoring the profile override.
func (r *Recipe) SourceURL() string {
	if r.hc.SourceOverrides.URL != "" {
		return r.hc.SourceOverrides.URL
	}

	return sourceBaseURL + r.FullName() + ".tar.bz2"
}

// Source downloads and unpacks the release into the source folder.
func (r *Recipe) Source(ctx context.Context) error {
	overrides := r.hc.SourceOverrides

	return r.hc.Fetcher.Get(ctx, r.SourceURL(), r.hc.SourceFolder, fetch.Options{
		SHA256:       overrides.SHA256,
		Keyring:      overrides.Keyring,
		SignatureURL: overrides.SignatureURL,
	})
}

// Imports copies dependency DLLs next to the build so test binaries can load them.
func (r *Recipe) Imports(ctx context.Context) error {
	for _, dep := range r.hc.Deps.Sorted() {
		for _, bin := range dep.BinPaths() {
			copied, err := imports.Copy(ctx, "*.dll", bin, r.hc.BuildFolder)
			if err != nil {
				return fmt.Errorf("import from %s: %w", dep.Name, err)
			}

			if len(copied) > 0 {
				logger.InfoKV(ctx, "Imported files", "dependency", dep.Name, "count", len(copied))
			}
		}
	}

	return nil
}

// Build configures, compiles and installs MPFR into the package folder.
func (r *Recipe) Build(ctx context.Context) error {
	hostTriplet, err := r.Host()
	if err != nil {
		return err
	}

	args, err := r.ConfigureArgs()
	if err != nil {
		return err
	}

	vars, err := r.ConfigureEnvs()
	if err != nil {
		return err
	}

	env := r.buildEnv()
	tools := autotools.New(r.hc.Runner, autotools.Config{
		Env:          env,
		BuildDir:     r.hc.BuildFolder,
		PackageDir:   r.hc.PackageFolder,
		Dependencies: r.hc.Deps.Sorted(),
		Paths:        r.hc.Paths,
		WinBash:      r.hc.Machine.IsWindows(),
		Jobs:         r.hc.MakeJobs,
		Build:        r.buildTriplet(ctx),
	})

	if err = tools.Configure(ctx, r.ConfigureDir(), hostTriplet, args, vars); err != nil {
		return err
	}

	if err = tools.Make(ctx, ""); err != nil {
		return err
	}

	if err = tools.Install(ctx); err != nil {
		return err
	}

	if r.hc.Settings.IsWindows() && r.hc.Options.Shared {
		return r.importLibrary(ctx, hostTriplet)
	}

	return nil
}

// Package does nothing: make install already populated the package folder.
func (r *Recipe) Package(context.Context) error {
	return nil
}

// PackageInfo declares the library. Consumers on 32-bit Windows link with /SAFESEH:NO.
func (r *Recipe) PackageInfo(_ context.Context, info *pkgmeta.CppInfo) error {
	info.Libs = []string{r.hc.Identity.Name}

	if r.hc.Settings.IsWindows() && r.hc.Settings.Arch == pkgmeta.ArchX86 {
		info.SharedLinkFlags = append(info.SharedLinkFlags, safeSEHFlag)
		info.ExeLinkFlags = append(info.ExeLinkFlags, safeSEHFlag)
	}

	return nil
}

// buildEnv scopes WSLENV to the build commands on Windows machines.
func (r *Recipe) buildEnv() environ.Env {
	if !r.hc.Machine.IsWindows() {
		return r.hc.Env
	}

	return r.hc.Env.With(r.WSLEnv())
}

// buildTriplet returns the --build triplet when cross building.
func (r *Recipe) buildTriplet(ctx context.Context) string {
	if r.hc.Machine == r.hc.Settings {
		return ""
	}

	build, err := triplet.Triplet(r.hc.Machine.OS, r.hc.Machine.Arch, triplet.CompilerGCC)
	if err != nil {
		logger.DebugKV(ctx, "No build triplet for machine", "os", r.hc.Machine.OS, "arch", r.hc.Machine.Arch)

		return ""
	}

	return build
}

// importLibrary generates <package>/lib/mpfr.lib from the libtool export definitions.
// It runs in the base environment, outside the WSLENV scope of the autotools steps.
func (r *Recipe) importLibrary(ctx context.Context, hostTriplet string) error {
	libDir := filepath.Join(r.hc.PackageFolder, "lib")
	if err := os.MkdirAll(libDir, defaultDirPermissions); err != nil {
		return err
	}

	lib := filepath.Join(libDir, r.hc.Identity.Name+".lib")

	logger.InfoKV(ctx, "Generating import library", "path", lib)

	cmd := shell.Command{
		Args: []string{
			hostTriplet + "-dlltool",
			"-d", importLibDef,
			"-D", importLibDLL,
			"-l", r.hc.Paths.UnixPath(lib),
		},
		Dir:     r.hc.BuildFolder,
		Env:     r.hc.Env,
		WinBash: true,
	}

	if err := r.hc.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("dlltool: %w", err)
	}

	return nil
}
