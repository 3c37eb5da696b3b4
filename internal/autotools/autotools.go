// Package autotools drives configure/make/make install for autoconf based
// sources, deriving compiler and linker flags from resolved dependencies.
package autotools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/oshokin/mpfr-recipe/internal/deps"
	"github.com/oshokin/mpfr-recipe/internal/environ"
	"github.com/oshokin/mpfr-recipe/internal/logger"
	"github.com/oshokin/mpfr-recipe/internal/pathconv"
	"github.com/oshokin/mpfr-recipe/internal/shell"
)

// Config describes one autotools build.
type Config struct {
	// Env is the environment the tools run in, before flag variables are applied.
	Env environ.Env
	// BuildDir is where configure and make run.
	BuildDir string
	// PackageDir is the default install prefix.
	PackageDir string
	// Dependencies contribute include paths, library paths and libraries.
	Dependencies []*deps.Dependency
	// Paths converts native paths for the shell commands run under.
	Paths pathconv.Converter
	// WinBash runs the tools through the subsystem bash on Windows build machines.
	WinBash bool
	// Jobs is the make parallelism; values below 1 omit -j.
	Jobs int
	// Build is the --build triplet; empty when not cross building.
	Build string
}

// BuildEnvironment runs the autotools pipeline.
type BuildEnvironment struct {
	runner shell.Runner
	cfg    Config
}

// New creates a BuildEnvironment executing commands with runner.
func New(runner shell.Runner, cfg Config) *BuildEnvironment {
	return &BuildEnvironment{
		runner: runner,
		cfg:    cfg,
	}
}

//nolint:gochecknoglobals // Read-only list.
var defaultInstallDirs = []struct{ flag, dir string }{
	{"bindir", "${prefix}/bin"},
	{"sbindir", "${prefix}/bin"},
	{"libexecdir", "${prefix}/bin"},
	{"libdir", "${prefix}/lib"},
	{"includedir", "${prefix}/include"},
	{"oldincludedir", "${prefix}/include"},
	{"datarootdir", "${prefix}/share"},
}

// Vars returns the flag variables derived from the dependencies: include dirs
// and defines in CPPFLAGS, lib dirs and link flags in LDFLAGS, libraries in LIBS.
// Link flags declared by several dependencies appear once.
func (b *BuildEnvironment) Vars() map[string]string {
	var cppflags, ldflags, libs, linkFlags []string

	for _, dep := range b.cfg.Dependencies {
		info := dep.Info()

		for _, dir := range dep.IncludePaths() {
			cppflags = append(cppflags, "-I"+b.cfg.Paths.UnixPath(dir))
		}

		for _, define := range info.Defines {
			cppflags = append(cppflags, "-D"+define)
		}

		for _, dir := range dep.LibPaths() {
			ldflags = append(ldflags, "-L"+b.cfg.Paths.UnixPath(dir))
		}

		for _, lib := range info.Libs {
			libs = append(libs, "-l"+lib)
		}

		linkFlags = append(linkFlags, info.SharedLinkFlags...)
		linkFlags = append(linkFlags, info.ExeLinkFlags...)
	}

	seen := make(map[string]struct{}, len(linkFlags))
	for _, flag := range linkFlags {
		if _, ok := seen[flag]; ok {
			continue
		}

		seen[flag] = struct{}{}
		ldflags = append(ldflags, flag)
	}

	vars := make(map[string]string, 3)

	if len(cppflags) > 0 {
		vars["CPPFLAGS"] = strings.Join(cppflags, " ")
	}

	if len(ldflags) > 0 {
		vars["LDFLAGS"] = strings.Join(ldflags, " ")
	}

	if len(libs) > 0 {
		vars["LIBS"] = strings.Join(libs, " ")
	}

	return vars
}

// ConfigureArgs returns the full configure argument list: the caller's args,
// the default prefix and install dirs unless given, then the triplets.
func (b *BuildEnvironment) ConfigureArgs(host string, args []string) []string {
	full := append([]string(nil), args...)

	if !hasFlag(args, "prefix") {
		full = append(full, "--prefix="+b.cfg.Paths.UnixPath(b.cfg.PackageDir))
	}

	for _, d := range defaultInstallDirs {
		if !hasFlag(args, d.flag) {
			full = append(full, "--"+d.flag+"="+d.dir)
		}
	}

	if b.cfg.Build != "" {
		full = append(full, "--build="+b.cfg.Build)
	}

	if host != "" {
		full = append(full, "--host="+host)
	}

	return full
}

// Configure runs <configureDir>/configure. vars override the derived flag variables key by key.
func (b *BuildEnvironment) Configure(
	ctx context.Context,
	configureDir, host string,
	args []string,
	vars map[string]string,
) error {
	script := b.cfg.Paths.UnixPath(configureDir) + "/configure"
	cmd := b.command(append([]string{script}, b.ConfigureArgs(host, args)...), vars)

	logger.InfoKV(ctx, "Configuring", "configure_dir", configureDir, "host", host)

	if err := b.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("configure: %w", err)
	}

	return nil
}

// Make runs make with the optional target and arguments.
func (b *BuildEnvironment) Make(ctx context.Context, target string, args ...string) error {
	argv := []string{"make"}
	if target != "" {
		argv = append(argv, target)
	}

	argv = append(argv, args...)

	if b.cfg.Jobs > 0 && !hasJobs(args) {
		argv = append(argv, "-j"+strconv.Itoa(b.cfg.Jobs))
	}

	if err := b.runner.Run(ctx, b.command(argv, nil)); err != nil {
		if target == "" {
			return fmt.Errorf("make: %w", err)
		}

		return fmt.Errorf("make %s: %w", target, err)
	}

	return nil
}

// Install runs make install.
func (b *BuildEnvironment) Install(ctx context.Context, args ...string) error {
	return b.Make(ctx, "install", args...)
}

func (b *BuildEnvironment) command(args []string, vars map[string]string) shell.Command {
	return shell.Command{
		Args:    args,
		Dir:     b.cfg.BuildDir,
		Env:     b.cfg.Env.With(b.Vars()).With(vars),
		WinBash: b.cfg.WinBash,
	}
}

func hasFlag(args []string, name string) bool {
	prefix := "--" + name + "="

	for _, arg := range args {
		if strings.HasPrefix(arg, prefix) {
			return true
		}
	}

	return false
}

func hasJobs(args []string) bool {
	for _, arg := range args {
		if strings.HasPrefix(arg, "-j") {
			return true
		}
	}

	return false
}
