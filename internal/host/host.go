package host

import (
	"context"
	"crypto/sha1" //nolint:gosec // Package IDs are cache keys, not security boundaries.
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/mpfr-recipe/internal/config"
	"github.com/oshokin/mpfr-recipe/internal/deps"
	"github.com/oshokin/mpfr-recipe/internal/domain/pkgmeta"
	"github.com/oshokin/mpfr-recipe/internal/environ"
	"github.com/oshokin/mpfr-recipe/internal/fetch"
	"github.com/oshokin/mpfr-recipe/internal/logger"
	"github.com/oshokin/mpfr-recipe/internal/pathconv"
	"github.com/oshokin/mpfr-recipe/internal/shell"
)

// Descriptor is a package recipe. Every callback error aborts the run.
type Descriptor interface {
	// Source retrieves the sources into the source folder.
	Source(ctx context.Context) error
	// Imports copies files from dependencies into the build folder.
	Imports(ctx context.Context) error
	// Build compiles and installs into the package folder.
	Build(ctx context.Context) error
	// Package copies artifacts into the package folder.
	Package(ctx context.Context) error
	// PackageInfo fills what consumers of the package need.
	PackageInfo(ctx context.Context, info *pkgmeta.CppInfo) error
}

// Fetcher downloads and unpacks a source archive.
type Fetcher interface {
	Get(ctx context.Context, url, dest string, opts fetch.Options) error
}

// Metadata is the static part of a descriptor.
type Metadata struct {
	Identity pkgmeta.Identity
	// Requires are dependency references, e.g. "gmp/[>=5.0]@grif/dev".
	Requires []string
}

// Context is what a descriptor sees of the host during a run.
type Context struct {
	Identity pkgmeta.Identity
	Settings pkgmeta.Settings
	Options  pkgmeta.Options
	// Machine is the build machine.
	Machine pkgmeta.Settings

	SourceFolder  string
	BuildFolder   string
	PackageFolder string
	PackageID     string

	Deps     deps.Resolved
	Paths    pathconv.Converter
	MakeJobs int
	Runner   shell.Runner
	Fetcher  Fetcher
	// SourceOverrides replace the descriptor's download location and verification.
	SourceOverrides config.Source
	// Env is the base environment of every command.
	Env environ.Env
}

// Factory builds a descriptor bound to a host context.
type Factory func(hc *Context) Descriptor

// Result is the outcome of a successful run.
type Result struct {
	Context *Context
	// CppInfo is set when package_info ran.
	CppInfo *pkgmeta.CppInfo
	// ManifestPath is set when package_info ran.
	ManifestPath string
}

var (
	errNoConfig  = errors.New("configuration is not set")
	errNoFactory = errors.New("descriptor factory is not set")
)

// Host runs descriptors against a build profile.
type Host struct {
	cfg     *config.Config
	meta    Metadata
	factory Factory
	runner  shell.Runner
	fetcher Fetcher
	machine pkgmeta.Settings
	env     environ.Env
	envSet  bool
}

// Option customizes a Host.
type Option func(*Host)

// WithRunner replaces the command runner.
func WithRunner(r shell.Runner) Option {
	return func(h *Host) {
		h.runner = r
	}
}

// WithFetcher replaces the source fetcher.
func WithFetcher(f Fetcher) Option {
	return func(h *Host) {
		h.fetcher = f
	}
}

// WithMachine pretends the build machine has the given settings.
func WithMachine(s pkgmeta.Settings) Option {
	return func(h *Host) {
		h.machine = s
	}
}

// WithEnv replaces the base environment, which defaults to the process environment.
func WithEnv(env environ.Env) Option {
	return func(h *Host) {
		h.env = env
		h.envSet = true
	}
}

// New creates a Host.
func New(cfg *config.Config, meta Metadata, factory Factory, opts ...Option) (*Host, error) {
	if cfg == nil {
		return nil, errNoConfig
	}

	if factory == nil {
		return nil, errNoFactory
	}

	h := &Host{
		cfg:     cfg,
		meta:    meta,
		factory: factory,
		machine: pkgmeta.BuildMachine(),
	}

	for _, opt := range opts {
		opt(h)
	}

	subsystem := pathconv.Subsystem(cfg.Subsystem)

	if h.runner == nil {
		h.runner = shell.NewInterpreter(subsystem)
	}

	if h.fetcher == nil {
		h.fetcher = fetch.NewClient(cfg.DownloadTimeout, fetch.WithProgress(os.Stderr))
	}

	if !h.envSet {
		h.env = environ.FromOS()
	}

	return h, nil
}

// Prepare resolves requirements and derives the package ID and folders
// without running anything.
func (h *Host) Prepare(ctx context.Context) (*Context, error) {
	refs := make([]deps.Reference, 0, len(h.meta.Requires))

	for _, raw := range h.meta.Requires {
		ref, err := deps.ParseReference(raw)
		if err != nil {
			return nil, err
		}

		refs = append(refs, ref)
	}

	resolved, err := deps.NewRegistry(h.cfg.Dependencies).ResolveAll(refs)
	if err != nil {
		return nil, fmt.Errorf("resolve requirements: %w", err)
	}

	for _, dep := range resolved.Sorted() {
		logger.DebugKV(ctx, "Resolved requirement", "ref", dep.Ref().String(), "root", dep.Root)
	}

	id, err := PackageID(h.cfg.Settings, h.cfg.Options, resolved)
	if err != nil {
		return nil, err
	}

	packageFolder := h.cfg.Folders.Package
	if packageFolder == "" {
		packageFolder = filepath.Join(h.cfg.Folders.PackageRoot, id)
	}

	return &Context{
		Identity:        h.meta.Identity,
		Settings:        h.cfg.Settings,
		Options:         h.cfg.Options,
		Machine:         h.machine,
		SourceFolder:    h.cfg.Folders.Source,
		BuildFolder:     h.cfg.Folders.Build,
		PackageFolder:   packageFolder,
		PackageID:       id,
		Deps:            resolved,
		Paths:           pathconv.Converter{Windows: h.machine.IsWindows(), Subsystem: pathconv.Subsystem(h.cfg.Subsystem)},
		MakeJobs:        h.cfg.MakeJobs,
		Runner:          h.runner,
		Fetcher:         h.fetcher,
		SourceOverrides: h.cfg.Source,
		Env:             h.env,
	}, nil
}

// Run executes the selected steps in lifecycle order; no steps means all of them.
func (h *Host) Run(ctx context.Context, steps ...Step) (*Result, error) {
	selected, err := selectSteps(steps)
	if err != nil {
		return nil, err
	}

	hc, err := h.Prepare(ctx)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithKV(ctx,
		"package", h.meta.Identity.Ref(),
		"package_id", hc.PackageID,
		"options", hc.Options.String(),
	)

	for _, dir := range []string{hc.SourceFolder, hc.BuildFolder, hc.PackageFolder} {
		if err = os.MkdirAll(dir, defaultDirPermissions); err != nil {
			return nil, fmt.Errorf("create folder: %w", err)
		}
	}

	lock, err := acquireLock(ctx, filepath.Dir(hc.PackageFolder), hc.PackageID)
	if err != nil {
		return nil, err
	}

	defer func() {
		if releaseErr := lock.release(); releaseErr != nil {
			logger.WarnKV(ctx, "Failed to release lock", "path", lock.path, "error", releaseErr)
		}
	}()

	descriptor := h.factory(hc)
	result := &Result{Context: hc}

	for _, step := range selected {
		logger.InfoKV(ctx, "Running step", "step", step)

		if err = h.runStep(ctx, descriptor, step, result); err != nil {
			return nil, fmt.Errorf("%s: %w", step, err)
		}
	}

	logger.InfoKV(ctx, "Done", "package_folder", hc.PackageFolder)

	return result, nil
}

func (h *Host) runStep(ctx context.Context, d Descriptor, step Step, result *Result) error {
	switch step {
	case StepSource:
		return d.Source(ctx)
	case StepImports:
		return d.Imports(ctx)
	case StepBuild:
		return d.Build(ctx)
	case StepPackage:
		return d.Package(ctx)
	case StepPackageInfo:
		info := pkgmeta.DefaultCppInfo()
		if err := d.PackageInfo(ctx, info); err != nil {
			return err
		}

		path, err := WriteManifest(result.Context, info)
		if err != nil {
			return err
		}

		result.CppInfo = info
		result.ManifestPath = path

		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}
}

// packageIDInput is hashed into the package ID; yaml.v3 sorts map keys.
type packageIDInput struct {
	Settings pkgmeta.Settings  `yaml:"settings"`
	Options  pkgmeta.Options   `yaml:"options"`
	Requires map[string]string `yaml:"requires"`
}

// PackageID hashes the settings, options and resolved requirement versions.
func PackageID(settings pkgmeta.Settings, options pkgmeta.Options, resolved deps.Resolved) (string, error) {
	input := packageIDInput{
		Settings: settings,
		Options:  options,
		Requires: requirementVersions(resolved),
	}

	data, err := yaml.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshal package id input: %w", err)
	}

	sum := sha1.Sum(data) //nolint:gosec // See import.

	return hex.EncodeToString(sum[:]), nil
}

func requirementVersions(resolved deps.Resolved) map[string]string {
	versions := make(map[string]string, len(resolved))
	for name, dep := range resolved {
		versions[name] = dep.Ref().String()
	}

	return versions
}

// Step names one lifecycle callback.
type Step string

// Lifecycle steps.
const (
	StepSource      Step = "source"
	StepImports     Step = "imports"
	StepBuild       Step = "build"
	StepPackage     Step = "package"
	StepPackageInfo Step = "package_info"
)

// ErrUnknownStep is returned for step names outside the lifecycle.
var ErrUnknownStep = errors.New("unknown step")

// AllSteps returns the lifecycle in execution order.
func AllSteps() []Step {
	return []Step{StepSource, StepImports, StepBuild, StepPackage, StepPackageInfo}
}

// ParseStep validates a step name.
func ParseStep(name string) (Step, error) {
	step := Step(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range AllSteps() {
		if step == known {
			return step, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownStep, name)
}

// selectSteps returns the requested steps in lifecycle order without duplicates.
func selectSteps(steps []Step) ([]Step, error) {
	if len(steps) == 0 {
		return AllSteps(), nil
	}

	requested := make(map[Step]struct{}, len(steps))

	for _, step := range steps {
		parsed, err := ParseStep(string(step))
		if err != nil {
			return nil, err
		}

		requested[parsed] = struct{}{}
	}

	ordered := make([]Step, 0, len(requested))

	for _, step := range AllSteps() {
		if _, ok := requested[step]; ok {
			ordered = append(ordered, step)
		}
	}

	return ordered, nil
}
