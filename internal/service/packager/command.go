package packager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/mpfr-recipe/internal/config"
	"github.com/oshokin/mpfr-recipe/internal/domain/pkgmeta"
	"github.com/oshokin/mpfr-recipe/internal/host"
	"github.com/oshokin/mpfr-recipe/internal/logger"
	"github.com/oshokin/mpfr-recipe/internal/recipe"
)

// Options contains inputs for the packager entry points.
type Options struct {
	// ProfilePath is the build profile (defaults to mpfr-profile.yaml).
	ProfilePath string
	// Steps restricts the lifecycle; empty runs every step.
	Steps []string
	// Settings override profile settings, as "key=value" (os, arch).
	Settings []string
	// Values override recipe options, as "key=value" (shared).
	Values []string

	// hostOptions are appended to the host options; tests use them to stub tools.
	hostOptions []host.Option
}

var (
	errBadOverride     = errors.New("override must look like key=value")
	errUnknownSetting  = errors.New("unknown setting")
	errUnknownOption   = errors.New("unknown option")
	errBadOptionValue  = errors.New("bad option value")
	errNoOptionsPassed = errors.New("options are not set")
)

// Run executes the selected lifecycle steps for the profile.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "mpfr-recipe")

	h, err := newHost(opts)
	if err != nil {
		return err
	}

	steps := make([]host.Step, 0, len(opts.Steps))

	for _, name := range opts.Steps {
		step, parseErr := host.ParseStep(name)
		if parseErr != nil {
			return parseErr
		}

		steps = append(steps, step)
	}

	result, err := h.Run(ctx, steps...)
	if err != nil {
		return fmt.Errorf("recipe failed: %w", err)
	}

	printNextSteps(ctx, result)

	return nil
}

// Inspect writes the recipe metadata as YAML.
func Inspect(w io.Writer) error {
	meta := recipe.Metadata()

	report := struct {
		pkgmeta.Identity `yaml:",inline"`

		Settings       []string          `yaml:"settings"`
		Options        map[string][]bool `yaml:"options"`
		DefaultOptions map[string]bool   `yaml:"default_options"`
		Requires       []string          `yaml:"requires"`
		NoCopySource   bool              `yaml:"no_copy_source"`
		Steps          []host.Step       `yaml:"steps"`
	}{
		Identity:       meta.Identity,
		Settings:       []string{"os", "arch"},
		Options:        map[string][]bool{"shared": {true, false}},
		DefaultOptions: map[string]bool{"shared": false},
		Requires:       meta.Requires,
		NoCopySource:   true,
		Steps:          host.AllSteps(),
	}

	return writeYAML(w, report)
}

// Plan is the resolved build plan printed by Info.
type Plan struct {
	Reference     string            `yaml:"reference"`
	PackageID     string            `yaml:"package_id"`
	Settings      map[string]string `yaml:"settings"`
	Options       map[string]string `yaml:"options"`
	Requires      map[string]string `yaml:"requires"`
	Host          string            `yaml:"host"`
	SourceURL     string            `yaml:"source_url"`
	SourceFolder  string            `yaml:"source_folder"`
	BuildFolder   string            `yaml:"build_folder"`
	PackageFolder string            `yaml:"package_folder"`
	ConfigureArgs []string          `yaml:"configure_args"`
	ConfigureEnvs map[string]string `yaml:"configure_envs,omitempty"`
}

// Info resolves the profile without building and writes the plan as YAML.
func Info(ctx context.Context, opts *Options, w io.Writer) error {
	plan, err := BuildPlan(ctx, opts)
	if err != nil {
		return err
	}

	return writeYAML(w, plan)
}

// BuildPlan resolves the profile into a Plan.
func BuildPlan(ctx context.Context, opts *Options) (*Plan, error) {
	h, err := newHost(opts)
	if err != nil {
		return nil, err
	}

	hc, err := h.Prepare(ctx)
	if err != nil {
		return nil, err
	}

	r := recipe.New(hc)

	hostTriplet, err := r.Host()
	if err != nil {
		return nil, err
	}

	args, err := r.ConfigureArgs()
	if err != nil {
		return nil, err
	}

	envs, err := r.ConfigureEnvs()
	if err != nil {
		return nil, err
	}

	requires := make(map[string]string, len(hc.Deps))
	for name, dep := range hc.Deps {
		requires[name] = dep.Ref().String()
	}

	return &Plan{
		Reference: hc.Identity.Ref(),
		PackageID: hc.PackageID,
		Settings: map[string]string{
			"os":   hc.Settings.OS,
			"arch": hc.Settings.Arch,
		},
		Options: map[string]string{
			"shared": strconv.FormatBool(hc.Options.Shared),
		},
		Requires:      requires,
		Host:          hostTriplet,
		SourceURL:     r.SourceURL(),
		SourceFolder:  hc.SourceFolder,
		BuildFolder:   hc.BuildFolder,
		PackageFolder: hc.PackageFolder,
		ConfigureArgs: args,
		ConfigureEnvs: envs,
	}, nil
}

// newHost loads the profile, applies overrides and binds the recipe.
func newHost(opts *Options) (*host.Host, error) {
	if opts == nil {
		return nil, errNoOptionsPassed
	}

	cfg, err := config.Load(opts.ProfilePath)
	if err != nil {
		return nil, err
	}

	if err = applyOverrides(cfg, opts); err != nil {
		return nil, err
	}

	if err = config.Validate(cfg); err != nil {
		return nil, err
	}

	return host.New(cfg, recipe.Metadata(), recipe.Factory, opts.hostOptions...)
}

// applyOverrides writes command line settings and options over the profile.
func applyOverrides(cfg *config.Config, opts *Options) error {
	for _, raw := range opts.Settings {
		key, value, err := splitOverride(raw)
		if err != nil {
			return err
		}

		switch key {
		case "os":
			cfg.Settings.OS = value
		case "arch":
			cfg.Settings.Arch = value
		default:
			return fmt.Errorf("%w: %q", errUnknownSetting, key)
		}
	}

	for _, raw := range opts.Values {
		key, value, err := splitOverride(raw)
		if err != nil {
			return err
		}

		// Allow the "mpfr:shared=True" form as well.
		key = strings.TrimPrefix(key, recipe.Identity().Name+":")

		switch key {
		case "shared":
			shared, parseErr := strconv.ParseBool(value)
			if parseErr != nil {
				return fmt.Errorf("%w: shared=%q", errBadOptionValue, value)
			}

			cfg.Options.Shared = shared
		default:
			return fmt.Errorf("%w: %q", errUnknownOption, key)
		}
	}

	return nil
}

func splitOverride(raw string) (string, string, error) {
	key, value, ok := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)

	if !ok || key == "" {
		return "", "", fmt.Errorf("%w: %q", errBadOverride, raw)
	}

	return key, strings.TrimSpace(value), nil
}

// printNextSteps logs what consumers of the package need to know.
func printNextSteps(ctx context.Context, result *host.Result) {
	if result == nil || result.Context == nil {
		return
	}

	var builder strings.Builder

	builder.WriteString("Package ")
	builder.WriteString(result.Context.Identity.Ref())
	builder.WriteString(" (")
	builder.WriteString(result.Context.PackageID)
	builder.WriteString(") is in ")
	builder.WriteString(result.Context.PackageFolder)

	if info := result.CppInfo; info != nil {
		builder.WriteString("\nLink with: -l")
		builder.WriteString(strings.Join(info.Libs, " -l"))

		if len(info.SharedLinkFlags) > 0 {
			builder.WriteString("\nShared link flags: ")
			builder.WriteString(strings.Join(info.SharedLinkFlags, " "))
		}

		if len(info.ExeLinkFlags) > 0 {
			builder.WriteString("\nExecutable link flags: ")
			builder.WriteString(strings.Join(info.ExeLinkFlags, " "))
		}

		builder.WriteString("\nManifest: ")
		builder.WriteString(result.ManifestPath)
	}

	logger.Info(ctx, builder.String())
}

func writeYAML(w io.Writer, v any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)

	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}

	return encoder.Close()
}
