package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/mpfr-recipe/internal/config"
	"github.com/oshokin/mpfr-recipe/internal/host"
	"github.com/oshokin/mpfr-recipe/internal/logger"
	"github.com/oshokin/mpfr-recipe/internal/service/packager"
	"github.com/oshokin/mpfr-recipe/internal/version"
)

var errUnknownLogLevel = errors.New("unknown log level")

var (
	// profilePath to the build profile YAML file.
	profilePath string
	// logLevel is the minimum level of log lines.
	logLevel string
	// settings are "key=value" overrides of profile settings.
	settings []string
	// values are "key=value" overrides of recipe options.
	values []string
	// steps restricts the create command to some lifecycle steps.
	steps []string

	// rootCmd represents the base command.
	rootCmd = &cobra.Command{
		Use:           "mpfr-recipe",
		Short:         "Build and package the MPFR library against a GMP package",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, ok := logger.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("%w: %q", errUnknownLogLevel, logLevel)
			}

			logger.SetLevel(level)

			return nil
		},
	}

	createCmd = &cobra.Command{
		Use:   "create",
		Short: "Run the whole recipe: source, imports, build, package and package_info",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runSteps(steps)
		},
	}

	sourceCmd = &cobra.Command{
		Use:   "source",
		Short: "Download and unpack the MPFR release into the source folder",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runSteps([]string{string(host.StepSource)})
		},
	}

	buildCmd = &cobra.Command{
		Use:   "build",
		Short: "Build already fetched sources and describe the package",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runSteps([]string{
				string(host.StepImports),
				string(host.StepBuild),
				string(host.StepPackage),
				string(host.StepPackageInfo),
			})
		},
	}

	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Print the resolved build plan without building",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return packager.Info(ctx, options(nil), cmd.OutOrStdout())
		},
	}

	inspectCmd = &cobra.Command{
		Use:   "inspect",
		Short: "Print the recipe metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return packager.Inspect(cmd.OutOrStdout())
		},
	}
)

// Execute runs the mpfr-recipe CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}

func runSteps(selected []string) error {
	// Setup graceful shutdown handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return packager.Run(ctx, options(selected))
}

func options(selected []string) *packager.Options {
	return &packager.Options{
		ProfilePath: profilePath,
		Steps:       selected,
		Settings:    settings,
		Values:      values,
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&profilePath, "profile", "p", config.DefaultConfigFilename, "path to the build profile")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringArrayVarP(&settings, "setting", "s", nil, "override a setting, e.g. -s os=Windows")
	flags.StringArrayVarP(&values, "option", "o", nil, "override an option, e.g. -o shared=True")

	createCmd.Flags().StringSliceVar(&steps, "steps", nil, "run only these lifecycle steps")

	rootCmd.AddCommand(createCmd, sourceCmd, buildCmd, infoCmd, inspectCmd)
}
