package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/agentx-labs/stackforge/internal/branding"
	"github.com/agentx-labs/stackforge/internal/config"
	"github.com/agentx-labs/stackforge/internal/engine"
	"github.com/agentx-labs/stackforge/internal/logging"
	"github.com/agentx-labs/stackforge/internal/planner"
	"github.com/agentx-labs/stackforge/internal/registry"
	"github.com/agentx-labs/stackforge/internal/report"
	"github.com/agentx-labs/stackforge/internal/rules"
	"github.com/agentx-labs/stackforge/internal/signal"
)

var (
	buildVersion string
	buildCommit  string
	buildDate    string
)

var (
	flagRoot    string
	flagVerbose bool
	flagNoColor bool
)

var rootCmd = &cobra.Command{
	Use:   branding.CLIName(),
	Short: branding.Description(),
	Long: branding.DisplayName() + ` inspects a project, detects the ecosystems and frameworks it uses,
and installs and configures the matching lint, format and hook tooling.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.Load(flagRoot)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagRoot, "root", ".", "Project root to inspect")
	pf.String("registry", "", "Directory of registry documents shadowing the built-in set")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Debug logging and per-step output")
	pf.String("log-format", "", "Log encoding: console or json")
	pf.StringSlice("with", nil, "Force a feature on (repeatable)")
	pf.StringSlice("without", nil, "Suppress a detected feature (repeatable)")
	pf.BoolVar(&flagNoColor, "no-color", false, "Disable colored output")

	_ = viper.BindPFlag(config.KeyRegistryPath, pf.Lookup("registry"))
	_ = viper.BindPFlag(config.KeyLogFormat, pf.Lookup("log-format"))
	_ = viper.BindPFlag(config.KeyFeaturesForce, pf.Lookup("with"))
	_ = viper.BindPFlag(config.KeyFeaturesSuppress, pf.Lookup("without"))
}

// Execute runs the root command with build info injected via ldflags.
func Execute(version, commit, date string) error {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	return rootCmd.Execute()
}

// settings returns the resolved configuration with command-line switches
// that have no config key applied on top.
func settings() config.Settings {
	s := config.Current()
	if flagNoColor {
		s.Color = false
	}
	if flagVerbose {
		s.LogLevel = "debug"
	}
	return s
}

func newLogger(s config.Settings, w io.Writer) (*zap.Logger, error) {
	logger, err := logging.New(logging.Options{Level: s.LogLevel, Format: s.LogFormat, Out: w})
	if err != nil {
		return nil, fmt.Errorf("configuring logger: %w", err)
	}
	return logger, nil
}

// engineOptions maps settings onto the engine configuration.
func engineOptions(root string, s config.Settings, reg *registry.Compiled, logger *zap.Logger, out io.Writer) engine.Options {
	var exclude []string
	if len(s.Exclude) > 0 {
		exclude = append(signal.DefaultExcludes(), s.Exclude...)
	}
	return engine.Options{
		Root:     root,
		Registry: reg,
		Collector: signal.Options{
			Exclude:     exclude,
			MaxDepth:    s.MaxDepth,
			MaxFileSize: s.MaxFileSize,
			Workers:     s.Workers,
			Timeout:     s.Timeout,
		},
		Rules: rules.Options{
			Suppress: toFeatures(s.Suppress),
			Force:    toFeatures(s.Force),
		},
		Logger:         logger,
		LockTimeout:    s.LockTimeout,
		InstallTimeout: s.InstallTimeout,
		Out:            out,
		Report: report.Options{
			Color:   s.Color,
			Verbose: flagVerbose,
		},
	}
}

func toFeatures(names []string) []rules.Feature {
	if len(names) == 0 {
		return nil
	}
	out := make([]rules.Feature, 0, len(names))
	for _, n := range names {
		if n != "" {
			out = append(out, rules.Feature(n))
		}
	}
	return out
}

// newEngine builds an engine for the current command. Installer output is
// streamed to stderr when verbose.
func newEngine(cmd *cobra.Command, reportOpts func(*report.Options)) (*engine.Engine, *zap.Logger, error) {
	s := settings()
	logger, err := newLogger(s, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	reg, err := engine.LoadRegistry(s.RegistryPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading registry: %w", err)
	}

	opts := engineOptions(flagRoot, s, reg, logger, cmd.OutOrStdout())
	runner := &planner.ExecRunner{}
	if flagVerbose {
		runner.Stdout = cmd.ErrOrStderr()
		runner.Stderr = cmd.ErrOrStderr()
	}
	opts.Runner = runner
	if reportOpts != nil {
		reportOpts(&opts.Report)
	}

	eng, err := engine.New(opts)
	if err != nil {
		return nil, nil, err
	}
	return eng, logger, nil
}

// runMode runs one engine mode and flushes the logger.
func runMode(cmd *cobra.Command, mode engine.Mode, noDiff bool) error {
	eng, logger, err := newEngine(cmd, func(o *report.Options) { o.NoDiff = noDiff })
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Debug("running", zap.String("mode", string(mode)), zap.String("root", eng.Root()))
	_, err = eng.Run(cmd.Context(), mode)
	return err
}
