package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/agentx-labs/stackforge/internal/branding"
	"github.com/agentx-labs/stackforge/internal/faults"
	"github.com/agentx-labs/stackforge/internal/fsutil"
	"github.com/agentx-labs/stackforge/internal/logging"
	"github.com/agentx-labs/stackforge/internal/planner"
	"github.com/agentx-labs/stackforge/internal/registry"
	"github.com/agentx-labs/stackforge/internal/report"
	"github.com/agentx-labs/stackforge/internal/resolver"
	"github.com/agentx-labs/stackforge/internal/rules"
	"github.com/agentx-labs/stackforge/internal/signal"
)

// Mode selects what Run does after planning.
type Mode string

const (
	// ModeSetup applies every pending step.
	ModeSetup Mode = "setup"
	// ModeCheck previews the plan and reports whether anything would change.
	ModeCheck Mode = "check"
	// ModeFix applies file writes and hook registration, deferring installs.
	ModeFix Mode = "fix"
	// ModeDetect stops after resolution.
	ModeDetect Mode = "detect"
)

// Options configures an Engine.
type Options struct {
	Root      string
	Registry  *registry.Compiled
	Collector signal.Options
	Rules     rules.Options
	Runner    planner.Runner
	Logger    *zap.Logger

	LockTimeout    time.Duration
	InstallTimeout time.Duration

	// Out receives the preview and summary; nil discards them.
	Out    io.Writer
	Report report.Options
}

// Engine runs the pipeline for one root.
type Engine struct {
	opts    Options
	root    string
	logger  *zap.Logger
	planner *planner.Planner
}

// New validates opts and creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, errors.New("engine needs a compiled registry")
	}
	root := opts.Root
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %s: %w", root, err)
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	logger := logging.OrNop(opts.Logger)
	return &Engine{
		opts:   opts,
		root:   abs,
		logger: logger,
		planner: planner.New(planner.Options{
			Runner:         opts.Runner,
			Logger:         logger,
			MarkerTag:      branding.MarkerTag(),
			InstallTimeout: opts.InstallTimeout,
		}),
	}, nil
}

// Root returns the absolute project root.
func (e *Engine) Root() string { return e.root }

// Outcome is everything one run produced. Fields after the failing stage
// are nil.
type Outcome struct {
	Mode       Mode
	Signals    *signal.Set
	Evaluation *rules.Evaluation
	Plugins    *resolver.PluginSet
	Plan       *planner.Plan
	Result     *planner.ApplyResult
	Err        error
}

// ExitCode maps the outcome onto the process exit status.
func (o *Outcome) ExitCode() int {
	return faults.ExitCode(o.Err)
}

// Detect collects signals, evaluates rules and resolves plugins.
func (e *Engine) Detect(ctx context.Context) (*Outcome, error) {
	out := &Outcome{Mode: ModeDetect}
	err := e.detect(ctx, out)
	out.Err = err
	return out, err
}

func (e *Engine) detect(ctx context.Context, out *Outcome) error {
	copts := e.opts.Collector
	copts.Probes = append(append([]string(nil), copts.Probes...), e.opts.Registry.Probes...)
	copts.Logger = e.logger
	signals, err := signal.New(copts).Collect(ctx, e.root)
	if err != nil {
		return err
	}
	out.Signals = signals

	eval, err := rules.Evaluate(signals, e.opts.Registry.Rules, e.opts.Registry.Exclusions, e.opts.Rules)
	if err != nil {
		return err
	}
	out.Evaluation = eval
	e.logger.Debug("features detected", zap.Strings("features", eval.Features.Strings()))

	plugins, err := resolver.Resolve(eval.Features, e.opts.Registry.Plugins)
	if err != nil {
		return err
	}
	out.Plugins = plugins
	return nil
}

// Run executes mode. The returned error is also stored in the outcome;
// for check mode a plan with changes yields a silent *faults.ExitStatus.
func (e *Engine) Run(ctx context.Context, mode Mode) (*Outcome, error) {
	out := &Outcome{Mode: mode}
	out.Err = e.run(ctx, mode, out)
	return out, out.Err
}

func (e *Engine) run(ctx context.Context, mode Mode, out *Outcome) error {
	switch mode {
	case ModeSetup, ModeCheck, ModeFix, ModeDetect:
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	if mode == ModeSetup || mode == ModeFix {
		lock, err := fsutil.AcquireLock(ctx, filepath.Join(e.root, branding.LockFile()), e.opts.LockTimeout)
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				e.logger.Warn("releasing project lock", zap.Error(err))
			}
		}()
	}

	if err := e.detect(ctx, out); err != nil {
		return err
	}
	if mode == ModeDetect {
		return nil
	}

	plan, err := e.planner.Plan(ctx, e.root, planner.Input{
		Features:   out.Evaluation.Features,
		Plugins:    out.Plugins,
		Signals:    out.Signals,
		Ecosystems: e.opts.Registry.Ecosystems,
		Artifacts:  e.opts.Registry.Artifacts,
	})
	if err != nil {
		return fmt.Errorf("planning: %w", err)
	}
	out.Plan = plan
	report.Preview(e.opts.Out, plan, e.opts.Report)
	conflicts := plan.Conflicts()

	if mode == ModeCheck {
		if len(conflicts) > 0 {
			return errors.Join(conflicts...)
		}
		if !plan.Clean() {
			return &faults.ExitStatus{Code: faults.ExitChanges}
		}
		return nil
	}

	var applyOpts planner.ApplyOptions
	if mode == ModeFix {
		applyOpts.Only = []planner.Kind{planner.KindWrite, planner.KindHook}
	}
	result := e.planner.Apply(ctx, plan, applyOpts)
	out.Result = result
	fmt.Fprintln(e.opts.Out)
	report.Summary(e.opts.Out, result, e.opts.Report)

	errs := make([]error, 0, len(conflicts)+1)
	if result.Err != nil {
		errs = append(errs, result.Err)
	}
	errs = append(errs, conflicts...)
	return errors.Join(errs...)
}

// LoadRegistry compiles the embedded registry, shadowed by documents in
// dir when dir is set.
func LoadRegistry(dir string) (*registry.Compiled, error) {
	var sources []registry.Source
	if dir != "" {
		src, err := registry.DirSource(dir)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	sources = append(sources, registry.DefaultSource())
	reg, err := registry.Load(sources...)
	if err != nil {
		return nil, err
	}
	return reg.Compile()
}
