package signal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/agentx-labs/stackforge/internal/faults"
	"github.com/agentx-labs/stackforge/internal/logging"
	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrTimeBudget is returned when collection does not finish within Options.Timeout.
var ErrTimeBudget = errors.New("signal collection exceeded its time budget")

// DefaultExcludes are directory globs never descended into.
func DefaultExcludes() []string {
	return []string{
		".git/**", ".hg/**", ".svn/**",
		"node_modules/**", "vendor/**", ".venv/**", "venv/**", "__pycache__/**",
		"dist/**", "build/**", "target/**", "bin/**", "obj/**",
		".next/**", ".astro/**", ".cache/**", "coverage/**",
		"testdata/**",
	}
}

// Options configures a Collector.
type Options struct {
	// Probes are the globs reported as file:exists signals. Globs without a
	// slash match a base name at any depth; others match the root-relative path.
	Probes      []string
	Exclude     []string
	MaxDepth    int
	MaxFileSize int64
	Workers     int
	Timeout     time.Duration
	Logger      *zap.Logger
}

// Collector gathers signals from a project directory.
type Collector struct {
	opts   Options
	logger *zap.Logger
}

// New creates a Collector, filling unset options with defaults.
func New(opts Options) *Collector {
	if len(opts.Exclude) == 0 {
		opts.Exclude = DefaultExcludes()
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 8
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 1 << 20
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	probes := append([]string(nil), opts.Probes...)
	sort.Strings(probes)
	opts.Probes = probes
	return &Collector{opts: opts, logger: logging.OrNop(opts.Logger)}
}

type manifestJob struct {
	rel    string
	abs    string
	parser manifestParser
}

// Collect walks root and returns the normalized signal set. Unreadable or
// malformed files are recorded as gaps, never as errors.
func (c *Collector) Collect(ctx context.Context, root string) (*Set, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("reading project root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", root)
	}

	ctx, cancel := context.WithTimeoutCause(ctx, c.opts.Timeout, ErrTimeBudget)
	defer cancel()

	var (
		found []Signal
		jobs  []manifestJob
	)
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			// Unreadable entries are evidence gaps.
			return nil
		}
		if p == root {
			return nil
		}
		rel := filepath.ToSlash(mustRel(root, p))
		excluded := c.excluded(rel)
		// Excluded directories are still probed so markers like .git
		// register; excluded files are invisible.
		if d.IsDir() || !excluded {
			for _, probe := range c.opts.Probes {
				if matchGlob(probe, rel) {
					found = append(found, Signal{Key: FileExists(probe), Value: true, SourcePath: rel})
				}
			}
		}

		if d.IsDir() {
			if excluded || strings.Count(rel, "/")+1 >= c.opts.MaxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if excluded {
			return nil
		}

		base := d.Name()
		if manager, ok := lockfiles[base]; ok {
			found = append(found, Signal{Key: Lockfile(manager), Value: true, SourcePath: rel})
		}
		if parser := parserFor(rel); parser != nil {
			jobs = append(jobs, manifestJob{rel: rel, abs: p, parser: parser})
		}
		return nil
	})
	if walkErr != nil {
		return nil, c.wrapCtxErr(ctx, root, walkErr)
	}

	results := make([][]Signal, len(jobs))
	gaps := make([]*faults.EvidenceGap, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sigs, gap := c.readManifest(job)
			results[i] = sigs
			gaps[i] = gap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, c.wrapCtxErr(ctx, root, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, c.wrapCtxErr(ctx, root, err)
	}

	for _, sigs := range results {
		found = append(found, sigs...)
	}
	set := NewSet(found)
	for _, gap := range gaps {
		if gap != nil {
			c.logger.Debug("evidence gap", zap.String("path", gap.Path), zap.String("reason", gap.Reason), zap.Error(gap.Cause))
			set.Gaps = append(set.Gaps, gap)
		}
	}
	c.logger.Debug("signals collected",
		zap.String("root", root),
		zap.Int("signals", set.Len()),
		zap.Int("manifests", len(jobs)),
		zap.Int("gaps", len(set.Gaps)))
	return set, nil
}

func (c *Collector) readManifest(job manifestJob) ([]Signal, *faults.EvidenceGap) {
	info, err := os.Stat(job.abs)
	if err != nil {
		return nil, &faults.EvidenceGap{Path: job.rel, Reason: "unreadable", Cause: err}
	}
	if info.Size() > c.opts.MaxFileSize {
		return nil, &faults.EvidenceGap{Path: job.rel, Reason: fmt.Sprintf("larger than %d bytes", c.opts.MaxFileSize)}
	}
	data, err := os.ReadFile(job.abs)
	if err != nil {
		return nil, &faults.EvidenceGap{Path: job.rel, Reason: "unreadable", Cause: err}
	}
	sigs, err := job.parser(job.rel, data)
	if err != nil {
		return nil, &faults.EvidenceGap{Path: job.rel, Reason: "malformed", Cause: err}
	}
	return append(sigs, Signal{Key: ManifestFile(path.Base(job.rel)), Value: true, SourcePath: job.rel}), nil
}

func (c *Collector) wrapCtxErr(ctx context.Context, root string, err error) error {
	if errors.Is(context.Cause(ctx), ErrTimeBudget) {
		return fmt.Errorf("collecting signals under %s: %w (%s)", root, ErrTimeBudget, c.opts.Timeout)
	}
	return fmt.Errorf("collecting signals under %s: %w", root, err)
}

// excluded reports whether rel matches an exclude glob. A trailing "/**"
// excludes the directory itself; globs without a slash match at any depth.
func (c *Collector) excluded(rel string) bool {
	for _, pattern := range c.opts.Exclude {
		dirPattern := strings.TrimSuffix(pattern, "/**")
		if matchGlob(dirPattern, rel) {
			return true
		}
	}
	return false
}

func matchGlob(pattern, rel string) bool {
	if !strings.Contains(pattern, "/") {
		ok, _ := doublestar.Match(pattern, path.Base(rel))
		return ok
	}
	ok, _ := doublestar.Match(pattern, rel)
	return ok
}

func mustRel(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return rel
}
