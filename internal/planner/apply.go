package planner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentx-labs/stackforge/internal/faults"
)

// Outcome is what happened to a step during apply.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeNoop           Outcome = "no-op"
	OutcomeConflict       Outcome = "conflict"
	OutcomeSkipped        Outcome = "skipped-due-to-sibling-failure"
	OutcomeDeferred       Outcome = "deferred"
	OutcomeFailed         Outcome = "failed"
	OutcomeNotStarted     Outcome = "not-started"
	OutcomeRolledBack     Outcome = "rolled-back"
	OutcomeRollbackFailed Outcome = "rollback-failed"
)

// ApplyOptions filters what Apply runs.
type ApplyOptions struct {
	// Only restricts apply to these kinds; other pending steps are deferred.
	// Empty means every kind.
	Only []Kind
}

func (o ApplyOptions) allows(k Kind) bool {
	return len(o.Only) == 0 || slices.Contains(o.Only, k)
}

// StepResult is the apply outcome of one step.
type StepResult struct {
	Step    *Step
	Outcome Outcome
	Err     error
}

// ApplyResult reports one apply run.
type ApplyResult struct {
	RunID string
	// Steps follows plan order.
	Steps []StepResult
	// Failure is the first failing step, with the rollback of every step
	// started before it. Nil when apply succeeded.
	Failure *faults.StepFailure
	// Err is Failure, a cancellation error, or nil.
	Err error
}

// Count returns how many steps ended with outcome o.
func (r *ApplyResult) Count(o Outcome) int {
	n := 0
	for _, s := range r.Steps {
		if s.Outcome == o {
			n++
		}
	}
	return n
}

// journal records started steps in start order.
type journal struct {
	mu      sync.Mutex
	started []*Step
	first   *Step
	cause   error
}

func (j *journal) start(s *Step) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.started = append(j.started, s)
}

func (j *journal) fail(s *Step, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.first == nil {
		j.first, j.cause = s, err
	}
}

// Apply runs the plan's pending steps. Ecosystems run concurrently, steps
// within one ecosystem run in order, and hook registration runs once every
// lane has finished. On the first failure or on cancellation no new step
// starts, in-flight steps finish, and every started step is rolled back in
// reverse order.
func (p *Planner) Apply(ctx context.Context, plan *Plan, opts ApplyOptions) *ApplyResult {
	result := &ApplyResult{RunID: uuid.NewString()}
	logger := p.logger.With(zap.String("run", result.RunID))

	outcomes := make(map[*Step]*StepResult, len(plan.Steps))
	var lanes [][]*Step
	laneIndex := make(map[string]int)
	var hooks []*Step
	for _, s := range plan.Steps {
		sr := StepResult{Step: s}
		switch {
		case s.Status == StatusNoop:
			sr.Outcome = OutcomeNoop
		case s.Status == StatusConflict:
			sr.Outcome, sr.Err = OutcomeConflict, s.Err
		case s.Status == StatusSkipped:
			sr.Outcome = OutcomeSkipped
		case !opts.allows(s.Kind):
			sr.Outcome = OutcomeDeferred
		default:
			sr.Outcome = OutcomeNotStarted
			if s.Kind == KindHook {
				hooks = append(hooks, s)
				break
			}
			i, ok := laneIndex[s.Ecosystem]
			if !ok {
				i = len(lanes)
				laneIndex[s.Ecosystem] = i
				lanes = append(lanes, nil)
			}
			lanes[i] = append(lanes[i], s)
		}
		result.Steps = append(result.Steps, sr)
	}
	for i := range result.Steps {
		outcomes[result.Steps[i].Step] = &result.Steps[i]
	}

	j := &journal{}
	runLane := func(stop context.Context, lane []*Step) error {
		for _, s := range lane {
			if stop.Err() != nil {
				return nil
			}
			j.start(s)
			logger.Debug("applying step", zap.String("step", s.ID))
			if err := s.Apply(ctx); err != nil {
				j.fail(s, err)
				outcomes[s].Outcome, outcomes[s].Err = OutcomeFailed, err
				return err
			}
			outcomes[s].Outcome = OutcomeApplied
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, lane := range lanes {
		g.Go(func() error { return runLane(gctx, lane) })
	}
	_ = g.Wait()

	if j.first == nil && ctx.Err() == nil && len(hooks) > 0 {
		_ = runLane(ctx, hooks)
	}

	if j.first == nil && ctx.Err() == nil {
		logger.Info("apply finished", zap.Int("applied", result.Count(OutcomeApplied)))
		return result
	}

	rollback := p.rollback(ctx, j.started, outcomes, logger)
	if j.first != nil {
		result.Failure = &faults.StepFailure{
			StepID:   j.first.ID,
			Kind:     string(j.first.Kind),
			Cause:    j.cause,
			Rollback: rollback,
		}
		result.Err = result.Failure
		logger.Warn("apply failed", zap.String("step", j.first.ID), zap.Error(j.cause))
		return result
	}
	result.Err = fmt.Errorf("apply cancelled after %d step(s): %w", len(j.started), ctx.Err())
	logger.Warn("apply cancelled", zap.Int("rolled_back", len(rollback)))
	return result
}

// rollback undoes started steps newest first. It ignores cancellation of
// ctx so an interrupted run still restores the project.
func (p *Planner) rollback(ctx context.Context, started []*Step, outcomes map[*Step]*StepResult, logger *zap.Logger) []faults.RollbackOutcome {
	ctx = context.WithoutCancel(ctx)
	var out []faults.RollbackOutcome
	for i := len(started) - 1; i >= 0; i-- {
		s := started[i]
		err := s.Rollback(ctx)
		out = append(out, faults.RollbackOutcome{StepID: s.ID, Err: err})
		sr := outcomes[s]
		if err != nil {
			logger.Error("rollback failed", zap.String("step", s.ID), zap.Error(err))
			sr.Outcome = OutcomeRollbackFailed
			sr.Err = errors.Join(sr.Err, err)
			continue
		}
		if sr.Outcome != OutcomeFailed {
			sr.Outcome = OutcomeRolledBack
		}
	}
	return out
}
