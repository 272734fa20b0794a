// Package reconcile is C9, the Reconciliation Scheduler: a periodic sweep
// over every non-terminal DeploymentRecord that drives the state machine in
// internal/deployment forward without assuming it runs on a precise
// schedule (spec.md §4.9 and the "Observer/tick decoupling" design note —
// every decision is made from last_update_time plus wall-clock comparisons,
// never from a tick counter).
package reconcile

import (
	"context"
	"time"

	"github.com/warp-strategies/factory/internal/deployment"
	"github.com/warp-strategies/factory/internal/platform/clock"
	"github.com/warp-strategies/factory/internal/platform/metrics"
)

// Config controls tick cadence and per-tick batch size.
type Config struct {
	TickInterval time.Duration
	MaxPerTick   int
}

// DefaultConfig matches spec.md §5's TICK_SECS=300, MAX_PER_TICK=50.
func DefaultConfig() Config {
	return Config{TickInterval: 300 * time.Second, MaxPerTick: 50}
}

// Scheduler runs C9's periodic loop against a deployment.Machine.
type Scheduler struct {
	machine *deployment.Machine
	clock   clock.Clock
	cfg     Config
	Logger  func(format string, args ...any)
	Metrics *metrics.Metrics

	resetCh chan struct{}
}

func New(machine *deployment.Machine, clk clock.Clock, cfg Config) *Scheduler {
	return &Scheduler{
		machine: machine,
		clock:   clk,
		cfg:     cfg,
		Logger:  func(string, ...any) {},
		resetCh: make(chan struct{}, 1),
	}
}

func (s *Scheduler) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now().UTC()
}

// Run blocks, firing Tick every TickInterval until ctx is canceled, or
// immediately whenever ResetTimers is called. Intended to be launched in its
// own goroutine from cmd/factoryd.
func (s *Scheduler) Run(ctx context.Context) {
	wait := s.cfg.TickInterval
	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.resetCh:
			timer.Stop()
			wait = 0
			continue
		case <-timer.C:
			if n, err := s.Tick(ctx); err != nil {
				s.Logger("reconciliation tick failed after processing %d records: %v", n, err)
			}
			wait = s.cfg.TickInterval
		}
	}
}

// Tick scans non-terminal DeploymentRecords ordered by last_update_time
// ascending and processes up to MaxPerTick of them (spec.md §4.9). Returns
// the number of records processed.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	started := s.now()
	n, err := s.tick(ctx)
	s.Metrics.ObserveReconcileTick(n, s.now().Sub(started), err)
	return n, err
}

func (s *Scheduler) tick(ctx context.Context) (int, error) {
	recs, err := s.machine.NonTerminal(ctx)
	if err != nil {
		return 0, err
	}
	limit := s.cfg.MaxPerTick
	if limit <= 0 || limit > len(recs) {
		limit = len(recs)
	}
	processed := 0
	for _, rec := range recs[:limit] {
		if err := s.machine.ProcessOne(ctx, rec.DeploymentID); err != nil {
			return processed, err
		}
		processed++
	}
	if len(recs) > limit {
		s.Logger("reconciliation tick capped at %d of %d non-terminal deployments", limit, len(recs))
	}
	return processed, nil
}

// ResetTimers implements reset_system_timers: the next scheduled tick fires
// immediately rather than waiting out the remainder of the current
// interval. It does not touch any DeploymentRecord directly; Run must be
// active for this to have any effect.
func (s *Scheduler) ResetTimers() {
	select {
	case s.resetCh <- struct{}{}:
	default:
	}
}
