// Package scheduler periodically advances unattended runs.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/lucasnoah/agentgist/internal/orchestrator"
)

// CheckInner is the part of the orchestrator the scheduler drives.
type CheckInner interface {
	CheckIn(ctx context.Context) (*orchestrator.CheckInResult, error)
}

// Scheduler runs CheckIn on a cron schedule. A pass that is still running
// when the next one is due is skipped.
type Scheduler struct {
	cron   *cron.Cron
	target CheckInner
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	busy   bool
}

// New creates a Scheduler that calls target.CheckIn on schedule, which may be
// a standard five-field expression or a descriptor such as "@every 1m".
func New(schedule string, target CheckInner, log zerolog.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(),
		target: target,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		cancel()
		return nil, fmt.Errorf("schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start starts the cron loop in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels an in-flight pass and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunOnce performs one check-in pass unless another is in progress.
func (s *Scheduler) RunOnce() {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		s.log.Debug().Msg("check-in still running, skipping")
		return
	}
	s.busy = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	res, err := s.target.CheckIn(s.ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("check-in failed")
		return
	}
	ev := s.log.Info()
	if res.Advanced == 0 && len(res.Errors) == 0 {
		ev = s.log.Debug()
	}
	ev.Int("advanced", res.Advanced).
		Int("awaiting", res.Awaiting).
		Int("skipped", res.Skipped).
		Strs("errors", res.Errors).
		Msg("check-in")
}
