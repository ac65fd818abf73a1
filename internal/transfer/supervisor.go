package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/magicaleks/evidence-collector/internal/domain"
)

// DefaultInterval is the pause between dispatch cycles.
const DefaultInterval = time.Second

// WorkerGauge is implemented by stats sinks that track running workers.
type WorkerGauge interface {
	SetActiveWorkers(n int)
}

// Supervisor periodically starts a Worker for every instance that has none
// running.
type Supervisor struct {
	repo      domain.Repository
	authority domain.Authority
	worker    *Worker
	active    *ActiveSet
	gauge     WorkerGauge
	interval  time.Duration
	logger    *slog.Logger

	// running counts workers that have not returned; idle is broadcast
	// when it reaches zero.
	mu      sync.Mutex
	idle    *sync.Cond
	running int
}

func NewSupervisor(repo domain.Repository, authority domain.Authority, stats domain.StatsRecorder, interval time.Duration, logger *slog.Logger) *Supervisor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	gauge, _ := stats.(WorkerGauge)
	s := &Supervisor{
		repo:      repo,
		authority: authority,
		worker:    NewWorker(repo, authority, stats, logger),
		active:    NewActiveSet(),
		gauge:     gauge,
		interval:  interval,
		logger:    logger,
	}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Active exposes the set of instances with a running worker.
func (s *Supervisor) Active() *ActiveSet {
	return s.active
}

// Run dispatches until ctx is cancelled. A failing cycle is logged and the
// loop is entered again.
func (s *Supervisor) Run(ctx context.Context) {
	s.logger.Info("evidence transfer started", "interval", s.interval.String())
	for {
		err := s.loop(ctx)
		if ctx.Err() != nil {
			s.logger.Info("evidence transfer stopped")
			return
		}
		s.logger.Error("evidence transfer error, restarting loop", "err", err)
	}
}

func (s *Supervisor) loop(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if err := s.Dispatch(ctx); err != nil {
			return err
		}
		timer.Reset(s.interval)
	}
}

// Dispatch runs a single cycle: it starts workers for idle instances and
// returns without waiting for them. Nothing is started while the authority
// is unreachable.
func (s *Supervisor) Dispatch(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	if !s.authority.Connected() {
		s.logger.Debug("authority not connected, skipping dispatch")
		return nil
	}

	instances, err := s.repo.Instances(ctx)
	if err != nil {
		return fmt.Errorf("list instances: %w", err)
	}

	for _, instance := range instances {
		if ctx.Err() != nil {
			break
		}
		h, ok := s.active.Acquire(instance)
		if !ok {
			continue
		}
		s.started()
		go s.run(ctx, h)
	}

	if s.gauge != nil {
		s.gauge.SetActiveWorkers(s.active.Len())
	}
	return nil
}

// Wait blocks until no worker is running. It is safe to call while Run is
// still dispatching.
func (s *Supervisor) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.running > 0 {
		s.idle.Wait()
	}
}

func (s *Supervisor) started() {
	s.mu.Lock()
	s.running++
	s.mu.Unlock()
}

func (s *Supervisor) finished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running--
	if s.running == 0 {
		s.idle.Broadcast()
	}
}

func (s *Supervisor) run(ctx context.Context, h Handle) {
	defer s.finished()
	defer s.active.Release(h)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("evidence worker panic",
				"instance", h.Instance,
				"err", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := s.worker.Process(ctx, h.Instance); err != nil {
		s.logger.Error("error processing evidence", "instance", h.Instance, "worker", h.ID, "err", err)
	}
}
