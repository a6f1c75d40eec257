// Package scheduler owns the two periodic background jobs: the posting tick
// and the metrics tick.
//
// The two triggers are independent; each job skips a firing while its
// previous run is still executing, so a slow remote pipeline delays that
// job's next tick instead of stacking concurrent runs. Start and Stop are
// idempotent, and Apply reconfigures trigger intervals on a running service
// by replacing the cron entry rather than adding a second one.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bennyhartnett/instagram-poster/pkg/logx"
)

type Config struct {
	PostInterval    time.Duration // default 1m
	MetricsInterval time.Duration // default 30m
}

func (c Config) withDefaults() Config {
	if c.PostInterval <= 0 {
		c.PostInterval = time.Minute
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = 30 * time.Minute
	}
	return c
}

// Job is one tick of a periodic background task.
type Job func(ctx context.Context) error

type jobSlot struct {
	name  string
	run   Job
	entry cron.EntryID

	mu      sync.Mutex
	running bool
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	c       *cron.Cron
	post    *jobSlot
	metrics *jobSlot

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, postJob, metricsJob Job, log logx.Logger) *Service {
	return &Service{
		cfg:     cfg.withDefaults(),
		log:     log,
		post:    &jobSlot{name: "post", run: postJob},
		metrics: &jobSlot{name: "metrics", run: metricsJob},
	}
}

// Start registers both triggers and starts the cron runner.
// Starting an already-running service is a no-op.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}

	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.c = cron.New()
	s.addLocked(s.post, s.cfg.PostInterval)
	s.addLocked(s.metrics, s.cfg.MetricsInterval)
	s.c.Start()

	s.log.Info("scheduler started",
		logx.Duration("post_interval", s.cfg.PostInterval),
		logx.Duration("metrics_interval", s.cfg.MetricsInterval))
}

// Stop halts the triggers, cancels in-flight runs and waits for them until
// ctx expires. Stopping a stopped service is a no-op.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.c == nil {
		s.mu.Unlock()
		return
	}
	c := s.c
	s.c = nil
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	// Cancel first so an in-flight poll loop unblocks, then wait for the
	// cron runner to drain.
	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with jobs in flight")
	}
	s.log.Info("scheduler stopped")
}

// Apply reconfigures trigger intervals. A changed interval replaces the
// job's cron entry immediately; an in-flight run is unaffected.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cfg
	s.cfg = cfg
	if s.c == nil {
		return
	}
	if cfg.PostInterval != old.PostInterval {
		s.rescheduleLocked(s.post, cfg.PostInterval)
	}
	if cfg.MetricsInterval != old.MetricsInterval {
		s.rescheduleLocked(s.metrics, cfg.MetricsInterval)
	}
}

func (s *Service) addLocked(slot *jobSlot, every time.Duration) {
	spec := fmt.Sprintf("@every %s", every)
	id, err := s.c.AddFunc(spec, func() { s.fire(slot) })
	if err != nil {
		// "@every <duration>" cannot fail to parse for a positive duration.
		s.log.Error("schedule job failed", logx.String("job", slot.name), logx.Err(err))
		return
	}
	slot.entry = id
}

func (s *Service) rescheduleLocked(slot *jobSlot, every time.Duration) {
	s.c.Remove(slot.entry)
	s.addLocked(slot, every)
	s.log.Info("job rescheduled", logx.String("job", slot.name), logx.Duration("every", every))
}

func (s *Service) fire(slot *jobSlot) {
	slot.mu.Lock()
	if slot.running {
		slot.mu.Unlock()
		s.log.Debug("tick skipped, previous run still executing", logx.String("job", slot.name))
		return
	}
	slot.running = true
	slot.mu.Unlock()

	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		slot.mu.Lock()
		slot.running = false
		slot.mu.Unlock()
		return
	}

	defer func() {
		slot.mu.Lock()
		slot.running = false
		slot.mu.Unlock()
	}()

	started := time.Now()
	if err := slot.run(ctx); err != nil {
		s.log.Error("job run failed",
			logx.String("job", slot.name), logx.Duration("took", time.Since(started)), logx.Err(err))
		return
	}
	s.log.Debug("job run ok",
		logx.String("job", slot.name), logx.Duration("took", time.Since(started)))
}
