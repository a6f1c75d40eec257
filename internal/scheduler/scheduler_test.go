package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bennyhartnett/instagram-poster/pkg/logx"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestJobsFireIndependently(t *testing.T) {
	var posts, metrics atomic.Int64
	s := New(Config{PostInterval: time.Second, MetricsInterval: time.Second},
		func(context.Context) error { posts.Add(1); return nil },
		func(context.Context) error { metrics.Add(1); return nil },
		logx.Nop())

	s.Start()
	defer s.Stop(context.Background())

	waitFor(t, 5*time.Second, func() bool {
		return posts.Load() > 0 && metrics.Load() > 0
	})
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	var runs atomic.Int64
	s := New(Config{PostInterval: time.Second, MetricsInterval: time.Hour},
		func(context.Context) error { runs.Add(1); return nil },
		func(context.Context) error { return nil },
		logx.Nop())

	s.Start()
	s.Start()
	waitFor(t, 5*time.Second, func() bool { return runs.Load() > 0 })

	// A doubled Start must not register a second trigger.
	time.Sleep(2500 * time.Millisecond)
	if got := runs.Load(); got > 3 {
		t.Fatalf("runs = %d, more than one trigger registered", got)
	}

	s.Stop(context.Background())
	s.Stop(context.Background())
}

func TestSlowRunSkipsOverlappingTicks(t *testing.T) {
	release := make(chan struct{})
	var starts atomic.Int64
	s := New(Config{PostInterval: time.Second, MetricsInterval: time.Hour},
		func(ctx context.Context) error {
			starts.Add(1)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		},
		func(context.Context) error { return nil },
		logx.Nop())

	s.Start()
	waitFor(t, 5*time.Second, func() bool { return starts.Load() == 1 })

	// Further ticks while the first run blocks must be skipped, not queued.
	time.Sleep(2500 * time.Millisecond)
	if got := starts.Load(); got != 1 {
		t.Fatalf("starts = %d, want 1 while the run is in flight", got)
	}

	close(release)
	s.Stop(context.Background())
}

func TestStopCancelsInFlightRun(t *testing.T) {
	started := make(chan struct{})
	var sawCancel atomic.Bool
	s := New(Config{PostInterval: time.Second, MetricsInterval: time.Hour},
		func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			sawCancel.Store(true)
			return ctx.Err()
		},
		func(context.Context) error { return nil },
		logx.Nop())

	s.Start()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatalf("job never started")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(stopCtx)

	waitFor(t, time.Second, sawCancel.Load)
}

func TestApplyOnRunningService(t *testing.T) {
	var runs atomic.Int64
	s := New(Config{PostInterval: time.Hour, MetricsInterval: time.Hour},
		func(context.Context) error { runs.Add(1); return nil },
		func(context.Context) error { return nil },
		logx.Nop())

	s.Start()
	defer s.Stop(context.Background())

	// Shrinking the interval replaces the trigger; the job starts firing.
	s.Apply(Config{PostInterval: time.Second, MetricsInterval: time.Hour})
	waitFor(t, 5*time.Second, func() bool { return runs.Load() > 0 })
}

func TestApplyBeforeStartOnlyStoresConfig(t *testing.T) {
	s := New(Config{}, func(context.Context) error { return nil },
		func(context.Context) error { return nil }, logx.Nop())
	s.Apply(Config{PostInterval: time.Second})
	if s.cfg.PostInterval != time.Second {
		t.Fatalf("cfg = %+v", s.cfg)
	}
	if s.cfg.MetricsInterval != 30*time.Minute {
		t.Fatalf("defaults not applied: %+v", s.cfg)
	}
}
