// Package app wires the services together and owns their lifecycle.
package app

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/bennyhartnett/instagram-poster/internal/config"
	"github.com/bennyhartnett/instagram-poster/internal/control"
	"github.com/bennyhartnett/instagram-poster/internal/creds"
	"github.com/bennyhartnett/instagram-poster/internal/fileserve"
	"github.com/bennyhartnett/instagram-poster/internal/instagram"
	"github.com/bennyhartnett/instagram-poster/internal/metrics"
	"github.com/bennyhartnett/instagram-poster/internal/notify"
	"github.com/bennyhartnett/instagram-poster/internal/publisher"
	"github.com/bennyhartnett/instagram-poster/internal/scheduler"
	"github.com/bennyhartnett/instagram-poster/internal/storage"
	"github.com/bennyhartnett/instagram-poster/internal/watcher"
	"github.com/bennyhartnett/instagram-poster/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	log  logx.Logger

	store storage.Store
	files *fileserve.Server
	pub   *publisher.Publisher
	refr  *metrics.Refresher
	sched *scheduler.Service
	watch *watcher.Watcher
	ctrl  *control.Server
	notif *notify.Notifier

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	if err != nil {
		return nil, err
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	spoolDir := cfg.FileServe.Dir
	if spoolDir == "" {
		spoolDir = filepath.Join(filepath.Dir(cfg.Storage.Path), "uploads")
	}
	serveAddr := cfg.FileServe.Addr
	if serveAddr == "" {
		serveAddr = config.DefaultFileServeAddr
	}
	files := fileserve.New(fileserve.Config{
		Addr:    serveAddr,
		Dir:     spoolDir,
		BaseURL: cfg.FileServe.BaseURL,
	}, log.With(logx.String("comp", "fileserve")))

	credStore, err := creds.NewStore(func() string {
		if c := cfgm.Get(); c != nil {
			return c.Instagram.UserID
		}
		return ""
	})
	if err != nil {
		return nil, err
	}

	clientTimeout, err := config.ParseDurationField("instagram.timeout", cfg.Instagram.Timeout)
	if err != nil {
		return nil, err
	}
	client := instagram.New(instagram.Config{
		BaseURL:    cfg.Instagram.APIBase,
		Timeout:    clientTimeout,
		RatePerSec: cfg.Instagram.RatePerSec,
	}, credStore, log.With(logx.String("comp", "instagram")))

	a := &App{
		cfgm:       cfgm,
		log:        log.With(logx.String("comp", "app")),
		store:      store,
		files:      files,
		shutdownCh: make(chan struct{}),
	}

	a.pub = publisher.New(store, client, files, a.currentSettings,
		log.With(logx.String("comp", "publisher")))
	a.refr = metrics.New(store, client, log.With(logx.String("comp", "metrics")))
	a.sched = scheduler.New(scheduler.Config{
		PostInterval:    cfg.Posting.TickIntervalOrDefault(),
		MetricsInterval: cfg.Metrics.RefreshIntervalOrDefault(),
	}, a.pub.RunTick, a.refr.RunTick, log.With(logx.String("comp", "scheduler")))

	a.watch = watcher.New(watcher.Config{
		Folder:     cfg.Watch.Folder,
		Extensions: cfg.Watch.Extensions,
	}, store, log.With(logx.String("comp", "watcher")))

	if cfg.Control.Enabled {
		a.ctrl = control.New(cfg.Control.Addr, store, cfgm, a.RequestShutdown,
			log.With(logx.String("comp", "control")))
	}

	if cfg.Notify.Enabled {
		n, err := notify.New(notify.Config{Token: cfg.Notify.Token, ChatID: cfg.Notify.ChatID},
			log.With(logx.String("comp", "notify")))
		if err != nil {
			// Announcements are best-effort; a bad bot token must not keep
			// the scheduler from posting.
			a.log.Warn("notifier disabled", logx.Err(err))
		} else {
			a.notif = n
			a.pub.SetEvents(n)
		}
	}

	return a, nil
}

// currentSettings is the live per-tick snapshot: quota or timezone edits
// apply on the next tick, never to a tick already in progress.
func (a *App) currentSettings() publisher.Settings {
	cfg := a.cfgm.Get()
	if cfg == nil {
		return publisher.Settings{}
	}
	return publisher.Settings{
		MaxPostsPerDay: cfg.Posting.MaxPostsPerDay,
		Location:       cfg.Posting.Location(),
		PollInterval:   cfg.Posting.PollIntervalOrDefault(),
		PollMaxWait:    cfg.Posting.PollMaxWaitOrDefault(),
	}
}

// Start brings every service up. Starting twice is a no-op.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	if err := a.files.Start(); err != nil {
		return err
	}
	if a.ctrl != nil {
		if err := a.ctrl.Start(); err != nil {
			_ = a.files.Stop(ctx)
			return err
		}
	}
	if a.notif != nil {
		a.notif.Start()
		a.notif.Announce("posting daemon started")
	}
	a.sched.Start()

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Error("config watch stopped", logx.Err(err))
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.watch.Run(runCtx); err != nil {
			a.log.Error("media watcher stopped", logx.Err(err))
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.reloadLoop(runCtx)
	}()

	a.started = true
	a.log.Info("started")
	return nil
}

// reloadLoop fans committed config updates out to the running services.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok || cfg == nil {
				return
			}
			a.sched.Apply(scheduler.Config{
				PostInterval:    cfg.Posting.TickIntervalOrDefault(),
				MetricsInterval: cfg.Metrics.RefreshIntervalOrDefault(),
			})
			a.log.Info("config applied",
				logx.Int("max_posts_per_day", cfg.Posting.MaxPostsPerDay),
				logx.Duration("metrics_interval", cfg.Metrics.RefreshIntervalOrDefault()))
		}
	}
}

// Stop shuts everything down in reverse order. Stopping twice is a no-op.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	a.started = false

	a.sched.Stop(ctx)
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.wg.Wait()

	if a.ctrl != nil {
		_ = a.ctrl.Stop(ctx)
	}
	_ = a.files.Stop(ctx)
	if a.notif != nil {
		a.notif.Stop()
	}
	err := a.store.Close()

	a.log.Info("stopped")
	_ = a.log.Close()
	return err
}

// RequestShutdown asks the owner (main) to stop the process.
func (a *App) RequestShutdown() {
	a.shutdownOnce.Do(func() { close(a.shutdownCh) })
}

// ShutdownRequested is closed when a frontend asked for a graceful stop.
func (a *App) ShutdownRequested() <-chan struct{} { return a.shutdownCh }
