// Package watcher discovers media files dropped into the watch folder and
// queues them as items.
//
// Discovery is content-addressed: a file is identified by its sha256, so a
// re-copied or renamed file does not create a duplicate item.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bennyhartnett/instagram-poster/internal/media"
	"github.com/bennyhartnett/instagram-poster/internal/storage"
	"github.com/bennyhartnett/instagram-poster/pkg/logx"
)

var defaultExtensions = []string{".mp4", ".mov", ".mkv"}

type Config struct {
	Folder string
	// Extensions defaults to common video containers.
	Extensions []string
}

// Store is the slice of the repository the watcher needs.
type Store interface {
	GetBySHA256(ctx context.Context, sha string) (*media.Item, error)
	Insert(ctx context.Context, it *media.Item) error
}

type Watcher struct {
	cfg   Config
	store Store
	log   logx.Logger

	// settle debounces per-path events so a file still being copied is
	// hashed once, after writes stop.
	mu     sync.Mutex
	settle map[string]*time.Timer
}

func New(cfg Config, store Store, log logx.Logger) *Watcher {
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = defaultExtensions
	}
	return &Watcher{cfg: cfg, store: store, log: log, settle: map[string]*time.Timer{}}
}

// Run watches the folder until ctx is done. The folder is scanned once on
// startup so files dropped while the daemon was down are still picked up.
func (w *Watcher) Run(ctx context.Context) error {
	if strings.TrimSpace(w.cfg.Folder) == "" {
		return nil
	}

	w.scan(ctx)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.cfg.Folder); err != nil {
		return err
	}
	w.log.Info("watching media folder", logx.String("folder", w.cfg.Folder))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("watcher event channel closed")
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.schedule(ctx, ev.Name)
			}
		case werr, ok := <-fw.Errors:
			if !ok {
				return errors.New("watcher error channel closed")
			}
			if werr != nil {
				w.log.Warn("watch error", logx.String("folder", w.cfg.Folder), logx.Err(werr))
			}
		}
	}
}

func (w *Watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.cfg.Folder)
	if err != nil {
		w.log.Warn("initial scan failed", logx.String("folder", w.cfg.Folder), logx.Err(err))
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		w.ingest(ctx, filepath.Join(w.cfg.Folder, e.Name()))
	}
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	if !w.accepts(path) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.settle[path]; ok {
		t.Stop()
	}
	w.settle[path] = time.AfterFunc(time.Second, func() {
		w.mu.Lock()
		delete(w.settle, path)
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
}

func (w *Watcher) accepts(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range w.cfg.Extensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// ingest hashes the file and inserts it unless the content is already known.
func (w *Watcher) ingest(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	if !w.accepts(path) {
		return
	}
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return
	}

	sha, err := media.HashFile(path)
	if err != nil {
		w.log.Warn("hash failed", logx.String("path", path), logx.Err(err))
		return
	}

	if _, err := w.store.GetBySHA256(ctx, sha); err == nil {
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		w.log.Error("dedup lookup failed", logx.String("path", path), logx.Err(err))
		return
	}

	it := &media.Item{Path: path, SHA256: sha, Active: true}
	if err := w.store.Insert(ctx, it); err != nil {
		w.log.Error("queue new item failed", logx.String("path", path), logx.Err(err))
		return
	}
	w.log.Info("item discovered", logx.Int64("item", it.ID), logx.String("path", path))
}
