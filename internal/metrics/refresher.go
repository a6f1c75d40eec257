// Package metrics re-reads engagement counters for published items.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/bennyhartnett/instagram-poster/internal/media"
	"github.com/bennyhartnett/instagram-poster/pkg/logx"
)

// Store is the slice of the repository the metrics tick needs.
type Store interface {
	ListPublished(ctx context.Context) ([]media.Item, error)
	UpdateEngagement(ctx context.Context, id int64, e media.Engagement) error
}

// Client reads engagement counters for a remote media id.
type Client interface {
	Metrics(ctx context.Context, mediaID string) (media.Engagement, error)
}

// Refresher overwrites the stored counters of every active published item.
// Counters the remote response omits come back as zero and are stored as
// zero: the remote value is authoritative, not additive.
type Refresher struct {
	store  Store
	client Client
	log    logx.Logger
}

func New(store Store, client Client, log logx.Logger) *Refresher {
	return &Refresher{store: store, client: client, log: log}
}

// RunTick refreshes all published items. A failure on one item is logged and
// skipped; only listing failures are returned as job-run failures.
func (r *Refresher) RunTick(ctx context.Context) error {
	items, err := r.store.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published items: %w", err)
	}

	started := time.Now()
	var failed int
	for i := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		it := items[i]
		e, err := r.client.Metrics(ctx, it.MediaID)
		if err != nil {
			failed++
			r.log.Warn("metrics read failed",
				logx.Int64("item", it.ID), logx.String("media_id", it.MediaID), logx.Err(err))
			continue
		}
		if err := r.store.UpdateEngagement(ctx, it.ID, e); err != nil {
			failed++
			r.log.Error("engagement update failed", logx.Int64("item", it.ID), logx.Err(err))
		}
	}
	if len(items) > 0 {
		r.log.Debug("metrics refreshed",
			logx.Int("items", len(items)), logx.Int("failed", failed),
			logx.Duration("took", time.Since(started)))
	}
	return nil
}
