package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bennyhartnett/instagram-poster/internal/media"
	"github.com/bennyhartnett/instagram-poster/pkg/logx"
)

var ErrNotFound = errors.New("item not found")

// Config configures the item store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Store is the persistence API shared by the posting tick, the metrics tick
// and the control surface. Implementations must be safe for concurrent use;
// each call is its own transaction.
type Store interface {
	// Insert adds a newly discovered item and fills in ID and CreatedAt.
	Insert(ctx context.Context, it *media.Item) error
	Get(ctx context.Context, id int64) (*media.Item, error)
	GetBySHA256(ctx context.Context, sha string) (*media.Item, error)
	// List returns every item, newest first. Inactive items are included so
	// frontends can show (and undo) soft-deletes.
	List(ctx context.Context) ([]media.Item, error)

	// ListDue returns active, unposted items with scheduled_at <= now,
	// ordered by scheduled_at ascending with insertion order as tie-break.
	ListDue(ctx context.Context, now time.Time) ([]media.Item, error)
	// CountPostedBetween counts items posted in [start, end).
	CountPostedBetween(ctx context.Context, start, end time.Time) (int, error)
	// ListPublished returns active items that have a remote media id.
	ListPublished(ctx context.Context) ([]media.Item, error)

	// MarkPosted commits a successful publish: media id and posted_at are set,
	// last_error is cleared.
	MarkPosted(ctx context.Context, id int64, mediaID string, postedAt time.Time) error
	// RecordError overwrites last_error after a failed attempt.
	RecordError(ctx context.Context, id int64, msg string) error
	UpdateEngagement(ctx context.Context, id int64, e media.Engagement) error

	SetSchedule(ctx context.Context, id int64, at *time.Time) error
	SetMeta(ctx context.Context, id int64, title, description string) error
	SetActive(ctx context.Context, id int64, active bool) error

	Close() error
}

// Open initializes the sqlite-backed store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
