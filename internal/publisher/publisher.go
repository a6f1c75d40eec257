package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bennyhartnett/instagram-poster/internal/instagram"
	"github.com/bennyhartnett/instagram-poster/internal/media"
	"github.com/bennyhartnett/instagram-poster/pkg/logx"
)

var (
	// ErrProcessingFailed means the remote pipeline reported ERROR for the
	// container. Terminal for the attempt; the item stays eligible.
	ErrProcessingFailed = errors.New("instagram media processing failed")
	// ErrPollTimeout means the container never reached a terminal status
	// within the configured maximum wait.
	ErrPollTimeout = errors.New("timed out waiting for media processing")
)

// Settings is the per-tick configuration snapshot. It is read fresh at the
// start of every tick so quota or timezone edits apply on the next tick
// without a restart.
type Settings struct {
	MaxPostsPerDay int
	Location       *time.Location
	PollInterval   time.Duration
	PollMaxWait    time.Duration
}

// Store is the slice of the repository the posting tick needs.
type Store interface {
	ListDue(ctx context.Context, now time.Time) ([]media.Item, error)
	CountPostedBetween(ctx context.Context, start, end time.Time) (int, error)
	MarkPosted(ctx context.Context, id int64, mediaID string, postedAt time.Time) error
	RecordError(ctx context.Context, id int64, msg string) error
}

// Client is the slice of the Graph API client the workflow needs.
type Client interface {
	CheckCredentials() error
	CreateContainer(ctx context.Context, mediaURL, caption string) (string, error)
	ContainerStatus(ctx context.Context, containerID string) (instagram.ContainerStatus, error)
	Publish(ctx context.Context, containerID string) (string, error)
}

// URLResolver serves a local file by a remote-reachable, content-addressed URL.
type URLResolver interface {
	URLFor(localPath string) (string, error)
}

// Events receives publish outcomes. All methods may be called from the
// posting tick goroutine and must not block for long.
type Events interface {
	Published(it media.Item)
	Failed(it media.Item, err error)
}

// Publisher runs the posting tick: select due items within today's remaining
// quota, then drive each through create -> poll -> publish.
type Publisher struct {
	store    Store
	client   Client
	files    URLResolver
	settings func() Settings
	events   Events
	now      func() time.Time
	log      logx.Logger
}

func New(store Store, client Client, files URLResolver, settings func() Settings, log logx.Logger) *Publisher {
	return &Publisher{
		store:    store,
		client:   client,
		files:    files,
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// SetEvents installs an optional outcome listener.
func (p *Publisher) SetEvents(ev Events) { p.events = ev }

// SetClock overrides the clock, for tests.
func (p *Publisher) SetClock(now func() time.Time) { p.now = now }

// RunTick publishes due items up to today's remaining allowance.
//
// Per-item failures are recorded on the item and do not abort the batch.
// Only selector-level failures (repository unavailable) are returned, so
// they surface as job-run failures.
func (p *Publisher) RunTick(ctx context.Context) error {
	st := p.settings()
	due, err := p.SelectDue(ctx, st)
	if err != nil {
		return err
	}
	for i := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		it := due[i]
		if err := p.publishItem(ctx, &it, st); err != nil {
			// Shutdown is not an item failure: leave the item untouched for
			// the next run.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if rerr := p.store.RecordError(ctx, it.ID, err.Error()); rerr != nil {
				p.log.Error("record error failed", logx.Int64("item", it.ID), logx.Err(rerr))
			}
			p.log.Warn("publish failed",
				logx.Int64("item", it.ID), logx.String("path", it.Path), logx.Err(err))
			if p.events != nil {
				p.events.Failed(it, err)
			}
			continue
		}
		if p.events != nil {
			p.events.Published(it)
		}
	}
	return nil
}

// SelectDue returns active, due, unposted items in ascending scheduled order,
// truncated to today's remaining allowance. Items beyond the allowance are
// left queued, not dropped.
func (p *Publisher) SelectDue(ctx context.Context, st Settings) ([]media.Item, error) {
	now := p.now()
	due, err := p.store.ListDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list due items: %w", err)
	}
	if len(due) == 0 {
		return nil, nil
	}

	start, end := dayBounds(now, st.Location)
	posted, err := p.store.CountPostedBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("count posted today: %w", err)
	}

	allowance := st.MaxPostsPerDay - posted
	if allowance <= 0 {
		p.log.Debug("daily quota exhausted",
			logx.Int("quota", st.MaxPostsPerDay), logx.Int("posted", posted), logx.Int("due", len(due)))
		return nil, nil
	}
	if len(due) > allowance {
		due = due[:allowance]
	}
	return due, nil
}

// dayBounds resolves the local calendar day containing now as UTC instants.
func dayBounds(now time.Time, loc *time.Location) (start, end time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

// publishItem drives one item through the remote protocol:
// credential check -> media URL -> create container -> poll -> publish -> commit.
func (p *Publisher) publishItem(ctx context.Context, it *media.Item, st Settings) error {
	attempt := uuid.NewString()
	log := p.log.With(logx.Int64("item", it.ID), logx.String("attempt", attempt))

	if err := p.client.CheckCredentials(); err != nil {
		return err
	}

	mediaURL, err := p.files.URLFor(it.Path)
	if err != nil {
		return err
	}

	containerID, err := p.client.CreateContainer(ctx, mediaURL, it.Caption())
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	log.Debug("container created", logx.String("container", containerID))

	if err := p.awaitProcessed(ctx, containerID, st); err != nil {
		return err
	}

	mediaID, err := p.client.Publish(ctx, containerID)
	if err != nil {
		return fmt.Errorf("publish container: %w", err)
	}

	postedAt := p.now()
	if err := p.store.MarkPosted(ctx, it.ID, mediaID, postedAt); err != nil {
		return fmt.Errorf("commit publish result: %w", err)
	}
	it.MediaID = mediaID
	it.PostedAt = &postedAt

	log.Info("item published", logx.String("media_id", mediaID))
	return nil
}

// awaitProcessed polls container status until FINISHED, failing on ERROR,
// cancellation or the maximum wait. The wait between polls is a timer, not a
// busy loop, and honors ctx so shutdown interrupts a stuck pipeline.
func (p *Publisher) awaitProcessed(ctx context.Context, containerID string, st Settings) error {
	interval := st.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	maxWait := st.PollMaxWait
	if maxWait <= 0 {
		maxWait = 10 * time.Minute
	}

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()

	for {
		status, err := p.client.ContainerStatus(ctx, containerID)
		if err != nil {
			return fmt.Errorf("container status: %w", err)
		}
		switch status {
		case instagram.StatusFinished:
			return nil
		case instagram.StatusError:
			return ErrProcessingFailed
		}

		wait := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return ctx.Err()
		case <-deadline.C:
			wait.Stop()
			return ErrPollTimeout
		case <-wait.C:
		}
	}
}
