package media

import (
	"time"
)

// Item is one media file queued for publication.
//
// Timestamps are stored and compared as UTC instants. ScheduledAt is nil until
// the operator picks a slot; PostedAt is set exactly once, on a successful
// publish. MediaID mirrors PostedAt: it is set if and only if the publish call
// of the same attempt succeeded.
type Item struct {
	ID          int64
	Path        string
	SHA256      string
	Title       string
	Description string

	CreatedAt   time.Time
	ScheduledAt *time.Time
	PostedAt    *time.Time

	MediaID   string
	LastError string

	Likes    int64
	Comments int64
	Views    int64

	Active bool
}

// Posted reports whether the item has been published.
func (it *Item) Posted() bool { return it.PostedAt != nil }

// Due reports whether the item is eligible for auto-posting at now.
// Items without a schedule are never due.
func (it *Item) Due(now time.Time) bool {
	if !it.Active || it.Posted() || it.ScheduledAt == nil {
		return false
	}
	return !it.ScheduledAt.After(now)
}

// Caption composes the remote caption from title and description.
func (it *Item) Caption() string {
	return it.Title + "\n\n" + it.Description
}

// Engagement is one read of the remote counters.
type Engagement struct {
	Likes    int64
	Comments int64
	Views    int64
}
