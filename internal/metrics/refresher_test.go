package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/bennyhartnett/instagram-poster/internal/media"
	"github.com/bennyhartnett/instagram-poster/pkg/logx"
)

type fakeStore struct {
	items   []media.Item
	updated map[int64]media.Engagement
	listErr error
}

func (s *fakeStore) ListPublished(context.Context) ([]media.Item, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.items, nil
}

func (s *fakeStore) UpdateEngagement(_ context.Context, id int64, e media.Engagement) error {
	if s.updated == nil {
		s.updated = map[int64]media.Engagement{}
	}
	s.updated[id] = e
	return nil
}

type fakeClient struct {
	metrics map[string]media.Engagement
	fail    map[string]error
}

func (c *fakeClient) Metrics(_ context.Context, mediaID string) (media.Engagement, error) {
	if err := c.fail[mediaID]; err != nil {
		return media.Engagement{}, err
	}
	return c.metrics[mediaID], nil
}

func TestRefreshOverwritesCounters(t *testing.T) {
	store := &fakeStore{items: []media.Item{
		{ID: 1, MediaID: "m1", Likes: 90, Comments: 9, Views: 900},
		{ID: 2, MediaID: "m2", Likes: 5},
	}}
	client := &fakeClient{metrics: map[string]media.Engagement{
		"m1": {Likes: 120, Comments: 11, Views: 1500},
		// m2 absent: the remote omitted every field, counters reset to zero.
	}}

	r := New(store, client, logx.Nop())
	if err := r.RunTick(context.Background()); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	if got := store.updated[1]; got != (media.Engagement{Likes: 120, Comments: 11, Views: 1500}) {
		t.Fatalf("item 1 counters = %+v", got)
	}
	if got := store.updated[2]; got != (media.Engagement{}) {
		t.Fatalf("item 2 counters must be reset to zero, got %+v", got)
	}
}

func TestRefreshToleratesPerItemFailures(t *testing.T) {
	store := &fakeStore{items: []media.Item{
		{ID: 1, MediaID: "m1"},
		{ID: 2, MediaID: "m2"},
		{ID: 3, MediaID: "m3"},
	}}
	client := &fakeClient{
		metrics: map[string]media.Engagement{"m1": {Likes: 1}, "m3": {Likes: 3}},
		fail:    map[string]error{"m2": errors.New("rate limited")},
	}

	r := New(store, client, logx.Nop())
	if err := r.RunTick(context.Background()); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	if _, ok := store.updated[2]; ok {
		t.Fatalf("failed item must not be updated")
	}
	if store.updated[1].Likes != 1 || store.updated[3].Likes != 3 {
		t.Fatalf("remaining items must still refresh, got %+v", store.updated)
	}
}

func TestRefreshListFailureSurfaces(t *testing.T) {
	store := &fakeStore{listErr: errors.New("database is locked")}
	r := New(store, &fakeClient{}, logx.Nop())
	if err := r.RunTick(context.Background()); err == nil {
		t.Fatalf("listing failure must surface as a job-run failure")
	}
}
