package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bennyhartnett/instagram-poster/internal/media"
	"github.com/bennyhartnett/instagram-poster/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "items.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustInsert(t *testing.T, st Store, it *media.Item) {
	t.Helper()
	if err := st.Insert(context.Background(), it); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func ts(h, m int) time.Time {
	return time.Date(2026, 3, 14, h, m, 0, 0, time.UTC)
}

func TestInsertAndLookup(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	it := &media.Item{Path: "/media/a.mp4", SHA256: "aaa", Title: "A", Active: true}
	mustInsert(t, st, it)
	if it.ID == 0 {
		t.Fatalf("Insert must assign an id")
	}

	got, err := st.GetBySHA256(ctx, "aaa")
	if err != nil {
		t.Fatalf("GetBySHA256: %v", err)
	}
	if got.ID != it.ID || got.Title != "A" || !got.Active {
		t.Fatalf("unexpected item %+v", got)
	}

	if _, err := st.GetBySHA256(ctx, "zzz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	dup := &media.Item{Path: "/media/copy.mp4", SHA256: "aaa", Active: true}
	if err := st.Insert(ctx, dup); err == nil {
		t.Fatalf("duplicate sha256 must be rejected")
	}
}

func TestListDueOrderingAndFilters(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := ts(12, 0)

	early, late, tie := ts(9, 0), ts(11, 0), ts(9, 0)
	future := ts(13, 0)

	a := &media.Item{Path: "a", SHA256: "a", Active: true, ScheduledAt: &late}
	b := &media.Item{Path: "b", SHA256: "b", Active: true, ScheduledAt: &early}
	c := &media.Item{Path: "c", SHA256: "c", Active: true, ScheduledAt: &tie} // same instant as b, inserted later
	d := &media.Item{Path: "d", SHA256: "d", Active: true, ScheduledAt: &future}
	e := &media.Item{Path: "e", SHA256: "e", Active: true} // never scheduled
	f := &media.Item{Path: "f", SHA256: "f", Active: false, ScheduledAt: &early}
	for _, it := range []*media.Item{a, b, c, d, e, f} {
		mustInsert(t, st, it)
	}

	// posted items are excluded
	mustInsert(t, st, func() *media.Item {
		it := &media.Item{Path: "g", SHA256: "g", Active: true, ScheduledAt: &early}
		return it
	}())
	got, err := st.ListDue(ctx, now)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	var g *media.Item
	for i := range got {
		if got[i].Path == "g" {
			g = &got[i]
		}
	}
	if g == nil {
		t.Fatalf("expected item g due before posting")
	}
	if err := st.MarkPosted(ctx, g.ID, "m-g", now); err != nil {
		t.Fatalf("MarkPosted: %v", err)
	}

	got, err = st.ListDue(ctx, now)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	paths := make([]string, 0, len(got))
	for _, it := range got {
		paths = append(paths, it.Path)
	}
	want := []string{"b", "c", "a"}
	if len(paths) != len(want) {
		t.Fatalf("due items = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("due items = %v, want %v (scheduled order, insertion tie-break)", paths, want)
		}
	}
}

func TestCountPostedBetween(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	sched := ts(8, 0)
	for i, posted := range []time.Time{ts(10, 0), ts(23, 59), ts(0, 0).AddDate(0, 0, 1)} {
		it := &media.Item{Path: string(rune('a' + i)), SHA256: string(rune('a' + i)), Active: true, ScheduledAt: &sched}
		mustInsert(t, st, it)
		if err := st.MarkPosted(ctx, it.ID, "m", posted); err != nil {
			t.Fatalf("MarkPosted: %v", err)
		}
	}

	dayStart := ts(0, 0)
	n, err := st.CountPostedBetween(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("CountPostedBetween: %v", err)
	}
	if n != 2 {
		t.Fatalf("posted in day = %d, want 2 (end bound is exclusive)", n)
	}
}

func TestMarkPostedClearsError(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	it := &media.Item{Path: "a", SHA256: "a", Active: true}
	mustInsert(t, st, it)

	if err := st.RecordError(ctx, it.ID, "transport: connection refused"); err != nil {
		t.Fatalf("RecordError: %v", err)
	}
	got, _ := st.Get(ctx, it.ID)
	if got.LastError == "" {
		t.Fatalf("expected last error recorded")
	}
	if got.PostedAt != nil || got.MediaID != "" {
		t.Fatalf("failed attempt must not set posted fields: %+v", got)
	}

	postedAt := ts(12, 0)
	if err := st.MarkPosted(ctx, it.ID, "m-1", postedAt); err != nil {
		t.Fatalf("MarkPosted: %v", err)
	}
	got, _ = st.Get(ctx, it.ID)
	if got.MediaID != "m-1" || got.PostedAt == nil || !got.PostedAt.Equal(postedAt) {
		t.Fatalf("posted fields not committed: %+v", got)
	}
	if got.LastError != "" {
		t.Fatalf("last error must be cleared on success")
	}
}

func TestListPublishedAndEngagement(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	a := &media.Item{Path: "a", SHA256: "a", Active: true}
	b := &media.Item{Path: "b", SHA256: "b", Active: true}
	c := &media.Item{Path: "c", SHA256: "c", Active: true}
	for _, it := range []*media.Item{a, b, c} {
		mustInsert(t, st, it)
	}
	if err := st.MarkPosted(ctx, a.ID, "m-a", ts(10, 0)); err != nil {
		t.Fatalf("MarkPosted: %v", err)
	}
	if err := st.MarkPosted(ctx, b.ID, "m-b", ts(11, 0)); err != nil {
		t.Fatalf("MarkPosted: %v", err)
	}
	// deactivated items are excluded from refresh
	if err := st.SetActive(ctx, b.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	pub, err := st.ListPublished(ctx)
	if err != nil {
		t.Fatalf("ListPublished: %v", err)
	}
	if len(pub) != 1 || pub[0].ID != a.ID {
		t.Fatalf("published = %+v, want only item a", pub)
	}

	if err := st.UpdateEngagement(ctx, a.ID, media.Engagement{Likes: 7, Views: 70}); err != nil {
		t.Fatalf("UpdateEngagement: %v", err)
	}
	got, _ := st.Get(ctx, a.ID)
	if got.Likes != 7 || got.Comments != 0 || got.Views != 70 {
		t.Fatalf("counters = %+v", got)
	}
}

func TestSetScheduleAndMeta(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	it := &media.Item{Path: "a", SHA256: "a", Active: true}
	mustInsert(t, st, it)

	at := ts(18, 30)
	if err := st.SetSchedule(ctx, it.ID, &at); err != nil {
		t.Fatalf("SetSchedule: %v", err)
	}
	if err := st.SetMeta(ctx, it.ID, "Title", "Desc"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	got, _ := st.Get(ctx, it.ID)
	if got.ScheduledAt == nil || !got.ScheduledAt.Equal(at) || got.Title != "Title" || got.Description != "Desc" {
		t.Fatalf("unexpected item %+v", got)
	}

	if err := st.SetSchedule(ctx, it.ID, nil); err != nil {
		t.Fatalf("SetSchedule(nil): %v", err)
	}
	got, _ = st.Get(ctx, it.ID)
	if got.ScheduledAt != nil {
		t.Fatalf("schedule must be clearable")
	}

	if err := st.SetSchedule(ctx, 9999, &at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}
