package scheduler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"feedfilter/internal/dom"
	"feedfilter/internal/fetcher"
	"feedfilter/internal/model"
	"feedfilter/internal/storage"
)

type mockAppender struct {
	mu        sync.Mutex
	fragments []string
	err       error
}

func (m *mockAppender) Append(fragment string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.fragments = append(m.fragments, fragment)
	return 1, nil
}

func (m *mockAppender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fragments)
}

type mockHTTP struct {
	body string
}

func (m *mockHTTP) Do(_ *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func loadFixture(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("../../testdata/timeline.xml")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return string(data)
}

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func createSource(t *testing.T, store storage.Storage, src model.Source) model.Source {
	t.Helper()
	if err := store.CreateSource(context.Background(), &src); err != nil {
		t.Fatalf("create source: %v", err)
	}
	return src
}

func timelineSource() model.Source {
	return model.Source{
		ChatID:          100,
		Name:            "Home",
		URL:             "https://nitter.example.net/alice/rss",
		IntervalMinutes: 15,
		IsActive:        true,
	}
}

func TestSchedulerAppendsToDocument(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createSource(t, store, timelineSource())

	doc, err := dom.ParseString(dom.Timeline)
	if err != nil {
		t.Fatalf("parse timeline: %v", err)
	}
	mutations, cancel := doc.Subscribe(8)
	defer cancel()

	f := fetcher.New(&mockHTTP{body: loadFixture(t)})
	sched := NewWithFetcher(store, f, doc, discardLogger())
	sched.checkAll(ctx)

	if diff := cmp.Diff(4, doc.Len()); diff != "" {
		t.Errorf("post count mismatch (-want +got):\n%s", diff)
	}

	select {
	case m := <-mutations:
		if len(m.Added) == 0 || !m.Added[0].Post && !m.Added[0].ContainsPost {
			t.Errorf("append should publish a post insertion, got %+v", m)
		}
	default:
		t.Error("expected a mutation after appending")
	}

	var handles []string
	for _, p := range doc.Posts() {
		handles = append(handles, p.AuthorCandidates()[0])
	}
	want := []string{"@alice", "@carol", "@dave", "@erin"}
	if diff := cmp.Diff(want, handles); diff != "" {
		t.Errorf("author handles mismatch (-want +got):\n%s", diff)
	}
}

func TestSchedulerSkipsSeenItems(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := createSource(t, store, timelineSource())

	for _, guid := range []string{
		"https://nitter.example.net/alice/status/1#m",
		"https://nitter.example.net/carol/status/2#m",
		"https://nitter.example.net/erin/status/4#m",
	} {
		if err := store.MarkSeen(ctx, src.ID, guid); err != nil {
			t.Fatalf("mark seen %s: %v", guid, err)
		}
	}

	appender := &mockAppender{}
	f := fetcher.New(&mockHTTP{body: loadFixture(t)})
	sched := NewWithFetcher(store, f, appender, discardLogger())
	sched.checkAll(ctx)

	if diff := cmp.Diff(1, appender.count()); diff != "" {
		t.Errorf("only the unseen item should be appended (-want +got):\n%s", diff)
	}
}

func TestSchedulerAppendsEachItemOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createSource(t, store, timelineSource())

	appender := &mockAppender{}
	f := fetcher.New(&mockHTTP{body: loadFixture(t)})
	sched := NewWithFetcher(store, f, appender, discardLogger())

	sched.checkAll(ctx)
	sources, err := store.ListSources(ctx, 100)
	if err != nil {
		t.Fatalf("list sources: %v", err)
	}
	// Make the source due again.
	if err := store.TouchSource(ctx, sources[0].ID, time.Time{}); err != nil {
		t.Fatalf("touch source: %v", err)
	}
	sched.checkAll(ctx)

	if diff := cmp.Diff(4, appender.count()); diff != "" {
		t.Errorf("append count mismatch (-want +got):\n%s", diff)
	}
}

func TestSchedulerAppendErrorLeavesItemUnseen(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := createSource(t, store, timelineSource())

	appender := &mockAppender{err: errors.New("document closed")}
	f := fetcher.New(&mockHTTP{body: loadFixture(t)})
	sched := NewWithFetcher(store, f, appender, discardLogger())
	sched.checkAll(ctx)

	seen, err := store.IsSeen(ctx, src.ID, "https://nitter.example.net/alice/status/1#m")
	if err != nil {
		t.Fatalf("is seen: %v", err)
	}
	if seen {
		t.Error("item that failed to append should not be marked seen")
	}
}

func TestSchedulerUpdatesLastCheck(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := createSource(t, store, timelineSource())

	before := time.Now().UTC().Add(-time.Second)

	f := fetcher.New(&mockHTTP{body: loadFixture(t)})
	sched := NewWithFetcher(store, f, &mockAppender{}, discardLogger())
	sched.checkAll(ctx)

	updated, err := store.GetSource(ctx, src.ID)
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	if updated.LastCheckAt == nil {
		t.Fatal("expected LastCheckAt to be set")
	}
	if updated.LastCheckAt.Before(before) {
		t.Errorf("LastCheckAt %v is before test start %v", updated.LastCheckAt, before)
	}
}

func TestSchedulerKeepsConcurrentEdits(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createSource(t, store, timelineSource())

	due, err := store.ListDueSources(ctx)
	if err != nil || len(due) != 1 {
		t.Fatalf("list due sources: %v (%d sources)", err, len(due))
	}
	stale := due[0]

	// renamed and slowed down through the bot while the poll is in flight
	edited := stale
	edited.Name = "Renamed"
	edited.IntervalMinutes = 120
	if err := store.UpdateSource(ctx, &edited); err != nil {
		t.Fatalf("update source: %v", err)
	}

	f := fetcher.New(&mockHTTP{body: loadFixture(t)})
	sched := NewWithFetcher(store, f, &mockAppender{}, discardLogger())
	sched.processSource(ctx, stale)

	got, err := store.GetSource(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	if diff := cmp.Diff("Renamed", got.Name); diff != "" {
		t.Errorf("name mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(120, got.IntervalMinutes); diff != "" {
		t.Errorf("interval mismatch (-want +got):\n%s", diff)
	}
	if got.LastCheckAt == nil {
		t.Error("expected LastCheckAt to be set")
	}
}

type pruneRecorder struct {
	storage.Storage
	cutoffs []time.Time
}

func (p *pruneRecorder) PruneSeen(_ context.Context, before time.Time) (int64, error) {
	p.cutoffs = append(p.cutoffs, before)
	return 0, nil
}

func TestSchedulerPrunesSeenItemsHourly(t *testing.T) {
	ctx := context.Background()
	store := &pruneRecorder{Storage: newTestStore(t)}

	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	sched := NewWithFetcher(store, fetcher.New(&mockHTTP{}), &mockAppender{}, discardLogger())
	sched.now = func() time.Time { return now }

	sched.checkAll(ctx)
	now = now.Add(10 * time.Minute)
	sched.checkAll(ctx)
	now = now.Add(time.Hour)
	sched.checkAll(ctx)

	want := []time.Time{
		time.Date(2026, 9, 14, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 9, 14, 13, 10, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(want, store.cutoffs); diff != "" {
		t.Errorf("prune cutoffs mismatch (-want +got):\n%s", diff)
	}
}

func TestSchedulerCancelledContext(t *testing.T) {
	store := newTestStore(t)
	createSource(t, store, timelineSource())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	appender := &mockAppender{}
	f := fetcher.New(&mockHTTP{body: loadFixture(t)})
	sched := NewWithFetcher(store, f, appender, discardLogger())
	sched.checkAll(ctx)

	if diff := cmp.Diff(0, appender.count()); diff != "" {
		t.Errorf("expected no appends when context cancelled (-want +got):\n%s", diff)
	}
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	f := fetcher.New(&mockHTTP{body: "<rss><channel></channel></rss>"})

	sched := NewWithFetcher(store, f, &mockAppender{}, discardLogger())
	sched.SetTickInterval(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

func TestSchedulerFetchError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := createSource(t, store, model.Source{
		ChatID: 100, Name: "Bad Source", URL: "https://bad.example.com/rss",
		IntervalMinutes: 15, IsActive: true,
	})

	appender := &mockAppender{}
	f := fetcher.New(&mockHTTP{body: "not xml"})
	sched := NewWithFetcher(store, f, appender, discardLogger())
	sched.checkAll(ctx)

	if diff := cmp.Diff(0, appender.count()); diff != "" {
		t.Errorf("expected no appends on fetch error (-want +got):\n%s", diff)
	}

	// last_check_at should still be updated even on error
	updated, err := store.GetSource(ctx, src.ID)
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	if updated.LastCheckAt == nil {
		t.Error("expected LastCheckAt to be set even after fetch error")
	}
}

func TestSchedulerInactiveSourceSkipped(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := timelineSource()
	src.IsActive = false
	createSource(t, store, src)

	appender := &mockAppender{}
	f := fetcher.New(&mockHTTP{body: "should not be fetched"})
	sched := NewWithFetcher(store, f, appender, discardLogger())
	sched.checkAll(ctx)

	if diff := cmp.Diff(0, appender.count()); diff != "" {
		t.Errorf("inactive source should not produce posts (-want +got):\n%s", diff)
	}
}
