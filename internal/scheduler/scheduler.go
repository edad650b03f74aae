// Package scheduler polls feed sources and appends their new items to the
// document as timeline posts.
package scheduler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"feedfilter/internal/fetcher"
	"feedfilter/internal/model"
	"feedfilter/internal/storage"
)

const (
	// seenRetention is how long appended items are remembered. Feeds only
	// carry their latest items, far fewer than this window covers.
	seenRetention = 30 * 24 * time.Hour
	pruneEvery    = time.Hour
)

// Appender receives post-shaped HTML fragments.
type Appender interface {
	Append(fragment string) (int, error)
}

// Scheduler periodically checks due sources and appends unseen items.
type Scheduler struct {
	store    storage.Storage
	fetcher  *fetcher.Fetcher
	appender Appender
	log      *slog.Logger
	tick     time.Duration
	now      func() time.Time

	lastPrune time.Time
}

// New creates a Scheduler with the default HTTP client.
func New(store storage.Storage, appender Appender, log *slog.Logger) *Scheduler {
	return NewWithFetcher(store, fetcher.New(http.DefaultClient), appender, log)
}

// NewWithFetcher creates a Scheduler with a custom fetcher (useful for testing).
func NewWithFetcher(store storage.Storage, f *fetcher.Fetcher, appender Appender, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		fetcher:  f,
		appender: appender,
		log:      log,
		tick:     1 * time.Minute,
		now:      time.Now,
	}
}

// SetTickInterval overrides the default 1-minute check interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.checkAll(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkAll(ctx)
		}
	}
}

func (s *Scheduler) checkAll(ctx context.Context) {
	sources, err := s.store.ListDueSources(ctx)
	if err != nil {
		s.log.Error("list due sources", "error", err)
		return
	}

	for _, src := range sources {
		if ctx.Err() != nil {
			return
		}
		s.processSource(ctx, src)
	}
	s.pruneSeen(ctx)
}

func (s *Scheduler) pruneSeen(ctx context.Context) {
	now := s.now()
	if now.Sub(s.lastPrune) < pruneEvery {
		return
	}
	s.lastPrune = now
	n, err := s.store.PruneSeen(ctx, now.Add(-seenRetention))
	if err != nil {
		s.log.Error("prune seen items", "error", err)
		return
	}
	if n > 0 {
		s.log.Debug("pruned seen items", "count", n)
	}
}

func (s *Scheduler) processSource(ctx context.Context, src model.Source) {
	s.log.Debug("checking source", "source_id", src.ID, "name", src.Name)

	feed, err := s.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		s.log.Error("fetch source", "source_id", src.ID, "url", src.URL, "error", err)
		s.touch(ctx, src.ID)
		return
	}

	appended := 0
	for _, item := range fetcher.Items(feed) {
		seen, err := s.store.IsSeen(ctx, src.ID, item.GUID)
		if err != nil {
			s.log.Error("check seen", "source_id", src.ID, "guid", item.GUID, "error", err)
			continue
		}
		if seen {
			continue
		}

		n, err := s.appender.Append(item.HTML())
		if err != nil {
			s.log.Error("append item", "source_id", src.ID, "guid", item.GUID, "error", err)
			continue
		}
		appended += n

		if err := s.store.MarkSeen(ctx, src.ID, item.GUID); err != nil {
			s.log.Error("mark seen", "source_id", src.ID, "guid", item.GUID, "error", err)
		}
	}

	if appended > 0 {
		s.log.Info("appended posts", "source_id", src.ID, "name", src.Name, "count", appended)
	}

	s.touch(ctx, src.ID)
}

func (s *Scheduler) touch(ctx context.Context, id int64) {
	if err := s.store.TouchSource(ctx, id, s.now().UTC()); err != nil {
		s.log.Error("update last check", "source_id", id, "error", err)
	}
}
