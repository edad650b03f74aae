// Package watcher rescans the document when posts are inserted.
package watcher

import (
	"context"
	"log/slog"
	"time"

	"feedfilter/internal/engine"
	"feedfilter/internal/model"
	"feedfilter/internal/theme"
)

const (
	DefaultDebounce = 200 * time.Millisecond
	DefaultInterval = 10 * time.Second
)

// Scanner runs a full scan of the document.
type Scanner interface {
	Scan(ctx context.Context) engine.Result
}

// Themer re-applies the page theme, reporting whether it changed.
type Themer interface {
	ApplyTheme() (theme.Theme, bool)
}

// Watcher triggers scans on relevant mutations, coalesced by a debounce delay,
// plus a periodic backstop scan.
type Watcher struct {
	scanner   Scanner
	mutations <-chan model.Mutation
	themer    Themer
	onScan    func(engine.Result)
	log       *slog.Logger
	debounce  time.Duration
	interval  time.Duration
}

// New creates a Watcher for mutations reported on the given channel.
func New(scanner Scanner, mutations <-chan model.Mutation, log *slog.Logger) *Watcher {
	return &Watcher{
		scanner:   scanner,
		mutations: mutations,
		log:       log,
		debounce:  DefaultDebounce,
		interval:  DefaultInterval,
	}
}

// SetDebounce overrides the delay between the last mutation and the rescan.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// SetInterval overrides the periodic backstop interval.
func (w *Watcher) SetInterval(d time.Duration) {
	w.interval = d
}

// SetThemer re-applies the page theme after every scan.
func (w *Watcher) SetThemer(t Themer) {
	w.themer = t
}

// OnScan registers fn to run after every scan.
func (w *Watcher) OnScan(fn func(engine.Result)) {
	w.onScan = fn
}

// Relevant reports whether m inserted a post, or an element containing one,
// other than the filter's own markers.
func Relevant(m model.Mutation) bool {
	for _, n := range m.Added {
		if n.Marker {
			continue
		}
		if n.Post || n.ContainsPost {
			return true
		}
	}
	return false
}

// Run scans once immediately and then keeps watching until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	w.scan(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	debounce := time.NewTimer(w.debounce)
	debounce.Stop()
	defer debounce.Stop()

	mutations := w.mutations
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-mutations:
			if !ok {
				w.log.Debug("mutation feed closed, relying on periodic scans")
				mutations = nil
				continue
			}
			if !Relevant(m) {
				continue
			}
			debounce.Reset(w.debounce)
		case <-debounce.C:
			w.scan(ctx)
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

func (w *Watcher) scan(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res := w.scanner.Scan(ctx)
	w.log.Debug("scan finished", "classified", res.Classified, "hidden", res.Hidden)

	if w.themer != nil {
		if t, changed := w.themer.ApplyTheme(); changed {
			w.log.Info("theme applied", "theme", t)
		}
	}
	if w.onScan != nil {
		w.onScan(res)
	}
}
