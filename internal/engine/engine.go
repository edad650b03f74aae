// Package engine applies classification verdicts to the document: it hides
// matched posts, places suppression markers and keeps per-post bookkeeping.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"feedfilter/internal/filter"
	"feedfilter/internal/model"
	"feedfilter/internal/ruleset"
)

// ErrUnknownMarker is returned when a marker ID is not tracked by the engine.
var ErrUnknownMarker = errors.New("unknown marker")

// ErrMarkerCollapsed is returned when a collapsed marker is toggled. Collapse
// lasts for the rest of the session.
var ErrMarkerCollapsed = errors.New("marker collapsed")

// fingerprintTextLen is how much primary text identifies a post without a permalink.
const fingerprintTextLen = 100

type postState struct {
	processed  bool
	suppressed bool
}

type markerEntry struct {
	marker    Marker
	post      filter.Post
	collapsed bool
}

// Result summarizes one scan.
type Result struct {
	Classified int
	Hidden     int
}

// Engine orchestrates classification across the posts of a Surface.
// All methods are serialized; a scan never runs concurrently with another
// scan, a rule-set update or a marker action.
type Engine struct {
	mu         sync.Mutex
	surface    Surface
	rules      *ruleset.Holder
	classifier *filter.Classifier
	metrics    *Metrics
	log        *slog.Logger

	states  map[filter.Post]*postState
	markers map[string]*markerEntry
	hidden  int
	seq     int
}

// New creates an Engine over surface using the rule set held by rules.
func New(surface Surface, rules *ruleset.Holder, log *slog.Logger) *Engine {
	return &Engine{
		surface:    surface,
		rules:      rules,
		classifier: filter.New(),
		log:        log,
		states:     make(map[filter.Post]*postState),
		markers:    make(map[string]*markerEntry),
	}
}

// SetClassifier overrides the default classifier.
func (e *Engine) SetClassifier(c *filter.Classifier) {
	e.classifier = c
}

// SetMetrics attaches prometheus metrics.
func (e *Engine) SetMetrics(m *Metrics) {
	e.metrics = m
	m.setActiveRules(len(e.rules.Current().Rules))
}

// Scan classifies every unprocessed post in the document. With an empty rule
// set it returns immediately without touching the document.
func (e *Engine) Scan(ctx context.Context) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scanAll(ctx)
}

// ScanPosts classifies the given posts. Posts already processed are skipped.
func (e *Engine) ScanPosts(ctx context.Context, posts []filter.Post) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	rs := e.rules.Current()
	if rs.IsEmpty() {
		return Result{}
	}
	return e.scanPosts(ctx, rs, posts)
}

func (e *Engine) scanAll(ctx context.Context) Result {
	rs := e.rules.Current()
	if rs.IsEmpty() {
		return Result{}
	}

	start := time.Now()
	posts := e.surface.Posts()
	res := e.scanPosts(ctx, rs, posts)
	e.prune(posts)
	e.metrics.observeScan(time.Since(start))

	if res.Hidden > 0 {
		e.log.Info("scan hid posts", "hidden", res.Hidden, "classified", res.Classified, "total_hidden", e.hidden)
	}
	return res
}

func (e *Engine) scanPosts(ctx context.Context, rs model.RuleSet, posts []filter.Post) Result {
	var res Result
	for _, p := range posts {
		if ctx.Err() != nil {
			break
		}
		st := e.state(p)
		if st.processed {
			continue
		}
		if e.surface.AlreadyFiltered(p) {
			st.processed = true
			st.suppressed = true
			continue
		}

		v, ok := e.classify(p, rs)
		res.Classified++
		if !ok || !v.Hide {
			st.processed = true
			continue
		}
		if e.suppress(p, v, rs.Exemptions) {
			res.Hidden++
		}
	}
	e.metrics.addClassified(res.Classified)
	return res
}

// classify shields the scan from a panicking post adapter.
func (e *Engine) classify(p filter.Post, rs model.RuleSet) (v filter.Verdict, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("classify post", "panic", r)
			v, ok = filter.Verdict{}, false
		}
	}()
	return e.classifier.Classify(p, rs), true
}

// Suppress hides post according to verdict. It is a no-op when the post is
// already suppressed.
func (e *Engine) Suppress(post filter.Post, verdict filter.Verdict) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.suppress(post, verdict, e.rules.Current().Exemptions)
}

func (e *Engine) suppress(p filter.Post, v filter.Verdict, ex model.ExemptionConfig) bool {
	st := e.state(p)
	if st.suppressed {
		return false
	}
	st.processed = true
	st.suppressed = true

	name, typ := "Filter", model.RuleType("")
	if v.MatchedRule != nil {
		name, typ = v.MatchedRule.Name, v.MatchedRule.Type
	}

	if !ex.CompletelyHide {
		e.seq++
		info := model.MarkerInfo{
			ID:          fmt.Sprintf("m%d", e.seq),
			RuleName:    name,
			RuleType:    typ,
			Reason:      v.Reason,
			Fingerprint: Fingerprint(p),
		}
		m, err := e.surface.InsertMarker(p, info)
		if err != nil {
			e.log.Error("insert marker", "rule", name, "error", err)
		} else {
			e.markers[info.ID] = &markerEntry{marker: m, post: p}
		}
	}

	e.surface.Hide(p)
	e.hidden++
	e.metrics.addHidden(typ)
	e.log.Debug("hid post", "rule", name, "reason", v.Reason, "count", e.hidden)
	return true
}

// Deduplicate removes every marker but the first among markers preceding posts
// with the same fingerprint. It returns the number of markers removed.
func (e *Engine) Deduplicate() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deduplicate()
}

func (e *Engine) deduplicate() int {
	seen := make(map[string]bool)
	removed := 0
	for _, m := range e.surface.Markers() {
		p := m.Next()
		if p == nil {
			continue
		}
		fp := Fingerprint(p)
		if !seen[fp] {
			seen[fp] = true
			continue
		}
		e.surface.RemoveMarker(m)
		delete(e.markers, m.Info().ID)
		removed++
	}
	if removed > 0 {
		e.log.Debug("removed duplicate markers", "count", removed)
	}
	return removed
}

// ApplyRuleSet installs rs and re-evaluates posts that were processed but not
// suppressed, since a new rule may now match them. Suppressed posts stay
// suppressed.
func (e *Engine) ApplyRuleSet(ctx context.Context, rs model.RuleSet) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules.Replace(rs)
	e.metrics.setActiveRules(len(rs.Rules))
	e.log.Info("rule set updated",
		"rules", len(rs.Rules),
		"exempt_usernames", len(rs.Exemptions.Usernames),
		"following_only", rs.Exemptions.FollowingOnly,
		"completely_hide", rs.Exemptions.CompletelyHide,
	)

	e.deduplicate()
	for _, st := range e.states {
		if st.processed && !st.suppressed {
			st.processed = false
		}
	}
	return e.scanAll(ctx)
}

// Toggle flips the temporarily-revealed state of a marker and the visibility
// of its post. It does not change the post's processed or suppressed state.
func (e *Engine) Toggle(markerID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.markers[markerID]
	if !ok {
		return false, fmt.Errorf("toggle %q: %w", markerID, ErrUnknownMarker)
	}
	if entry.collapsed {
		return false, fmt.Errorf("toggle %q: %w", markerID, ErrMarkerCollapsed)
	}
	revealed := !entry.marker.Revealed()
	entry.marker.SetRevealed(revealed)
	if revealed {
		e.surface.Show(entry.post)
	} else {
		e.surface.Hide(entry.post)
	}
	return revealed, nil
}

// Collapse hides a marker together with its post for the rest of the session.
func (e *Engine) Collapse(markerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.markers[markerID]
	if !ok {
		return fmt.Errorf("collapse %q: %w", markerID, ErrUnknownMarker)
	}
	entry.collapsed = true
	entry.marker.SetRevealed(false)
	entry.marker.Collapse()
	e.surface.Hide(entry.post)
	return nil
}

// Stats returns the hidden-post counter and the number of active rules.
func (e *Engine) Stats() model.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return model.Stats{
		HiddenCount:   e.hidden,
		ActiveFilters: len(e.rules.Current().Rules),
	}
}

func (e *Engine) state(p filter.Post) *postState {
	st, ok := e.states[p]
	if !ok {
		st = &postState{}
		e.states[p] = st
	}
	return st
}

// prune drops bookkeeping for posts that left the document.
func (e *Engine) prune(current []filter.Post) {
	live := make(map[filter.Post]bool, len(current))
	for _, p := range current {
		live[p] = true
	}
	for p := range e.states {
		if !live[p] {
			delete(e.states, p)
		}
	}
	for id, m := range e.markers {
		if !live[m.post] {
			delete(e.markers, id)
		}
	}
}

// Fingerprint identifies the logical post across repeated renderings: the
// permalink when present, otherwise the leading primary text.
func Fingerprint(p filter.Post) string {
	key := p.Permalink()
	if key == "" {
		text := []rune(p.PrimaryText())
		if len(text) > fingerprintTextLen {
			text = text[:fingerprintTextLen]
		}
		key = "text:" + string(text)
	}
	return fmt.Sprintf("%016x", murmur3.Sum64([]byte(key)))
}
