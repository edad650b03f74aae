package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"feedfilter/internal/filter"
	"feedfilter/internal/model"
	"feedfilter/internal/ruleset"
)

// --- fakes ---

type fakePost struct {
	text      string
	permalink string
	video     bool
	author    string
	panics    bool
}

func (p *fakePost) PrimaryText() string {
	if p.panics {
		panic("broken node")
	}
	return p.text
}

func (p *fakePost) FullText() string { return p.text }

func (p *fakePost) Has(f filter.Feature) bool {
	return f == filter.FeatureVideo && p.video
}

func (p *fakePost) Links() []string { return nil }

func (p *fakePost) AuthorCandidates() []string {
	if p.author == "" {
		return nil
	}
	return []string{p.author}
}

func (p *fakePost) ContextText() string   { return "" }
func (p *fakePost) Labels() []string      { return nil }
func (p *fakePost) ContainerText() string { return "" }
func (p *fakePost) Permalink() string     { return p.permalink }

type fakeMarker struct {
	info      model.MarkerInfo
	next      *fakePost
	revealed  bool
	collapsed bool
}

func (m *fakeMarker) Info() model.MarkerInfo { return m.info }

func (m *fakeMarker) Next() filter.Post {
	if m.next == nil {
		return nil
	}
	return m.next
}

func (m *fakeMarker) Revealed() bool     { return m.revealed }
func (m *fakeMarker) SetRevealed(r bool) { m.revealed = r }
func (m *fakeMarker) Collapse()          { m.collapsed = true }

type fakeSurface struct {
	posts      []*fakePost
	hidden     map[*fakePost]bool
	markers    []*fakeMarker
	postsCalls int
	mutations  int
}

func newFakeSurface(posts ...*fakePost) *fakeSurface {
	return &fakeSurface{posts: posts, hidden: make(map[*fakePost]bool)}
}

func (s *fakeSurface) Posts() []filter.Post {
	s.postsCalls++
	out := make([]filter.Post, len(s.posts))
	for i, p := range s.posts {
		out[i] = p
	}
	return out
}

func (s *fakeSurface) Hide(p filter.Post) {
	s.mutations++
	s.hidden[p.(*fakePost)] = true
}

func (s *fakeSurface) Show(p filter.Post) {
	s.mutations++
	s.hidden[p.(*fakePost)] = false
}

func (s *fakeSurface) AlreadyFiltered(p filter.Post) bool {
	for _, m := range s.markers {
		if m.next == p.(*fakePost) {
			return true
		}
	}
	return false
}

func (s *fakeSurface) InsertMarker(p filter.Post, info model.MarkerInfo) (Marker, error) {
	s.mutations++
	m := &fakeMarker{info: info, next: p.(*fakePost)}
	s.markers = append(s.markers, m)
	return m, nil
}

func (s *fakeSurface) Markers() []Marker {
	out := make([]Marker, len(s.markers))
	for i, m := range s.markers {
		out[i] = m
	}
	return out
}

func (s *fakeSurface) RemoveMarker(m Marker) {
	s.mutations++
	for i, x := range s.markers {
		if x == m {
			s.markers = append(s.markers[:i], s.markers[i+1:]...)
			return
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func keywordRules(keywords ...string) model.RuleSet {
	return model.RuleSet{Rules: []model.Rule{{
		ID: "kw", Name: "No spam", Type: model.RuleKeywords, Keywords: keywords, Enabled: true,
	}}}
}

func newTestEngine(s *fakeSurface, rs model.RuleSet) *Engine {
	return New(s, ruleset.New(rs), discardLogger())
}

// --- tests ---

func TestScanIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newFakeSurface(
		&fakePost{text: "buy spam now", permalink: "/a/status/1"},
		&fakePost{text: "a normal post", permalink: "/a/status/2"},
	)
	e := newTestEngine(s, keywordRules("spam"))

	first := e.Scan(ctx)
	if diff := cmp.Diff(Result{Classified: 2, Hidden: 1}, first); diff != "" {
		t.Errorf("first scan mismatch (-want +got):\n%s", diff)
	}
	mutations := s.mutations

	second := e.Scan(ctx)
	if diff := cmp.Diff(Result{}, second); diff != "" {
		t.Errorf("second scan mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(mutations, s.mutations); diff != "" {
		t.Errorf("second scan mutated the document (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, e.Stats().HiddenCount); diff != "" {
		t.Errorf("hidden count mismatch (-want +got):\n%s", diff)
	}
}

func TestScanEmptyRuleSetDoesNothing(t *testing.T) {
	s := newFakeSurface(&fakePost{text: "spam"})
	e := newTestEngine(s, model.RuleSet{})

	res := e.Scan(context.Background())
	if diff := cmp.Diff(Result{}, res); diff != "" {
		t.Errorf("scan result mismatch (-want +got):\n%s", diff)
	}
	if s.postsCalls != 0 || s.mutations != 0 {
		t.Errorf("expected no document access, got %d Posts() calls and %d mutations", s.postsCalls, s.mutations)
	}
}

func TestCompletelyHideChangesOnlyPresentation(t *testing.T) {
	tests := []struct {
		name        string
		completely  bool
		wantMarkers int
	}{
		{name: "marker shown", completely: false, wantMarkers: 1},
		{name: "completely hidden", completely: true, wantMarkers: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			post := &fakePost{text: "spam here"}
			s := newFakeSurface(post)
			rs := keywordRules("spam")
			rs.Exemptions.CompletelyHide = tt.completely
			e := newTestEngine(s, rs)

			e.Scan(context.Background())

			if !s.hidden[post] {
				t.Error("expected post hidden")
			}
			if diff := cmp.Diff(tt.wantMarkers, len(s.markers)); diff != "" {
				t.Errorf("marker count mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(1, e.Stats().HiddenCount); diff != "" {
				t.Errorf("hidden count mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMarkerCarriesRuleAndReason(t *testing.T) {
	post := &fakePost{text: "free SPAM inside", permalink: "/bob/status/9"}
	s := newFakeSurface(post)
	e := newTestEngine(s, keywordRules("crypto", "spam"))

	e.Scan(context.Background())

	if len(s.markers) != 1 {
		t.Fatalf("expected 1 marker, got %d", len(s.markers))
	}
	got := s.markers[0].info
	want := model.MarkerInfo{
		ID:          "m1",
		RuleName:    "No spam",
		RuleType:    model.RuleKeywords,
		Reason:      `Contains: "spam"`,
		Fingerprint: Fingerprint(post),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("marker info mismatch (-want +got):\n%s", diff)
	}
}

func TestSuppressIsIdempotent(t *testing.T) {
	post := &fakePost{text: "x"}
	s := newFakeSurface(post)
	e := newTestEngine(s, keywordRules("x"))
	v := filter.Verdict{Hide: true, MatchedRule: &model.Rule{Name: "manual"}, Reason: "because"}

	e.Suppress(post, v)
	e.Suppress(post, v)

	if diff := cmp.Diff(1, len(s.markers)); diff != "" {
		t.Errorf("marker count mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, e.Stats().HiddenCount); diff != "" {
		t.Errorf("hidden count mismatch (-want +got):\n%s", diff)
	}
}

func TestDeduplicateKeepsFirstMarker(t *testing.T) {
	a := &fakePost{text: "spam one", permalink: "/a/status/1"}
	b := &fakePost{text: "spam one again", permalink: "/a/status/1"}
	c := &fakePost{text: "spam other", permalink: "/a/status/2"}
	s := newFakeSurface(a, b, c)
	e := newTestEngine(s, keywordRules("spam"))

	e.Scan(context.Background())
	if len(s.markers) != 3 {
		t.Fatalf("expected 3 markers before dedupe, got %d", len(s.markers))
	}

	removed := e.Deduplicate()
	if diff := cmp.Diff(1, removed); diff != "" {
		t.Errorf("removed mismatch (-want +got):\n%s", diff)
	}

	if len(s.markers) != 2 || s.markers[0].next != a || s.markers[1].next != c {
		t.Errorf("expected markers for the first and third post to remain, got %d markers", len(s.markers))
	}
}

func TestApplyRuleSetReclassifiesPassedPosts(t *testing.T) {
	ctx := context.Background()
	passed := &fakePost{text: "watch this", video: true}
	hidden := &fakePost{text: "spam"}
	s := newFakeSurface(passed, hidden)
	e := newTestEngine(s, keywordRules("spam"))

	e.Scan(ctx)
	if s.hidden[passed] {
		t.Fatal("video post should pass keyword rule")
	}

	rs := keywordRules("spam")
	rs.Rules = append(rs.Rules, model.Rule{ID: "v", Name: "No video", Type: model.RuleVideo, Enabled: true})
	res := e.ApplyRuleSet(ctx, rs)

	if diff := cmp.Diff(Result{Classified: 1, Hidden: 1}, res); diff != "" {
		t.Errorf("apply result mismatch (-want +got):\n%s", diff)
	}
	if !s.hidden[passed] {
		t.Error("expected previously passed post hidden by new rule")
	}
	if diff := cmp.Diff(model.Stats{HiddenCount: 2, ActiveFilters: 2}, e.Stats()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyRuleSetShrinkKeepsSuppressed(t *testing.T) {
	ctx := context.Background()
	post := &fakePost{text: "spam"}
	s := newFakeSurface(post)
	e := newTestEngine(s, keywordRules("spam"))
	e.Scan(ctx)

	e.ApplyRuleSet(ctx, model.RuleSet{})

	if !s.hidden[post] {
		t.Error("expected post to stay hidden after rule removal")
	}
	if diff := cmp.Diff(model.Stats{HiddenCount: 1, ActiveFilters: 0}, e.Stats()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestNewNodeIdentityResetsState(t *testing.T) {
	ctx := context.Background()
	first := &fakePost{text: "spam", permalink: "/a/status/1"}
	s := newFakeSurface(first)
	e := newTestEngine(s, keywordRules("spam"))
	e.Scan(ctx)

	// node removed together with its marker, then re-rendered
	s.posts = nil
	s.markers = nil
	e.Scan(ctx)

	again := &fakePost{text: "spam", permalink: "/a/status/1"}
	s.posts = []*fakePost{again}
	res := e.Scan(ctx)

	if diff := cmp.Diff(Result{Classified: 1, Hidden: 1}, res); diff != "" {
		t.Errorf("rescan result mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(2, e.Stats().HiddenCount); diff != "" {
		t.Errorf("hidden count mismatch (-want +got):\n%s", diff)
	}
}

func TestPostAlreadyFilteredIsNotReclassified(t *testing.T) {
	post := &fakePost{text: "spam"}
	s := newFakeSurface(post)
	s.markers = []*fakeMarker{{info: model.MarkerInfo{ID: "old"}, next: post}}
	e := newTestEngine(s, keywordRules("spam"))

	res := e.Scan(context.Background())

	if diff := cmp.Diff(Result{}, res); diff != "" {
		t.Errorf("scan result mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, len(s.markers)); diff != "" {
		t.Errorf("marker count mismatch (-want +got):\n%s", diff)
	}
}

func TestScanSurvivesPanickingPost(t *testing.T) {
	bad := &fakePost{panics: true}
	good := &fakePost{text: "spam"}
	s := newFakeSurface(bad, good)
	e := newTestEngine(s, keywordRules("spam"))

	res := e.Scan(context.Background())

	if diff := cmp.Diff(Result{Classified: 2, Hidden: 1}, res); diff != "" {
		t.Errorf("scan result mismatch (-want +got):\n%s", diff)
	}
	if !s.hidden[good] {
		t.Error("expected good post hidden")
	}
}

func TestExemptPostNeverHidden(t *testing.T) {
	post := &fakePost{text: "spam", author: "@Alice"}
	s := newFakeSurface(post)
	rs := keywordRules("spam")
	rs.Exemptions.Usernames = []string{"alice"}
	e := newTestEngine(s, rs)

	e.Scan(context.Background())

	if s.hidden[post] {
		t.Error("exempt post was hidden")
	}
}

func TestToggleAndCollapse(t *testing.T) {
	post := &fakePost{text: "spam"}
	s := newFakeSurface(post)
	e := newTestEngine(s, keywordRules("spam"))
	e.Scan(context.Background())
	id := s.markers[0].info.ID

	revealed, err := e.Toggle(id)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !revealed || s.hidden[post] || !s.markers[0].revealed {
		t.Errorf("expected revealed post, got revealed=%v hidden=%v", revealed, s.hidden[post])
	}

	revealed, err = e.Toggle(id)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if revealed || !s.hidden[post] {
		t.Errorf("expected hidden again, got revealed=%v hidden=%v", revealed, s.hidden[post])
	}

	if _, err := e.Toggle(id); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if err := e.Collapse(id); err != nil {
		t.Fatalf("collapse: %v", err)
	}
	if !s.markers[0].collapsed || !s.hidden[post] || s.markers[0].revealed {
		t.Error("expected marker collapsed and post hidden")
	}

	if _, err := e.Toggle(id); !errors.Is(err, ErrMarkerCollapsed) {
		t.Errorf("toggle after collapse: expected ErrMarkerCollapsed, got %v", err)
	}
	if !s.hidden[post] || s.markers[0].revealed {
		t.Error("toggle after collapse brought the post back")
	}

	// reveal never changes bookkeeping
	if diff := cmp.Diff(Result{}, e.Scan(context.Background())); diff != "" {
		t.Errorf("rescan after toggle mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, e.Stats().HiddenCount); diff != "" {
		t.Errorf("hidden count mismatch (-want +got):\n%s", diff)
	}

	if _, err := e.Toggle("nope"); !errors.Is(err, ErrUnknownMarker) {
		t.Errorf("expected ErrUnknownMarker, got %v", err)
	}
	if err := e.Collapse("nope"); !errors.Is(err, ErrUnknownMarker) {
		t.Errorf("expected ErrUnknownMarker, got %v", err)
	}
}

func TestDiagnose(t *testing.T) {
	exempt := &fakePost{text: "spam", author: "@alice", permalink: "/alice/status/1"}
	plain := &fakePost{text: "hello"}
	s := newFakeSurface(exempt, plain)
	rs := keywordRules("spam")
	rs.Exemptions.Usernames = []string{"@alice"}
	e := newTestEngine(s, rs)
	e.Scan(context.Background())

	got := e.Diagnose()
	want := []Diagnostic{
		{
			Fingerprint:  Fingerprint(exempt),
			Permalink:    "/alice/status/1",
			Candidates:   []string{"@alice"},
			Handle:       "alice",
			Exempt:       true,
			ExemptReason: "username",
			Processed:    true,
		},
		{Fingerprint: Fingerprint(plain), Processed: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Diagnose() mismatch (-want +got):\n%s", diff)
	}
}

func TestFingerprint(t *testing.T) {
	long := make([]rune, 150)
	for i := range long {
		long[i] = 'a'
	}
	a := &fakePost{text: string(long)}
	b := &fakePost{text: string(long[:100]) + "different tail"}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("expected posts sharing the first 100 characters to share a fingerprint")
	}

	withLink := &fakePost{text: "x", permalink: "/a/status/1"}
	sameLink := &fakePost{text: "y", permalink: "/a/status/1"}
	if Fingerprint(withLink) != Fingerprint(sameLink) {
		t.Error("expected permalink to decide the fingerprint")
	}
	if Fingerprint(withLink) == Fingerprint(&fakePost{text: "x"}) {
		t.Error("expected permalink and text fingerprints to differ")
	}
}

func TestMetricsRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newFakeSurface(&fakePost{text: "spam"})
	e := newTestEngine(s, keywordRules("spam"))
	e.SetMetrics(NewMetrics(reg))

	e.Scan(context.Background())

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	got := make(map[string]float64)
	for _, f := range families {
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				got[f.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				got[f.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	want := map[string]float64{
		"feedfilter_posts_hidden_total":     1,
		"feedfilter_posts_classified_total": 1,
		"feedfilter_scans_total":            1,
		"feedfilter_active_rules":           1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("metrics mismatch (-want +got):\n%s", diff)
	}
}
