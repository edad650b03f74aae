package dom

import (
	"strings"

	"golang.org/x/net/html"

	"feedfilter/internal/engine"
	"feedfilter/internal/filter"
	"feedfilter/internal/model"
	"feedfilter/internal/theme"
)

const (
	showLabel     = "Show Temporarily"
	hideLabel     = "✓ Hide Again"
	collapseLabel = "Hide Completely"
)

const (
	attrMarkerID    = "data-feedfilter-marker"
	attrFingerprint = "data-feedfilter-fingerprint"
	attrRuleName    = "data-rule-name"
	attrRuleType    = "data-rule-type"
	attrReason      = "data-reason"
)

// markerHTML renders the marker markup. Every value taken from rules or
// posts is escaped.
func markerHTML(info model.MarkerInfo) string {
	esc := html.EscapeString
	var b strings.Builder
	b.WriteString(`<div class="` + markerClass + `"`)
	b.WriteString(` ` + attrMarkerID + `="` + esc(info.ID) + `"`)
	b.WriteString(` ` + attrFingerprint + `="` + esc(info.Fingerprint) + `"`)
	b.WriteString(` ` + attrRuleName + `="` + esc(info.RuleName) + `"`)
	b.WriteString(` ` + attrRuleType + `="` + esc(string(info.RuleType)) + `"`)
	b.WriteString(` ` + attrReason + `="` + esc(info.Reason) + `">`)
	b.WriteString(`<div class="twitter-filter-content"><div class="filter-bar"></div><div class="filter-info">`)
	b.WriteString(`<span class="filter-text">Post filtered by: <strong>` + esc(info.RuleName) + `</strong></span>`)
	if info.Reason != "" {
		b.WriteString(`<span class="filter-reason">` + esc(info.Reason) + `</span>`)
	}
	b.WriteString(`<div class="filter-actions">`)
	b.WriteString(`<button class="show-temp-btn" data-action="toggle" data-marker="` + esc(info.ID) + `">` + showLabel + `</button>`)
	b.WriteString(`<button class="hide-permanent-btn" data-action="collapse" data-marker="` + esc(info.ID) + `">` + collapseLabel + `</button>`)
	b.WriteString(`</div></div></div></div>`)
	return b.String()
}

// marker adapts one marker element.
type marker struct {
	d *Document
	n *html.Node
}

var _ engine.Marker = (*marker)(nil)

func (m *marker) Info() model.MarkerInfo {
	m.d.mu.RLock()
	defer m.d.mu.RUnlock()
	s := selection(m.n)
	return model.MarkerInfo{
		ID:          s.AttrOr(attrMarkerID, ""),
		RuleName:    s.AttrOr(attrRuleName, ""),
		RuleType:    model.RuleType(s.AttrOr(attrRuleType, "")),
		Reason:      s.AttrOr(attrReason, ""),
		Fingerprint: s.AttrOr(attrFingerprint, ""),
	}
}

// Next returns the post right after the marker, or nil.
func (m *marker) Next() filter.Post {
	m.d.mu.RLock()
	n := nextElement(m.n)
	m.d.mu.RUnlock()
	if n == nil || !postMatcher.Match(n) {
		return nil
	}
	return m.d.wrap(n)
}

func (m *marker) Revealed() bool {
	m.d.mu.RLock()
	defer m.d.mu.RUnlock()
	return selection(m.n).HasClass(revealedClass)
}

func (m *marker) SetRevealed(revealed bool) {
	m.d.mu.Lock()
	defer m.d.mu.Unlock()

	s := selection(m.n)
	label := showLabel
	if revealed {
		s.AddClass(revealedClass)
		label = hideLabel
	} else {
		s.RemoveClass(revealedClass)
	}
	s.Find(".show-temp-btn").SetText(label)
}

func (m *marker) Collapse() {
	m.d.mu.Lock()
	defer m.d.mu.Unlock()
	theme.SetStyle(selection(m.n), "display", "none")
}
