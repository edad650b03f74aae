package engine

import (
	"feedfilter/internal/filter"
)

// Diagnostic describes how one visible post was read and judged. It is purely
// observational and never changes engine state.
type Diagnostic struct {
	Fingerprint  string   `json:"fingerprint"`
	Permalink    string   `json:"permalink,omitempty"`
	Candidates   []string `json:"candidates,omitempty"`
	Handle       string   `json:"handle,omitempty"`
	Exempt       bool     `json:"exempt"`
	ExemptReason string   `json:"exemptReason,omitempty"`
	AdSignal     string   `json:"adSignal,omitempty"`
	Hide         bool     `json:"hide"`
	Rule         string   `json:"rule,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	Processed    bool     `json:"processed"`
	Suppressed   bool     `json:"suppressed"`
}

// Diagnose reports extracted usernames, ad-detection rationale and the current
// verdict for every post in the document.
func (e *Engine) Diagnose() []Diagnostic {
	e.mu.Lock()
	defer e.mu.Unlock()

	rs := e.rules.Current()
	posts := e.surface.Posts()
	out := make([]Diagnostic, 0, len(posts))
	for _, p := range posts {
		d := Diagnostic{
			Fingerprint: Fingerprint(p),
			Permalink:   p.Permalink(),
			Candidates:  p.AuthorCandidates(),
			Handle:      filter.AuthorHandle(p),
			AdSignal:    filter.AdSignal(p),
		}
		d.Exempt, d.ExemptReason = filter.IsExempt(p, rs.Exemptions)
		if v, ok := e.classify(p, rs); ok && v.Hide {
			d.Hide = true
			d.Reason = v.Reason
			if v.MatchedRule != nil {
				d.Rule = v.MatchedRule.Name
			}
		}
		if st, ok := e.states[p]; ok {
			d.Processed, d.Suppressed = st.processed, st.suppressed
		}
		out = append(out, d)
	}
	return out
}
