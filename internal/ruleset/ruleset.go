// Package ruleset holds the current rule set and swaps it atomically.
package ruleset

import (
	"sync/atomic"

	"feedfilter/internal/model"
)

// Holder stores the authoritative RuleSet. Replace is a single atomic swap;
// readers always see either the old or the new set, never a mix.
type Holder struct {
	current atomic.Pointer[model.RuleSet]
}

// New creates a Holder seeded with rs.
func New(rs model.RuleSet) *Holder {
	h := &Holder{}
	h.Replace(rs)
	return h
}

// Replace installs rs as the current rule set. The rule slice is copied so later
// changes to the caller's slice do not leak into the engine.
func (h *Holder) Replace(rs model.RuleSet) {
	cp := model.RuleSet{
		Rules: append([]model.Rule(nil), rs.Rules...),
		Exemptions: model.ExemptionConfig{
			FollowingOnly:  rs.Exemptions.FollowingOnly,
			Usernames:      append([]string(nil), rs.Exemptions.Usernames...),
			CompletelyHide: rs.Exemptions.CompletelyHide,
		},
	}
	h.current.Store(&cp)
}

// Current returns the rule set in effect.
func (h *Holder) Current() model.RuleSet {
	if rs := h.current.Load(); rs != nil {
		return *rs
	}
	return model.RuleSet{}
}

// IsEmpty reports whether no enabled rules are installed.
func (h *Holder) IsEmpty() bool {
	return h.Current().IsEmpty()
}
