// Package model defines the domain types used across the application.
package model

import "time"

// RuleType defines which matcher a rule uses.
type RuleType string

// Supported rule types.
const (
	RuleKeywords   RuleType = "keywords"
	RuleVideo      RuleType = "video"
	RuleLinks      RuleType = "links"
	RuleRetweets   RuleType = "retweets"
	RuleVerified   RuleType = "verified"
	RuleEngagement RuleType = "engagement"
	RuleAds        RuleType = "ads"
)

// RuleTypes lists the known rule types in display order.
var RuleTypes = []RuleType{
	RuleKeywords, RuleVideo, RuleLinks, RuleRetweets, RuleVerified, RuleEngagement, RuleAds,
}

// Known reports whether t is one of the supported rule types.
func (t RuleType) Known() bool {
	for _, k := range RuleTypes {
		if k == t {
			return true
		}
	}
	return false
}

// UsesKeywords reports whether rules of this type carry a keyword list.
func (t RuleType) UsesKeywords() bool {
	return t == RuleKeywords
}

// Label returns the human-readable name of the rule type.
func (t RuleType) Label() string {
	switch t {
	case RuleKeywords:
		return "Keywords"
	case RuleVideo:
		return "Video Posts"
	case RuleLinks:
		return "Posts with Links"
	case RuleRetweets:
		return "Retweets"
	case RuleVerified:
		return "Verified Users"
	case RuleEngagement:
		return "Engagement Bait"
	case RuleAds:
		return "Ads/Promoted Posts"
	default:
		return string(t)
	}
}

// Rule is a named, typed classification predicate.
// Rules are replaced, never mutated, once handed to the engine.
type Rule struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Type        RuleType  `json:"type" yaml:"type"`
	Keywords    []string  `json:"keywords" yaml:"keywords,omitempty"`
	Enabled     bool      `json:"enabled" yaml:"enabled"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt,omitempty"`
}

// ExemptionConfig holds the conditions that unconditionally prevent suppression,
// plus the CompletelyHide presentation switch.
type ExemptionConfig struct {
	FollowingOnly  bool     `json:"followingOnly" yaml:"followingOnly"`
	Usernames      []string `json:"usernames" yaml:"usernames"`
	CompletelyHide bool     `json:"completelyHide" yaml:"completelyHide"`
}

// RuleSet is the enabled subset of rules plus the exemption configuration.
type RuleSet struct {
	Rules      []Rule
	Exemptions ExemptionConfig
}

// NewRuleSet builds a RuleSet from a full rule list, keeping enabled rules in order.
func NewRuleSet(rules []Rule, ex ExemptionConfig) RuleSet {
	enabled := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled && r.Type != "" {
			enabled = append(enabled, r)
		}
	}
	return RuleSet{Rules: enabled, Exemptions: ex}
}

// IsEmpty reports whether the set holds no enabled rules.
func (rs RuleSet) IsEmpty() bool {
	return len(rs.Rules) == 0
}

// MarkerInfo is the content of a suppression marker.
type MarkerInfo struct {
	ID          string
	RuleName    string
	RuleType    RuleType
	Reason      string
	Fingerprint string
}

// InsertedNode describes one node inserted into the host document.
type InsertedNode struct {
	Post         bool
	ContainsPost bool
	Marker       bool
}

// Mutation is one batch of document change notifications.
type Mutation struct {
	Added []InsertedNode
}

// Stats is the statistics view exposed to the control surface.
type Stats struct {
	HiddenCount   int `json:"hiddenCount"`
	ActiveFilters int `json:"activeFilters"`
}

// Source is an RSS/Atom feed whose items are appended to the document as posts.
type Source struct {
	ID              int64
	ChatID          int64
	Name            string
	URL             string
	IntervalMinutes int
	IsActive        bool
	LastCheckAt     *time.Time
	CreatedAt       time.Time
}
