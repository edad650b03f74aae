// Package filter implements the post classification engine.
package filter

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"feedfilter/internal/model"
)

// DefaultHostDomains are the hosts treated as in-site links.
var DefaultHostDomains = []string{"twitter.com", "x.com"}

// Verdict is the outcome of classifying one post.
type Verdict struct {
	Hide        bool
	MatchedRule *model.Rule
	Reason      string
}

// Classifier evaluates posts against a rule set.
type Classifier struct {
	hosts []string
}

// New creates a Classifier. hostDomains lists the hosts whose links are not
// considered external; DefaultHostDomains is used when none are given.
func New(hostDomains ...string) *Classifier {
	if len(hostDomains) == 0 {
		hostDomains = DefaultHostDomains
	}
	hosts := make([]string, 0, len(hostDomains))
	for _, h := range hostDomains {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return &Classifier{hosts: hosts}
}

// Classify decides whether post should be hidden under rs.
// Exemption is checked first; then enabled rules are tried in order and the
// first one that matches wins.
func (c *Classifier) Classify(post Post, rs model.RuleSet) Verdict {
	if exempt, _ := IsExempt(post, rs.Exemptions); exempt {
		return Verdict{}
	}
	for i := range rs.Rules {
		if ok, reason := c.Match(post, rs.Rules[i]); ok {
			rule := rs.Rules[i]
			return Verdict{Hide: true, MatchedRule: &rule, Reason: reason}
		}
	}
	return Verdict{}
}

// Match evaluates a single rule against post and returns the reason on a match.
// Unknown rule types match nothing.
func (c *Classifier) Match(post Post, r model.Rule) (bool, string) {
	switch r.Type {
	case model.RuleKeywords:
		if kw := matchKeywords(post, r.Keywords); kw != "" {
			return true, `Contains: "` + kw + `"`
		}
	case model.RuleVideo:
		if post.Has(FeatureVideo) {
			return true, "Contains video content"
		}
	case model.RuleLinks:
		if c.hasExternalLink(post) {
			return true, "Contains external links"
		}
	case model.RuleRetweets:
		if isReshare(post) {
			return true, "Is a retweet"
		}
	case model.RuleVerified:
		if post.Has(FeatureVerifiedBadge) {
			return true, "From verified user"
		}
	case model.RuleEngagement:
		if phrase := EngagementPhrase(post); phrase != "" {
			return true, `Engagement bait: "` + phrase + `"`
		}
	case model.RuleAds:
		if AdSignal(post) != "" {
			return true, "Contains promoted content"
		}
	}
	return false, ""
}

// IsExempt reports whether post must never be hidden, and which exemption applied.
func IsExempt(post Post, ex model.ExemptionConfig) (bool, string) {
	if len(ex.Usernames) > 0 {
		if handle := AuthorHandle(post); handle != "" {
			for _, u := range ex.Usernames {
				if n := NormalizeHandle(u); n != "" && n == handle {
					return true, "username"
				}
			}
		}
	}
	// A missing indicator says nothing about following; only a positive signal exempts.
	if ex.FollowingOnly && post.Has(FeatureFollowIndicator) {
		return true, "following"
	}
	return false, ""
}

// AuthorHandle returns the normalized handle of the first author candidate,
// or "" if none could be extracted.
func AuthorHandle(post Post) string {
	for _, c := range post.AuthorCandidates() {
		if n := NormalizeHandle(c); n != "" {
			return n
		}
	}
	return ""
}

// NormalizeHandle strips a leading "@" and lower-cases the handle.
func NormalizeHandle(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
}

// fold prepares text for case-insensitive substring matching. NFKC maps
// compatibility forms (fullwidth and styled letters) to their plain letters.
func fold(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}
