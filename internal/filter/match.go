package filter

import (
	"net/url"
	"strings"
)

// EngagementPhrases is the fixed list of stock phrases used to farm interactions.
var EngagementPhrases = []string{
	"like if you",
	"retweet if",
	"rt if",
	"agree if",
	"comment if",
	"share if",
	"follow if",
	"like this if",
	"retweet this if",
	"say yes if",
	"type yes if",
	"drop a",
	"drop your",
	"who else",
	"am i the only one",
	"unpopular opinion",
	"controversial take",
	"change my mind",
	"prove me wrong",
	"this will probably get me cancelled",
	"hot take",
	"i said what i said",
}

// reshareIndicators are matched case-sensitively against the full post text.
var reshareIndicators = []string{"Retweeted", "reposted"}

var (
	adLabels = map[string]bool{
		"promoted":      true,
		"sponsored":     true,
		"ad":            true,
		"advertisement": true,
	}

	contextAdPhrases = []string{"promoted by", "sponsored by", "advertisement"}

	// self-service promotion UI shown on the user's own posts
	selfPromoPhrases = []string{"promote this post", "promote this", "promote your post"}

	trackingParams = map[string]bool{
		"utm_source":   true,
		"utm_medium":   true,
		"utm_campaign": true,
		"utm_term":     true,
		"utm_content":  true,
		"gclid":        true,
		"fbclid":       true,
		"dclid":        true,
		"twclid":       true,
		"mc_cid":       true,
		"mc_eid":       true,
	}

	adHosts = []string{
		"ads.twitter.com",
		"ads-twitter.com",
		"doubleclick.net",
		"googleadservices.com",
		"googlesyndication.com",
		"adservice.google.com",
		"adsrvr.org",
		"criteo.com",
		"taboola.com",
		"outbrain.com",
	}
)

// Ad signal names reported by AdSignal.
const (
	AdPromotedIndicator = "promoted-indicator"
	AdContextLabel      = "context-label"
	AdAttribute         = "ad-attribute"
	AdStandaloneLabel   = "standalone-label"
	AdTrackingLink      = "tracking-link"
	AdHostLink          = "ad-host-link"
	AdContainerText     = "container-text"
)

func matchKeywords(post Post, keywords []string) string {
	if len(keywords) == 0 {
		return ""
	}
	text := fold(post.PrimaryText())
	for _, kw := range keywords {
		k := fold(strings.TrimSpace(kw))
		if k == "" {
			continue
		}
		if strings.Contains(text, k) {
			return kw
		}
	}
	return ""
}

// EngagementPhrase returns the first engagement-bait phrase in the post's
// primary text, or "".
func EngagementPhrase(post Post) string {
	text := fold(post.PrimaryText())
	if text == "" {
		return ""
	}
	for _, p := range EngagementPhrases {
		if strings.Contains(text, p) {
			return p
		}
	}
	return ""
}

func isReshare(post Post) bool {
	if post.Has(FeatureSocialContext) {
		return true
	}
	text := post.FullText()
	for _, s := range reshareIndicators {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

func (c *Classifier) hasExternalLink(post Post) bool {
	for _, href := range post.Links() {
		u, ok := absoluteURL(href)
		if !ok {
			continue
		}
		if !hostMatches(u.Hostname(), c.hosts) {
			return true
		}
	}
	return false
}

// AdSignal returns the name of the first ad signal found on post, or "" when
// the post does not look like an ad.
func AdSignal(post Post) string {
	if post.Has(FeaturePromotedIndicator) {
		return AdPromotedIndicator
	}

	if ctx := fold(post.ContextText()); ctx != "" && !isSelfPromo(ctx) && containsAny(ctx, contextAdPhrases) {
		return AdContextLabel
	}

	if post.Has(FeatureAdAttribute) {
		return AdAttribute
	}

	for _, l := range post.Labels() {
		if adLabels[fold(strings.TrimSpace(l))] {
			return AdStandaloneLabel
		}
	}

	for _, href := range post.Links() {
		u, ok := absoluteURL(href)
		if !ok {
			continue
		}
		if hostMatches(u.Hostname(), adHosts) {
			return AdHostLink
		}
		if countTrackingParams(u) >= 2 {
			return AdTrackingLink
		}
	}

	if text := fold(post.ContainerText()); text != "" && !isSelfPromo(text) {
		if strings.Contains(text, "promoted by") || strings.Contains(text, "sponsored by") ||
			(strings.Contains(text, "promoted") && strings.Contains(text, "learn more")) {
			return AdContainerText
		}
	}

	return ""
}

func isSelfPromo(text string) bool {
	return containsAny(text, selfPromoPhrases)
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func countTrackingParams(u *url.URL) int {
	n := 0
	for key := range u.Query() {
		if trackingParams[strings.ToLower(key)] {
			n++
		}
	}
	return n
}

// absoluteURL parses href and accepts only absolute http(s) URLs with a host.
func absoluteURL(href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "/") {
		return nil, false
	}
	u, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	if u.Hostname() == "" {
		return nil, false
	}
	return u, true
}

func hostMatches(host string, domains []string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
