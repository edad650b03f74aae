package dom

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"feedfilter/internal/filter"
)

var (
	textMatcher      = cascadia.MustCompile(`[data-testid="tweetText"]`)
	chromeMatcher    = cascadia.MustCompile(`[data-testid="socialContext"], [data-testid="reply"], [data-testid="retweet"], [data-testid="like"], [data-testid="share"], [role="button"]`)
	linkMatcher      = cascadia.MustCompile("a[href]")
	userNameMatcher  = cascadia.MustCompile(`[data-testid="User-Name"], [data-testid="User-Names"]`)
	contextMatcher   = cascadia.MustCompile(`[data-testid="socialContext"]`)
	permalinkMatcher = cascadia.MustCompile(`a[href*="/status/"]`)
	spanMatcher      = cascadia.MustCompile("span")

	featureMatchers = map[filter.Feature]cascadia.Selector{
		filter.FeatureVideo:             cascadia.MustCompile(`[data-testid="videoPlayer"], video, [data-testid="videoComponent"]`),
		filter.FeatureSocialContext:     contextMatcher,
		filter.FeatureVerifiedBadge:     cascadia.MustCompile(`[data-testid="icon-verified"], [aria-label*="Verified account"], svg[aria-label*="Verified"]`),
		filter.FeaturePromotedIndicator: cascadia.MustCompile(`[data-testid="promotedIndicator"], [aria-label*="Promoted"]`),
		filter.FeatureFollowIndicator:   cascadia.MustCompile(`[data-testid="userFollowIndicator"], [aria-label*="Following"], [title*="Following"]`),
	}
)

var (
	handleText     = regexp.MustCompile(`^@[A-Za-z0-9_]{1,15}$`)
	handleInText   = regexp.MustCompile(`(?:^|[^A-Za-z0-9_@])(@[A-Za-z0-9_]{1,15})`)
	profileSegment = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)
)

// reservedPaths are site sections that look like profile links.
var reservedPaths = map[string]bool{
	"i":             true,
	"home":          true,
	"explore":       true,
	"search":        true,
	"notifications": true,
	"messages":      true,
	"settings":      true,
	"compose":       true,
	"hashtag":       true,
	"login":         true,
	"signup":        true,
	"tos":           true,
	"privacy":       true,
}

// labelMaxLen bounds what counts as a short standalone label.
const labelMaxLen = 40

// post adapts one post element. Reads take the document read lock.
type post struct {
	d *Document
	n *html.Node
}

var _ filter.Post = (*post)(nil)

func (p *post) sel() *goquery.Selection {
	return selection(p.n)
}

func (p *post) PrimaryText() string {
	p.d.mu.RLock()
	defer p.d.mu.RUnlock()

	s := p.sel()
	if t := s.FindMatcher(textMatcher); t.Length() > 0 {
		return squash(t.First().Text())
	}
	c := s.Clone()
	c.FindMatcher(chromeMatcher).Remove()
	return squash(c.Text())
}

func (p *post) FullText() string {
	p.d.mu.RLock()
	defer p.d.mu.RUnlock()
	return squash(p.sel().Text())
}

func (p *post) Has(f filter.Feature) bool {
	p.d.mu.RLock()
	defer p.d.mu.RUnlock()

	s := p.sel()
	switch f {
	case filter.FeatureAdAttribute:
		return s.AttrOr("data-promoted", "") == "true"
	case filter.FeatureFollowIndicator:
		if s.FindMatcher(featureMatchers[f]).Length() > 0 {
			return true
		}
		region := s.FindMatcher(userNameMatcher)
		return strings.Contains(strings.ToLower(region.Text()), "following")
	}
	m, ok := featureMatchers[f]
	if !ok {
		return false
	}
	return s.FindMatcher(m).Length() > 0
}

func (p *post) Links() []string {
	p.d.mu.RLock()
	defer p.d.mu.RUnlock()

	var links []string
	p.sel().FindMatcher(linkMatcher).Each(func(_ int, a *goquery.Selection) {
		links = append(links, a.AttrOr("href", ""))
	})
	return links
}

// AuthorCandidates tries, in order: a profile link in the user-name region,
// an @handle span in that region, the first profile-shaped link anywhere in
// the post, and an @handle in the post text.
func (p *post) AuthorCandidates() []string {
	p.d.mu.RLock()
	defer p.d.mu.RUnlock()

	var out []string
	add := func(h string) {
		for _, x := range out {
			if strings.EqualFold(x, h) {
				return
			}
		}
		out = append(out, h)
	}
	firstProfile := func(s *goquery.Selection) {
		s.FindMatcher(linkMatcher).EachWithBreak(func(_ int, a *goquery.Selection) bool {
			if h, ok := profileHandle(a.AttrOr("href", "")); ok {
				add("@" + h)
				return false
			}
			return true
		})
	}

	s := p.sel()
	region := s.FindMatcher(userNameMatcher)
	firstProfile(region)
	region.FindMatcher(spanMatcher).EachWithBreak(func(_ int, sp *goquery.Selection) bool {
		if t := strings.TrimSpace(sp.Text()); handleText.MatchString(t) {
			add(t)
			return false
		}
		return true
	})
	firstProfile(s)
	if m := handleInText.FindStringSubmatch(s.Text()); m != nil {
		add(m[1])
	}
	return out
}

func (p *post) ContextText() string {
	p.d.mu.RLock()
	defer p.d.mu.RUnlock()
	return squash(p.sel().FindMatcher(contextMatcher).Text())
}

func (p *post) Labels() []string {
	p.d.mu.RLock()
	defer p.d.mu.RUnlock()

	var labels []string
	p.sel().FindMatcher(spanMatcher).Each(func(_ int, sp *goquery.Selection) {
		if insideControl(sp.Get(0), p.n) {
			return
		}
		t := squash(sp.Text())
		if t == "" || len([]rune(t)) > labelMaxLen {
			return
		}
		labels = append(labels, t)
	})
	return labels
}

func (p *post) ContainerText() string {
	p.d.mu.RLock()
	defer p.d.mu.RUnlock()
	return squash(p.sel().ClosestMatcher(cellMatcher).Text())
}

func (p *post) Permalink() string {
	p.d.mu.RLock()
	defer p.d.mu.RUnlock()
	return p.sel().FindMatcher(permalinkMatcher).First().AttrOr("href", "")
}

// profileHandle extracts the handle from a profile link such as "/alice" or
// "https://x.com/alice".
func profileHandle(href string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	if u.Host != "" {
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		host = strings.TrimPrefix(host, "mobile.")
		known := false
		for _, h := range filter.DefaultHostDomains {
			if host == h {
				known = true
			}
		}
		if !known {
			return "", false
		}
	} else if !strings.HasPrefix(u.Path, "/") {
		return "", false
	}

	seg := strings.TrimSuffix(strings.TrimPrefix(u.Path, "/"), "/")
	if !profileSegment.MatchString(seg) || reservedPaths[strings.ToLower(seg)] {
		return "", false
	}
	return seg, true
}

// insideControl reports whether n sits in a button or link below stop.
func insideControl(n, stop *html.Node) bool {
	for a := n; a != nil && a != stop; a = a.Parent {
		if a.Type != html.ElementNode {
			continue
		}
		if a.Data == "button" || a.Data == "a" {
			return true
		}
		for _, at := range a.Attr {
			if at.Key == "role" && (at.Val == "button" || at.Val == "link") {
				return true
			}
		}
	}
	return false
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
