package fetcher

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
)

var repostTitle = regexp.MustCompile(`^RT by @?([A-Za-z0-9_]{1,15}):`)

// Link is an anchor found in an item body.
type Link struct {
	Href string
	Text string
}

// Item is a feed entry reduced to what a timeline post shows.
type Item struct {
	GUID       string
	Author     string
	Handle     string
	RepostedBy string
	Link       string
	Text       string
	Links      []Link
	Video      bool
	Published  *time.Time
}

// Items converts every entry of feed.
func Items(feed *gofeed.Feed) []Item {
	if feed == nil {
		return nil
	}
	out := make([]Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		out = append(out, NewItem(it))
	}
	return out
}

// NewItem converts one feed entry. Links pointing at the entry's own host are
// made site-relative so they read like in-app links.
func NewItem(it *gofeed.Item) Item {
	base, _ := url.Parse(it.Link)
	item := Item{
		GUID:      ItemGUID(it),
		Link:      localize(base, it.Link),
		Published: it.PublishedParsed,
	}
	if m := repostTitle.FindStringSubmatch(it.Title); m != nil {
		item.RepostedBy = m[1]
	}

	author := authorName(it)
	item.Handle = handleFromLink(base)
	if item.Handle == "" && strings.HasPrefix(author, "@") {
		item.Handle = strings.TrimPrefix(author, "@")
	}
	item.Author = strings.TrimPrefix(author, "@")
	if item.Author == "" {
		item.Author = item.Handle
	}

	body := it.Content
	if body == "" {
		body = it.Description
	}
	if body == "" {
		body = it.Title
	}
	item.Text, item.Links, item.Video = readBody(body, base)
	if !item.Video {
		item.Video = hasVideoEnclosure(it)
	}
	return item
}

func authorName(it *gofeed.Item) string {
	if it.Author != nil && it.Author.Name != "" {
		return strings.TrimSpace(it.Author.Name)
	}
	for _, a := range it.Authors {
		if a != nil && a.Name != "" {
			return strings.TrimSpace(a.Name)
		}
	}
	if it.DublinCoreExt != nil && len(it.DublinCoreExt.Creator) > 0 {
		return strings.TrimSpace(it.DublinCoreExt.Creator[0])
	}
	return ""
}

// handleFromLink returns "name" for links shaped like /name/status/123.
func handleFromLink(u *url.URL) string {
	if u == nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 3 && parts[1] == "status" && parts[0] != "" {
		return parts[0]
	}
	return ""
}

func localize(base *url.URL, href string) string {
	u, err := url.Parse(href)
	if err != nil || base == nil || u.Host == "" || !strings.EqualFold(u.Host, base.Host) {
		return href
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

func hasVideoEnclosure(it *gofeed.Item) bool {
	for _, enc := range it.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "video/") {
			return true
		}
	}
	return false
}

func readBody(body string, base *url.URL) (string, []Link, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return squash(body), nil, false
	}
	doc.Find("script, style, iframe, object, embed, form").Remove()

	var links []Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		links = append(links, Link{Href: localize(base, href), Text: squash(s.Text())})
	})
	video := doc.Find("video").Length() > 0
	return squash(doc.Text()), links, video
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// HTML renders the item as a timeline cell holding one post.
func (it Item) HTML() string {
	var b strings.Builder
	b.WriteString(`<div data-testid="cellInnerDiv" data-feedfilter-guid="` + esc(it.GUID) + `">`)
	b.WriteString(`<article data-testid="tweet">`)
	if it.RepostedBy != "" {
		b.WriteString(`<div data-testid="socialContext"><span>` + esc(it.RepostedBy) + ` reposted</span></div>`)
	}

	b.WriteString(`<div data-testid="User-Name">`)
	switch {
	case it.Handle != "":
		b.WriteString(`<a href="/` + esc(it.Handle) + `"><span>` + esc(it.Author) + `</span></a>`)
		b.WriteString(`<span>@` + esc(it.Handle) + `</span>`)
	case it.Author != "":
		b.WriteString(`<span>` + esc(it.Author) + `</span>`)
	}
	b.WriteString(`</div>`)

	if it.Link != "" {
		b.WriteString(`<a href="` + esc(it.Link) + `">`)
		if it.Published != nil {
			ts := it.Published.UTC()
			b.WriteString(`<time datetime="` + ts.Format(time.RFC3339) + `">` + ts.Format("Jan 2") + `</time>`)
		} else {
			b.WriteString(`<time></time>`)
		}
		b.WriteString(`</a>`)
	}

	b.WriteString(`<div data-testid="tweetText"><span>` + esc(it.Text) + `</span></div>`)
	if len(it.Links) > 0 {
		b.WriteString(`<div class="feedfilter-links">`)
		for _, l := range it.Links {
			b.WriteString(`<a href="` + esc(l.Href) + `">` + esc(l.Text) + `</a>`)
		}
		b.WriteString(`</div>`)
	}
	if it.Video {
		b.WriteString(`<div data-testid="videoPlayer"><video></video></div>`)
	}
	b.WriteString(`</article></div>`)
	return b.String()
}

func esc(s string) string { return html.EscapeString(s) }
