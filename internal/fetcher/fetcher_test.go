package fetcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/mmcdole/gofeed"
)

type mockTransport struct {
	body       string
	statusCode int
	err        error
	agent      string
	accept     string
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	m.agent = req.Header.Get("User-Agent")
	m.accept = req.Header.Get("Accept")
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func loadFixture(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test-only fixture loading
	if err != nil {
		t.Fatalf("read fixture %s: %v", path, err)
	}
	return string(data)
}

func parseFixture(t *testing.T) *gofeed.Feed {
	t.Helper()
	feed, err := gofeed.NewParser().ParseString(loadFixture(t, "../../testdata/timeline.xml"))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return feed
}

func TestFetch(t *testing.T) {
	xml := loadFixture(t, "../../testdata/timeline.xml")

	tests := []struct {
		name      string
		transport *mockTransport
		wantTitle string
		wantItems int
		wantErr   bool
		wantCode  int
	}{
		{
			name:      "successful fetch",
			transport: &mockTransport{body: xml, statusCode: 200},
			wantTitle: "Home timeline",
			wantItems: 4,
		},
		{
			name:      "http error status",
			transport: &mockTransport{body: "not found", statusCode: 404},
			wantErr:   true,
			wantCode:  404,
		},
		{
			name:      "network error",
			transport: &mockTransport{err: io.ErrUnexpectedEOF},
			wantErr:   true,
		},
		{
			name:      "invalid xml",
			transport: &mockTransport{body: "not xml at all", statusCode: 200},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.transport)
			feed, err := f.Fetch(context.Background(), "https://nitter.example.net/alice/rss")

			if diff := cmp.Diff("feedfilter/1.0", tt.transport.agent); diff != "" {
				t.Errorf("user agent mismatch (-want +got):\n%s", diff)
			}
			if !strings.Contains(tt.transport.accept, "application/rss+xml") {
				t.Errorf("Accept = %q, want feed content types", tt.transport.accept)
			}
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				var se *StatusError
				if tt.wantCode != 0 && (!errors.As(err, &se) || se.Code != tt.wantCode) {
					t.Errorf("error = %v, want StatusError with code %d", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if diff := cmp.Diff(tt.wantTitle, feed.Title); diff != "" {
				t.Errorf("title mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantItems, len(feed.Items)); diff != "" {
				t.Errorf("item count mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestItemGUID(t *testing.T) {
	tests := []struct {
		name     string
		item     *gofeed.Item
		wantGUID string
		hasHash  bool
	}{
		{
			name:     "with guid",
			item:     &gofeed.Item{GUID: "abc-123"},
			wantGUID: "abc-123",
		},
		{
			name:    "without guid generates hash",
			item:    &gofeed.Item{Title: "Post Without GUID", Link: "https://example.com/post-1"},
			hasHash: true,
		},
		{
			name:    "without guid or link",
			item:    &gofeed.Item{Title: "Untitled", Description: "body"},
			hasHash: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ItemGUID(tt.item)
			if tt.hasHash {
				if !strings.HasPrefix(got, "sha256:") {
					t.Errorf("expected sha256 prefix, got %q", got)
				}
				return
			}
			if diff := cmp.Diff(tt.wantGUID, got); diff != "" {
				t.Errorf("GUID mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestItemGUIDFollowsLink(t *testing.T) {
	a := ItemGUID(&gofeed.Item{Title: "first title", Link: "https://nitter.example.net/dave/status/3"})
	b := ItemGUID(&gofeed.Item{Title: "edited title", Link: "https://nitter.example.net/dave/status/3"})
	if a != b {
		t.Errorf("GUID changed with the title: %q != %q", a, b)
	}
	c := ItemGUID(&gofeed.Item{Title: "first title", Link: "https://nitter.example.net/dave/status/4"})
	if a == c {
		t.Errorf("different links produced the same GUID %q", a)
	}
}

func TestItems(t *testing.T) {
	items := Items(parseFixture(t))

	want := []Item{
		{
			Author: "alice",
			Handle: "alice",
			Link:   "/alice/status/1",
			Text:   "Hot take: crypto will moon. Read the article",
			Links:  []Link{{Href: "https://example.com/article", Text: "the article"}},
		},
		{
			Author:     "carol",
			Handle:     "carol",
			RepostedBy: "bob",
			Link:       "/carol/status/2",
			Text:       "Look at this launch",
			Video:      true,
		},
		{
			Author: "dave",
			Handle: "dave",
			Link:   "/dave/status/3",
			Text:   "Went for a walk",
		},
		{
			Author: "erin",
			Handle: "erin",
			Link:   "/erin/status/4",
			Text:   "Check this thread by @frank",
			Links:  []Link{{Href: "/frank", Text: "@frank"}},
		},
	}
	opts := cmpopts.IgnoreFields(Item{}, "GUID", "Published")
	if diff := cmp.Diff(want, items, opts); diff != "" {
		t.Fatalf("Items() mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff("https://nitter.example.net/alice/status/1#m", items[0].GUID); diff != "" {
		t.Errorf("guid mismatch (-want +got):\n%s", diff)
	}
	if !strings.HasPrefix(items[2].GUID, "sha256:") {
		t.Errorf("item without guid should be hashed, got %q", items[2].GUID)
	}
	if items[0].Published == nil || !items[0].Published.Equal(time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected published time %v", items[0].Published)
	}
}

func TestItemsNilFeed(t *testing.T) {
	if got := Items(nil); got != nil {
		t.Errorf("Items(nil) = %v, want nil", got)
	}
}

func TestItemHTML(t *testing.T) {
	published := time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)
	it := Item{
		GUID:       `g"1`,
		Author:     "Carol <C>",
		Handle:     "carol",
		RepostedBy: "bob",
		Link:       "/carol/status/2",
		Text:       "launch <b>day</b>",
		Links:      []Link{{Href: "https://example.com/x", Text: "x"}},
		Video:      true,
		Published:  &published,
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(it.HTML()))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}

	if n := doc.Find(`[data-testid="tweet"]`).Length(); n != 1 {
		t.Fatalf("want one post, got %d", n)
	}
	cell := doc.Find(`[data-testid="cellInnerDiv"]`)
	if guid, _ := cell.Attr("data-feedfilter-guid"); guid != `g"1` {
		t.Errorf("guid attribute = %q", guid)
	}

	got := map[string]string{
		"social":  doc.Find(`[data-testid="socialContext"]`).Text(),
		"profile": doc.Find(`[data-testid="User-Name"] a`).AttrOr("href", ""),
		"name":    doc.Find(`[data-testid="User-Name"] a span`).Text(),
		"text":    doc.Find(`[data-testid="tweetText"]`).Text(),
		"time":    doc.Find(`a[href*="/status/"] time`).AttrOr("datetime", ""),
		"link":    doc.Find(`.feedfilter-links a`).AttrOr("href", ""),
	}
	want := map[string]string{
		"social":  "bob reposted",
		"profile": "/carol",
		"name":    "Carol <C>",
		"text":    "launch <b>day</b>",
		"time":    "2026-10-12T09:00:00Z",
		"link":    "https://example.com/x",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rendered post mismatch (-want +got):\n%s", diff)
	}
	if doc.Find("b").Length() != 0 {
		t.Error("item text must be escaped")
	}
	if doc.Find(`[data-testid="videoPlayer"]`).Length() != 1 {
		t.Error("expected a video player")
	}
}

func TestItemHTMLMinimal(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(Item{Text: "plain"}.HTML()))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	for _, sel := range []string{`[data-testid="socialContext"]`, `[data-testid="videoPlayer"]`, `.feedfilter-links`, `a`} {
		if doc.Find(sel).Length() != 0 {
			t.Errorf("unexpected %s in minimal item", sel)
		}
	}
}
