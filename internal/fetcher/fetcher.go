// Package fetcher downloads RSS/Atom post sources and turns their items into
// post-shaped HTML fragments.
package fetcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

const (
	userAgent      = "feedfilter/1.0"
	acceptHeader   = "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.5"
	maxBodySize    = 5 << 20
	defaultTimeout = 30 * time.Second
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError reports a non-200 response from a feed source.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Code)
}

// Fetcher downloads and parses feeds.
type Fetcher struct {
	client  HTTPClient
	timeout time.Duration
}

// New creates a Fetcher that sends requests through client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:  client,
		timeout: defaultTimeout,
	}
}

// SetTimeout bounds each Fetch call. Non-positive values are ignored.
func (f *Fetcher) SetTimeout(d time.Duration) {
	if d > 0 {
		f.timeout = d
	}
}

// Fetch downloads the feed at url and parses it. Bodies larger than
// maxBodySize are truncated before parsing.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", url, err)
	}
	return feed, nil
}

// ItemGUID returns a stable identifier for a feed item: its GUID when set,
// otherwise a hash of its permalink, or of its title and body when the item
// has no link either.
func ItemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	key := item.Link
	if key == "" {
		key = item.Title + "\x00" + item.Description
	}
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("sha256:%x", h[:16])
}
