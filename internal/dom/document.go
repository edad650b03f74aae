// Package dom adapts an HTML timeline document, parsed with goquery, to the
// post and surface interfaces used by the filter engine.
package dom

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"feedfilter/internal/engine"
	"feedfilter/internal/filter"
	"feedfilter/internal/model"
	"feedfilter/internal/theme"
)

var (
	// ErrForeignNode is returned for posts or markers of another document.
	ErrForeignNode = errors.New("node belongs to another document")
	// ErrDetached is returned when a post is no longer attached to the document.
	ErrDetached = errors.New("post is detached")
)

// PostSelector matches a post element.
const PostSelector = `[data-testid="tweet"]`

const (
	markerClass   = "twitter-filter-indicator"
	filteredClass = "filtered-tweet"
	revealedClass = "temporarily-shown"
)

var timelineSelectors = []string{
	"[data-feedfilter-timeline]",
	`[aria-label^="Timeline"]`,
	"main",
	"body",
}

var (
	postMatcher   = cascadia.MustCompile(PostSelector)
	cellMatcher   = cascadia.MustCompile(`[data-testid="cellInnerDiv"]`)
	markerMatcher = cascadia.MustCompile("." + markerClass)
)

var fragmentContext = &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}

// Timeline is an empty document that Append can fill.
const Timeline = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>feedfilter</title></head>
<body><main><div aria-label="Timeline: Home" data-feedfilter-timeline="true"></div></main></body></html>`

// Document is a parsed timeline. It is safe for concurrent use.
type Document struct {
	mu    sync.RWMutex
	doc   *goquery.Document
	limit int

	cacheMu sync.Mutex
	posts   map[*html.Node]*post

	subsMu sync.Mutex
	subs   map[chan model.Mutation]struct{}
}

var _ engine.Surface = (*Document)(nil)

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{
		doc:   doc,
		posts: make(map[*html.Node]*post),
		subs:  make(map[chan model.Mutation]struct{}),
	}, nil
}

// ParseString parses src as an HTML document.
func ParseString(src string) (*Document, error) {
	return Parse(strings.NewReader(src))
}

// ParseFile parses the HTML document at path.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// SetLimit caps the number of posts kept in the document. When Append pushes
// the count over n, the oldest posts are removed. Zero disables the cap.
func (d *Document) SetLimit(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.limit = n
}

// Subscribe registers for mutation notifications. Notifications are dropped
// when the channel buffer is full. The returned func unsubscribes and closes
// the channel.
func (d *Document) Subscribe(buf int) (<-chan model.Mutation, func()) {
	ch := make(chan model.Mutation, buf)
	d.subsMu.Lock()
	d.subs[ch] = struct{}{}
	d.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.subsMu.Lock()
			delete(d.subs, ch)
			d.subsMu.Unlock()
			close(ch)
		})
	}
}

func (d *Document) publish(m model.Mutation) {
	if len(m.Added) == 0 {
		return
	}
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	for ch := range d.subs {
		select {
		case ch <- m:
		default:
		}
	}
}

// Append parses fragment and appends its nodes to the timeline container.
// It returns the number of posts added.
func (d *Document) Append(fragment string) (int, error) {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), fragmentContext)
	if err != nil {
		return 0, fmt.Errorf("parse fragment: %w", err)
	}

	d.mu.Lock()
	container := d.container()
	if container == nil {
		d.mu.Unlock()
		return 0, errors.New("append: document has no body")
	}

	var (
		mut   model.Mutation
		added int
	)
	for _, n := range nodes {
		container.AppendChild(n)
		if n.Type != html.ElementNode {
			continue
		}
		in := model.InsertedNode{
			Post:         postMatcher.Match(n),
			ContainsPost: len(postMatcher.MatchAll(n)) > 0,
			Marker:       markerMatcher.Match(n),
		}
		added += len(postMatcher.MatchAll(n))
		mut.Added = append(mut.Added, in)
	}
	d.trim()
	d.mu.Unlock()

	d.publish(mut)
	return added, nil
}

func (d *Document) container() *html.Node {
	for _, sel := range timelineSelectors {
		if s := d.doc.Find(sel).First(); s.Length() > 0 {
			return s.Get(0)
		}
	}
	return nil
}

// trim removes the oldest posts over the limit, together with their cell
// and marker. Callers hold d.mu.
func (d *Document) trim() {
	if d.limit <= 0 {
		return
	}
	posts := d.doc.FindMatcher(postMatcher)
	excess := posts.Length() - d.limit
	if excess <= 0 {
		return
	}
	posts.Slice(0, excess).Each(func(_ int, s *goquery.Selection) {
		if cell := s.ClosestMatcher(cellMatcher); cell.Length() > 0 {
			cell.Remove()
			return
		}
		if prev := prevElement(s.Get(0)); prev != nil && markerMatcher.Match(prev) {
			prev.Parent.RemoveChild(prev)
		}
		s.Remove()
	})
}

// Posts returns the post elements currently in the document, in document order.
// The same element always yields the same Post value.
func (d *Document) Posts() []filter.Post {
	d.mu.RLock()
	nodes := d.doc.FindMatcher(postMatcher).Nodes
	d.mu.RUnlock()

	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()

	live := make(map[*html.Node]*post, len(nodes))
	out := make([]filter.Post, 0, len(nodes))
	for _, n := range nodes {
		p, ok := d.posts[n]
		if !ok {
			p = &post{d: d, n: n}
		}
		live[n] = p
		out = append(out, p)
	}
	d.posts = live
	return out
}

// Len returns the number of posts in the document.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.doc.FindMatcher(postMatcher).Length()
}

func (d *Document) wrap(n *html.Node) *post {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	p, ok := d.posts[n]
	if !ok {
		p = &post{d: d, n: n}
		d.posts[n] = p
	}
	return p
}

func (d *Document) own(p filter.Post) (*post, bool) {
	pp, ok := p.(*post)
	return pp, ok && pp.d == d
}

// Hide makes the post invisible.
func (d *Document) Hide(p filter.Post) {
	pp, ok := d.own(p)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s := selection(pp.n)
	s.AddClass(filteredClass)
	theme.SetStyle(s, "display", "none")
}

// Show makes a hidden post visible again.
func (d *Document) Show(p filter.Post) {
	pp, ok := d.own(p)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	theme.RemoveStyle(selection(pp.n), "display")
}

// AlreadyFiltered reports whether a marker sits right before p or p carries
// the filtered class, as in a document saved after an earlier run.
func (d *Document) AlreadyFiltered(p filter.Post) bool {
	pp, ok := d.own(p)
	if !ok {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if prev := prevElement(pp.n); prev != nil && markerMatcher.Match(prev) {
		return true
	}
	return selection(pp.n).HasClass(filteredClass)
}

// InsertMarker places a suppression marker immediately before p.
func (d *Document) InsertMarker(p filter.Post, info model.MarkerInfo) (engine.Marker, error) {
	pp, ok := d.own(p)
	if !ok {
		return nil, fmt.Errorf("insert marker %s: %w", info.ID, ErrForeignNode)
	}
	nodes, err := html.ParseFragment(strings.NewReader(markerHTML(info)), fragmentContext)
	if err != nil {
		return nil, fmt.Errorf("parse marker: %w", err)
	}
	var mn *html.Node
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			mn = n
			break
		}
	}
	if mn == nil {
		return nil, fmt.Errorf("insert marker %s: empty markup", info.ID)
	}

	d.mu.Lock()
	if pp.n.Parent == nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("insert marker %s: %w", info.ID, ErrDetached)
	}
	pp.n.Parent.InsertBefore(mn, pp.n)
	theme.EnsureStylesheet(d.doc)
	d.mu.Unlock()

	d.publish(model.Mutation{Added: []model.InsertedNode{{Marker: true}}})
	return &marker{d: d, n: mn}, nil
}

// Markers returns the markers in the document, in document order.
func (d *Document) Markers() []engine.Marker {
	d.mu.RLock()
	defer d.mu.RUnlock()
	nodes := d.doc.FindMatcher(markerMatcher).Nodes
	out := make([]engine.Marker, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &marker{d: d, n: n})
	}
	return out
}

// RemoveMarker detaches m from the document.
func (d *Document) RemoveMarker(m engine.Marker) {
	mm, ok := m.(*marker)
	if !ok || mm.d != d {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if mm.n.Parent != nil {
		mm.n.Parent.RemoveChild(mm.n)
	}
}

// ApplyTheme detects the page theme and applies it when it changed.
func (d *Document) ApplyTheme() (theme.Theme, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := theme.Detect(d.doc)
	return t, theme.Apply(d.doc, t)
}

// Render writes the document as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, n := range d.doc.Nodes {
		if err := html.Render(w, n); err != nil {
			return fmt.Errorf("render document: %w", err)
		}
	}
	return nil
}

// WriteFile renders the document to path, replacing it atomically.
func (d *Document) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".feedfilter-*.html")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close document: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace document: %w", err)
	}
	return nil
}

func selection(n *html.Node) *goquery.Selection {
	return goquery.NewDocumentFromNode(n).Selection
}

func prevElement(n *html.Node) *html.Node {
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode {
			return s
		}
	}
	return nil
}

func nextElement(n *html.Node) *html.Node {
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode {
			return s
		}
	}
	return nil
}
