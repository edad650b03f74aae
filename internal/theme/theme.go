// Package theme detects the host page's light or dark theme and keeps the
// marker styling in line with it.
package theme

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Theme is the page color scheme.
type Theme string

const (
	Light Theme = "light"
	Dark  Theme = "dark"
)

// Attr is set on the root element to the applied theme.
const Attr = "data-twitter-theme"

// StyleElementID identifies the injected marker stylesheet.
const StyleElementID = "twitter-filter-styles"

// Property is one CSS custom property.
type Property struct {
	Name  string
	Value string
}

var properties = map[Theme][]Property{
	Light: {
		{"--twitter-filter-bg", "rgb(247, 249, 249)"},
		{"--twitter-filter-border", "rgb(239, 243, 244)"},
		{"--twitter-filter-text", "rgb(83, 100, 113)"},
		{"--twitter-filter-strong", "rgb(15, 20, 25)"},
		{"--twitter-filter-accent", "rgb(29, 155, 240)"},
		{"--twitter-filter-button-bg", "rgb(255, 255, 255)"},
	},
	Dark: {
		{"--twitter-filter-bg", "rgb(22, 24, 28)"},
		{"--twitter-filter-border", "rgb(47, 51, 54)"},
		{"--twitter-filter-text", "rgb(113, 118, 123)"},
		{"--twitter-filter-strong", "rgb(231, 233, 234)"},
		{"--twitter-filter-accent", "rgb(29, 155, 240)"},
		{"--twitter-filter-button-bg", "rgb(0, 0, 0)"},
	},
}

// darkBackgrounds are the background colors of the site's dark variants.
var darkBackgrounds = []string{
	"rgb(0,0,0)",
	"rgb(21,32,43)",
	"rgb(22,24,28)",
	"#000",
	"#000000",
	"#15202b",
}

// Stylesheet is injected once per document. Colors come from the custom
// properties set by Apply, so a theme switch does not rewrite it.
const Stylesheet = `.twitter-filter-indicator{margin:4px 0;border:1px solid var(--twitter-filter-border);border-radius:12px;background:var(--twitter-filter-bg);color:var(--twitter-filter-text);font-size:13px}
.twitter-filter-content{display:flex;align-items:stretch}
.twitter-filter-indicator .filter-bar{width:4px;border-radius:12px 0 0 12px;background:var(--twitter-filter-accent)}
.twitter-filter-indicator .filter-info{flex:1;padding:8px 12px}
.twitter-filter-indicator .filter-text strong{color:var(--twitter-filter-strong)}
.twitter-filter-indicator .filter-reason{display:block;margin-top:2px;font-style:italic}
.twitter-filter-indicator .filter-actions{margin-top:6px;display:flex;gap:8px}
.twitter-filter-indicator button{border:1px solid var(--twitter-filter-border);border-radius:9999px;background:var(--twitter-filter-button-bg);color:var(--twitter-filter-accent);padding:2px 10px;cursor:pointer}
.twitter-filter-indicator.temporarily-shown{opacity:.8}`

// Properties returns the custom properties for t, in a stable order.
func Properties(t Theme) []Property {
	p, ok := properties[t]
	if !ok {
		p = properties[Light]
	}
	out := make([]Property, len(p))
	copy(out, p)
	return out
}

// Detect inspects documented page attributes and inline styles. Anything
// unrecognized is treated as light.
func Detect(doc *goquery.Document) Theme {
	root := doc.Find("html").First()
	body := doc.Find("body").First()

	if attrIs(root, "data-theme", "dark") || attrIs(body, "data-theme", "dark") {
		return Dark
	}
	if body.HasClass("dark-theme") || root.HasClass("dark-theme") {
		return Dark
	}
	if c, ok := doc.Find(`meta[name="color-scheme"]`).Attr("content"); ok && strings.TrimSpace(strings.ToLower(c)) == "dark" {
		return Dark
	}
	if v, ok := StyleValue(root, "color-scheme"); ok && strings.EqualFold(v, "dark") {
		return Dark
	}
	firstPost := doc.Find(`[data-testid="tweet"]`).First()
	for _, s := range []*goquery.Selection{body, root, firstPost} {
		if v, ok := StyleValue(s, "background-color"); ok && isDarkBackground(v) {
			return Dark
		}
	}
	return Light
}

// Current returns the theme last applied to doc, or "" if none was.
func Current(doc *goquery.Document) Theme {
	v, _ := doc.Find("html").First().Attr(Attr)
	return Theme(v)
}

// Apply sets the theme attribute and custom properties on the root element
// when t differs from the applied theme. It reports whether anything changed.
func Apply(doc *goquery.Document, t Theme) bool {
	if Current(doc) == t {
		return false
	}
	root := doc.Find("html").First()
	if root.Length() == 0 {
		return false
	}
	root.SetAttr(Attr, string(t))
	for _, p := range Properties(t) {
		SetStyle(root, p.Name, p.Value)
	}
	return true
}

// EnsureStylesheet inserts the marker stylesheet into the head once.
func EnsureStylesheet(doc *goquery.Document) {
	if doc.Find("#"+StyleElementID).Length() > 0 {
		return
	}
	target := doc.Find("head").First()
	if target.Length() == 0 {
		target = doc.Find("body").First()
	}
	target.AppendHtml(`<style id="` + StyleElementID + `">` + Stylesheet + `</style>`)
}

func attrIs(s *goquery.Selection, name, want string) bool {
	v, ok := s.Attr(name)
	return ok && strings.EqualFold(strings.TrimSpace(v), want)
}

func isDarkBackground(v string) bool {
	v = strings.ToLower(strings.ReplaceAll(v, " ", ""))
	for _, d := range darkBackgrounds {
		if v == d {
			return true
		}
	}
	return false
}
