package theme

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type declaration struct {
	name  string
	value string
}

func parseStyle(style string) []declaration {
	var decls []declaration
	for _, part := range strings.Split(style, ";") {
		name, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		decls = append(decls, declaration{name: name, value: strings.TrimSpace(value)})
	}
	return decls
}

func formatStyle(decls []declaration) string {
	parts := make([]string, 0, len(decls))
	for _, d := range decls {
		parts = append(parts, d.name+": "+d.value)
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "; ") + ";"
}

// StyleValue returns the value of one declaration in the inline style of the
// first element in s.
func StyleValue(s *goquery.Selection, name string) (string, bool) {
	style, _ := s.Attr("style")
	name = strings.ToLower(name)
	for _, d := range parseStyle(style) {
		if d.name == name {
			return d.value, true
		}
	}
	return "", false
}

// SetStyle sets one inline style declaration on every element in s, keeping
// the others.
func SetStyle(s *goquery.Selection, name, value string) {
	name = strings.ToLower(name)
	s.Each(func(_ int, el *goquery.Selection) {
		style, _ := el.Attr("style")
		decls := parseStyle(style)
		found := false
		for i := range decls {
			if decls[i].name == name {
				decls[i].value = value
				found = true
			}
		}
		if !found {
			decls = append(decls, declaration{name: name, value: value})
		}
		el.SetAttr("style", formatStyle(decls))
	})
}

// RemoveStyle drops one inline style declaration from every element in s.
// The style attribute is removed when nothing is left.
func RemoveStyle(s *goquery.Selection, name string) {
	name = strings.ToLower(name)
	s.Each(func(_ int, el *goquery.Selection) {
		style, ok := el.Attr("style")
		if !ok {
			return
		}
		var kept []declaration
		for _, d := range parseStyle(style) {
			if d.name != name {
				kept = append(kept, d)
			}
		}
		if len(kept) == 0 {
			el.RemoveAttr("style")
			return
		}
		el.SetAttr("style", formatStyle(kept))
	})
}
