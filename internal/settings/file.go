package settings

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"feedfilter/internal/model"
)

// fileRule is a rule as written in a rule file. Enabled defaults to true and
// the ID defaults to the rule's position.
type fileRule struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Type        string   `yaml:"type"`
	Keywords    []string `yaml:"keywords"`
	Enabled     *bool    `yaml:"enabled"`
}

type ruleFile struct {
	Filters    []fileRule            `yaml:"filters"`
	Exceptions model.ExemptionConfig `yaml:"exceptions"`
}

// ParseFile decodes a YAML rule file into the full rule list and the
// exemption configuration. Unknown fields are rejected.
func ParseFile(data []byte) ([]model.Rule, model.ExemptionConfig, error) {
	var f ruleFile
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, model.ExemptionConfig{}, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data), yaml.DisallowUnknownField())
	if err := dec.Decode(&f); err != nil {
		return nil, model.ExemptionConfig{}, fmt.Errorf("decode rule file: %w", err)
	}

	rules := make([]model.Rule, 0, len(f.Filters))
	for i, fr := range f.Filters {
		typ := model.RuleType(strings.ToLower(strings.TrimSpace(fr.Type)))
		if typ == "" {
			return nil, model.ExemptionConfig{}, fmt.Errorf("rule %d: missing type", i+1)
		}
		r := model.Rule{
			ID:          fr.ID,
			Name:        fr.Name,
			Description: fr.Description,
			Type:        typ,
			Enabled:     fr.Enabled == nil || *fr.Enabled,
		}
		if r.ID == "" {
			r.ID = fmt.Sprintf("file-%d", i+1)
		}
		if r.Name == "" {
			r.Name = typ.Label()
		}
		if typ.UsesKeywords() {
			r.Keywords = CleanKeywords(fr.Keywords)
		}
		rules = append(rules, r)
	}
	return rules, f.Exceptions, nil
}

// LoadFile reads and parses the rule file at path into a RuleSet.
func LoadFile(path string) (model.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.RuleSet{}, fmt.Errorf("read rule file: %w", err)
	}
	rules, ex, err := ParseFile(data)
	if err != nil {
		return model.RuleSet{}, fmt.Errorf("%s: %w", path, err)
	}
	return model.NewRuleSet(rules, ex), nil
}

// ParseKeywords splits comma-separated keyword input.
func ParseKeywords(s string) []string {
	return CleanKeywords(strings.Split(s, ","))
}

// CleanKeywords trims keywords and drops empty ones.
func CleanKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
