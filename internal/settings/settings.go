// Package settings persists the rule list and exemption configuration as two
// named JSON entries and rebuilds the RuleSet from them.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"feedfilter/internal/model"
	"feedfilter/internal/storage"
)

// Setting keys.
const (
	FiltersKey    = "twitterFilters"
	ExceptionsKey = "twitterExceptions"
)

// ErrRuleNotFound is returned when a rule ID does not exist.
var ErrRuleNotFound = errors.New("rule not found")

// KV is the key-value part of storage.Storage.
type KV interface {
	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error
}

// Store reads and writes rules and exemptions.
type Store struct {
	kv  KV
	log *slog.Logger
}

// New creates a Store over kv.
func New(kv KV, log *slog.Logger) *Store {
	return &Store{kv: kv, log: log}
}

// Rules returns every persisted rule, enabled or not. A missing or malformed
// entry yields no rules.
func (s *Store) Rules(ctx context.Context) []model.Rule {
	var rules []model.Rule
	if !s.load(ctx, FiltersKey, &rules) {
		return nil
	}
	return rules
}

// Exemptions returns the persisted exemption configuration, or the zero
// configuration when missing or malformed.
func (s *Store) Exemptions(ctx context.Context) model.ExemptionConfig {
	var ex model.ExemptionConfig
	if !s.load(ctx, ExceptionsKey, &ex) {
		return model.ExemptionConfig{}
	}
	return ex
}

// LoadRuleSet builds the RuleSet from storage. It never fails: unreadable
// entries fall back to defaults with a warning.
func (s *Store) LoadRuleSet(ctx context.Context) model.RuleSet {
	return model.NewRuleSet(s.Rules(ctx), s.Exemptions(ctx))
}

func (s *Store) load(ctx context.Context, key string, v any) bool {
	raw, err := s.kv.GetSetting(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false
	}
	if err != nil {
		s.log.Warn("read setting, using defaults", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		s.log.Warn("decode setting, using defaults", "key", key, "error", err)
		return false
	}
	return true
}

// SaveRules replaces the persisted rule list.
func (s *Store) SaveRules(ctx context.Context, rules []model.Rule) error {
	if rules == nil {
		rules = []model.Rule{}
	}
	return s.save(ctx, FiltersKey, rules)
}

// SaveExemptions replaces the persisted exemption configuration.
func (s *Store) SaveExemptions(ctx context.Context, ex model.ExemptionConfig) error {
	if ex.Usernames == nil {
		ex.Usernames = []string{}
	}
	return s.save(ctx, ExceptionsKey, ex)
}

// Save persists both entries, as a rule file import does.
func (s *Store) Save(ctx context.Context, rules []model.Rule, ex model.ExemptionConfig) error {
	if err := s.SaveRules(ctx, rules); err != nil {
		return err
	}
	return s.SaveExemptions(ctx, ex)
}

func (s *Store) save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.kv.PutSetting(ctx, key, string(data)); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// AddRule appends r to the persisted rules.
func (s *Store) AddRule(ctx context.Context, r model.Rule) error {
	return s.SaveRules(ctx, append(s.Rules(ctx), r))
}

// ToggleRule flips the enabled flag of the rule with the given ID and returns
// the updated rule.
func (s *Store) ToggleRule(ctx context.Context, id string) (model.Rule, error) {
	rules := s.Rules(ctx)
	for i := range rules {
		if rules[i].ID == id {
			rules[i].Enabled = !rules[i].Enabled
			if err := s.SaveRules(ctx, rules); err != nil {
				return model.Rule{}, err
			}
			return rules[i], nil
		}
	}
	return model.Rule{}, fmt.Errorf("toggle rule %q: %w", id, ErrRuleNotFound)
}

// RemoveRule deletes the rule with the given ID and returns it.
func (s *Store) RemoveRule(ctx context.Context, id string) (model.Rule, error) {
	rules := s.Rules(ctx)
	for i, r := range rules {
		if r.ID == id {
			rules = append(rules[:i], rules[i+1:]...)
			if err := s.SaveRules(ctx, rules); err != nil {
				return model.Rule{}, err
			}
			return r, nil
		}
	}
	return model.Rule{}, fmt.Errorf("remove rule %q: %w", id, ErrRuleNotFound)
}

// UpdateExemptions applies fn to the persisted exemption configuration and
// saves the result.
func (s *Store) UpdateExemptions(ctx context.Context, fn func(*model.ExemptionConfig)) (model.ExemptionConfig, error) {
	ex := s.Exemptions(ctx)
	fn(&ex)
	if err := s.SaveExemptions(ctx, ex); err != nil {
		return model.ExemptionConfig{}, err
	}
	return ex, nil
}
