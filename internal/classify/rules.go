package classify

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

const fallbackPriority = 40

// Rules assign default priorities to operations enqueued without one,
// keyed by endpoint name. Loaded from a TOML file:
//
//	default = 40
//
//	[[rule]]
//	match = "runs:finish"
//	priority = 90
//
//	[[rule]]
//	match = "shoes:*"
//	priority = 60
//
// An exact match wins over a wildcard; wildcards apply in file order.
type Rules struct {
	Default int    `toml:"default"`
	Rules   []Rule `toml:"rule"`
}

type Rule struct {
	Match    string `toml:"match"`
	Priority int    `toml:"priority"`
}

// DefaultRules returns the built-in fallback used when no rules file exists.
func DefaultRules() *Rules {
	return &Rules{Default: fallbackPriority}
}

// LoadRules reads a TOML rules file. The caller decides what a missing
// file means (the manager falls back to DefaultRules).
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}

	rules := DefaultRules()
	if err := toml.Unmarshal(data, rules); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return rules, nil
}

// PriorityFor resolves the default priority for an endpoint name. The
// result is clamped to 0..100.
func (r *Rules) PriorityFor(name string) int {
	priority := r.Default

	matched := false
	for _, rule := range r.Rules {
		if rule.Match == name {
			priority = rule.Priority
			matched = true
			break
		}
	}
	if !matched {
		for _, rule := range r.Rules {
			prefix, ok := strings.CutSuffix(rule.Match, "*")
			if ok && strings.HasPrefix(name, prefix) {
				priority = rule.Priority
				break
			}
		}
	}

	if priority < 0 {
		return 0
	}
	if priority > 100 {
		return 100
	}
	return priority
}
