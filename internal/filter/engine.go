// Package filter implements the name selection engine used to narrow the
// tracked bots.
package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind defines the type of selection rule.
type Kind string

// Supported rule kinds.
const (
	Include   Kind = "include"
	Exclude   Kind = "exclude"
	IncludeRe Kind = "include_re"
	ExcludeRe Kind = "exclude_re"
)

// Rule is a single selection rule.
type Rule struct {
	Kind  Kind
	Value string
}

// Match checks whether a name passes the given set of rules.
// If no rules are provided, every name passes.
// Include rules use OR logic (at least one must match).
// Exclude rules use AND logic (none must match).
func Match(name string, rules []Rule) bool {
	if len(rules) == 0 {
		return true
	}

	hasIncludes := false
	anyIncludeMatched := false

	for _, r := range rules {
		switch r.Kind {
		case Include, IncludeRe:
			hasIncludes = true
			if matchesRule(name, r) {
				anyIncludeMatched = true
			}
		case Exclude, ExcludeRe:
			if matchesRule(name, r) {
				return false
			}
		}
	}

	if hasIncludes && !anyIncludeMatched {
		return false
	}
	return true
}

// Select returns the names that pass the rules, preserving order.
func Select(names []string, rules []Rule) []string {
	var out []string
	for _, n := range names {
		if Match(n, rules) {
			out = append(out, n)
		}
	}
	return out
}

func matchesRule(name string, r Rule) bool {
	switch r.Kind {
	case Include, Exclude:
		return strings.EqualFold(name, r.Value)
	case IncludeRe, ExcludeRe:
		re, err := regexp.Compile("(?i)" + r.Value)
		if err != nil {
			return false
		}
		return re.MatchString(name)
	}
	return false
}

// Parse reads a comma separated rule list such as
// "include_re:^GPT,exclude:Bingbot". A bare value is an include rule.
func Parse(raw string) ([]Rule, error) {
	var rules []Rule
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		r := Rule{Kind: Include, Value: part}
		if kind, value, ok := strings.Cut(part, ":"); ok {
			r = Rule{Kind: Kind(strings.ToLower(strings.TrimSpace(kind))), Value: strings.TrimSpace(value)}
		}

		switch r.Kind {
		case Include, Exclude:
		case IncludeRe, ExcludeRe:
			if err := ValidateRegex(r.Value); err != nil {
				return nil, fmt.Errorf("rule %q: %w", part, err)
			}
		default:
			return nil, fmt.Errorf("rule %q: unknown kind %q", part, r.Kind)
		}
		if r.Value == "" {
			return nil, fmt.Errorf("rule %q: empty value", part)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// ValidateRegex checks whether a pattern is a valid regular expression.
func ValidateRegex(pattern string) error {
	_, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return fmt.Errorf("invalid regex: %w", err)
	}
	return nil
}
