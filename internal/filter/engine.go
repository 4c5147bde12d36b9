// Package filter implements keyword matching for scraped headlines.
package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// RuleKind selects how a Rule's value is applied.
type RuleKind string

// Rule kinds.
const (
	Include   RuleKind = "include"
	Exclude   RuleKind = "exclude"
	IncludeRe RuleKind = "include_re"
	ExcludeRe RuleKind = "exclude_re"
)

// Scope selects which part of a headline a rule looks at.
type Scope string

// Rule scopes.
const (
	ScopeAll   Scope = "all"
	ScopeTitle Scope = "title"
	ScopeLink  Scope = "link"
)

// DefaultKeywords are the include words used when none are configured.
// They match whole words so "cast" does not pick up "broadcast".
var DefaultKeywords = []string{`/\bcast\b/`, `/\bdirectors?\b/`, `/\breleases?\b/`, `/\blanguages?\b/`}

// Rule is a single include or exclude condition.
type Rule struct {
	Kind  RuleKind
	Scope Scope
	Value string
}

// Headline is a scraped news entry to be matched against rules.
type Headline struct {
	Title string
	Link  string
}

// Match checks whether a headline passes the given rules.
// With no rules every headline passes.
// Include rules use OR logic (at least one must match).
// Exclude rules use AND logic (none must match).
func Match(h Headline, rules []Rule) bool {
	if len(rules) == 0 {
		return true
	}

	hasIncludes := false
	anyIncludeMatched := false

	for _, r := range rules {
		switch r.Kind {
		case Include, IncludeRe:
			hasIncludes = true
			if matchesRule(h, r) {
				anyIncludeMatched = true
			}
		case Exclude, ExcludeRe:
			if matchesRule(h, r) {
				return false
			}
		}
	}

	return !hasIncludes || anyIncludeMatched
}

func matchesRule(h Headline, r Rule) bool {
	text := textForScope(h, r.Scope)
	switch r.Kind {
	case Include, Exclude:
		return strings.Contains(text, strings.ToLower(r.Value))
	case IncludeRe, ExcludeRe:
		re, err := regexp.Compile("(?i)" + r.Value)
		if err != nil {
			return false
		}
		return re.MatchString(text)
	}
	return false
}

func textForScope(h Headline, scope Scope) string {
	switch scope {
	case ScopeTitle:
		return strings.ToLower(h.Title)
	case ScopeLink:
		return strings.ToLower(h.Link)
	default:
		return strings.ToLower(h.Title + " " + h.Link)
	}
}

// Keywords builds title-scoped include rules from plain words. Words
// prefixed with "-" become excludes and words wrapped in slashes become
// regular expressions. An empty list yields the default keywords.
func Keywords(words []string) ([]Rule, error) {
	if len(words) == 0 {
		words = DefaultKeywords
	}
	var rules []Rule
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		kind := Include
		if strings.HasPrefix(w, "-") {
			kind = Exclude
			w = strings.TrimSpace(w[1:])
		}
		if len(w) > 2 && strings.HasPrefix(w, "/") && strings.HasSuffix(w, "/") {
			w = w[1 : len(w)-1]
			if err := ValidateRegex(w); err != nil {
				return nil, err
			}
			if kind == Include {
				kind = IncludeRe
			} else {
				kind = ExcludeRe
			}
		}
		if w == "" {
			continue
		}
		rules = append(rules, Rule{Kind: kind, Scope: ScopeTitle, Value: w})
	}
	return rules, nil
}

// ValidateRegex checks whether a pattern is a valid regular expression.
func ValidateRegex(pattern string) error {
	if _, err := regexp.Compile("(?i)" + pattern); err != nil {
		return fmt.Errorf("invalid regex: %w", err)
	}
	return nil
}
