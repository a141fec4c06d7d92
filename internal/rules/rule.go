package rules

import (
	"fmt"
	"strings"

	"github.com/joshsymonds/inboxrules/internal/gmail"
)

// Join controls how a rule aggregates its conditions.
type Join string

const (
	JoinAll Join = "all"
	JoinAny Join = "any"
)

// ParseJoin normalizes a configured rule predicate.
func ParseJoin(raw string) (Join, bool) {
	j := Join(strings.ToLower(strings.TrimSpace(raw)))
	return j, j == JoinAll || j == JoinAny
}

// Rule bundles conditions, their aggregation and the actions to run on match.
type Rule struct {
	Name       string
	Conditions []Condition
	Predicate  Join
	Actions    []Action
}

// Matches evaluates every condition of the rule against email.
func (r Rule) Matches(email gmail.Email) (bool, error) {
	if len(r.Conditions) == 0 {
		return false, &ConfigError{Rule: r.Name, Path: "conditions", Msg: "at least one condition is required"}
	}
	if r.Predicate != JoinAll && r.Predicate != JoinAny {
		return false, &ConfigError{Rule: r.Name, Path: "predicate", Msg: fmt.Sprintf("unknown rule predicate %q", r.Predicate)}
	}
	for i, cond := range r.Conditions {
		ok, err := cond.Evaluate(email)
		if err != nil {
			return false, withRule(err, r.Name, fmt.Sprintf("conditions[%d]", i))
		}
		if r.Predicate == JoinAny && ok {
			return true, nil
		}
		if r.Predicate == JoinAll && !ok {
			return false, nil
		}
	}
	return r.Predicate == JoinAll, nil
}

// RuleSet is the ordered, read-only collection of rules for a run.
type RuleSet struct {
	Rules []Rule
}

// Match returns every rule whose conditions hold for email, in declaration
// order. A matching rule never suppresses later ones.
func (rs RuleSet) Match(email gmail.Email) ([]Rule, error) {
	var matched []Rule
	for _, rule := range rs.Rules {
		ok, err := rule.Matches(email)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, rule)
		}
	}
	return matched, nil
}

// Names lists rule names in declaration order.
func Names(rs []Rule) []string {
	names := make([]string, 0, len(rs))
	for _, r := range rs {
		names = append(names, r.Name)
	}
	return names
}

func withRule(err error, rule, prefix string) error {
	ce, ok := err.(*ConfigError)
	if !ok {
		return err
	}
	out := *ce
	out.Rule = rule
	if out.Path == "" {
		out.Path = prefix
	} else {
		out.Path = prefix + "." + out.Path
	}
	return &out
}
