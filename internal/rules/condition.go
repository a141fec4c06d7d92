package rules

import (
	"fmt"
	"strings"

	"github.com/joshsymonds/inboxrules/internal/gmail"
)

// Predicate is the comparison a condition applies to a field.
type Predicate string

const (
	Contains    Predicate = "contains"
	NotContains Predicate = "not_contains"
	Equals      Predicate = "equals"
	StartsWith  Predicate = "starts_with"
	EndsWith    Predicate = "ends_with"
)

var predicateAliases = map[string]Predicate{
	"does_not_contain": NotContains,
}

// ParsePredicate normalizes a configured predicate name.
func ParsePredicate(raw string) (Predicate, bool) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := predicateAliases[name]; ok {
		return alias, true
	}
	p := Predicate(name)
	return p, p.Valid()
}

func (p Predicate) Valid() bool {
	switch p {
	case Contains, NotContains, Equals, StartsWith, EndsWith:
		return true
	default:
		return false
	}
}

// Condition compares one email field against a literal.
type Condition struct {
	Field     string
	Predicate Predicate
	Value     string
}

// Evaluate reports whether email satisfies the condition. A field the email
// does not carry never matches. Comparisons ignore case.
func (c Condition) Evaluate(email gmail.Email) (bool, error) {
	if !c.Predicate.Valid() {
		return false, &ConfigError{Path: "predicate", Msg: fmt.Sprintf("unknown predicate %q", c.Predicate)}
	}
	value, ok := email.Field(c.Field)
	if !ok {
		return false, nil
	}
	value = strings.ToLower(value)
	target := strings.ToLower(c.Value)
	switch c.Predicate {
	case Contains:
		return strings.Contains(value, target), nil
	case NotContains:
		return !strings.Contains(value, target), nil
	case Equals:
		return value == target, nil
	case StartsWith:
		return strings.HasPrefix(value, target), nil
	default: // EndsWith; Valid has screened everything else
		return strings.HasSuffix(value, target), nil
	}
}
