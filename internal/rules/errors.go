package rules

import (
	"fmt"
	"strings"
)

// ConfigError describes a malformed rule, condition or action definition.
type ConfigError struct {
	Rule string // rule name or "rules[i]" when unnamed
	Path string // location inside the rule, e.g. "conditions[1].predicate"
	Msg  string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("rules config")
	if e.Rule != "" {
		fmt.Fprintf(&b, ": rule %q", e.Rule)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, ": %s", e.Path)
	}
	fmt.Fprintf(&b, ": %s", e.Msg)
	return b.String()
}
