package rules

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/joshsymonds/inboxrules/internal/gmail"
)

// fileDoc mirrors the JSON rules file: {"rules": [...]}.
type fileDoc struct {
	Rules []ruleDoc `json:"rules"`
}

type ruleDoc struct {
	Name       string         `json:"name"`
	Conditions []conditionDoc `json:"conditions"`
	Predicate  string         `json:"predicate"`
	Actions    []actionDoc    `json:"actions"`
}

type conditionDoc struct {
	Field     string `json:"field"`
	Predicate string `json:"predicate"`
	Value     string `json:"value"`
}

// LoadFile reads and validates a rules file.
func LoadFile(path string) (RuleSet, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path supplied by the operator
	if err != nil {
		return RuleSet{}, fmt.Errorf("read rules %s: %w", path, err)
	}
	rs, err := Parse(data)
	if err != nil {
		return RuleSet{}, fmt.Errorf("load rules %s: %w", path, err)
	}
	return rs, nil
}

// Parse decodes and validates rules JSON. Every problem found is reported;
// each is a *ConfigError reachable through errors.As.
func Parse(data []byte) (RuleSet, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var doc fileDoc
	if err := dec.Decode(&doc); err != nil {
		return RuleSet{}, &ConfigError{Msg: fmt.Sprintf("decode: %v", err)}
	}
	if len(doc.Rules) == 0 {
		return RuleSet{}, &ConfigError{Path: "rules", Msg: "no rules defined"}
	}

	var (
		errs []error
		out  = RuleSet{Rules: make([]Rule, 0, len(doc.Rules))}
		seen = make(map[string]int, len(doc.Rules))
	)
	for i, rd := range doc.Rules {
		rule, ruleErrs := compileRule(i, rd)
		if prev, dup := seen[strings.ToLower(rule.Name)]; dup && rule.Name != "" {
			ruleErrs = append(ruleErrs, &ConfigError{
				Rule: rule.Name,
				Msg:  fmt.Sprintf("duplicate rule name (first defined at rules[%d])", prev),
			})
		}
		seen[strings.ToLower(rule.Name)] = i
		errs = append(errs, ruleErrs...)
		out.Rules = append(out.Rules, rule)
	}
	if len(errs) > 0 {
		return RuleSet{}, errors.Join(errs...)
	}
	return out, nil
}

func compileRule(index int, rd ruleDoc) (Rule, []error) {
	var errs []error
	name := strings.TrimSpace(rd.Name)
	label := name
	if label == "" {
		label = fmt.Sprintf("rules[%d]", index)
		errs = append(errs, &ConfigError{Rule: label, Path: "name", Msg: "name is required"})
	}

	join, ok := ParseJoin(rd.Predicate)
	if !ok {
		errs = append(errs, &ConfigError{
			Rule: label,
			Path: "predicate",
			Msg:  fmt.Sprintf("rule predicate must be %q or %q, got %q", JoinAll, JoinAny, rd.Predicate),
		})
	}

	if len(rd.Conditions) == 0 {
		errs = append(errs, &ConfigError{Rule: label, Path: "conditions", Msg: "at least one condition is required"})
	}
	conditions := make([]Condition, 0, len(rd.Conditions))
	for i, cd := range rd.Conditions {
		path := fmt.Sprintf("conditions[%d]", i)
		field, fieldOK := gmail.CanonicalField(cd.Field)
		if !fieldOK {
			errs = append(errs, &ConfigError{Rule: label, Path: path + ".field", Msg: fmt.Sprintf("unknown field %q", cd.Field)})
		}
		pred, predOK := ParsePredicate(cd.Predicate)
		if !predOK {
			errs = append(errs, &ConfigError{Rule: label, Path: path + ".predicate", Msg: fmt.Sprintf("unknown predicate %q", cd.Predicate)})
		}
		conditions = append(conditions, Condition{Field: field, Predicate: pred, Value: cd.Value})
	}

	if len(rd.Actions) == 0 {
		errs = append(errs, &ConfigError{Rule: label, Path: "actions", Msg: "at least one action is required"})
	}
	actions := make([]Action, 0, len(rd.Actions))
	for i, ad := range rd.Actions {
		action, err := parseAction(ad)
		if err != nil {
			errs = append(errs, withRule(err, label, fmt.Sprintf("actions[%d]", i)))
			continue
		}
		actions = append(actions, action)
	}

	return Rule{Name: name, Conditions: conditions, Predicate: join, Actions: actions}, errs
}

// MarshalJSON renders the rule set in the rules file shape.
func (rs RuleSet) MarshalJSON() ([]byte, error) {
	doc := fileDoc{Rules: make([]ruleDoc, 0, len(rs.Rules))}
	for _, r := range rs.Rules {
		rd := ruleDoc{
			Name:       r.Name,
			Predicate:  string(r.Predicate),
			Conditions: make([]conditionDoc, 0, len(r.Conditions)),
			Actions:    make([]actionDoc, 0, len(r.Actions)),
		}
		for _, c := range r.Conditions {
			rd.Conditions = append(rd.Conditions, conditionDoc{Field: c.Field, Predicate: string(c.Predicate), Value: c.Value})
		}
		for _, a := range r.Actions {
			rd.Actions = append(rd.Actions, actionToDoc(a))
		}
		doc.Rules = append(doc.Rules, rd)
	}
	return json.Marshal(doc)
}
