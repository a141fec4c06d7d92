package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Fail-on tokens accepted by ShouldFail.
const (
	FailDead         = "dead"
	FailMissingLabel = "missing-label"
	FailConflict     = "conflict"
)

// LintReport captures rule findings for CI enforcement.
type LintReport struct {
	Window   time.Duration
	Total    int
	Findings Findings
}

// RunLint reuses the regular audit analysis but returns a lean report.
func (s *Service) RunLint(ctx context.Context, opts Options) (LintReport, error) {
	if s.Rules == nil {
		return LintReport{}, errors.New("lint needs a rule set")
	}
	rep, err := s.Run(ctx, opts)
	if err != nil {
		return LintReport{}, err
	}
	return LintReport{Window: opts.Window, Total: rep.Total, Findings: rep.Findings}, nil
}

// ShouldFail reports whether any of the requested conditions are present.
func (lr LintReport) ShouldFail(failOn []string) bool {
	flags := map[string]bool{
		FailDead:         len(lr.Findings.DeadRules) > 0,
		FailMissingLabel: len(lr.Findings.MissingLabels) > 0,
		FailConflict:     len(lr.Findings.Conflicts) > 0,
	}
	for _, cond := range failOn {
		cond = strings.TrimSpace(strings.ToLower(cond))
		if cond == "" {
			continue
		}
		if flags[cond] {
			return true
		}
	}
	return false
}

// HumanSummary renders a concise CLI summary.
func (lr LintReport) HumanSummary() string {
	builder := &strings.Builder{}
	fmt.Fprintf(builder, "inboxrules lint: window %s (%d messages checked)\n", lr.Window, lr.Total)
	if lr.Findings.empty() {
		builder.WriteString("no findings\n")
		return builder.String()
	}
	if len(lr.Findings.DeadRules) > 0 {
		builder.WriteString("dead rules:\n")
		sorted := append([]RuleFinding(nil), lr.Findings.DeadRules...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
		for _, fr := range sorted {
			fmt.Fprintf(builder, "  %s: %s\n", fr.Name, fr.Reason)
		}
	}
	if len(lr.Findings.MissingLabels) > 0 {
		builder.WriteString("labels that will be created:\n")
		labels := append([]string(nil), lr.Findings.MissingLabels...)
		sort.Strings(labels)
		for _, lbl := range labels {
			fmt.Fprintf(builder, "  %s\n", lbl)
		}
	}
	if len(lr.Findings.Conflicts) > 0 {
		builder.WriteString("conflicts:\n")
		for _, cf := range lr.Findings.Conflicts {
			fmt.Fprintf(builder, "  %s: %s (%d messages)\n", strings.Join(cf.Rules, ", "), cf.Description, cf.Messages)
		}
	}
	return builder.String()
}

// ParseFailOn splits a comma separated list into canonical tokens. Unknown
// tokens are an error so typos do not silently disable a CI gate.
func ParseFailOn(input string) ([]string, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		switch part {
		case FailDead, FailMissingLabel, FailConflict:
		default:
			return nil, fmt.Errorf("unknown --fail-on value %q (want %s, %s or %s)", part, FailDead, FailMissingLabel, FailConflict)
		}
		out = append(out, part)
	}
	return out, nil
}
