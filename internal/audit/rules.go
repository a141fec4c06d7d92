package audit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joshsymonds/inboxrules/internal/gmail"
	"github.com/joshsymonds/inboxrules/internal/rules"
)

// evaluateRules replays rs against emails and returns the matching message
// IDs per rule name.
func evaluateRules(rs rules.RuleSet, emails []gmail.Email) (map[string][]gmail.MessageID, error) {
	matches := make(map[string][]gmail.MessageID, len(rs.Rules))
	for _, e := range emails {
		matched, err := rs.Match(e)
		if err != nil {
			return nil, fmt.Errorf("replay rules on %s: %w", e.ID, err)
		}
		for _, r := range matched {
			matches[r.Name] = append(matches[r.Name], e.ID)
		}
	}
	return matches, nil
}

func analyseRules(rs rules.RuleSet, matches map[string][]gmail.MessageID, existingLabels map[string]struct{}) Findings {
	var findings Findings
	for _, rule := range rs.Rules {
		if len(matches[rule.Name]) == 0 {
			findings.DeadRules = append(findings.DeadRules, RuleFinding{
				Name:   rule.Name,
				Reason: "no messages matched in lookback",
			})
		}
		for _, action := range rule.Actions {
			mv, ok := action.(rules.MoveMessage)
			if !ok {
				continue
			}
			if _, exists := existingLabels[strings.ToLower(mv.Label)]; !exists {
				findings.MissingLabels = appendIfMissing(findings.MissingLabels, mv.Label)
			}
		}
	}
	findings.Conflicts = detectConflicts(rs, matches)
	return findings
}

type readEffect struct {
	markRead   []string
	markUnread []string
	messages   int
}

// detectConflicts reports rule groups that both mark the same message read
// and unread. Actions run in rule order, so the last one wins at run time.
func detectConflicts(rs rules.RuleSet, matches map[string][]gmail.MessageID) []Conflict {
	byMessage := map[gmail.MessageID]*readEffect{}
	for _, rule := range rs.Rules {
		reads, unreads := classifyActions(rule.Actions)
		if !reads && !unreads {
			continue
		}
		for _, id := range matches[rule.Name] {
			eff := byMessage[id]
			if eff == nil {
				eff = &readEffect{}
				byMessage[id] = eff
			}
			if reads {
				eff.markRead = appendIfMissing(eff.markRead, rule.Name)
			}
			if unreads {
				eff.markUnread = appendIfMissing(eff.markUnread, rule.Name)
			}
		}
	}

	grouped := map[string]*Conflict{}
	for _, eff := range byMessage {
		if len(eff.markRead) == 0 || len(eff.markUnread) == 0 {
			continue
		}
		combined := mergeRuleSets(eff.markRead, eff.markUnread)
		key := strings.Join(combined, "|")
		cf := grouped[key]
		if cf == nil {
			cf = &Conflict{Rules: combined, Description: "mark_read and mark_unread apply to the same messages"}
			grouped[key] = cf
		}
		cf.Messages++
	}
	conflicts := make([]Conflict, 0, len(grouped))
	for _, cf := range grouped {
		conflicts = append(conflicts, *cf)
	}
	sort.Slice(conflicts, func(i, j int) bool {
		return strings.Join(conflicts[i].Rules, "|") < strings.Join(conflicts[j].Rules, "|")
	})
	return conflicts
}

func classifyActions(actions []rules.Action) (reads, unreads bool) {
	for _, a := range actions {
		switch a.(type) {
		case rules.MarkRead:
			reads = true
		case rules.MarkUnread:
			unreads = true
		}
	}
	return reads, unreads
}

func mergeRuleSets(a, b []string) []string {
	combined := append([]string{}, a...)
	for _, name := range b {
		combined = appendIfMissing(combined, name)
	}
	sort.Strings(combined)
	return combined
}
