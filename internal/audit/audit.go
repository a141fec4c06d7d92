package audit

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"

	"github.com/joshsymonds/inboxrules/internal/rules"
)

const previewSubjectDisplayLimit = 60

// Report summarizes recent inbox activity and suggestions.
type Report struct {
	GeneratedAt   time.Time      `json:"generated_at"`
	Window        time.Duration  `json:"window"`
	Total         int            `json:"total"`
	FetchFailures int            `json:"fetch_failures"`
	TopSenders    []SenderStat   `json:"top_senders"`
	Coverage      map[string]int `json:"coverage"`
	Suggestions   Suggestions    `json:"suggestions"`
	Findings      Findings       `json:"findings"`
}

// SenderStat ranks noisy sender domains.
type SenderStat struct {
	Domain         string `json:"domain"`
	Count          int    `json:"count"`
	Unread         int    `json:"unread"`
	PreviewSubject string `json:"preview_subject"`
}

// Suggestions holds proposed rules in the rules file shape, ready to paste.
type Suggestions struct {
	Rules rules.RuleSet `json:"rules"`
}

// Findings feeds inboxrules-lint.
type Findings struct {
	DeadRules     []RuleFinding `json:"dead_rules"`
	MissingLabels []string      `json:"missing_labels"`
	Conflicts     []Conflict    `json:"conflicts"`
}

func (f Findings) empty() bool {
	return len(f.DeadRules) == 0 && len(f.MissingLabels) == 0 && len(f.Conflicts) == 0
}

// RuleFinding identifies a problematic rule.
type RuleFinding struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Conflict represents conflicting actions between rules for the same messages.
type Conflict struct {
	Rules       []string `json:"rules"`
	Description string   `json:"description"`
	Messages    int      `json:"messages"`
}

// PrintHuman writes a readable report to the provided writer.
func PrintHuman(rep Report, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "inboxrules audit: window %s (%d messages", rep.Window, rep.Total)
	if rep.FetchFailures > 0 {
		fmt.Fprintf(&builder, ", %d unreadable", rep.FetchFailures)
	}
	builder.WriteString(")\n")

	if len(rep.TopSenders) > 0 {
		builder.WriteString("\nTop senders:\n")
		table := tablewriter.NewWriter(&builder)
		table.SetHeader([]string{"Domain", "Messages", "Unread", "Sample subject"})
		table.SetBorder(false)
		table.SetAutoWrapText(false)
		for _, s := range rep.TopSenders {
			table.Append([]string{
				s.Domain,
				strconv.Itoa(s.Count),
				strconv.Itoa(s.Unread),
				truncate(s.PreviewSubject, previewSubjectDisplayLimit),
			})
		}
		table.Render()
	}

	if len(rep.Coverage) > 0 {
		builder.WriteString("\nLabel coverage:\n")
		table := tablewriter.NewWriter(&builder)
		table.SetHeader([]string{"Label", "Messages"})
		table.SetBorder(false)
		for _, name := range sortedKeys(rep.Coverage) {
			table.Append([]string{name, strconv.Itoa(rep.Coverage[name])})
		}
		table.Render()
	}

	if len(rep.Suggestions.Rules.Rules) > 0 {
		raw, err := json.MarshalIndent(rep.Suggestions.Rules, "", "  ")
		if err != nil {
			return fmt.Errorf("encode suggested rules: %w", err)
		}
		builder.WriteString("\nSuggested rules:\n")
		builder.Write(raw)
		builder.WriteString("\n")
	}

	if !rep.Findings.empty() {
		builder.WriteString("\nLint findings:\n")
		writeFindings(&builder, rep.Findings)
	}
	if _, err := io.WriteString(w, builder.String()); err != nil {
		return fmt.Errorf("write human report: %w", err)
	}
	return nil
}

func writeFindings(w io.Writer, f Findings) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Finding", "Subject", "Detail"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for _, fr := range f.DeadRules {
		table.Append([]string{"dead rule", fr.Name, fr.Reason})
	}
	for _, lbl := range f.MissingLabels {
		table.Append([]string{"missing label", lbl, "created on first use"})
	}
	for _, cf := range f.Conflicts {
		table.Append([]string{"conflict", strings.Join(cf.Rules, ", "), fmt.Sprintf("%s (%d messages)", cf.Description, cf.Messages)})
	}
	table.Render()
}

// WriteJSON serializes the report to disk.
func WriteJSON(rep Report, path string) error {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return fmt.Errorf("path must not be empty")
	}
	clean = filepath.Clean(clean)
	if filepath.IsAbs(clean) {
		return fmt.Errorf("output path must be relative, got %s", clean)
	}
	if strings.HasPrefix(clean, "..") {
		return fmt.Errorf("output path %s escapes working directory", clean)
	}
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determine working directory: %w", err)
	}
	abs := filepath.Join(wd, clean)
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return fmt.Errorf("create %s: %w", abs, err)
	}
	defer func() { _ = f.Close() }()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if encodeErr := enc.Encode(rep); encodeErr != nil {
		return fmt.Errorf("encode report: %w", encodeErr)
	}
	return nil
}
