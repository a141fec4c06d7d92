package audit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joshsymonds/inboxrules/internal/gmail"
	"github.com/joshsymonds/inboxrules/internal/rules"
)

const (
	defaultTopN        = 20
	defaultPageSize    = 500
	defaultMinMessages = 3
	maxSuggestions     = 10
)

// Options controls the behavior of the audit analyzer.
type Options struct {
	Window      time.Duration
	TopN        int
	PageSize    int
	MinMessages int // senders below this count get no suggested rule
}

// Service executes audit analyses against recent mail. It never modifies
// the mailbox.
type Service struct {
	Client gmail.Client
	Logger *slog.Logger
	Clock  func() time.Time
	// Rules, when set, are replayed against the fetched mail for lint
	// findings and to avoid suggesting rules that already exist.
	Rules *rules.RuleSet
}

// NewService constructs a Service with sane defaults.
func NewService(client gmail.Client, logger *slog.Logger, rs *rules.RuleSet) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Service{
		Client: client,
		Logger: logger,
		Clock:  time.Now,
		Rules:  rs,
	}
}

// Run produces a full audit report.
func (s *Service) Run(ctx context.Context, opts Options) (Report, error) {
	if opts.Window <= 0 {
		return Report{}, fmt.Errorf("window must be positive")
	}
	topN := opts.TopN
	if topN <= 0 {
		topN = defaultTopN
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 500 {
		pageSize = defaultPageSize
	}
	minMessages := opts.MinMessages
	if minMessages <= 0 {
		minMessages = defaultMinMessages
	}

	s.Logger.InfoContext(ctx, "running audit", slog.Duration("window", opts.Window))

	labelsByName, _, err := s.Client.ListLabels(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list labels: %w", err)
	}
	existingLabels := make(map[string]struct{}, len(labelsByName))
	for name := range labelsByName {
		existingLabels[strings.ToLower(name)] = struct{}{}
	}

	now := s.Clock()
	emails, failed, err := s.fetchWindow(ctx, now.Add(-opts.Window), pageSize)
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		GeneratedAt:   now,
		Window:        opts.Window,
		Total:         len(emails),
		FetchFailures: failed,
		Coverage:      map[string]int{},
	}
	if len(emails) == 0 {
		return rep, nil
	}

	rep.TopSenders = buildRankings(emails, topN)
	rep.Coverage = buildCoverage(emails)

	var matches map[string][]gmail.MessageID
	if s.Rules != nil {
		matches, err = evaluateRules(*s.Rules, emails)
		if err != nil {
			return Report{}, err
		}
		rep.Findings = analyseRules(*s.Rules, matches, existingLabels)
	}
	rep.Suggestions = buildSuggestions(rep.TopSenders, emails, s.Rules, minMessages)
	return rep, nil
}

// fetchWindow pages through every message received after since.
func (s *Service) fetchWindow(ctx context.Context, since time.Time, pageSize int) ([]gmail.Email, int, error) {
	req := gmail.FetchRequest{Since: since, PageSize: pageSize}
	var (
		emails []gmail.Email
		failed int
	)
	for {
		page, err := s.Client.Fetch(ctx, req)
		if err != nil {
			return nil, 0, fmt.Errorf("fetch messages: %w", err)
		}
		emails = append(emails, page.Emails...)
		failed += page.Failed
		if page.NextPageToken == "" {
			break
		}
		req.PageToken = page.NextPageToken
	}
	if failed > 0 {
		s.Logger.WarnContext(ctx, "some messages could not be loaded", "failed", failed)
	}
	return emails, failed, nil
}

func buildRankings(emails []gmail.Email, topN int) []SenderStat {
	senders := map[string]*SenderStat{}
	for _, e := range emails {
		domain := domainOf(e.Sender)
		if domain == "" {
			continue
		}
		st := senders[domain]
		if st == nil {
			st = &SenderStat{Domain: domain}
			senders[domain] = st
		}
		st.Count++
		if e.IsUnread {
			st.Unread++
		}
		if st.PreviewSubject == "" {
			st.PreviewSubject = e.Subject
		}
	}
	return rankSenders(senders, topN)
}

func buildCoverage(emails []gmail.Email) map[string]int {
	coverage := make(map[string]int)
	for _, e := range emails {
		for _, name := range e.Labels {
			coverage[name]++
		}
	}
	return coverage
}

func rankSenders(m map[string]*SenderStat, topN int) []SenderStat {
	slice := make([]SenderStat, 0, len(m))
	for _, st := range m {
		slice = append(slice, *st)
	}
	sort.Slice(slice, func(i, j int) bool {
		if slice[i].Count == slice[j].Count {
			return slice[i].Domain < slice[j].Domain
		}
		return slice[i].Count > slice[j].Count
	})
	if topN < len(slice) {
		slice = slice[:topN]
	}
	return slice
}

// buildSuggestions proposes a filing rule per noisy sender domain that no
// configured rule already handles.
func buildSuggestions(senders []SenderStat, emails []gmail.Email, configured *rules.RuleSet, minMessages int) Suggestions {
	covered := map[string]bool{}
	if configured != nil {
		for _, e := range emails {
			domain := domainOf(e.Sender)
			if domain == "" || covered[domain] {
				continue
			}
			if matched, err := configured.Match(e); err == nil && len(matched) > 0 {
				covered[domain] = true
			}
		}
	}

	var sugs Suggestions
	for _, sd := range senders {
		if sd.Count < minMessages || covered[sd.Domain] {
			continue
		}
		sugs.Rules.Rules = append(sugs.Rules.Rules, rules.Rule{
			Name: "Bulk mail from " + sd.Domain,
			Conditions: []rules.Condition{
				{Field: gmail.FieldSender, Predicate: rules.Contains, Value: "@" + sd.Domain},
			},
			Predicate: rules.JoinAll,
			Actions: []rules.Action{
				rules.MoveMessage{Label: "Bulk/" + sd.Domain},
				rules.MarkRead{},
			},
		})
		if len(sugs.Rules.Rules) >= maxSuggestions {
			break
		}
	}
	return sugs
}
