// Package processor runs the batch loop: fetch a page of mail, skip what an
// earlier run already handled, match rules and dispatch their actions, then
// record the outcome.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	gc "github.com/joshsymonds/inboxrules/internal/gmail"
	"github.com/joshsymonds/inboxrules/internal/metrics"
	"github.com/joshsymonds/inboxrules/internal/rules"
	"github.com/joshsymonds/inboxrules/internal/store"
)

const (
	DefaultDays     = 7
	DefaultPageSize = 100
	MaxPageSize     = 500
)

// Options select which mail a run looks at.
type Options struct {
	EmailCount int // stop after this many messages; 0 means use Days
	Days       int
	OnlyUnread bool
	PageSize   int
	DryRun     bool
}

func (o Options) withDefaults() Options {
	if o.Days == 0 {
		o.Days = DefaultDays
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.PageSize > MaxPageSize {
		o.PageSize = MaxPageSize
	}
	return o
}

// Validate rejects counts a caller could not have meant.
func (o Options) Validate() error {
	var errs []error
	if o.EmailCount < 0 {
		errs = append(errs, fmt.Errorf("email count must be at least 1, got %d", o.EmailCount))
	}
	if o.Days < 0 {
		errs = append(errs, fmt.Errorf("days must be at least 1, got %d", o.Days))
	}
	return errors.Join(errs...)
}

// FirstRequest builds the initial fetch. A positive EmailCount replaces the
// day window as the stopping condition.
func (o Options) FirstRequest(now time.Time) gc.FetchRequest {
	o = o.withDefaults()
	req := gc.FetchRequest{UnreadOnly: o.OnlyUnread, PageSize: o.PageSize}
	if o.EmailCount > 0 {
		req.Limit = o.EmailCount
		return req
	}
	req.Since = now.AddDate(0, 0, -o.Days)
	return req
}

// Store is the persistence the processor needs. Any error it returns ends
// the run.
type Store interface {
	SaveEmails(ctx context.Context, emails []gc.Email) error
	HasProcessed(ctx context.Context, id gc.MessageID) (bool, error)
	RecordProcessed(ctx context.Context, id gc.MessageID, rec store.Record) error
	UpdateEmailState(ctx context.Context, id gc.MessageID, unread bool, labels []string) error
}

type Service struct {
	Client  gc.Client
	Store   Store
	Rules   rules.RuleSet
	Log     *slog.Logger
	Metrics *metrics.Recorder
	Now     func() time.Time
	RunID   string
}

// Summary counts what one run did.
type Summary struct {
	RunID          string
	Batches        int
	Fetched        int
	FetchFailures  int
	Skipped        int
	Matched        int
	ActionsApplied int
	ActionFailures int
	Failed         int
	Processed      int
}

func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("run_id", s.RunID),
		slog.Int("batches", s.Batches),
		slog.Int("fetched", s.Fetched),
		slog.Int("fetch_failures", s.FetchFailures),
		slog.Int("skipped", s.Skipped),
		slog.Int("matched", s.Matched),
		slog.Int("actions_applied", s.ActionsApplied),
		slog.Int("action_failures", s.ActionFailures),
		slog.Int("failed", s.Failed),
		slog.Int("processed", s.Processed),
	)
}

// Run processes pages until the count or the day window is exhausted. It
// returns the summary so far alongside any fatal error.
func (s *Service) Run(ctx context.Context, opts Options) (Summary, error) {
	if err := opts.Validate(); err != nil {
		return Summary{}, err
	}
	opts = opts.withDefaults()
	r := run{Service: s, now: s.Now, runID: s.RunID, dryRun: opts.DryRun}
	if r.now == nil {
		r.now = time.Now
	}
	if r.runID == "" {
		r.runID = uuid.NewString()
	}
	base := s.Log
	if base == nil {
		base = slog.Default()
	}
	r.log = base.With("run_id", r.runID)
	log := r.log
	sum := Summary{RunID: r.runID}

	req := opts.FirstRequest(r.now())
	log.InfoContext(ctx, "run started",
		"email_count", opts.EmailCount, "days", opts.Days, "only_unread", opts.OnlyUnread,
		"since", req.Since, "dry_run", opts.DryRun, "rules", len(s.Rules.Rules))

	remaining := opts.EmailCount
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if opts.EmailCount > 0 {
			req.Limit = remaining
		}
		page, err := s.Client.Fetch(ctx, req)
		if err != nil {
			log.ErrorContext(ctx, "fetch failed; stopping run", "err", err, "summary", sum)
			return sum, fmt.Errorf("fetch page %d: %w", sum.Batches+1, err)
		}
		if opts.EmailCount > 0 && len(page.Emails) > remaining {
			page.Emails = page.Emails[:remaining]
		}
		sum.Batches++
		sum.Fetched += len(page.Emails)
		sum.FetchFailures += page.Failed
		s.Metrics.Fetched(len(page.Emails))
		s.Metrics.FetchFailed(page.Failed)

		if err := r.processBatch(ctx, page.Emails, &sum); err != nil {
			return sum, err
		}
		log.InfoContext(ctx, "batch done", "batch", sum.Batches, "emails", len(page.Emails),
			"fetch_failures", page.Failed, "processed_total", sum.Processed)

		if opts.EmailCount > 0 {
			remaining -= len(page.Emails) + page.Failed
			if remaining <= 0 {
				break
			}
		}
		if page.NextPageToken == "" {
			break
		}
		req.PageToken = page.NextPageToken
	}

	log.InfoContext(ctx, "run finished", "summary", sum)
	return sum, nil
}

// run holds the settings resolved for one Run call.
type run struct {
	*Service
	log    *slog.Logger
	now    func() time.Time
	runID  string
	dryRun bool
}

func (r *run) processBatch(ctx context.Context, emails []gc.Email, sum *Summary) error {
	if len(emails) == 0 {
		return nil
	}
	if !r.dryRun {
		if err := r.Store.SaveEmails(ctx, emails); err != nil {
			return fmt.Errorf("save batch: %w", err)
		}
	}
	for _, email := range emails {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := r.Store.HasProcessed(ctx, email.ID)
		if err != nil {
			return fmt.Errorf("check %s: %w", email.ID, err)
		}
		if done {
			sum.Skipped++
			r.Metrics.Skipped()
			continue
		}
		if err := r.processEmail(ctx, email, sum); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) processEmail(ctx context.Context, email gc.Email, sum *Summary) error {
	log := r.log
	matched, err := r.Rules.Match(email)
	if err != nil {
		// loaded rule sets are validated, so this is a programming error
		return fmt.Errorf("match %s: %w", email.ID, err)
	}
	names := rules.Names(matched)
	if len(matched) > 0 {
		sum.Matched++
	}
	for _, name := range names {
		r.Metrics.Matched(name)
	}

	if r.dryRun {
		for _, rule := range matched {
			log.InfoContext(ctx, "dry-run: would apply", "id", email.ID, "subject", email.Subject,
				"rule", rule.Name, "actions", rule.Actions)
		}
		sum.Processed++
		return nil
	}

	var res rules.ApplyResult
	for _, rule := range matched {
		applied := rules.Apply(ctx, rule.Actions, email, r.Client)
		for _, a := range applied.Applied {
			r.Metrics.Action(string(a.Type()), true)
		}
		for _, f := range applied.Failures {
			r.Metrics.Action(string(f.Action.Type()), false)
			log.WarnContext(ctx, "action failed", "id", email.ID, "rule", rule.Name,
				"action", f.Action, "transient", gc.IsTransient(f.Err), "err", f.Err)
		}
		res.Merge(applied)
	}
	sum.ActionsApplied += len(res.Applied)
	sum.ActionFailures += len(res.Failures)

	if len(res.Applied) > 0 {
		unread, labels := stateAfter(email, res.Applied)
		if err := r.Store.UpdateEmailState(ctx, email.ID, unread, labels); err != nil {
			return fmt.Errorf("update %s: %w", email.ID, err)
		}
	}

	if len(res.Failures) > 0 {
		// left unrecorded so the next run retries it
		sum.Failed++
		r.Metrics.Failed()
		return nil
	}

	rec := store.Record{
		RunID:          r.runID,
		ProcessedAt:    r.now(),
		MatchedRules:   names,
		ActionsApplied: len(res.Applied),
	}
	if err := r.Store.RecordProcessed(ctx, email.ID, rec); err != nil {
		return fmt.Errorf("record %s: %w", email.ID, err)
	}
	sum.Processed++
	r.Metrics.Processed()
	if len(matched) > 0 {
		log.DebugContext(ctx, "processed", "id", email.ID, "rules", names, "actions", len(res.Applied))
	}
	return nil
}

// stateAfter returns the read state and label names email has once applied
// have run in Gmail.
func stateAfter(email gc.Email, applied []rules.Action) (bool, []string) {
	unread := email.IsUnread
	labels := slices.Clone(email.Labels)
	without := func(name string) {
		labels = slices.DeleteFunc(labels, func(l string) bool { return strings.EqualFold(l, name) })
	}
	with := func(name string) {
		if !slices.ContainsFunc(labels, func(l string) bool { return strings.EqualFold(l, name) }) {
			labels = append(labels, name)
		}
	}
	for _, action := range applied {
		switch a := action.(type) {
		case rules.MoveMessage:
			without(string(gc.LabelInbox))
			with(a.Label)
		case rules.MarkRead:
			unread = false
			without(string(gc.LabelUnread))
		case rules.MarkUnread:
			unread = true
			with(string(gc.LabelUnread))
		}
	}
	return unread, labels
}
