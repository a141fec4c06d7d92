package main

import (
	"strings"
	"testing"
	"time"

	"github.com/joshsymonds/inboxrules/internal/processor"
)

func TestParseFlagsEmailCountOverridesDays(t *testing.T) {
	cfg, err := parseFlags([]string{"--email_count", "50", "--days", "14"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	opts := cfg.options(100)
	if opts.EmailCount != 50 || opts.Days != 14 {
		t.Fatalf("unexpected options %+v", opts)
	}
	req := opts.FirstRequest(time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC))
	if req.Limit != 50 || !req.Since.IsZero() {
		t.Fatalf("email_count must be the stopping condition: %+v", req)
	}
}

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.days != processor.DefaultDays || cfg.emailCount != 0 || cfg.onlyUnread || cfg.dryRun {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestParseFlagsOnlyUnread(t *testing.T) {
	cfg, err := parseFlags([]string{"--only_unread", "--days", "3", "--dry-run"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cfg.onlyUnread || cfg.days != 3 || !cfg.dryRun {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestParseFlagsRejectsBadCounts(t *testing.T) {
	for _, args := range [][]string{
		{"--email_count", "0"},
		{"--email_count", "-5"},
		{"--days", "0"},
		{"--days", "nope"},
	} {
		if _, err := parseFlags(args); err == nil {
			t.Errorf("parseFlags(%v) accepted invalid input", args)
		}
	}
}

func TestParseFlagsOnlyUnreadTakesValue(t *testing.T) {
	cfg, err := parseFlags([]string{"--only_unread", "false", "--email_count", "5"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.onlyUnread || cfg.emailCount != 5 {
		t.Fatalf("onlyUnread=%v emailCount=%d, want false and 5", cfg.onlyUnread, cfg.emailCount)
	}

	cfg, err = parseFlags([]string{"--only_unread", "True", "--days", "2"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cfg.onlyUnread || cfg.days != 2 {
		t.Fatalf("onlyUnread=%v days=%d, want true and 2", cfg.onlyUnread, cfg.days)
	}
}

func TestParseFlagsRejectsStrayArguments(t *testing.T) {
	_, err := parseFlags([]string{"--dry-run", "maybe", "--email_count", "5"})
	if err == nil || !strings.Contains(err.Error(), `"maybe"`) {
		t.Fatalf("expected stray argument error, got %v", err)
	}
}
