package main

import (
	"slices"
	"testing"
)

func TestParseLintFlagsDefaults(t *testing.T) {
	cfg, err := parseLintFlags(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.days != 30 {
		t.Fatalf("days = %d, want 30", cfg.days)
	}
	for _, want := range []string{"dead", "conflict", "missing-label"} {
		if !slices.Contains(cfg.failOn, want) {
			t.Errorf("default fail-on lacks %q: %v", want, cfg.failOn)
		}
	}
}

func TestParseLintFlagsRejectsUnknownFailure(t *testing.T) {
	if _, err := parseLintFlags([]string{"--fail-on", "dead,confict"}); err == nil {
		t.Fatalf("expected typo in --fail-on to be rejected")
	}
}

func TestParseLintFlagsRejectsBadWindow(t *testing.T) {
	if _, err := parseLintFlags([]string{"--days", "0"}); err == nil {
		t.Fatalf("expected --days 0 to be rejected")
	}
}

func TestParseLintFlagsRejectsStrayArguments(t *testing.T) {
	if _, err := parseLintFlags([]string{"dead", "--days", "7"}); err == nil {
		t.Fatalf("expected positional argument to be rejected")
	}
}
