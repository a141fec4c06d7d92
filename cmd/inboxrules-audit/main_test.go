package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseFlagsAuditDefaults(t *testing.T) {
	cfg, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.days != 60 || cfg.topN != 30 || cfg.minMessages != 3 || cfg.jsonOut != "" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestParseFlagsAuditRejectsBadValues(t *testing.T) {
	for _, args := range [][]string{
		{"--days", "0"},
		{"--top", "-1"},
		{"--min-messages", "0"},
	} {
		if _, err := parseFlags(args); err == nil {
			t.Errorf("parseFlags(%v) accepted invalid input", args)
		}
	}
}

func TestLoadOptionalRules(t *testing.T) {
	dir := t.TempDir()
	rs, err := loadOptionalRules(filepath.Join(dir, "absent.json"))
	if err != nil || rs != nil {
		t.Fatalf("missing file: rs=%v err=%v", rs, err)
	}

	path := filepath.Join(dir, "rules.json")
	body := `{"rules":[{"name":"Receipts","predicate":"all","conditions":[{"field":"subject","predicate":"contains","value":"receipt"}],"actions":[{"type":"mark_read"}]}]}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	rs, err = loadOptionalRules(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rs == nil || len(rs.Rules) != 1 {
		t.Fatalf("unexpected rule set %+v", rs)
	}

	if err := os.WriteFile(path, []byte(`{"rules":[`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := loadOptionalRules(path); err == nil {
		t.Fatalf("malformed rules must be reported")
	}
}

func TestParseFlagsAuditRejectsStrayArguments(t *testing.T) {
	if _, err := parseFlags([]string{"--days", "7", "report.json"}); err == nil {
		t.Fatalf("expected positional argument to be rejected")
	}
}
