package config

import (
	"flag"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func missing(t *testing.T, name string) string {
	return filepath.Join(t.TempDir(), name)
}

func TestLoadDefaultsWhenFilesMissing(t *testing.T) {
	s, err := Load(missing(t, "config.toml"), missing(t, ".env"), quiet())
	require.NoError(t, err)

	want := Defaults(DefaultDir())
	assert.Equal(t, want, s)
	assert.Equal(t, 100, s.PageSize)
	assert.Equal(t, "info", s.LogLevel)
}

func TestLoadTOMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "config.toml", `
rules = "/etc/inboxrules/rules.json"
rps = 2
page_size = 250
log_level = "debug"
not_a_setting = true
`)
	s, err := Load(path, missing(t, ".env"), quiet())
	require.NoError(t, err)
	assert.Equal(t, "/etc/inboxrules/rules.json", s.Rules)
	assert.Equal(t, 2, s.RPS)
	assert.Equal(t, 250, s.PageSize)
	assert.Equal(t, "debug", s.LogLevel)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "config.toml", `page_size = 250`)
	t.Setenv("INBOXRULES_PAGE_SIZE", "50")
	t.Setenv("INBOXRULES_DB", " /tmp/other.db ")

	s, err := Load(path, missing(t, ".env"), quiet())
	require.NoError(t, err)
	assert.Equal(t, 50, s.PageSize)
	assert.Equal(t, "/tmp/other.db", s.Database)
}

func TestLoadEnvFile(t *testing.T) {
	env := writeFile(t, ".env", "INBOXRULES_METRICS_FILE=/var/lib/node_exporter/inboxrules.prom\n")
	t.Cleanup(func() { _ = os.Unsetenv("INBOXRULES_METRICS_FILE") })

	s, err := Load(missing(t, "config.toml"), env, quiet())
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/node_exporter/inboxrules.prom", s.MetricsFile)
}

func TestLoadRejectsBadEnvInt(t *testing.T) {
	t.Setenv("INBOXRULES_RPS", "fast")
	_, err := Load(missing(t, "config.toml"), missing(t, ".env"), quiet())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INBOXRULES_RPS")
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := writeFile(t, "config.toml", "rps = = 3")
	_, err := Load(path, missing(t, ".env"), quiet())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load settings")
}

func TestValidateReportsEveryProblem(t *testing.T) {
	s := Defaults(t.TempDir())
	s.RPS = 0
	s.PageSize = 501
	s.LogLevel = "chatty"
	s.Rules = ""

	err := s.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "rules path is required")
	assert.Contains(t, msg, "rps must be at least 1")
	assert.Contains(t, msg, "page_size must be between 1 and 500")
	assert.Contains(t, msg, `log level "chatty"`)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestApplyFlagsOnlyOverridesExplicitFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	configPath := RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--config", "/tmp/x.toml", "--page-size", "20", "--log-level", "debug"}))
	assert.Equal(t, "/tmp/x.toml", *configPath)

	s := Defaults("/home/me/.inboxrules")
	s.RPS = 9
	require.NoError(t, s.ApplyFlags(fs))
	assert.Equal(t, 20, s.PageSize)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, 9, s.RPS, "unset --rps must keep the file value")
	assert.Equal(t, "/home/me/.inboxrules/rules.json", s.Rules)
}

func TestApplyFlagsValidates(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--page-size", "900"}))

	s := Defaults(t.TempDir())
	err := s.ApplyFlags(fs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page_size")
}

func TestParseArgsBoolFlagTakesNextValue(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		want  bool
		count int
	}{
		{name: "separate false", args: []string{"--only_unread", "false", "--email_count", "5"}, want: false, count: 5},
		{name: "separate True", args: []string{"--only_unread", "True", "--email_count", "5"}, want: true, count: 5},
		{name: "bare", args: []string{"--only_unread", "--email_count", "5"}, want: true, count: 5},
		{name: "equals form", args: []string{"-only_unread=false", "-email_count", "5"}, want: false, count: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			unread := fs.Bool("only_unread", false, "")
			count := fs.Int("email_count", 0, "")
			require.NoError(t, ParseArgs(fs, tt.args))
			assert.Equal(t, tt.want, *unread)
			assert.Equal(t, tt.count, *count)
		})
	}
}

func TestParseArgsRejectsStrayArguments(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Bool("dry-run", false, "")
	fs.Int("days", 0, "")
	err := ParseArgs(fs, []string{"--dry-run", "nope", "--days", "3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"nope"`)
}
