package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joshsymonds/inboxrules/internal/audit"
	"github.com/joshsymonds/inboxrules/internal/config"
	"github.com/joshsymonds/inboxrules/internal/rate"
	"github.com/joshsymonds/inboxrules/internal/rules"
	"github.com/joshsymonds/inboxrules/internal/runtime"
)

const hoursPerDay = 24

type auditConfig struct {
	configPath  string
	days        int
	topN        int
	jsonOut     string
	minMessages int
	flags       *flag.FlagSet
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		runtime.DefaultLogger().Error("inboxrules-audit: bad arguments", "error", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("inboxrules-audit failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (auditConfig, error) {
	fset := flag.NewFlagSet("inboxrules-audit", flag.ContinueOnError)
	configPath := config.RegisterFlags(fset)
	days := fset.Int("days", 60, "lookback window in days")
	topN := fset.Int("top", 30, "number of top sender domains to display")
	jsonOut := fset.String("json", "", "write JSON report to path")
	minMessages := fset.Int("min-messages", 3, "minimum messages from a domain before a rule is suggested")
	if err := config.ParseArgs(fset, args); err != nil {
		return auditConfig{}, err
	}
	if *days < 1 {
		return auditConfig{}, fmt.Errorf("--days must be at least 1, got %d", *days)
	}
	if *topN < 0 || *minMessages < 1 {
		return auditConfig{}, errors.New("--top must be non-negative and --min-messages at least 1")
	}
	return auditConfig{
		configPath:  *configPath,
		days:        *days,
		topN:        *topN,
		jsonOut:     *jsonOut,
		minMessages: *minMessages,
		flags:       fset,
	}, nil
}

// loadOptionalRules returns nil when no rules file exists yet; the audit is
// most useful before any rules are written.
func loadOptionalRules(path string) (*rules.RuleSet, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	rs, err := rules.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return &rs, nil
}

func run(cfg auditConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	settings, err := config.Load(cfg.configPath, "", runtime.DefaultLogger())
	if err != nil {
		return err
	}
	if err := settings.ApplyFlags(cfg.flags); err != nil {
		return err
	}
	level, _ := config.ParseLevel(settings.LogLevel)
	logger := runtime.NewLogger(level)

	rs, err := loadOptionalRules(settings.Rules)
	if err != nil {
		return err
	}
	if rs == nil {
		logger.Info("no rules file; skipping rule analysis", "path", settings.Rules)
	}

	client, err := runtime.NewGmailClient(ctx, runtime.AuthConfig{
		CredentialsPath: settings.Credentials,
		TokenPath:       settings.Token,
		Scope:           runtime.ScopeReadonly,
		Logger:          logger,
	}, runtime.ClientOptions{
		Limiter: rate.NewTokenBucket(settings.RPS),
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("create gmail client: %w", err)
	}

	svc := audit.NewService(client, logger, rs)
	window := time.Duration(cfg.days) * hoursPerDay * time.Hour
	rep, err := svc.Run(ctx, audit.Options{
		Window:      window,
		TopN:        cfg.topN,
		PageSize:    settings.PageSize,
		MinMessages: cfg.minMessages,
	})
	if err != nil {
		return fmt.Errorf("run audit: %w", err)
	}

	if printErr := audit.PrintHuman(rep, os.Stdout); printErr != nil {
		return fmt.Errorf("print report: %w", printErr)
	}
	if cfg.jsonOut == "" {
		return nil
	}
	if writeErr := audit.WriteJSON(rep, cfg.jsonOut); writeErr != nil {
		return fmt.Errorf("write json: %w", writeErr)
	}
	return nil
}
