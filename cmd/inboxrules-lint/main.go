package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
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

const hoursPerDayLint = 24

type lintConfig struct {
	configPath string
	days       int
	failOn     []string
	flags      *flag.FlagSet
}

func main() {
	cfg, err := parseLintFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		runtime.DefaultLogger().Error("inboxrules-lint: bad arguments", "error", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("inboxrules-lint failed", "error", err)
		os.Exit(1)
	}
}

func parseLintFlags(args []string) (lintConfig, error) {
	fs := flag.NewFlagSet("inboxrules-lint", flag.ContinueOnError)
	configPath := config.RegisterFlags(fs)
	days := fs.Int("days", 30, "lookback window in days")
	failOn := fs.String("fail-on", "dead,conflict,missing-label", "comma separated lint failures")
	if err := config.ParseArgs(fs, args); err != nil {
		return lintConfig{}, err
	}
	if *days < 1 {
		return lintConfig{}, fmt.Errorf("--days must be at least 1, got %d", *days)
	}
	tokens, err := audit.ParseFailOn(*failOn)
	if err != nil {
		return lintConfig{}, err
	}
	return lintConfig{configPath: *configPath, days: *days, failOn: tokens, flags: fs}, nil
}

func run(cfg lintConfig) error {
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

	rs, err := rules.LoadFile(settings.Rules)
	if err != nil {
		return err
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

	svc := audit.NewService(client, logger, &rs)
	window := time.Duration(cfg.days) * hoursPerDayLint * time.Hour
	rep, err := svc.RunLint(ctx, audit.Options{Window: window, PageSize: settings.PageSize})
	if err != nil {
		return fmt.Errorf("run lint: %w", err)
	}

	if summary := rep.HumanSummary(); summary != "" {
		if _, writeErr := os.Stdout.WriteString(summary); writeErr != nil {
			return fmt.Errorf("write summary: %w", writeErr)
		}
	}
	if rep.ShouldFail(cfg.failOn) {
		return fmt.Errorf("lint failures matched: %v", cfg.failOn)
	}
	return nil
}
