package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshsymonds/inboxrules/internal/config"
	"github.com/joshsymonds/inboxrules/internal/metrics"
	"github.com/joshsymonds/inboxrules/internal/processor"
	"github.com/joshsymonds/inboxrules/internal/rate"
	"github.com/joshsymonds/inboxrules/internal/rules"
	"github.com/joshsymonds/inboxrules/internal/runtime"
	"github.com/joshsymonds/inboxrules/internal/store"
)

type runConfig struct {
	configPath string
	emailCount int
	days       int
	onlyUnread bool
	dryRun     bool
	flags      *flag.FlagSet
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		runtime.DefaultLogger().Error("inboxrules: bad arguments", "error", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("inboxrules failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (runConfig, error) {
	fs := flag.NewFlagSet("inboxrules", flag.ContinueOnError)
	configPath := config.RegisterFlags(fs)
	emailCount := fs.Int("email_count", 0, "process at most this many emails (overrides --days)")
	days := fs.Int("days", processor.DefaultDays, "process emails received in the last N days")
	onlyUnread := fs.Bool("only_unread", false, "only fetch unread emails")
	dryRun := fs.Bool("dry-run", false, "log matches only; skip Gmail changes and database writes")
	if err := config.ParseArgs(fs, args); err != nil {
		return runConfig{}, err
	}

	countSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "email_count" {
			countSet = true
		}
	})
	if countSet && *emailCount < 1 {
		return runConfig{}, fmt.Errorf("--email_count must be at least 1, got %d", *emailCount)
	}
	if *days < 1 {
		return runConfig{}, fmt.Errorf("--days must be at least 1, got %d", *days)
	}

	return runConfig{
		configPath: *configPath,
		emailCount: *emailCount,
		days:       *days,
		onlyUnread: *onlyUnread,
		dryRun:     *dryRun,
		flags:      fs,
	}, nil
}

func (c runConfig) options(pageSize int) processor.Options {
	return processor.Options{
		EmailCount: c.emailCount,
		Days:       c.days,
		OnlyUnread: c.onlyUnread,
		PageSize:   pageSize,
		DryRun:     c.dryRun,
	}
}

func run(cfg runConfig) (err error) {
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
	logger.Debug("rules loaded", "path", settings.Rules, "count", len(rs.Rules))

	st, err := store.Open(ctx, settings.Database, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = st.Close() }()

	client, err := runtime.NewGmailClient(ctx, runtime.AuthConfig{
		CredentialsPath: settings.Credentials,
		TokenPath:       settings.Token,
		Scope:           runtime.ScopeModify,
		Logger:          logger,
	}, runtime.ClientOptions{
		Limiter: rate.NewTokenBucket(settings.RPS),
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("create gmail client: %w", err)
	}

	rec := metrics.New()
	defer func() {
		rec.Finished(err)
		if werr := rec.WriteTextfile(settings.MetricsFile); werr != nil {
			logger.Warn("metrics not written", "error", werr)
		}
	}()

	svc := &processor.Service{
		Client:  client,
		Store:   st,
		Rules:   rs,
		Log:     logger,
		Metrics: rec,
	}
	sum, err := svc.Run(ctx, cfg.options(settings.PageSize))
	if err != nil {
		return fmt.Errorf("process inbox (processed %d of %d fetched): %w", sum.Processed, sum.Fetched, err)
	}
	if sum.Failed > 0 {
		logger.Warn("some emails will be retried on the next run", "failed", sum.Failed)
	}
	return nil
}
