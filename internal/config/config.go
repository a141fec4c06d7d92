// Package config resolves inboxrules settings from a TOML file, an optional
// .env file and INBOXRULES_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const envPrefix = "INBOXRULES_"

// Settings are the knobs shared by every inboxrules command. Command-line
// flags are applied on top by the caller.
type Settings struct {
	Rules       string `toml:"rules"`
	Credentials string `toml:"credentials"`
	Token       string `toml:"token"`
	Database    string `toml:"database"`
	RPS         int    `toml:"rps"`
	PageSize    int    `toml:"page_size"`
	LogLevel    string `toml:"log_level"`
	MetricsFile string `toml:"metrics_file"`
}

// DefaultDir is where settings, credentials and the database live unless
// overridden.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".inboxrules"
	}
	return filepath.Join(home, ".inboxrules")
}

// DefaultPath is the settings file read when --config is not given.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.toml")
}

// Defaults returns settings rooted in dir.
func Defaults(dir string) Settings {
	return Settings{
		Rules:       filepath.Join(dir, "rules.json"),
		Credentials: filepath.Join(dir, "credentials.json"),
		Token:       filepath.Join(dir, "token.json"),
		Database:    filepath.Join(dir, "emails.db"),
		RPS:         5,
		PageSize:    100,
		LogLevel:    "info",
	}
}

// Load layers path (missing is fine), envFile (missing is fine; empty means
// ".env") and the environment over Defaults(DefaultDir()).
func Load(path, envFile string, logger *slog.Logger) (Settings, error) {
	s := Defaults(DefaultDir())
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	if path != "" {
		md, err := toml.DecodeFile(path, &s)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Debug("no settings file", "path", path)
		case err != nil:
			return Settings{}, fmt.Errorf("load settings %s: %w", path, err)
		default:
			for _, key := range md.Undecoded() {
				logger.Warn("unknown settings key ignored", "path", path, "key", key.String())
			}
		}
	}

	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Settings{}, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	if err := s.applyEnv(); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) applyEnv() error {
	strs := map[string]*string{
		"RULES":        &s.Rules,
		"CREDENTIALS":  &s.Credentials,
		"TOKEN":        &s.Token,
		"DB":           &s.Database,
		"LOG_LEVEL":    &s.LogLevel,
		"METRICS_FILE": &s.MetricsFile,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	ints := map[string]*int{
		"RPS":       &s.RPS,
		"PAGE_SIZE": &s.PageSize,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = n
	}
	return nil
}

// Validate reports every invalid setting at once.
func (s Settings) Validate() error {
	var errs []error
	if s.Rules == "" {
		errs = append(errs, errors.New("rules path is required"))
	}
	if s.Credentials == "" {
		errs = append(errs, errors.New("credentials path is required"))
	}
	if s.Token == "" {
		errs = append(errs, errors.New("token path is required"))
	}
	if s.Database == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	if s.RPS < 1 {
		errs = append(errs, fmt.Errorf("rps must be at least 1, got %d", s.RPS))
	}
	if s.PageSize < 1 || s.PageSize > 500 {
		errs = append(errs, fmt.Errorf("page_size must be between 1 and 500, got %d", s.PageSize))
	}
	if _, err := ParseLevel(s.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid settings: %w", errors.Join(errs...))
}

// ParseLevel maps debug/info/warn/error to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", name, err)
	}
	return lvl, nil
}
