package config

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
)

// Flag names shared by every command.
const (
	FlagConfig      = "config"
	FlagRules       = "rules"
	FlagCredentials = "credentials"
	FlagToken       = "token"
	FlagDatabase    = "db"
	FlagRPS         = "rps"
	FlagPageSize    = "page-size"
	FlagLogLevel    = "log-level"
	FlagMetricsFile = "metrics-file"
)

// RegisterFlags defines the shared settings flags on fs. Their zero defaults
// never override the settings file; only flags given on the command line do.
func RegisterFlags(fs *flag.FlagSet) *string {
	configPath := fs.String(FlagConfig, DefaultPath(), "settings file (TOML)")
	fs.String(FlagRules, "", "rules file (JSON)")
	fs.String(FlagCredentials, "", "OAuth client credentials file")
	fs.String(FlagToken, "", "cached OAuth token file")
	fs.String(FlagDatabase, "", "SQLite database path")
	fs.Int(FlagRPS, 0, "max Gmail requests per second")
	fs.Int(FlagPageSize, 0, "Gmail list page size (<=500)")
	fs.String(FlagLogLevel, "", "debug, info, warn or error")
	fs.String(FlagMetricsFile, "", "write Prometheus textfile metrics here")
	return configPath
}

// ApplyFlags copies every settings flag that was set explicitly on fs and
// validates the result.
func (s *Settings) ApplyFlags(fs *flag.FlagSet) error {
	var errs []error
	fs.Visit(func(f *flag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case FlagRules:
			s.Rules = v
		case FlagCredentials:
			s.Credentials = v
		case FlagToken:
			s.Token = v
		case FlagDatabase:
			s.Database = v
		case FlagLogLevel:
			s.LogLevel = v
		case FlagMetricsFile:
			s.MetricsFile = v
		case FlagRPS, FlagPageSize:
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("--%s: %w", f.Name, err))
				return
			}
			if f.Name == FlagRPS {
				s.RPS = n
			} else {
				s.PageSize = n
			}
		}
	})
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return s.Validate()
}

// ParseArgs parses args into fs. A boolean flag may take its value as the
// next argument (--only_unread false) as well as --only_unread=false.
// Positional arguments are rejected since none of the commands take any.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(joinBoolValues(fs, args)); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	return nil
}

func joinBoolValues(fs *flag.FlagSet, args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return append(out, args[i:]...)
		}
		out = append(out, arg)
		name, ok := strings.CutPrefix(arg, "--")
		if !ok {
			name, ok = strings.CutPrefix(arg, "-")
		}
		if !ok || name == "" || strings.Contains(name, "=") || i+1 == len(args) {
			continue
		}
		if !isBoolFlag(fs, name) {
			continue
		}
		if _, err := strconv.ParseBool(args[i+1]); err == nil {
			out[len(out)-1] = arg + "=" + args[i+1]
			i++
		}
	}
	return out
}

func isBoolFlag(fs *flag.FlagSet, name string) bool {
	f := fs.Lookup(name)
	if f == nil {
		return false
	}
	bf, ok := f.Value.(interface{ IsBoolFlag() bool })
	return ok && bf.IsBoolFlag()
}
