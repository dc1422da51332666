// Package logging builds the slog loggers used by the pondchat binaries.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Config selects level and output format.
type Config struct {
	// Level is one of "debug", "info", "warn" or "error". Empty means info.
	Level string `yaml:"level"`

	// Format is "json" or "text". Empty means text.
	Format string `yaml:"format"`

	// AddSource includes file and line in every record.
	AddSource bool `yaml:"add_source"`

	Output io.Writer `yaml:"-"`
}

const redacted = "[REDACTED]"

var (
	sensitiveKeys = map[string]struct{}{
		"token":         {},
		"authorization": {},
		"secret":        {},
		"jwt_secret":    {},
		"password":      {},
	}

	jwtPattern = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`)
)

// ParseLevel maps a level name onto a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// New returns a logger writing to cfg.Output (stderr when nil). Attributes
// named like credentials and anything shaped like a JWT are redacted.
func New(cfg Config) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: redact,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		handler = slog.NewTextHandler(cfg.Output, opts)
	case "json":
		handler = slog.NewJSONHandler(cfg.Output, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(handler), nil
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redacted)
	}
	if a.Value.Kind() == slog.KindString {
		if s := a.Value.String(); jwtPattern.MatchString(s) {
			return slog.String(a.Key, jwtPattern.ReplaceAllString(s, redacted))
		}
	}
	return a
}
