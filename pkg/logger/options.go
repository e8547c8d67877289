package logger

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Format selects the record encoding.
type Format int

const (
	// FormatAuto is pretty on a terminal and text elsewhere.
	FormatAuto Format = iota
	FormatText
	FormatJSON
	FormatPretty
)

var formatNames = map[string]Format{
	"auto":   FormatAuto,
	"text":   FormatText,
	"json":   FormatJSON,
	"pretty": FormatPretty,
}

// ParseFormat maps a --log-format value to a Format.
func ParseFormat(s string) (Format, error) {
	f, ok := formatNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return FormatAuto, fmt.Errorf("unknown log format %q (auto, text, json, pretty)", s)
	}
	return f, nil
}

// Option configures a logger created with New.
type Option func(*config)

// WithDebug lowers the level to Debug.
func WithDebug(debug bool) Option {
	return func(c *config) {
		c.level = slog.LevelInfo
		if debug {
			c.level = slog.LevelDebug
		}
	}
}

func WithFormat(f Format) Option {
	return func(c *config) {
		c.format = f
	}
}

// WithWriter sets the destination. Use Tee to log to several destinations
// in different formats.
func WithWriter(w io.Writer) Option {
	return func(c *config) {
		c.w = w
	}
}

// WithSource adds the calling file and line to each record.
func WithSource(source bool) Option {
	return func(c *config) {
		c.source = source
	}
}
