// Package logger builds the *slog.Logger instances used across reverie.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"
	"golang.org/x/term"
)

type config struct {
	level  slog.Level
	format Format
	source bool
	w      io.Writer
}

// New creates a *slog.Logger. Without options it writes text records at
// Info level to os.Stderr.
func New(opts ...Option) *slog.Logger {
	c := &config{
		level:  slog.LevelInfo,
		format: FormatText,
		w:      os.Stderr,
	}
	for _, opt := range opts {
		opt(c)
	}

	format := c.format
	if format == FormatAuto {
		format = FormatText
		if isTerminal(c.w) {
			format = FormatPretty
		}
	}

	switch format {
	case FormatPretty:
		return slog.New(charmlog.NewWithOptions(c.w, charmlog.Options{
			Level:           charmlog.Level(c.level),
			ReportTimestamp: true,
			ReportCaller:    c.source,
			TimeFormat:      time.Kitchen,
		}))
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(c.w, &slog.HandlerOptions{
			Level:     c.level,
			AddSource: c.source,
		}))
	default:
		return slog.New(slog.NewTextHandler(c.w, &slog.HandlerOptions{
			Level:     c.level,
			AddSource: c.source,
		}))
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(nopHandler{})
}

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h nopHandler) WithGroup(string) slog.Handler { return h }
