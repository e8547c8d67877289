package logger

import (
	"context"
	"errors"
	"log/slog"
	"slices"
)

// Tee returns a logger writing every record to each of loggers, e.g. pretty
// console output next to a JSON log file. A handler failing does not keep
// the record from the others.
func Tee(loggers ...*slog.Logger) *slog.Logger {
	handlers := make(teeHandler, 0, len(loggers))
	for _, l := range loggers {
		handlers = append(handlers, l.Handler())
	}
	return slog.New(handlers)
}

type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return slices.ContainsFunc(t, func(h slog.Handler) bool {
		return h.Enabled(ctx, level)
	})
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t teeHandler) each(fn func(slog.Handler) slog.Handler) teeHandler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = fn(h)
	}
	return out
}
