package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reverie/pkg/logger"
)

func decodeLine(buf *bytes.Buffer) map[string]any {
	var parsed map[string]any
	Expect(json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &parsed)).To(Succeed())
	return parsed
}

var _ = Describe("New", func() {
	It("writes text records at Info by default", func() {
		var buf bytes.Buffer
		l := logger.New(logger.WithWriter(&buf))
		l.Info("session ended", "agent_id", "garden-bot")
		l.Debug("hidden")

		Expect(buf.String()).To(ContainSubstring("session ended"))
		Expect(buf.String()).To(ContainSubstring("agent_id=garden-bot"))
		Expect(buf.String()).NotTo(ContainSubstring("hidden"))
	})

	It("logs debug records when asked", func() {
		var buf bytes.Buffer
		l := logger.New(logger.WithWriter(&buf), logger.WithDebug(true))
		l.Debug("job handled")

		Expect(buf.String()).To(ContainSubstring("job handled"))
	})

	It("writes JSON records", func() {
		var buf bytes.Buffer
		l := logger.New(logger.WithWriter(&buf), logger.WithFormat(logger.FormatJSON))
		l.With("component", "rollup").Info("rollup stored", "created", 2)

		parsed := decodeLine(&buf)
		Expect(parsed["msg"]).To(Equal("rollup stored"))
		Expect(parsed["component"]).To(Equal("rollup"))
		Expect(parsed["created"]).To(BeNumerically("==", 2))
	})

	It("writes pretty records", func() {
		var buf bytes.Buffer
		l := logger.New(logger.WithWriter(&buf), logger.WithFormat(logger.FormatPretty))
		l.Info("pretty output")

		Expect(buf.String()).To(ContainSubstring("pretty output"))
	})

	It("falls back to text when the writer is not a terminal", func() {
		var buf bytes.Buffer
		l := logger.New(logger.WithWriter(&buf), logger.WithFormat(logger.FormatAuto))
		l.Info("auto", "k", "v")

		Expect(buf.String()).To(ContainSubstring("level=INFO"))
		Expect(buf.String()).To(ContainSubstring("k=v"))
	})
})

var _ = Describe("ParseFormat", func() {
	It("accepts every known format", func() {
		for name, want := range map[string]logger.Format{
			"auto":   logger.FormatAuto,
			"text":   logger.FormatText,
			"JSON":   logger.FormatJSON,
			"pretty": logger.FormatPretty,
		} {
			got, err := logger.ParseFormat(name)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
		}
	})

	It("rejects unknown formats", func() {
		_, err := logger.ParseFormat("xml")
		Expect(err).To(MatchError(ContainSubstring("unknown log format")))
	})
})

var _ = Describe("Nop", func() {
	It("is disabled at every level", func() {
		l := logger.Nop()
		Expect(l.Handler().Enabled(context.Background(), slog.LevelError)).To(BeFalse())
		Expect(func() {
			l.With("key", "value").WithGroup("group").Error("msg")
		}).NotTo(Panic())
	})
})

var _ = Describe("Tee", func() {
	It("writes each record to every logger", func() {
		var text, js bytes.Buffer
		l := logger.Tee(
			logger.New(logger.WithWriter(&text)),
			logger.New(logger.WithWriter(&js), logger.WithFormat(logger.FormatJSON)),
		)

		l.Info("summary stored", "session_id", "s1")

		Expect(text.String()).To(ContainSubstring("session_id=s1"))
		Expect(decodeLine(&js)["session_id"]).To(Equal("s1"))
	})

	It("honours each logger's level", func() {
		var info, debug bytes.Buffer
		l := logger.Tee(
			logger.New(logger.WithWriter(&info)),
			logger.New(logger.WithWriter(&debug), logger.WithDebug(true)),
		)

		l.Debug("cursor unchanged")

		Expect(info.String()).To(BeEmpty())
		Expect(debug.String()).To(ContainSubstring("cursor unchanged"))
	})

	It("carries attributes and groups to every logger", func() {
		var a, b bytes.Buffer
		l := logger.Tee(
			logger.New(logger.WithWriter(&a), logger.WithFormat(logger.FormatJSON)),
			logger.New(logger.WithWriter(&b), logger.WithFormat(logger.FormatJSON)),
		)

		l.With("component", "api").WithGroup("request").Info("handled", "method", "POST")

		for _, buf := range []*bytes.Buffer{&a, &b} {
			parsed := decodeLine(buf)
			Expect(parsed["component"]).To(Equal("api"))
			Expect(parsed["request"]).To(HaveKeyWithValue("method", "POST"))
		}
	})

	It("is disabled when every logger is", func() {
		l := logger.Tee(logger.Nop(), logger.Nop())
		Expect(l.Handler().Enabled(context.Background(), slog.LevelError)).To(BeFalse())
	})
})
