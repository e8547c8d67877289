package cliui_test

import (
	"bytes"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reverie/pkg/cliui"
)

var _ = Describe("cliui", func() {
	It("formats durations", func() {
		Expect(cliui.FormatDuration(12 * time.Millisecond)).To(Equal("12ms"))
		Expect(cliui.FormatDuration(3200 * time.Millisecond)).To(Equal("3.2s"))
	})

	It("marks failures", func() {
		Expect(cliui.Mark(nil)).To(Equal(cliui.SuccessMark))
		Expect(cliui.Mark(errors.New("boom"))).To(Equal(cliui.FailMark))
	})

	It("fits text to a width", func() {
		Expect(cliui.Fit("short", 10)).To(Equal("short"))
		Expect(cliui.Fit("queue unavailable after retries", 10)).To(Equal("queue una…"))
	})

	It("reports the step result", func() {
		var buf bytes.Buffer
		err := cliui.Step(&buf, "rolling up", func() error { return errors.New("boom") })
		Expect(err).To(MatchError("boom"))
		Expect(buf.String()).To(ContainSubstring("rolling up"))
		Expect(buf.String()).To(HaveSuffix("\n"))
	})
})
