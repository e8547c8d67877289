package deadlettercmder

import (
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reverie/pkg/jobqueue"
	"github.com/papercomputeco/reverie/pkg/storage"
)

var _ = Describe("NewDeadLetterCmd", func() {
	It("has list and replay subcommands", func() {
		cmd := NewDeadLetterCmd()
		names := make([]string, 0, len(cmd.Commands()))
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		Expect(names).To(ContainElements("list", "replay"))
	})

	It("requires an id to replay", func() {
		cmd := NewDeadLetterCmd()
		cmd.SetArgs([]string{"replay"})
		Expect(cmd.Execute()).To(HaveOccurred())
	})
})

var _ = Describe("formatEntry", func() {
	It("keeps columns aligned for long values", func() {
		dl := storage.DeadLetter{
			ID: "01JA5Z4Q0M3V2T8K6Y1XW9B7CD",
			Job: jobqueue.ReflectionJob{
				AgentID:   "a-very-long-agent-identifier",
				SessionID: "sess-1",
			},
			LastError: strings.Repeat("reflector unavailable ", 5),
			FailedAt:  time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC),
		}

		row := formatEntry(dl)
		Expect(row).To(HavePrefix("01JA5Z4Q0M3V2T8K6Y1XW9B7CD  a-very-long-agent…  sess-1"))
		Expect(row).To(ContainSubstring("2026-10-14 09:30:00"))
		Expect(row).To(HaveSuffix("…"))
	})

	It("shows why a payload was rejected", func() {
		row := formatEntry(storage.DeadLetter{
			ID:        "dl-raw",
			LastError: "undecodable reflection job",
			Reason:    jobqueue.ReasonUndecodable,
		})
		Expect(row).To(ContainSubstring("[undecodable] undecodable reflection job"))
	})
})
