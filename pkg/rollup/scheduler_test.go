package rollup_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reverie/pkg/eventstream"
	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/rollup"
	"github.com/papercomputeco/reverie/pkg/storage/inmemory"
	"github.com/papercomputeco/reverie/pkg/storage/storagetest"
	testutils "github.com/papercomputeco/reverie/pkg/utils/test"
)

var _ = Describe("Scheduler", func() {
	var (
		ctx       context.Context
		store     *inmemory.Driver
		refl      *testutils.MockReflector
		events    *testutils.RecordingPublisher
		scheduler *rollup.Scheduler

		t1, t2    time.Time
		nextDay   time.Time
		sameDayPM time.Time
	)

	appendSession := func(id string, offset time.Duration, topics ...string) {
		_, err := store.Append(ctx, storagetest.SessionSummary("agent-a", id, offset, "body of "+id, topics...))
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewDriver()
		refl = testutils.NewMockReflector("A day of gardening.")
		events = testutils.NewRecordingPublisher()

		// storagetest.Base is 2026-10-14 09:00 UTC.
		t1 = storagetest.Base
		t2 = storagetest.Base.Add(2 * time.Hour)
		sameDayPM = at("2026-10-14T15:00:00Z")
		nextDay = at("2026-10-15T01:00:00Z")

		var err error
		scheduler, err = rollup.NewScheduler(rollup.Config{
			Archive:      store,
			Cursors:      store,
			Reflector:    refl,
			Events:       events,
			ReflectorFor: func(string) string { return "reflector-a" },
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("rolls two sessions of a closed day into one daily summary", func() {
		appendSession("sess-2", 2*time.Hour, "tomatoes")
		appendSession("sess-1", 0, "gardening")

		result, err := scheduler.RunOnce(ctx, "agent-a", memory.KindDaily, nextDay)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Created).To(Equal([]string{"daily-agent-a-20261014"}))

		daily, err := store.Get(ctx, "agent-a", "daily-agent-a-20261014")
		Expect(err).NotTo(HaveOccurred())
		Expect(daily.Kind).To(Equal(memory.KindDaily))
		Expect(daily.SourceSummaryIDs).To(Equal([]string{"sess-1", "sess-2"}))
		Expect(daily.PeriodStart).To(BeTemporally("==", t1.Add(-5*time.Minute)))
		Expect(daily.PeriodEnd).To(BeTemporally("==", t2))
		Expect(daily.Topics).To(Equal([]string{"gardening", "tomatoes"}))
		Expect(daily.TurnCount).To(Equal(6))
		Expect(daily.Body).To(Equal("A day of gardening."))

		Expect(refl.LastRequest().ReflectorAgentID).To(Equal("reflector-a"))
		Expect(refl.LastRequest().Prompt).To(ContainSubstring("body of sess-1"))

		cursor, err := store.GetCursor(ctx, "agent-a", memory.KindDaily)
		Expect(err).NotTo(HaveOccurred())
		Expect(cursor.HighWaterMark).To(BeTemporally("==", t2))

		stored := events.Events(eventstream.EventTypeRollupStored)
		Expect(stored).To(HaveLen(1))
		Expect(stored[0].Summary.SourceSummaryIDs).To(Equal([]string{"sess-1", "sess-2"}))
	})

	It("does nothing on a second run without new sources", func() {
		appendSession("sess-1", 0)
		appendSession("sess-2", 2*time.Hour)

		_, err := scheduler.RunOnce(ctx, "agent-a", memory.KindDaily, nextDay)
		Expect(err).NotTo(HaveOccurred())
		before, err := store.GetCursor(ctx, "agent-a", memory.KindDaily)
		Expect(err).NotTo(HaveOccurred())

		result, err := scheduler.RunOnce(ctx, "agent-a", memory.KindDaily, nextDay.Add(time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Created).To(BeEmpty())
		Expect(result.Existing).To(BeEmpty())
		Expect(refl.Calls()).To(Equal(1))

		after, err := store.GetCursor(ctx, "agent-a", memory.KindDaily)
		Expect(err).NotTo(HaveOccurred())
		Expect(after.HighWaterMark).To(Equal(before.HighWaterMark))

		recent, err := store.Recent(ctx, "agent-a", memory.KindDaily, time.Time{}, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(recent).To(HaveLen(1))
	})

	It("never creates a rollup from zero sources", func() {
		result, err := scheduler.RunOnce(ctx, "agent-a", memory.KindDaily, nextDay)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Created).To(BeEmpty())
		Expect(result.Cursor.HighWaterMark).To(Equal(memory.Epoch))
		Expect(refl.Calls()).To(Equal(0))
	})

	It("waits for the window to close", func() {
		appendSession("sess-1", 0)

		result, err := scheduler.RunOnce(ctx, "agent-a", memory.KindDaily, sameDayPM)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Created).To(BeEmpty())
		Expect(result.OpenWindow).To(BeTrue())

		cursor, err := store.GetCursor(ctx, "agent-a", memory.KindDaily)
		Expect(err).NotTo(HaveOccurred())
		Expect(cursor.HighWaterMark).To(Equal(memory.Epoch))
	})

	It("rolls closed days and stops at the open one", func() {
		appendSession("sess-0", -24*time.Hour)
		appendSession("sess-1", 0)

		result, err := scheduler.RunOnce(ctx, "agent-a", memory.KindDaily, sameDayPM)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Created).To(Equal([]string{"daily-agent-a-20261013"}))
		Expect(result.OpenWindow).To(BeTrue())
		Expect(result.Cursor.HighWaterMark).To(BeTemporally("==", t1.Add(-24*time.Hour)))
	})

	It("leaves the cursor in place when the reflector fails", func() {
		appendSession("sess-1", 0)
		refl.AlwaysFail = true

		_, err := scheduler.RunOnce(ctx, "agent-a", memory.KindDaily, nextDay)
		Expect(err).To(MatchError(testutils.ErrMockReflection))

		cursor, err := store.GetCursor(ctx, "agent-a", memory.KindDaily)
		Expect(err).NotTo(HaveOccurred())
		Expect(cursor.HighWaterMark).To(Equal(memory.Epoch))

		refl.AlwaysFail = false
		result, err := scheduler.RunOnce(ctx, "agent-a", memory.KindDaily, nextDay)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Created).To(HaveLen(1))
	})

	It("holds a closed day open until it settles", func() {
		appendSession("s-early", time.Hour)

		result, err := scheduler.RunOnce(ctx, "agent-a", memory.KindDaily, at("2026-10-15T00:01:00Z"))
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Created).To(BeEmpty())
		Expect(result.OpenWindow).To(BeTrue())

		// A session that ended two minutes before midnight is reflected
		// after the day has closed.
		appendSession("s-late", 14*time.Hour+58*time.Minute)

		result, err = scheduler.RunOnce(ctx, "agent-a", memory.KindDaily, at("2026-10-15T01:01:00Z"))
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Created).To(Equal([]string{"daily-agent-a-20261014"}))

		daily, err := store.Get(ctx, "agent-a", "daily-agent-a-20261014")
		Expect(err).NotTo(HaveOccurred())
		Expect(daily.SourceSummaryIDs).To(Equal([]string{"s-early", "s-late"}))
	})

	It("emits a supplementary rollup for sources that arrive after their day was rolled up", func() {
		appendSession("sess-1", 11*time.Hour)
		_, err := scheduler.RunOnce(ctx, "agent-a", memory.KindDaily, nextDay)
		Expect(err).NotTo(HaveOccurred())
		before, err := store.GetCursor(ctx, "agent-a", memory.KindDaily)
		Expect(err).NotTo(HaveOccurred())

		// Ends before the cursor, so only the reconcile read can find it.
		appendSession("sess-late", time.Hour, "compost")
		result, err := scheduler.RunOnce(ctx, "agent-a", memory.KindDaily, nextDay.Add(time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Created).To(Equal([]string{"daily-agent-a-20261014.2"}))
		Expect(result.Supplements).To(Equal(result.Created))
		Expect(result.Cursor.HighWaterMark).To(Equal(before.HighWaterMark))

		base, err := store.Get(ctx, "agent-a", "daily-agent-a-20261014")
		Expect(err).NotTo(HaveOccurred())
		Expect(base.SourceSummaryIDs).To(Equal([]string{"sess-1"}))

		supplement, err := store.Get(ctx, "agent-a", "daily-agent-a-20261014.2")
		Expect(err).NotTo(HaveOccurred())
		Expect(supplement.Kind).To(Equal(memory.KindDaily))
		Expect(supplement.SourceSummaryIDs).To(Equal([]string{"sess-late"}))
		Expect(supplement.Topics).To(Equal([]string{"compost"}))
		Expect(events.Events(eventstream.EventTypeRollupStored)).To(HaveLen(2))

		result, err = scheduler.RunOnce(ctx, "agent-a", memory.KindDaily, nextDay.Add(2*time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Created).To(BeEmpty())
		Expect(refl.Calls()).To(Equal(2))
	})

	It("rolls a supplementary daily into a supplementary weekly", func() {
		appendSession("sess-1", 0)
		nextWeek := at("2026-10-19T06:00:00Z")

		_, err := scheduler.RunOnce(ctx, "agent-a", memory.KindDaily, nextWeek)
		Expect(err).NotTo(HaveOccurred())
		_, err = scheduler.RunOnce(ctx, "agent-a", memory.KindWeekly, nextWeek)
		Expect(err).NotTo(HaveOccurred())

		appendSession("sess-late", 2*time.Hour)
		later := nextWeek.Add(time.Hour)
		_, err = scheduler.RunOnce(ctx, "agent-a", memory.KindDaily, later)
		Expect(err).NotTo(HaveOccurred())
		result, err := scheduler.RunOnce(ctx, "agent-a", memory.KindWeekly, later)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Created).To(Equal([]string{"weekly-agent-a-2026W42.2"}))

		weekly, err := store.Get(ctx, "agent-a", "weekly-agent-a-2026W42.2")
		Expect(err).NotTo(HaveOccurred())
		Expect(weekly.SourceSummaryIDs).To(Equal([]string{"daily-agent-a-20261014.2"}))
	})

	It("recovers a window whose rollup was stored before the cursor moved", func() {
		appendSession("sess-1", 0)
		stored := storagetest.SessionSummary("agent-a", "daily-agent-a-20261014", 0, "stored before a crash")
		stored.Kind = memory.KindDaily
		stored.SourceSummaryIDs = []string{"sess-1"}
		_, err := store.Append(ctx, stored)
		Expect(err).NotTo(HaveOccurred())

		result, err := scheduler.RunOnce(ctx, "agent-a", memory.KindDaily, nextDay)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Created).To(BeEmpty())
		Expect(result.Existing).To(Equal([]string{"daily-agent-a-20261014"}))
		Expect(result.Cursor.HighWaterMark).To(BeTemporally("==", t1))
		Expect(refl.Calls()).To(Equal(0))
	})

	It("builds weekly rollups from daily rollups", func() {
		appendSession("sess-1", 0, "gardening")
		appendSession("sess-2", 24*time.Hour, "cooking")
		nextWeek := at("2026-10-19T06:00:00Z")

		result, err := scheduler.RunOnce(ctx, "agent-a", memory.KindDaily, nextWeek)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Created).To(Equal([]string{"daily-agent-a-20261014", "daily-agent-a-20261015"}))

		result, err = scheduler.RunOnce(ctx, "agent-a", memory.KindWeekly, nextWeek)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Created).To(Equal([]string{"weekly-agent-a-2026W42"}))

		weekly, err := store.Get(ctx, "agent-a", "weekly-agent-a-2026W42")
		Expect(err).NotTo(HaveOccurred())
		Expect(weekly.SourceSummaryIDs).To(Equal([]string{"daily-agent-a-20261014", "daily-agent-a-20261015"}))
		Expect(weekly.Topics).To(Equal([]string{"cooking", "gardening"}))
	})

	It("rejects kinds that are not rolled up", func() {
		_, err := scheduler.RunOnce(ctx, "agent-a", memory.KindSession, nextDay)
		Expect(err).To(MatchError(rollup.ErrNotRollupKind))

		_, err = scheduler.RunOnce(ctx, "agent-a", memory.KindTopic, nextDay)
		Expect(err).To(MatchError(rollup.ErrNotRollupKind))
	})

	It("runs every agent found in the archive and the configured set", func() {
		_, err := store.Append(ctx, storagetest.SessionSummary("agent-b", "b-1", 0, "b"))
		Expect(err).NotTo(HaveOccurred())
		appendSession("sess-1", 0)

		scheduler, err = rollup.NewScheduler(rollup.Config{
			Archive:   store,
			Cursors:   store,
			Reflector: refl,
			Agents:    memory.NewAgentSet("agent-c"),
			Clock:     func() time.Time { return nextDay },
		})
		Expect(err).NotTo(HaveOccurred())

		scheduler.RunAll(ctx, memory.KindDaily)

		_, err = store.Get(ctx, "agent-a", "daily-agent-a-20261014")
		Expect(err).NotTo(HaveOccurred())
		_, err = store.Get(ctx, "agent-b", "daily-agent-b-20261014")
		Expect(err).NotTo(HaveOccurred())
	})
})
