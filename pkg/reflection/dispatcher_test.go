package reflection_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reverie/pkg/eventstream"
	"github.com/papercomputeco/reverie/pkg/jobqueue"
	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/reflection"
	"github.com/papercomputeco/reverie/pkg/session"
	"github.com/papercomputeco/reverie/pkg/storage"
	"github.com/papercomputeco/reverie/pkg/storage/inmemory"
	testutils "github.com/papercomputeco/reverie/pkg/utils/test"
)

var _ = Describe("Dispatcher", func() {
	var (
		ctx        context.Context
		queue      *testutils.FlakyPublisher
		store      *inmemory.Driver
		events     *testutils.RecordingPublisher
		sleeper    *recordingSleep
		dispatcher *reflection.Dispatcher
	)

	BeforeEach(func() {
		ctx = context.Background()
		queue = testutils.NewFlakyPublisher()
		store = inmemory.NewDriver()
		events = testutils.NewRecordingPublisher()
		sleeper = &recordingSleep{}

		var err error
		dispatcher, err = reflection.NewDispatcher(reflection.DispatcherConfig{
			Queue:        queue,
			DeadLetters:  store,
			Events:       events,
			ReflectorFor: func(agentID string) string { return "reflector-for-" + agentID },
			Backoff:      reflection.Backoff{Base: time.Second, Max: time.Minute, NoJitter: true},
			Sleep:        sleeper.Sleep,
			NewID:        sequentialIDs("dl-"),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("submits one versioned job per ended session", func() {
		dispatcher.Dispatch(threeTurnSession("sess-1"), memory.EndReasonSilenceTimeout)
		Expect(dispatcher.Close(ctx)).To(Succeed())

		jobs := queue.Jobs()
		Expect(jobs).To(HaveLen(1))
		Expect(jobs[0].SchemaVersion).To(Equal(jobqueue.SchemaVersionV1))
		Expect(jobs[0].SessionID).To(Equal("sess-1"))
		Expect(jobs[0].ReflectorAgentID).To(Equal("reflector-for-agent-a"))
		Expect(jobs[0].EndReason).To(Equal(memory.EndReasonSilenceTimeout))
		Expect(jobs[0].Turns).To(HaveLen(3))

		ended := events.Events(eventstream.EventTypeSessionEnded)
		Expect(ended).To(HaveLen(1))
		Expect(ended[0].EndReason).To(Equal("silence_timeout"))
	})

	It("ignores sessions without turns", func() {
		s := threeTurnSession("sess-1")
		s.Turns = nil

		dispatcher.Dispatch(s, memory.EndReasonDisconnect)
		Expect(dispatcher.Close(ctx)).To(Succeed())

		Expect(queue.Attempts()).To(Equal(0))
		Expect(events.Events()).To(BeEmpty())
	})

	It("retries failed submissions", func() {
		queue.FailTimes = 2

		dispatcher.Dispatch(threeTurnSession("sess-1"), memory.EndReasonDisconnect)
		Expect(dispatcher.Close(ctx)).To(Succeed())

		Expect(queue.Attempts()).To(Equal(3))
		Expect(queue.Jobs()).To(HaveLen(1))
		Expect(sleeper.Delays()).To(Equal([]time.Duration{time.Second, 2 * time.Second}))
	})

	It("dead-letters the job once submission attempts are exhausted", func() {
		queue.AlwaysFail = true

		dispatcher.Dispatch(threeTurnSession("sess-1"), memory.EndReasonDisconnect)
		Expect(dispatcher.Close(ctx)).To(Succeed())

		Expect(queue.Attempts()).To(Equal(reflection.DefaultSubmitAttempts))

		dls, err := store.ListDeadLetters(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(dls).To(HaveLen(1))
		Expect(dls[0].Job.SessionID).To(Equal("sess-1"))
		Expect(dls[0].Job.Turns).To(HaveLen(3))
		Expect(dls[0].Attempts).To(Equal(3))
		Expect(events.Events(eventstream.EventTypeReflectionDeadLettered)).To(HaveLen(1))
	})

	It("dead-letters sessions that end after Close", func() {
		Expect(dispatcher.Close(ctx)).To(Succeed())

		dispatcher.Dispatch(threeTurnSession("sess-1"), memory.EndReasonDisconnect)

		Eventually(func() int {
			dls, _ := store.ListDeadLetters(ctx)
			return len(dls)
		}).Should(Equal(1))
		Expect(queue.Attempts()).To(Equal(0))
	})

	Context("with a slow event stream", func() {
		var (
			slow    *slowEvents
			tracker *session.Tracker
		)

		BeforeEach(func() {
			slow = &slowEvents{delay: 2 * time.Second}

			var err error
			dispatcher, err = reflection.NewDispatcher(reflection.DispatcherConfig{
				Queue:       queue,
				DeadLetters: store,
				Events:      slow,
				Sleep:       sleeper.Sleep,
			})
			Expect(err).NotTo(HaveOccurred())
			tracker = session.NewTracker(session.Config{OnEnd: dispatcher.Dispatch})

			_, err = tracker.StartSession("agent-a", "conn-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(tracker.RecordTurn("conn-1", "I planted tomatoes", "Which variety?")).To(BeTrue())
		})

		It("does not hold up the session that ended", func() {
			start := time.Now()
			Expect(tracker.EndSession("conn-1", memory.EndReasonDisconnect)).To(BeTrue())
			Expect(time.Since(start)).To(BeNumerically("<", 100*time.Millisecond))

			Eventually(queue.Jobs).Should(HaveLen(1))
			Expect(dispatcher.Close(ctx)).To(Succeed())
			Expect(slow.Published()).To(Equal(1))
		})

		It("does not hold up a session that ends after Close", func() {
			Expect(dispatcher.Close(ctx)).To(Succeed())

			start := time.Now()
			Expect(tracker.EndSession("conn-1", memory.EndReasonDisconnect)).To(BeTrue())
			Expect(time.Since(start)).To(BeNumerically("<", 100*time.Millisecond))

			Eventually(func() int {
				dls, _ := store.ListDeadLetters(ctx)
				return len(dls)
			}).Should(Equal(1))
		})
	})

	Describe("Replay", func() {
		It("re-submits a dead letter and removes it", func() {
			queue.SetAlwaysFail(true)
			dispatcher.Dispatch(threeTurnSession("sess-1"), memory.EndReasonDisconnect)

			Eventually(func() int {
				dls, _ := store.ListDeadLetters(ctx)
				return len(dls)
			}).Should(Equal(1))

			queue.SetAlwaysFail(false)
			job, err := dispatcher.Replay(ctx, "dl-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(job.SessionID).To(Equal("sess-1"))
			Expect(queue.Jobs()).To(HaveLen(1))

			_, err = store.GetDeadLetter(ctx, "dl-1")
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})

		It("keeps the dead letter when the queue rejects the replay", func() {
			Expect(store.PutDeadLetter(ctx, &storage.DeadLetter{
				ID:       "dl-x",
				Job:      *sessionJob("sess-1"),
				FailedAt: base,
			})).To(Succeed())
			queue.SetAlwaysFail(true)

			_, err := dispatcher.Replay(ctx, "dl-x")
			Expect(err).To(MatchError(testutils.ErrMockPublish))

			_, err = store.GetDeadLetter(ctx, "dl-x")
			Expect(err).NotTo(HaveOccurred())
		})

		It("refuses to replay a rejected payload", func() {
			Expect(store.PutDeadLetter(ctx, &storage.DeadLetter{
				ID:       "dl-raw",
				FailedAt: base,
				Reason:   jobqueue.ReasonUndecodable,
				Payload:  []byte("not json"),
			})).To(Succeed())

			_, err := dispatcher.Replay(ctx, "dl-raw")
			Expect(err).To(MatchError(reflection.ErrNotReplayable))
			Expect(queue.Jobs()).To(BeEmpty())

			_, err = store.GetDeadLetter(ctx, "dl-raw")
			Expect(err).NotTo(HaveOccurred())
		})

		It("reports unknown ids", func() {
			_, err := dispatcher.Replay(ctx, "missing")
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})
	})
})
