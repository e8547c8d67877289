package reflection_test

import (
	"context"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reverie/pkg/eventstream"
	"github.com/papercomputeco/reverie/pkg/jobqueue"
	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/reflection"
	testutils "github.com/papercomputeco/reverie/pkg/utils/test"
)

const structuredReflection = "The user planted San Marzano tomatoes from Alice's seeds.\n\n" +
	"```yaml\ntopics: [gardening, tomatoes]\nentities: [Alice]\n```"

var _ = Describe("Worker", func() {
	var (
		ctx       context.Context
		store     *testutils.FlakyDriver
		refl      *testutils.MockReflector
		events    *testutils.RecordingPublisher
		sleeper   *recordingSleep
		worker    *reflection.Worker
		createdAt time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = testutils.NewFlakyDriver()
		refl = testutils.NewMockReflector(structuredReflection)
		events = testutils.NewRecordingPublisher()
		sleeper = &recordingSleep{}
		createdAt = base.Add(10 * time.Minute)

		var err error
		worker, err = reflection.NewWorker(reflection.WorkerConfig{
			Archive:     store,
			Blocks:      store,
			DeadLetters: store,
			Reflector:   refl,
			Events:      events,
			Backoff:     reflection.Backoff{Base: time.Second, Max: time.Minute, NoJitter: true},
			Sleep:       sleeper.Sleep,
			Clock:       func() time.Time { return createdAt },
			NewID:       sequentialIDs("dl-"),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("stores a session summary under the session id", func() {
		Expect(worker.Handle(ctx, sessionJob("sess-1"))).To(Succeed())

		s, err := store.Get(ctx, "agent-a", "sess-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Kind).To(Equal(memory.KindSession))
		Expect(s.Body).To(Equal("The user planted San Marzano tomatoes from Alice's seeds."))
		Expect(s.Topics).To(Equal([]string{"gardening", "tomatoes"}))
		Expect(s.Entities).To(Equal([]string{"Alice"}))
		Expect(s.TurnCount).To(Equal(3))
		Expect(s.PeriodStart).To(BeTemporally("==", base))
		Expect(s.PeriodEnd).To(BeTemporally("==", base.Add(2*time.Minute)))
		Expect(s.CreatedAt).To(BeTemporally("==", createdAt))

		req := refl.LastRequest()
		Expect(req.ReflectorAgentID).To(Equal("reflector-a"))
		Expect(req.Prompt).To(ContainSubstring("[user]: Alice gave me seeds"))
	})

	It("writes the last session summary block", func() {
		Expect(worker.Handle(ctx, sessionJob("sess-1"))).To(Succeed())

		b, err := store.GetBlock(ctx, "agent-a", memory.LastSessionSummaryLabel)
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Value).To(HavePrefix("[Session: 2026-10-14T09:00:00Z to 2026-10-14T09:02:00Z]\n\n"))
		Expect(b.Value).To(HaveSuffix("Alice's seeds."))
	})

	It("still succeeds when the block cannot be written", func() {
		store.FailSetBlock = true

		Expect(worker.Handle(ctx, sessionJob("sess-1"))).To(Succeed())
		_, err := store.Get(ctx, "agent-a", "sess-1")
		Expect(err).NotTo(HaveOccurred())
	})

	It("publishes a summary.stored event", func() {
		Expect(worker.Handle(ctx, sessionJob("sess-1"))).To(Succeed())

		stored := events.Events(eventstream.EventTypeSummaryStored)
		Expect(stored).To(HaveLen(1))
		Expect(stored[0].SessionID).To(Equal("sess-1"))
		Expect(stored[0].Summary.Topics).To(Equal([]string{"gardening", "tomatoes"}))
	})

	It("stores raw text with empty sets when nothing can be extracted", func() {
		refl.Response = "A short chat about nothing in particular."

		Expect(worker.Handle(ctx, sessionJob("sess-1"))).To(Succeed())

		s, err := store.Get(ctx, "agent-a", "sess-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Body).To(Equal("A short chat about nothing in particular."))
		Expect(s.Topics).To(BeEmpty())
		Expect(s.Entities).To(BeEmpty())
	})

	It("treats a redelivered job as done", func() {
		Expect(worker.Handle(ctx, sessionJob("sess-1"))).To(Succeed())
		Expect(worker.Handle(ctx, sessionJob("sess-1"))).To(Succeed())

		Expect(refl.Calls()).To(Equal(1))
		Expect(events.Events(eventstream.EventTypeSummaryStored)).To(HaveLen(1))
	})

	It("retries transient reflection failures with backoff", func() {
		refl.FailTimes = 2

		Expect(worker.Handle(ctx, sessionJob("sess-1"))).To(Succeed())
		Expect(refl.Calls()).To(Equal(3))
		Expect(sleeper.Delays()).To(Equal([]time.Duration{time.Second, 2 * time.Second}))

		dls, err := store.ListDeadLetters(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(dls).To(BeEmpty())
	})

	It("dead-letters the job with its turns after five failed reflections", func() {
		refl.AlwaysFail = true

		Expect(worker.Handle(ctx, sessionJob("sess-1"))).To(Succeed())
		Expect(refl.Calls()).To(Equal(5))
		Expect(sleeper.Delays()).To(HaveLen(4))

		dls, err := store.ListDeadLetters(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(dls).To(HaveLen(1))
		Expect(dls[0].ID).To(Equal("dl-1"))
		Expect(dls[0].Attempts).To(Equal(5))
		Expect(dls[0].LastError).To(ContainSubstring("mock reflection failure"))
		Expect(dls[0].Job.SessionID).To(Equal("sess-1"))
		Expect(dls[0].Job.MemoryTurns()).To(HaveLen(3))
		Expect(dls[0].Job.MemoryTurns()[2].UserText).To(Equal("Alice gave me seeds"))

		_, err = store.Get(ctx, "agent-a", "sess-1")
		Expect(err).To(HaveOccurred())

		_, err = store.GetBlock(ctx, "agent-a", memory.LastSessionSummaryLabel)
		Expect(err).To(HaveOccurred())

		dead := events.Events(eventstream.EventTypeReflectionDeadLettered)
		Expect(dead).To(HaveLen(1))
		Expect(dead[0].DeadLetterID).To(Equal("dl-1"))
	})

	It("retries archive appends", func() {
		store.FailAppends = 2

		Expect(worker.Handle(ctx, sessionJob("sess-1"))).To(Succeed())
		Expect(store.AppendCalls()).To(Equal(3))
		Expect(refl.Calls()).To(Equal(1))
	})

	It("returns the error when the archive cannot be read", func() {
		store.FailGet = true

		Expect(worker.Handle(ctx, sessionJob("sess-1"))).To(MatchError(testutils.ErrMockStorage))
		Expect(refl.Calls()).To(Equal(0))
	})

	It("abandons the job on cancellation without dead-lettering", func() {
		refl.AlwaysFail = true
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		Expect(worker.Handle(cctx, sessionJob("sess-1"))).To(MatchError(context.Canceled))

		dls, err := store.ListDeadLetters(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(dls).To(BeEmpty())
	})

	It("renders the whole transcript into the prompt", func() {
		Expect(worker.Handle(ctx, sessionJob("sess-1"))).To(Succeed())
		Expect(strings.Count(refl.LastRequest().Prompt, "[assistant]:")).To(Equal(3))
	})

	Context("with payloads that can never be handled", func() {
		It("dead-letters a job without an agent id", func() {
			job := sessionJob("sess-1")
			job.AgentID = ""

			Expect(worker.Handle(ctx, job)).To(Succeed())
			Expect(refl.Calls()).To(BeZero())

			dls, err := store.ListDeadLetters(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(dls).To(HaveLen(1))
			Expect(dls[0].Reason).To(Equal(jobqueue.ReasonInvalid))
			Expect(dls[0].Attempts).To(BeZero())
			Expect(dls[0].LastError).To(ContainSubstring("missing session or agent id"))
			Expect(dls[0].Job.SessionID).To(Equal("sess-1"))
			Expect(string(dls[0].Payload)).To(ContainSubstring(`"session_id":"sess-1"`))

			dead := events.Events(eventstream.EventTypeReflectionDeadLettered)
			Expect(dead).To(HaveLen(1))
			Expect(dead[0].DeadLetterID).To(Equal("dl-1"))
		})

		It("dead-letters a job with an unsupported schema version", func() {
			job := sessionJob("sess-2")
			job.SchemaVersion = 2

			Expect(worker.Handle(ctx, job)).To(Succeed())
			Expect(refl.Calls()).To(BeZero())

			dl, err := store.GetDeadLetter(ctx, "dl-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(dl.Reason).To(Equal(jobqueue.ReasonUnsupportedSchema))
			Expect(dl.Job.SchemaVersion).To(Equal(2))
			Expect(dl.Job.Turns).To(HaveLen(3))
			Expect(string(dl.Payload)).To(ContainSubstring(`"schema_version":2`))
		})

		It("dead-letters undecodable bytes as they arrived", func() {
			raw := []byte(`{"schema_version":1,"turns":`)
			_, cause := jobqueue.Decode(raw)
			Expect(cause).To(MatchError(jobqueue.ErrUndecodable))

			Expect(worker.Reject(ctx, raw, cause)).To(Succeed())

			dl, err := store.GetDeadLetter(ctx, "dl-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(dl.Reason).To(Equal(jobqueue.ReasonUndecodable))
			Expect(dl.Payload).To(Equal(raw))
			Expect(dl.FailedAt).To(BeTemporally("==", createdAt))
			Expect(events.Events(eventstream.EventTypeReflectionDeadLettered)).To(HaveLen(1))
		})

		It("returns the error when the dead-letter store fails", func() {
			store.FailDeadLetters = true

			err := worker.Reject(ctx, []byte("nope"), jobqueue.ErrUndecodable)
			Expect(err).To(MatchError(testutils.ErrMockStorage))
			Expect(events.Events(eventstream.EventTypeReflectionDeadLettered)).To(BeEmpty())
		})
	})
})
