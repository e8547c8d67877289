package kafka_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reverie/pkg/jobqueue"
	"github.com/papercomputeco/reverie/pkg/jobqueue/kafka"
	"github.com/papercomputeco/reverie/pkg/memory"
)

var _ = Describe("Queue", func() {
	It("requires brokers", func() {
		_, err := kafka.New(kafka.Config{})
		Expect(err).To(MatchError(ContainSubstring("brokers")))
	})

	Describe("delivering messages", func() {
		var (
			ctx      context.Context
			rejected *rejections
			handled  []*jobqueue.ReflectionJob
			handler  jobqueue.Handler
			q        *kafka.Queue
		)

		BeforeEach(func() {
			ctx = context.Background()
			rejected = &rejections{}
			handled = nil
			handler = func(_ context.Context, j *jobqueue.ReflectionJob) error {
				handled = append(handled, j)
				return nil
			}

			var err error
			q, err = kafka.New(kafka.Config{
				Brokers:  []string{"localhost:9092"},
				OnReject: rejected.Reject,
			})
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(q.Close)
		})

		It("hands decodable jobs to the handler", func() {
			job := jobqueue.NewReflectionJob(memory.Session{
				SessionID: "sess-1",
				AgentID:   "agent-a",
				Turns:     []memory.Turn{{UserText: "hi", AgentText: "hello"}},
			}, memory.EndReasonDisconnect, "agent-a")
			payload, err := jobqueue.Encode(job)
			Expect(err).NotTo(HaveOccurred())

			Expect(q.Deliver(ctx, handler, payload)).To(BeTrue())
			Expect(handled).To(HaveLen(1))
			Expect(rejected.All()).To(BeEmpty())
		})

		DescribeTable("rejects payloads that can never be handled",
			func(payload string, reason string) {
				Expect(q.Deliver(ctx, handler, []byte(payload))).To(BeTrue())
				Expect(handled).To(BeEmpty())

				all := rejected.All()
				Expect(all).To(HaveLen(1))
				Expect(string(all[0].payload)).To(Equal(payload))
				Expect(jobqueue.RejectReason(all[0].cause)).To(Equal(reason))
			},
			Entry("undecodable", `{"schema_version":`, jobqueue.ReasonUndecodable),
			Entry("unsupported schema",
				`{"schema_version":3,"job_type":"reverie.reflect.session","session_id":"s","agent_id":"a"}`,
				jobqueue.ReasonUnsupportedSchema),
			Entry("invalid", `{"schema_version":1,"job_type":"reverie.reflect.session","session_id":"s"}`,
				jobqueue.ReasonInvalid),
		)

		It("holds the offset while the rejected payload cannot be stored", func() {
			rejected.err = errors.New("dead-letter store down")
			cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()

			Expect(q.Deliver(cctx, handler, []byte("not json"))).To(BeFalse())
			Expect(len(rejected.All())).To(BeNumerically(">=", 1))
		})
	})

	It("round-trips a job through a live broker", func() {
		brokers := os.Getenv("REVERIE_TEST_KAFKA_BROKERS")
		if brokers == "" {
			Skip("REVERIE_TEST_KAFKA_BROKERS not set, skipping Kafka tests")
		}

		suffix := time.Now().UnixNano()
		q, err := kafka.New(kafka.Config{
			Brokers: strings.Split(brokers, ","),
			Topic:   fmt.Sprintf("reverie-test-jobs-%d", suffix),
			GroupID: fmt.Sprintf("reverie-test-%d", suffix),
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(q.Close)

		now := time.Now().UTC()
		job := jobqueue.NewReflectionJob(memory.Session{
			SessionID:    "sess-kafka",
			AgentID:      "agent-a",
			StartedAt:    now.Add(-time.Minute),
			LastActivity: now,
			Turns:        []memory.Turn{{UserText: "hi", AgentText: "hello", Timestamp: now}},
		}, memory.EndReasonDisconnect, "agent-a")

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		Eventually(func() error { return q.Publish(ctx, job) }).
			WithTimeout(30 * time.Second).WithPolling(time.Second).Should(Succeed())

		got := make(chan *jobqueue.ReflectionJob, 1)
		consumeCtx, stop := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			done <- q.Consume(consumeCtx, func(_ context.Context, j *jobqueue.ReflectionJob) error {
				select {
				case got <- j:
				default:
				}
				return nil
			})
		}()

		var received *jobqueue.ReflectionJob
		Eventually(got).WithTimeout(45 * time.Second).Should(Receive(&received))
		Expect(received.SessionID).To(Equal("sess-kafka"))
		Expect(received.Turns).To(HaveLen(1))

		stop()
		Eventually(done).WithTimeout(10 * time.Second).Should(Receive(BeNil()))
	})
})

type rejection struct {
	payload []byte
	cause   error
}

type rejections struct {
	mu  sync.Mutex
	err error
	all []rejection
}

func (r *rejections) Reject(_ context.Context, payload []byte, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, rejection{payload: payload, cause: cause})
	return r.err
}

func (r *rejections) All() []rejection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]rejection(nil), r.all...)
}
