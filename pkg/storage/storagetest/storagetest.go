// Package storagetest holds the behaviour shared by every storage.Driver,
// written as ginkgo specs that driver test suites register.
package storagetest

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reverie/pkg/jobqueue"
	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/storage"
)

// Base is the reference time of the fixtures.
var Base = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

// SessionSummary builds a valid session summary ending offset after Base.
func SessionSummary(agentID, id string, offset time.Duration, body string, topics ...string) *memory.Summary {
	return &memory.Summary{
		ID:          id,
		Kind:        memory.KindSession,
		AgentID:     agentID,
		PeriodStart: Base.Add(offset - 5*time.Minute),
		PeriodEnd:   Base.Add(offset),
		Body:        body,
		Topics:      memory.NormalizeSet(topics),
		Entities:    []string{},
		TurnCount:   3,
		CreatedAt:   Base.Add(offset + time.Minute),
	}
}

// DescribeDriver registers the shared driver specs. newDriver is called
// before each spec and must return an empty store.
func DescribeDriver(name string, newDriver func() storage.Driver) bool {
	return Describe(name+" conformance", func() {
		var (
			ctx    context.Context
			driver storage.Driver
		)

		BeforeEach(func() {
			ctx = context.Background()
			driver = newDriver()
		})

		AfterEach(func() {
			if driver != nil {
				Expect(driver.Close()).To(Succeed())
				driver = nil
			}
		})

		Describe("Append and Get", func() {
			It("round-trips every field", func() {
				s := SessionSummary("agent-a", "sess-1", 0, "talked about the garden", "gardening", "tomatoes")
				s.Entities = []string{"Alice"}

				inserted, err := driver.Append(ctx, s)
				Expect(err).NotTo(HaveOccurred())
				Expect(inserted).To(BeTrue())

				got, err := driver.Get(ctx, "agent-a", "sess-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Kind).To(Equal(memory.KindSession))
				Expect(got.Body).To(Equal("talked about the garden"))
				Expect(got.Topics).To(Equal([]string{"gardening", "tomatoes"}))
				Expect(got.Entities).To(Equal([]string{"Alice"}))
				Expect(got.SourceSummaryIDs).To(BeEmpty())
				Expect(got.TurnCount).To(Equal(3))
				Expect(got.PeriodEnd).To(BeTemporally("==", s.PeriodEnd))
				Expect(got.CreatedAt).To(BeTemporally("==", s.CreatedAt))
			})

			It("rejects a duplicate id without changing the store", func() {
				first := SessionSummary("agent-a", "sess-1", 0, "first")
				second := SessionSummary("agent-a", "sess-1", time.Hour, "second")

				inserted, err := driver.Append(ctx, first)
				Expect(err).NotTo(HaveOccurred())
				Expect(inserted).To(BeTrue())

				inserted, err = driver.Append(ctx, second)
				Expect(err).NotTo(HaveOccurred())
				Expect(inserted).To(BeFalse())

				got, err := driver.Get(ctx, "agent-a", "sess-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Body).To(Equal("first"))
			})

			It("rejects invalid summaries", func() {
				s := SessionSummary("agent-a", "sess-1", 0, "body")
				s.SourceSummaryIDs = []string{"x"}
				_, err := driver.Append(ctx, s)
				Expect(err).To(MatchError(memory.ErrInvalidSummary))

				_, err = driver.Append(ctx, nil)
				Expect(err).To(MatchError(storage.ErrNilSummary))
			})

			It("returns NotFoundError for unknown ids and other agents", func() {
				_, err := driver.Append(ctx, SessionSummary("agent-a", "sess-1", 0, "body"))
				Expect(err).NotTo(HaveOccurred())

				_, err = driver.Get(ctx, "agent-a", "missing")
				Expect(storage.IsNotFound(err)).To(BeTrue())

				_, err = driver.Get(ctx, "agent-b", "sess-1")
				Expect(storage.IsNotFound(err)).To(BeTrue())
			})
		})

		Describe("Search", func() {
			BeforeEach(func() {
				for i, body := range []string{
					"planted tomatoes and basil",
					"fixed the bike chain",
					"more tomatoes, compost and basil",
				} {
					s := SessionSummary("agent-a", fmt.Sprintf("sess-%d", i), time.Duration(i)*time.Hour, body)
					_, err := driver.Append(ctx, s)
					Expect(err).NotTo(HaveOccurred())
				}

				daily := &memory.Summary{
					ID:               "daily-agent-a-20261014",
					Kind:             memory.KindDaily,
					AgentID:          "agent-a",
					PeriodStart:      Base,
					PeriodEnd:        Base.Add(2 * time.Hour),
					Body:             "a day of tomatoes",
					Topics:           []string{},
					Entities:         []string{},
					SourceSummaryIDs: []string{"sess-0", "sess-2"},
				}
				_, err := driver.Append(ctx, daily)
				Expect(err).NotTo(HaveOccurred())

				_, err = driver.Append(ctx, SessionSummary("agent-b", "other", 0, "tomatoes elsewhere"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("restricts results to the requested agent and kind", func() {
				results, err := driver.Search(ctx, storage.SearchQuery{
					AgentID: "agent-a", Kind: memory.KindSession, Text: "tomatoes", Limit: 10,
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(results).To(HaveLen(2))
				for _, r := range results {
					Expect(r.Kind).To(Equal(memory.KindSession))
					Expect(r.AgentID).To(Equal("agent-a"))
				}
			})

			It("ranks by term hits and then recency", func() {
				results, err := driver.Search(ctx, storage.SearchQuery{
					AgentID: "agent-a", Kind: memory.KindSession, Text: "Tomatoes compost",
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(results[0].ID).To(Equal("sess-2"))
				Expect(results[1].ID).To(Equal("sess-0"))
			})

			It("truncates to the limit", func() {
				results, err := driver.Search(ctx, storage.SearchQuery{
					AgentID: "agent-a", Kind: memory.KindSession, Limit: 1,
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(results).To(HaveLen(1))
				Expect(results[0].ID).To(Equal("sess-2"))
			})

			It("finds rollups only when asked for their kind", func() {
				results, err := driver.Search(ctx, storage.SearchQuery{
					AgentID: "agent-a", Kind: memory.KindDaily, Text: "tomatoes",
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(results).To(HaveLen(1))
				Expect(results[0].SourceSummaryIDs).To(Equal([]string{"sess-0", "sess-2"}))
			})
		})

		Describe("Recent and Since", func() {
			BeforeEach(func() {
				for i := range 3 {
					s := SessionSummary("agent-a", fmt.Sprintf("sess-%d", i), time.Duration(i)*time.Hour, "body")
					_, err := driver.Append(ctx, s)
					Expect(err).NotTo(HaveOccurred())
				}
			})

			It("returns recent summaries newest first", func() {
				results, err := driver.Recent(ctx, "agent-a", "", Base.Add(time.Hour), 0)
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(results)).To(Equal([]string{"sess-2", "sess-1"}))

				results, err = driver.Recent(ctx, "agent-a", memory.KindSession, Base, 1)
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(results)).To(Equal([]string{"sess-2"}))
			})

			It("returns summaries strictly after a mark, oldest first", func() {
				results, err := driver.Since(ctx, "agent-a", memory.KindSession, Base)
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(results)).To(Equal([]string{"sess-1", "sess-2"}))

				results, err = driver.Since(ctx, "agent-a", memory.KindDaily, memory.Epoch)
				Expect(err).NotTo(HaveOccurred())
				Expect(results).To(BeEmpty())
			})

			It("lists agents", func() {
				_, err := driver.Append(ctx, SessionSummary("agent-b", "b-1", 0, "body"))
				Expect(err).NotTo(HaveOccurred())

				agents, err := driver.Agents(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(agents).To(Equal([]string{"agent-a", "agent-b"}))
			})
		})

		Describe("Cursors", func() {
			It("starts at the epoch", func() {
				c, err := driver.GetCursor(ctx, "agent-a", memory.KindDaily)
				Expect(err).NotTo(HaveOccurred())
				Expect(c.HighWaterMark).To(BeTemporally("==", memory.Epoch))
			})

			It("only moves forward", func() {
				c := memory.RollupCursor{AgentID: "agent-a", TargetKind: memory.KindDaily, HighWaterMark: Base}

				advanced, err := driver.AdvanceCursor(ctx, c)
				Expect(err).NotTo(HaveOccurred())
				Expect(advanced).To(BeTrue())

				advanced, err = driver.AdvanceCursor(ctx, c)
				Expect(err).NotTo(HaveOccurred())
				Expect(advanced).To(BeFalse())

				c.HighWaterMark = Base.Add(-time.Hour)
				advanced, err = driver.AdvanceCursor(ctx, c)
				Expect(err).NotTo(HaveOccurred())
				Expect(advanced).To(BeFalse())

				got, err := driver.GetCursor(ctx, "agent-a", memory.KindDaily)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.HighWaterMark).To(BeTemporally("==", Base))

				weekly, err := driver.GetCursor(ctx, "agent-a", memory.KindWeekly)
				Expect(err).NotTo(HaveOccurred())
				Expect(weekly.HighWaterMark).To(BeTemporally("==", memory.Epoch))
			})
		})

		Describe("Dead letters", func() {
			It("stores, lists and deletes entries", func() {
				job := jobqueue.NewReflectionJob(memory.Session{
					SessionID:    "sess-1",
					AgentID:      "agent-a",
					StartedAt:    Base,
					LastActivity: Base.Add(time.Minute),
					Turns:        []memory.Turn{{UserText: "u", AgentText: "a", Timestamp: Base}},
				}, memory.EndReasonDisconnect, "reflector")

				for i, id := range []string{"dl-2", "dl-1"} {
					Expect(driver.PutDeadLetter(ctx, &storage.DeadLetter{
						ID:        id,
						Job:       *job,
						Attempts:  5,
						LastError: "boom",
						FailedAt:  Base.Add(time.Duration(i) * time.Minute),
					})).To(Succeed())
				}

				entries, err := driver.ListDeadLetters(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(entries).To(HaveLen(2))
				Expect(entries[0].ID).To(Equal("dl-2"))
				Expect(entries[0].Job.Turns).To(HaveLen(1))
				Expect(entries[0].Attempts).To(Equal(5))

				got, err := driver.GetDeadLetter(ctx, "dl-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Job.SessionID).To(Equal("sess-1"))

				Expect(driver.DeleteDeadLetter(ctx, "dl-1")).To(Succeed())
				Expect(driver.DeleteDeadLetter(ctx, "dl-1")).To(Succeed())

				_, err = driver.GetDeadLetter(ctx, "dl-1")
				Expect(storage.IsNotFound(err)).To(BeTrue())
			})

			It("keeps the raw payload and reason of a rejected job", func() {
				Expect(driver.PutDeadLetter(ctx, &storage.DeadLetter{
					ID:        "dl-raw",
					Job:       jobqueue.ReflectionJob{SchemaVersion: 7},
					LastError: "unsupported job schema version: 7",
					FailedAt:  Base,
					Reason:    jobqueue.ReasonUnsupportedSchema,
					Payload:   []byte(`{"schema_version":7}`),
				})).To(Succeed())

				got, err := driver.GetDeadLetter(ctx, "dl-raw")
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Reason).To(Equal(jobqueue.ReasonUnsupportedSchema))
				Expect(string(got.Payload)).To(Equal(`{"schema_version":7}`))
				Expect(got.Job.SchemaVersion).To(Equal(7))
				Expect(got.Attempts).To(BeZero())
			})
		})

		Describe("Blocks", func() {
			It("replaces values", func() {
				_, err := driver.GetBlock(ctx, "agent-a", memory.BackgroundContextLabel)
				Expect(storage.IsNotFound(err)).To(BeTrue())

				for _, v := range []string{"one", "two"} {
					Expect(driver.SetBlock(ctx, storage.Block{
						AgentID:   "agent-a",
						Label:     memory.BackgroundContextLabel,
						Value:     v,
						UpdatedAt: Base,
					})).To(Succeed())
				}

				b, err := driver.GetBlock(ctx, "agent-a", memory.BackgroundContextLabel)
				Expect(err).NotTo(HaveOccurred())
				Expect(b.Value).To(Equal("two"))
				Expect(b.UpdatedAt).To(BeTemporally("==", Base))
			})
		})
	})
}

func ids(summaries []memory.Summary) []string {
	out := make([]string, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, s.ID)
	}
	return out
}
