package sqlitevec_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reverie/pkg/vector"
	"github.com/papercomputeco/reverie/pkg/vector/sqlitevec"
)

var _ = Describe("Index", func() {
	Describe("New", func() {
		It("requires a database path", func() {
			_, err := sqlitevec.New(sqlitevec.Config{Dimensions: 4})
			Expect(err).To(MatchError(ContainSubstring("database path is required")))
		})

		It("requires dimensions", func() {
			_, err := sqlitevec.New(sqlitevec.Config{DBPath: ":memory:"})
			Expect(err).To(HaveOccurred())
		})

		It("opens an in-memory index", func() {
			ix, err := sqlitevec.New(sqlitevec.Config{DBPath: ":memory:", Dimensions: 4})
			Expect(err).NotTo(HaveOccurred())
			Expect(ix.Close()).To(Succeed())
		})
	})

	Describe("operations", func() {
		var (
			ctx context.Context
			ix  *sqlitevec.Index
		)

		BeforeEach(func() {
			ctx = context.Background()
			var err error
			ix, err = sqlitevec.New(sqlitevec.Config{DBPath: ":memory:", Dimensions: 4})
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(ix.Close)

			Expect(ix.Add(ctx, []vector.Document{
				{ID: "a-1", AgentID: "agent-a", Content: "[SUMMARY:SESSION] one", Embedding: []float32{1, 0, 0, 0}},
				{ID: "a-2", AgentID: "agent-a", Content: "[SUMMARY:DAILY] two", Embedding: []float32{0, 1, 0, 0}},
				{ID: "b-1", AgentID: "agent-b", Content: "[SUMMARY:SESSION] three", Embedding: []float32{1, 0, 0, 0}},
			})).To(Succeed())
		})

		It("accepts an empty batch", func() {
			Expect(ix.Add(ctx, nil)).To(Succeed())
		})

		It("returns only the agent's nearest summaries", func() {
			results, err := ix.Query(ctx, "agent-a", []float32{1, 0, 0, 0}, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))

			Expect(results[0].ID).To(Equal("a-1"))
			Expect(results[0].Content).To(HavePrefix("[SUMMARY:SESSION]"))
			Expect(results[0].Score).To(BeNumerically("~", 1, 1e-5))
			Expect(results[0].Score).To(BeNumerically(">", results[1].Score))
			for _, r := range results {
				Expect(r.AgentID).To(Equal("agent-a"))
			}
		})

		It("honours topK", func() {
			results, err := ix.Query(ctx, "agent-a", []float32{1, 0, 0, 0}, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
		})

		It("rejects embeddings of the wrong size", func() {
			_, err := ix.Query(ctx, "agent-a", []float32{1, 0}, 1)
			Expect(err).To(MatchError(vector.ErrDimensionMismatch))

			err = ix.Add(ctx, []vector.Document{{ID: "x", AgentID: "agent-a", Embedding: []float32{1}}})
			Expect(err).To(MatchError(vector.ErrDimensionMismatch))
		})

		It("replaces a re-added summary", func() {
			Expect(ix.Add(ctx, []vector.Document{
				{ID: "a-1", AgentID: "agent-a", Content: "updated", Embedding: []float32{0, 0, 1, 0}},
			})).To(Succeed())

			docs, err := ix.Get(ctx, []string{"a-1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(HaveLen(1))
			Expect(docs[0].Content).To(Equal("updated"))
			Expect(docs[0].Embedding).To(Equal([]float32{0, 0, 1, 0}))

			results, err := ix.Query(ctx, "agent-a", []float32{0, 0, 1, 0}, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(results[0].ID).To(Equal("a-1"))
		})

		It("deletes summaries and ignores unknown ids", func() {
			Expect(ix.Delete(ctx, []string{"a-1", "missing"})).To(Succeed())

			docs, err := ix.Get(ctx, []string{"a-1", "a-2"})
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(HaveLen(1))
			Expect(docs[0].ID).To(Equal("a-2"))

			results, err := ix.Query(ctx, "agent-a", []float32{1, 0, 0, 0}, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
		})
	})
})
