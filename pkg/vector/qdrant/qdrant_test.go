package qdrant_test

import (
	"context"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reverie/pkg/logger"
	"github.com/papercomputeco/reverie/pkg/vector"
	"github.com/papercomputeco/reverie/pkg/vector/qdrant"
)

var _ = Describe("ParseEndpoint", func() {
	DescribeTable("splits endpoints",
		func(raw, host string, port int, tls bool) {
			h, p, useTLS, err := qdrant.ParseEndpoint(raw)
			Expect(err).NotTo(HaveOccurred())
			Expect(h).To(Equal(host))
			Expect(p).To(Equal(port))
			Expect(useTLS).To(Equal(tls))
		},
		Entry("empty", "", "localhost", qdrant.DefaultPort, false),
		Entry("bare host", "qdrant", "qdrant", qdrant.DefaultPort, false),
		Entry("host and port", "qdrant:7000", "qdrant", 7000, false),
		Entry("https url", "https://cloud.example.com:6334", "cloud.example.com", 6334, true),
	)

	It("rejects a bad port", func() {
		_, _, _, err := qdrant.ParseEndpoint("qdrant:abc")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Driver", func() {
	It("requires dimensions", func() {
		_, err := qdrant.NewDriver(context.Background(), qdrant.Config{}, logger.Nop())
		Expect(err).To(HaveOccurred())
	})

	It("round-trips documents against a live Qdrant", func() {
		endpoint := os.Getenv("REVERIE_TEST_QDRANT_URL")
		if endpoint == "" {
			Skip("REVERIE_TEST_QDRANT_URL not set, skipping Qdrant tests")
		}

		ctx := context.Background()
		driver, err := qdrant.NewDriver(ctx, qdrant.Config{
			URL:        endpoint,
			Collection: "reverie_test",
			Dimensions: 4,
		}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		defer driver.Close()

		Expect(driver.Add(ctx, []vector.Document{
			{ID: "a-1", AgentID: "agent-a", Content: "one", Embedding: []float32{1, 0, 0, 0}},
			{ID: "b-1", AgentID: "agent-b", Content: "two", Embedding: []float32{1, 0, 0, 0}},
		})).To(Succeed())

		results, err := driver.Query(ctx, "agent-a", []float32{1, 0, 0, 0}, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].ID).To(Equal("a-1"))

		Expect(driver.Delete(ctx, []string{"a-1", "b-1"})).To(Succeed())
		docs, err := driver.Get(ctx, []string{"a-1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(docs).To(BeEmpty())
	})
})
