package inmemory_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/storage"
	"github.com/papercomputeco/reverie/pkg/storage/inmemory"
	"github.com/papercomputeco/reverie/pkg/storage/storagetest"
)

var _ = storagetest.DescribeDriver("inmemory", func() storage.Driver {
	return inmemory.NewDriver()
})

var _ = Describe("Driver", func() {
	It("does not share slices with callers", func() {
		ctx := context.Background()
		d := inmemory.NewDriver()

		s := storagetest.SessionSummary("agent-a", "sess-1", time.Hour, "body", "one")
		_, err := d.Append(ctx, s)
		Expect(err).NotTo(HaveOccurred())

		s.Topics[0] = "mutated"

		got, err := d.Get(ctx, "agent-a", "sess-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Topics).To(Equal([]string{"one"}))

		got.Topics[0] = "mutated again"
		again, err := d.Get(ctx, "agent-a", "sess-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(again.Topics).To(Equal([]string{"one"}))
	})

	It("accepts concurrent appends of the same id exactly once", func() {
		ctx := context.Background()
		d := inmemory.NewDriver()

		results := make(chan bool, 20)
		for range 20 {
			go func() {
				defer GinkgoRecover()
				inserted, err := d.Append(ctx, storagetest.SessionSummary("agent-a", "sess-1", 0, "body"))
				Expect(err).NotTo(HaveOccurred())
				results <- inserted
			}()
		}

		inserted := 0
		for range 20 {
			if <-results {
				inserted++
			}
		}
		Expect(inserted).To(Equal(1))

		found, err := d.Recent(ctx, "agent-a", memory.KindSession, memory.Epoch, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(HaveLen(1))
	})
})
