package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reverie/api"
	"github.com/papercomputeco/reverie/api/client"
	"github.com/papercomputeco/reverie/pkg/jobqueue"
	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/storage"
	"github.com/papercomputeco/reverie/pkg/storage/storagetest"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var _ = Describe("Client", func() {
	var (
		ctx    context.Context
		mux    *http.ServeMux
		server *httptest.Server
		c      *client.Client
	)

	BeforeEach(func() {
		ctx = context.Background()
		mux = http.NewServeMux()
		server = httptest.NewServer(mux)
		DeferCleanup(server.Close)

		var err error
		c, err = client.New(server.URL)
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects targets without a scheme", func() {
		_, err := client.New("localhost:8081")
		Expect(err).To(HaveOccurred())
	})

	It("sends search parameters and decodes summaries", func() {
		mux.HandleFunc("GET /v1/agents/agent-a/summaries/search", func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.URL.Query().Get("q")).To(Equal("tomatoes"))
			Expect(r.URL.Query().Get("kind")).To(Equal("daily"))
			Expect(r.URL.Query().Get("limit")).To(Equal("3"))

			sum := storagetest.SessionSummary("agent-a", "s1", 0, "Tomatoes need sun.", "gardening")
			writeJSON(w, http.StatusOK, api.SummariesResponse{
				AgentID:   "agent-a",
				Kind:      memory.KindDaily,
				Summaries: []memory.Summary{*sum},
				Count:     1,
			})
		})

		out, err := c.Search(ctx, "agent-a", "tomatoes", memory.KindDaily, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Count).To(Equal(1))
		Expect(out.Summaries[0].Body).To(Equal("Tomatoes need sun."))
	})

	It("lists and replays dead letters", func() {
		job := jobqueue.ReflectionJob{AgentID: "agent-a", SessionID: "s1"}
		mux.HandleFunc("GET /v1/deadletters", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, []storage.DeadLetter{{ID: "dl-1", Job: job, LastError: "boom"}})
		})
		mux.HandleFunc("POST /v1/deadletters/dl-1/replay", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, api.ReplayResponse{ID: "dl-1", Job: &job})
		})

		entries, err := c.DeadLetters(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].LastError).To(Equal("boom"))

		replayed, err := c.Replay(ctx, "dl-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(replayed.Job.SessionID).To(Equal("s1"))
	})

	It("surfaces API errors", func() {
		mux.HandleFunc("POST /v1/deadletters/missing/replay", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "dead letter not found"})
		})

		_, err := c.Replay(ctx, "missing")

		var statusErr *client.StatusError
		Expect(errors.As(err, &statusErr)).To(BeTrue())
		Expect(statusErr.Code).To(Equal(http.StatusNotFound))
		Expect(statusErr.Message).To(Equal("dead letter not found"))
	})
})
