package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reverie/pkg/embeddings/ollama"
	"github.com/papercomputeco/reverie/pkg/vector"
)

var _ = Describe("Embedder", func() {
	It("posts the model and input to /api/embed", func() {
		var got map[string]string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/api/embed"))
			Expect(json.NewDecoder(r.Body).Decode(&got)).To(Succeed())
			_, _ = w.Write([]byte(`{"embeddings":[[0.5,0.25]]}`))
		}))
		defer server.Close()

		e, err := ollama.NewEmbedder(ollama.EmbedderConfig{BaseURL: server.URL + "/"})
		Expect(err).NotTo(HaveOccurred())

		emb, err := e.Embed(context.Background(), "hello")
		Expect(err).NotTo(HaveOccurred())
		Expect(emb).To(Equal([]float32{0.5, 0.25}))
		Expect(got).To(HaveKeyWithValue("model", ollama.DefaultEmbeddingModel))
		Expect(got).To(HaveKeyWithValue("input", "hello"))
	})

	It("wraps non-200 responses as embedding errors", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}))
		defer server.Close()

		e, err := ollama.NewEmbedder(ollama.EmbedderConfig{BaseURL: server.URL})
		Expect(err).NotTo(HaveOccurred())

		_, err = e.Embed(context.Background(), "hello")
		Expect(err).To(MatchError(vector.ErrEmbedding))
		Expect(err.Error()).To(ContainSubstring("404"))
	})

	It("rejects empty embedding responses", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"embeddings":[]}`))
		}))
		defer server.Close()

		e, err := ollama.NewEmbedder(ollama.EmbedderConfig{BaseURL: server.URL})
		Expect(err).NotTo(HaveOccurred())

		_, err = e.Embed(context.Background(), "hello")
		Expect(err).To(MatchError(vector.ErrEmbedding))
	})
})
