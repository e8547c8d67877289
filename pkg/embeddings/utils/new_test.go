package embeddingutils_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reverie/pkg/config"
	embeddingutils "github.com/papercomputeco/reverie/pkg/embeddings/utils"
	"github.com/papercomputeco/reverie/pkg/embeddings/ollama"
	"github.com/papercomputeco/reverie/pkg/embeddings/openai"
)

var _ = Describe("FromConfig", func() {
	It("builds an ollama embedder", func() {
		e, err := embeddingutils.FromConfig(config.EmbeddingConfig{Provider: "ollama", Model: "embeddinggemma"})
		Expect(err).NotTo(HaveOccurred())
		Expect(e).To(BeAssignableToTypeOf(&ollama.Embedder{}))
	})

	It("builds an openai embedder from the environment key", func() {
		GinkgoT().Setenv("OPENAI_API_KEY", "sk-test")
		e, err := embeddingutils.FromConfig(config.EmbeddingConfig{Provider: "openai"})
		Expect(err).NotTo(HaveOccurred())
		Expect(e).To(BeAssignableToTypeOf(&openai.Embedder{}))
	})

	It("rejects unknown providers", func() {
		_, err := embeddingutils.FromConfig(config.EmbeddingConfig{Provider: "word2vec"})
		Expect(err).To(MatchError(ContainSubstring("unsupported embedding provider")))
	})
})
