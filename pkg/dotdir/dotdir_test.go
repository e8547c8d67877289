package dotdir_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reverie/pkg/dotdir"
)

var _ = Describe("Resolve", func() {
	var root, work string

	BeforeEach(func() {
		var err error
		root, err = filepath.EvalSymlinks(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())

		work = filepath.Join(root, "work")
		Expect(os.Mkdir(work, 0o755)).To(Succeed())

		prev, err := os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		Expect(os.Chdir(work)).To(Succeed())
		DeferCleanup(os.Chdir, prev)

		GinkgoT().Setenv("HOME", root)
		GinkgoT().Setenv(dotdir.HomeEnv, "")
	})

	It("creates and returns an override", func() {
		dir := filepath.Join(root, "custom")
		got, err := dotdir.Resolve(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(dir))
		Expect(dir).To(BeADirectory())
	})

	It("prefers the override over REVERIE_HOME", func() {
		GinkgoT().Setenv(dotdir.HomeEnv, filepath.Join(root, "env"))
		got, err := dotdir.Resolve(filepath.Join(root, "flag"))
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(filepath.Join(root, "flag")))
	})

	It("uses REVERIE_HOME over a local directory", func() {
		Expect(os.Mkdir(filepath.Join(work, dotdir.Name), 0o755)).To(Succeed())
		GinkgoT().Setenv(dotdir.HomeEnv, filepath.Join(root, "env"))

		got, err := dotdir.Resolve("")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(filepath.Join(root, "env")))
	})

	It("uses an existing local directory", func() {
		local := filepath.Join(work, dotdir.Name)
		Expect(os.Mkdir(local, 0o755)).To(Succeed())

		got, err := dotdir.Resolve("")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(local))
	})

	It("falls back to the home directory", func() {
		got, err := dotdir.Resolve("")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(filepath.Join(root, dotdir.Name)))
		Expect(filepath.Join(work, dotdir.Name)).NotTo(BeAnExistingFile())
	})

	It("lists local then home candidates", func() {
		Expect(dotdir.Candidates()).To(Equal([]string{
			filepath.Join(work, dotdir.Name),
			filepath.Join(root, dotdir.Name),
		}))
	})
})
