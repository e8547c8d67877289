package sqlitepath

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ResolveSQLitePath", func() {
	var (
		homeDir string
		cwd     string
	)

	BeforeEach(func() {
		homeDir = GinkgoT().TempDir()
		cwd = GinkgoT().TempDir()

		GinkgoT().Setenv("HOME", homeDir)
		GinkgoT().Setenv("XDG_DATA_HOME", "")

		origCwd, err := os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		Expect(os.Chdir(cwd)).To(Succeed())
		DeferCleanup(func() {
			Expect(os.Chdir(origCwd)).To(Succeed())
		})
	})

	It("returns the override untouched", func() {
		Expect(ResolveSQLitePath("/tmp/custom.sqlite", "/ignored")).To(Equal("/tmp/custom.sqlite"))
	})

	It("finds an existing ~/.reverie database", func() {
		dbPath := filepath.Join(homeDir, ".reverie", FileName)
		Expect(os.MkdirAll(filepath.Dir(dbPath), 0o755)).To(Succeed())
		Expect(os.WriteFile(dbPath, []byte("test"), 0o644)).To(Succeed())

		Expect(ResolveSQLitePath("", "/somewhere/else")).To(Equal(dbPath))
	})

	It("prefers a database in the working directory", func() {
		Expect(os.WriteFile(FileName, []byte("test"), 0o644)).To(Succeed())
		Expect(os.MkdirAll(filepath.Join(homeDir, ".reverie"), 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(homeDir, ".reverie", FileName), []byte("test"), 0o644)).To(Succeed())

		Expect(ResolveSQLitePath("", "")).To(Equal(FileName))
	})

	It("finds a database under XDG_DATA_HOME", func() {
		xdg := GinkgoT().TempDir()
		GinkgoT().Setenv("XDG_DATA_HOME", xdg)

		dbPath := filepath.Join(xdg, "reverie", FileName)
		Expect(os.MkdirAll(filepath.Dir(dbPath), 0o755)).To(Succeed())
		Expect(os.WriteFile(dbPath, []byte("test"), 0o644)).To(Succeed())

		Expect(ResolveSQLitePath("", "")).To(Equal(dbPath))
	})

	It("falls back to the config directory", func() {
		Expect(ResolveSQLitePath("", "/data/.reverie")).To(Equal(filepath.Join("/data/.reverie", FileName)))
	})

	It("falls back to the working directory without a config directory", func() {
		Expect(ResolveSQLitePath("", "")).To(Equal(FileName))
	})
})

var _ = Describe("sqliteCandidates", func() {
	It("searches the working directory before the reverie directories", func() {
		home := GinkgoT().TempDir()
		GinkgoT().Setenv("HOME", home)
		GinkgoT().Setenv("XDG_DATA_HOME", "/xdg")

		cands := sqliteCandidates()
		Expect(cands[0]).To(Equal(FileName))
		Expect(cands).To(ContainElement(filepath.Join(home, ".reverie", FileName)))
		Expect(cands[len(cands)-1]).To(Equal(filepath.Join("/xdg", "reverie", FileName)))
	})
})
