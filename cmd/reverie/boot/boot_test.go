package boot_test

import (
	"encoding/json"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/reverie/cmd/reverie/boot"
	"github.com/papercomputeco/reverie/cmd/reverie/sqlitepath"
	"github.com/papercomputeco/reverie/pkg/config"
)

func newCmd(configDir string) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config-dir", configDir, "")
	cmd.Flags().Bool("debug", false, "")

	var driver, sqlite string
	config.AddStringFlag(cmd, config.Flags, config.FlagStorageDriver, &driver)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &sqlite)
	return cmd
}

var _ = Describe("Load", func() {
	var configDir string

	BeforeEach(func() {
		configDir = GinkgoT().TempDir()
		GinkgoT().Setenv("HOME", GinkgoT().TempDir())
		GinkgoT().Setenv("XDG_DATA_HOME", "")

		origCwd, err := os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		Expect(os.Chdir(GinkgoT().TempDir())).To(Succeed())
		DeferCleanup(func() {
			Expect(os.Chdir(origCwd)).To(Succeed())
		})
	})

	It("places a new sqlite database in the config directory", func() {
		cfg, _, err := boot.Load(newCmd(configDir), []string{config.FlagStorageDriver, config.FlagSQLite})
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Storage.Driver).To(Equal("sqlite"))
		Expect(cfg.Storage.SQLitePath).To(Equal(filepath.Join(configDir, sqlitepath.FileName)))
	})

	It("lets flags override the config file", func() {
		data := "version = 0\n\n[storage]\ndriver = \"postgres\"\n"
		Expect(os.WriteFile(filepath.Join(configDir, "config.toml"), []byte(data), 0o600)).To(Succeed())

		cmd := newCmd(configDir)
		Expect(cmd.Flags().Set(config.FlagStorageDriver, "memory")).To(Succeed())

		cfg, _, err := boot.Load(cmd, []string{config.FlagStorageDriver})
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Storage.Driver).To(Equal("memory"))
		Expect(cfg.Storage.SQLitePath).To(BeEmpty())
	})

	It("keeps an explicit sqlite path", func() {
		cmd := newCmd(configDir)
		Expect(cmd.Flags().Set(config.FlagSQLite, "/tmp/explicit.sqlite")).To(Succeed())

		cfg, _, err := boot.Load(cmd, []string{config.FlagSQLite})
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Storage.SQLitePath).To(Equal("/tmp/explicit.sqlite"))
	})
})

var _ = Describe("NewLogger", func() {
	It("also writes JSON records to the log file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "reverie.log")

		cmd := &cobra.Command{Use: "test"}
		cmd.Flags().Bool("debug", false, "")
		cmd.Flags().String("log-format", "text", "")
		cmd.Flags().String("log-file", path, "")

		log, closeLog, err := boot.NewLogger(cmd)
		Expect(err).NotTo(HaveOccurred())
		log.Info("summary stored", "session_id", "s1")
		Expect(closeLog()).To(Succeed())

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())

		var record map[string]any
		Expect(json.Unmarshal(data, &record)).To(Succeed())
		Expect(record["msg"]).To(Equal("summary stored"))
		Expect(record["session_id"]).To(Equal("s1"))
	})

	It("rejects unknown log formats", func() {
		cmd := &cobra.Command{Use: "test"}
		cmd.Flags().String("log-format", "xml", "")

		_, _, err := boot.NewLogger(cmd)
		Expect(err).To(HaveOccurred())
	})
})
