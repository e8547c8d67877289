package versioncmder_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	versioncmder "github.com/papercomputeco/reverie/cmd/version"
	"github.com/papercomputeco/reverie/pkg/utils"
)

var _ = Describe("version", func() {
	run := func(args ...string) string {
		var out bytes.Buffer
		cmd := versioncmder.NewVersionCmd()
		cmd.SetOut(&out)
		cmd.SetArgs(args)
		Expect(cmd.Execute()).To(Succeed())
		return out.String()
	}

	It("prints version, commit and build time", func() {
		out := run()
		Expect(out).To(ContainSubstring(utils.Version))
		Expect(out).To(ContainSubstring(utils.Sha))
		Expect(out).To(ContainSubstring("Built:"))
	})

	It("prints one line with --short", func() {
		Expect(run("--short")).To(Equal(utils.BuildInfo() + "\n"))
	})
})
