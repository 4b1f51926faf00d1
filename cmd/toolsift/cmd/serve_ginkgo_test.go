package cmd

import (
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Serve", func() {
	Context("Version Setting", func() {
		It("records the build metadata on the root command", func() {
			SetVersion("1.2.3", "abc123", "2026-01-01")

			Expect(buildVersion).To(Equal("1.2.3"))
			Expect(buildCommit).To(Equal("abc123"))
			Expect(buildDate).To(Equal("2026-01-01"))
			Expect(rootCmd.Version).To(Equal("1.2.3"))
		})
	})

	Context("Environment Variable Handling", func() {
		It("falls back to the default when the variable is unset", func() {
			Expect(getEnvOrDefault("TOOLSIFT_NONEXISTENT", "fallback")).To(Equal("fallback"))
		})

		It("prefers the environment value when present", func() {
			os.Setenv("TOOLSIFT_GINKGO_PROBE", "from-env")
			defer os.Unsetenv("TOOLSIFT_GINKGO_PROBE")

			Expect(getEnvOrDefault("TOOLSIFT_GINKGO_PROBE", "fallback")).To(Equal("from-env"))
		})

		It("parses integer variables and ignores garbage", func() {
			os.Setenv("TOOLSIFT_GINKGO_INT", "4096")
			defer os.Unsetenv("TOOLSIFT_GINKGO_INT")

			Expect(getEnvIntOrDefault("TOOLSIFT_GINKGO_INT", 1)).To(Equal(4096))

			os.Setenv("TOOLSIFT_GINKGO_INT", "not-a-number")
			Expect(getEnvIntOrDefault("TOOLSIFT_GINKGO_INT", 7)).To(Equal(7))
		})
	})

	Context("Flag Registration", func() {
		It("registers the serve flags with their defaults", func() {
			Expect(serveCmd.Flags().Lookup("port")).NotTo(BeNil())
			Expect(serveCmd.Flags().Lookup("target-url")).NotTo(BeNil())
			Expect(serveCmd.Flags().Lookup("tools-file")).NotTo(BeNil())
			Expect(serveCmd.Flags().Lookup("max-value-bytes")).NotTo(BeNil())
			Expect(serveCmd.Flags().Lookup("no-entity-decoding")).NotTo(BeNil())
		})

		It("formats limits for the startup banner", func() {
			Expect(limitString(0)).To(Equal("default"))
			Expect(limitString(4096)).To(Equal("4096"))
		})
	})
})
