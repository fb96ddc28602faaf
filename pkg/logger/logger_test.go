package logger_test

import (
	"bytes"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quietvale/notevault/pkg/logger"
)

func TestLogger(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Logger Suite")
}

var _ = Describe("NewLoggerWithWriters", func() {
	It("suppresses debug output at the default level", func() {
		var buf bytes.Buffer
		log := logger.NewLoggerWithWriters(false, &buf)
		log.Debug("hidden")
		log.Info("shown")
		Expect(buf.String()).NotTo(ContainSubstring("hidden"))
		Expect(buf.String()).To(ContainSubstring("shown"))
	})

	It("emits debug output when the debug flag is set", func() {
		var buf bytes.Buffer
		log := logger.NewLoggerWithWriters(true, &buf)
		log.Debug("visible")
		Expect(buf.String()).To(ContainSubstring("visible"))
	})

	It("lets NOTEVAULT_LOG_LEVEL override the debug flag", func() {
		GinkgoT().Setenv("NOTEVAULT_LOG_LEVEL", "error")
		var buf bytes.Buffer
		log := logger.NewLoggerWithWriters(true, &buf)
		log.Info("quiet")
		log.Error("loud")
		Expect(buf.String()).NotTo(ContainSubstring("quiet"))
		Expect(buf.String()).To(ContainSubstring("loud"))
	})
})
