package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/llm-balancer/pkg/logger"
)

var _ = Describe("Logger", func() {
	var buf *bytes.Buffer

	BeforeEach(func() {
		buf = &bytes.Buffer{}
	})

	Describe("New", func() {
		It("should log JSON in prod with service and environment", func() {
			log := logger.New("info", false, "prod", logger.WithWriter(buf))
			log.Info("Worker is back up", slog.String("worker", "mac-mini"))

			var record map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &record)).To(Succeed())
			Expect(record).To(HaveKeyWithValue("msg", "Worker is back up"))
			Expect(record).To(HaveKeyWithValue("service", "llm-balancer"))
			Expect(record).To(HaveKeyWithValue("environment", "prod"))
			Expect(record).To(HaveKeyWithValue("worker", "mac-mini"))
		})

		It("should log text outside prod", func() {
			log := logger.New("info", false, "dev", logger.WithWriter(buf))
			log.Info("hello")

			Expect(buf.String()).To(ContainSubstring("msg=hello"))
			Expect(buf.String()).To(ContainSubstring("environment=dev"))
		})

		It("should drop records below the level", func() {
			log := logger.New("warn", false, "dev", logger.WithWriter(buf))
			log.Info("quiet")
			Expect(buf.Len()).To(BeZero())
		})

		It("should add the source when asked", func() {
			log := logger.New("info", true, "prod", logger.WithWriter(buf))
			log.Info("where")
			Expect(buf.String()).To(ContainSubstring(`"source"`))
		})
	})

	DescribeTable("level handling",
		func(level string, enabled, disabled slog.Level) {
			log := logger.New(level, false, "dev", logger.WithWriter(buf))
			Expect(log.Enabled(context.Background(), enabled)).To(BeTrue())
			Expect(log.Enabled(context.Background(), disabled)).To(BeFalse())
		},
		Entry("debug", "debug", slog.LevelDebug, slog.LevelDebug-1),
		Entry("info", "info", slog.LevelInfo, slog.LevelDebug),
		Entry("warn", "WARN", slog.LevelWarn, slog.LevelInfo),
		Entry("error", "error", slog.LevelError, slog.LevelWarn),
		Entry("unknown falls back to info", "verbose", slog.LevelInfo, slog.LevelDebug),
	)
})
