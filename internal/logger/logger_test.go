package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ycyw-chat/internal/config"
	"ycyw-chat/internal/logger"
)

var _ = Describe("Logger", func() {
	It("enriches records with context fields", func() {
		var buf bytes.Buffer
		l := logger.New(config.Config{Env: "test", Logger: config.LoggerConfig{Level: "debug", Format: "json"}}, &buf)

		ctx := logger.WithLogFields(context.Background(), logger.LogFields{DialogID: logger.Ptr(int64(7))})
		l.DebugContext(ctx, "message appended", logger.Destination("/topic/dialog/7"))

		var record map[string]any
		Expect(json.Unmarshal(buf.Bytes(), &record)).To(Succeed())
		Expect(record).To(HaveKeyWithValue("dialog_id", BeNumerically("==", 7)))
		Expect(record).To(HaveKeyWithValue("destination", "/topic/dialog/7"))
		Expect(record).To(HaveKeyWithValue("env", "test"))
	})

	It("keeps the handler when attrs are added", func() {
		var buf bytes.Buffer
		l := logger.New(config.Config{Env: "test", Logger: config.LoggerConfig{Format: "json"}}, &buf).
			With("component", "chatbox")

		ctx := logger.WithLogFields(context.Background(), logger.LogFields{DialogID: logger.Ptr(int64(3))})
		l.InfoContext(ctx, "opened")

		var record map[string]any
		Expect(json.Unmarshal(buf.Bytes(), &record)).To(Succeed())
		Expect(record).To(HaveKeyWithValue("component", "chatbox"))
		Expect(record).To(HaveKeyWithValue("dialog_id", BeNumerically("==", 3)))
	})

	It("filters below the configured level", func() {
		var buf bytes.Buffer
		l := logger.New(config.Config{Env: "test", Logger: config.LoggerConfig{Level: "warn"}}, &buf)

		l.Info("hidden")
		Expect(buf.String()).To(BeEmpty())

		l.Warn("shown")
		Expect(buf.String()).To(ContainSubstring("shown"))
	})

	It("keeps earlier fields when merging empty ones", func() {
		ctx := logger.WithLogFields(context.Background(), logger.LogFields{DialogID: logger.Ptr(int64(1))})
		ctx = logger.WithLogFields(ctx, logger.LogFields{})
		Expect(*logger.GetLogFields(ctx).DialogID).To(Equal(int64(1)))

		ctx = logger.WithLogFields(ctx, logger.LogFields{DialogID: logger.Ptr(int64(2))})
		Expect(*logger.GetLogFields(ctx).DialogID).To(Equal(int64(2)))
	})

	It("falls back to the default logger", func() {
		Expect(logger.Or(nil)).To(BeIdenticalTo(slog.Default()))
		l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
		Expect(logger.Or(l)).To(BeIdenticalTo(l))
	})

	It("renders attrs", func() {
		Expect(logger.Err(errors.New("boom")).Value.String()).To(Equal("boom"))
		Expect(logger.Err(nil).Value.String()).To(BeEmpty())
		Expect(logger.Entry("e1").Key).To(Equal("entry_id"))
		Expect(logger.Dialog(9).Value.Int64()).To(Equal(int64(9)))
	})

	It("truncates long strings", func() {
		Expect(logger.Truncate("abcdef", 3)).To(Equal("abc..."))
		Expect(logger.Truncate("abc", 3)).To(Equal("abc"))
	})
})
