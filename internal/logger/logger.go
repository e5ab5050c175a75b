package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"ycyw-chat/internal/config"
)

// Setup installs the process-wide logger. Logs go to stderr; stdout belongs
// to the terminal UI.
func Setup(cfg config.Config) *slog.Logger {
	l := New(cfg, os.Stderr)
	slog.SetDefault(l)
	return l
}

// New builds a logger for cfg writing to w without touching the default.
func New(cfg config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Logger.Level),
		AddSource: cfg.IsProduction(),
	}
	if cfg.IsDevelopment() && cfg.Logger.Level == "" {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Logger.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(NewContextHandler(handler)).With(
		slog.String("env", cfg.Env),
		slog.Int("pid", os.Getpid()),
	)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ContextHandler adds the LogFields carried by the record's context.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if fields := GetLogFields(ctx); fields.DialogID != nil {
		r.AddAttrs(Dialog(*fields.DialogID))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// Or returns l, or the default logger when l is nil.
func Or(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
