// Package logging configures the process-wide slog logger and scrubs bot
// tokens from every record before it is written.
package logging

import (
	"context"
	"log/slog"
	"os"
	"regexp"
)

var (
	botTokenRe  = regexp.MustCompile(`bot\d+:[A-Za-z0-9_-]+`)
	bareTokenRe = regexp.MustCompile(`\b\d+:[A-Za-z0-9_-]{10,}\b`)
)

// Redact replaces Telegram bot tokens in s with placeholders. Applying it
// to already-redacted text changes nothing.
func Redact(s string) string {
	s = botTokenRe.ReplaceAllString(s, "bot[REDACTED]")
	return bareTokenRe.ReplaceAllString(s, "[REDACTED_TOKEN]")
}

// RedactHandler wraps another slog.Handler and redacts the message and all
// string attribute values of each record.
type RedactHandler struct {
	inner slog.Handler
}

// NewRedactHandler wraps inner with token redaction.
func NewRedactHandler(inner slog.Handler) *RedactHandler {
	return &RedactHandler{inner: inner}
}

func (h *RedactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactHandler) Handle(ctx context.Context, rec slog.Record) error {
	clean := slog.NewRecord(rec.Time, rec.Level, Redact(rec.Message), rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *RedactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cleaned := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		cleaned[i] = redactAttr(a)
	}
	return &RedactHandler{inner: h.inner.WithAttrs(cleaned)}
}

func (h *RedactHandler) WithGroup(name string) slog.Handler {
	return &RedactHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, Redact(a.Value.String()))
	case slog.KindGroup:
		group := a.Value.Group()
		cleaned := make([]any, 0, len(group))
		for _, g := range group {
			cleaned = append(cleaned, redactAttr(g))
		}
		return slog.Group(a.Key, cleaned...)
	default:
		return a
	}
}

// Setup installs the default logger: text records on stdout, debug level
// when verbose, bot tokens redacted.
func Setup(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	inner := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(NewRedactHandler(inner)))
}
