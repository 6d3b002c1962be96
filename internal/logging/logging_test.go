package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

// TestRedact covers the token shapes that must never reach a log sink.
func TestRedact(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"bot url token",
			"GET https://api.telegram.org/bot123456:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw/getMe",
			"GET https://api.telegram.org/bot[REDACTED]/getMe",
		},
		{
			"bare token",
			"token 123456:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw rejected",
			"token [REDACTED_TOKEN] rejected",
		},
		{
			"short pair untouched",
			"retry 3:5 backoff",
			"retry 3:5 backoff",
		},
		{
			"no token",
			"plain message",
			"plain message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Redact(tt.in)
			if got != tt.want {
				t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := Redact(got); again != got {
				t.Errorf("second Redact changed output: %q -> %q", got, again)
			}
		})
	}
}

// TestRedactHandler verifies redaction applies to messages, attrs and
// attrs bound via With.
func TestRedactHandler(t *testing.T) {
	token := "987654:AAE9y8Zw0kXbQ2mVp5cRtU7iOlKjHgFdSq1"

	var buf bytes.Buffer
	logger := slog.New(NewRedactHandler(slog.NewTextHandler(&buf, nil)))

	logger.Info("sending bot"+token+" request", "url", "https://api.telegram.org/bot"+token+"/sendMessage")
	logger.With("token", token).Warn("auth failed")

	out := buf.String()
	if strings.Contains(out, token) {
		t.Fatalf("log output leaks token: %s", out)
	}
	if !strings.Contains(out, "bot[REDACTED]") {
		t.Errorf("bot token not redacted: %s", out)
	}
	if !strings.Contains(out, "[REDACTED_TOKEN]") {
		t.Errorf("bare token not redacted: %s", out)
	}
}
