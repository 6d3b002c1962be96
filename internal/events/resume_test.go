package events

import "testing"

// TestFormatRoundTrip verifies that a formatted hint parses back to an
// equal token.
func TestFormatRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		token ResumeToken
	}{
		{"codex uuid", ResumeToken{Engine: "codex", Value: "0199a213-5cfb-7a03-9ddf-a953d9c3e8f1"}},
		{"claude short", ResumeToken{Engine: "claude", Value: "sess-ABC"}},
		{"dotted value", ResumeToken{Engine: "codex", Value: "a.b.c_d-e"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractResume(tt.token.Engine, tt.token.Format())
			if got == nil {
				t.Fatalf("ExtractResume(%q) = nil", tt.token.Format())
			}
			if *got != tt.token {
				t.Errorf("round trip = %+v, want %+v", *got, tt.token)
			}
		})
	}
}

// TestExtractResumeLastWins verifies that the last hint in a text is the one
// returned.
func TestExtractResumeLastWins(t *testing.T) {
	text := "earlier run: `codex resume old-1`\n\nfinal: `codex resume new-2`"
	got := ExtractResume("codex", text)
	if got == nil {
		t.Fatal("ExtractResume returned nil")
	}
	if got.Value != "new-2" {
		t.Errorf("Value = %q, want %q", got.Value, "new-2")
	}
}

// TestExtractResumeAbsent covers texts without a hint and engine mismatches.
func TestExtractResumeAbsent(t *testing.T) {
	tests := []struct {
		name   string
		engine string
		text   string
	}{
		{"empty text", "codex", ""},
		{"no hint", "codex", "just an answer"},
		{"other engine", "claude", "`codex resume abc`"},
		{"unterminated backtick", "codex", "`codex resume abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractResume(tt.engine, tt.text); got != nil {
				t.Errorf("ExtractResume = %+v, want nil", *got)
			}
		})
	}
}

// TestFormatFor verifies the engine guard on hint formatting.
func TestFormatFor(t *testing.T) {
	token := ResumeToken{Engine: "codex", Value: "abc"}

	if _, err := token.FormatFor("claude"); err == nil {
		t.Error("FormatFor with wrong engine returned nil error")
	}

	got, err := token.FormatFor("codex")
	if err != nil {
		t.Fatalf("FormatFor: %v", err)
	}
	if got != "`codex resume abc`" {
		t.Errorf("FormatFor = %q", got)
	}
}

// TestSessionStartedResume verifies the event-to-token conversion.
func TestSessionStartedResume(t *testing.T) {
	evt := SessionStarted{Engine: "codex", SessionID: "sess-1", Title: "Codex"}
	want := ResumeToken{Engine: "codex", Value: "sess-1"}
	if got := evt.Resume(); got != want {
		t.Errorf("Resume() = %+v, want %+v", got, want)
	}
	if got := want.Key(); got != "codex:sess-1" {
		t.Errorf("Key() = %q", got)
	}
}
