package render

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/takohq/tako/internal/events"
)

func started(id, kind, title string) events.ActionStarted {
	return events.ActionStarted{
		Engine: "codex",
		Action: events.Action{ID: id, Kind: kind, Title: title},
	}
}

func completed(id, kind, title string, ok bool, detail map[string]any) events.ActionCompleted {
	return events.ActionCompleted{
		Engine: "codex",
		Action: events.Action{ID: id, Kind: kind, Title: title, Detail: detail},
		OK:     ok,
	}
}

func sampleRun() []events.Event {
	return []events.Event{
		events.SessionStarted{Engine: "codex", SessionID: "0199a213-81c0-7800-8aa1-bbab2a035a53", Title: "Codex"},
		started("a-1", events.KindCommand, "bash -lc ls"),
		completed("a-1", events.KindCommand, "bash -lc ls", true, map[string]any{"exit_code": 0}),
		completed("a-2", events.KindNote, "Checking repository root for README", true, nil),
	}
}

func recentTexts(p *Progress) []string {
	out := make([]string, len(p.recent))
	for i, line := range p.recent {
		out[i] = line.text
	}
	return out
}

// TestProgressRendersProgressAndFinal verifies the working and final bodies
// for a small complete run, including the resume hint placement.
func TestProgressRendersProgressAndFinal(t *testing.T) {
	p := NewProgress("codex", Options{MaxActions: 5})
	for _, evt := range sampleRun() {
		p.Note(evt)
	}

	progress := p.RenderProgress(3 * time.Second)
	if !strings.HasPrefix(progress, "working · 3s · step 2") {
		t.Fatalf("progress header = %q", progress)
	}
	if !strings.Contains(progress, "✓ `bash -lc ls`") {
		t.Fatalf("progress body missing completed command:\n%s", progress)
	}
	if !strings.Contains(progress, "`codex resume 0199a213-81c0-7800-8aa1-bbab2a035a53`") {
		t.Fatalf("progress body missing resume hint:\n%s", progress)
	}

	final := p.RenderFinal(3*time.Second, "answer", "done")
	if !strings.HasPrefix(final, "done · 3s · step 2") {
		t.Fatalf("final header = %q", final)
	}
	if !strings.Contains(final, "answer") {
		t.Fatalf("final body missing answer:\n%s", final)
	}
	if !strings.HasSuffix(strings.TrimSpace(final), "`codex resume 0199a213-81c0-7800-8aa1-bbab2a035a53`") {
		t.Fatalf("final body must end with the resume hint:\n%s", final)
	}
}

// TestProgressCustomResumeFormatter verifies the hint formatter hook.
func TestProgressCustomResumeFormatter(t *testing.T) {
	p := NewProgress("codex", Options{
		FormatResume: func(token events.ResumeToken) string {
			return "resume with: codex exec resume " + token.Value
		},
	})
	p.Note(events.SessionStarted{Engine: "codex", SessionID: "id-1"})

	got := p.RenderProgress(0)
	if !strings.Contains(got, "resume with: codex exec resume id-1") {
		t.Fatalf("custom formatter not applied:\n%s", got)
	}
}

// TestProgressClampsActions verifies the recent window drops the oldest
// lines and that terminal or unknown events leave the fold untouched.
func TestProgressClampsActions(t *testing.T) {
	p := NewProgress("codex", Options{MaxActions: 3, CommandWidth: 20})
	for i := 0; i < 6; i++ {
		evt := completed(fmt.Sprintf("item_%d", i), events.KindCommand, fmt.Sprintf("echo %d", i), true, map[string]any{"exit_code": 0})
		if !p.Note(evt) {
			t.Fatalf("Note(%d) = false, want true", i)
		}
	}

	lines := recentTexts(p)
	if len(lines) != 3 {
		t.Fatalf("recent window = %d lines, want 3", len(lines))
	}
	if !strings.Contains(lines[0], "echo 3") || !strings.Contains(lines[2], "echo 5") {
		t.Fatalf("recent window = %v, want echo 3..5", lines)
	}
	if p.ActionCount() != 6 {
		t.Fatalf("ActionCount = %d, want 6", p.ActionCount())
	}

	if p.Note(events.Completed{Engine: "codex", OK: true}) {
		t.Fatal("Note(Completed) = true, want false (terminal events are not folded)")
	}
	if p.Note(nil) {
		t.Fatal("Note(nil) = true, want false")
	}
}

// TestProgressDuplicateActionIDs verifies a completed id is forgotten, so
// reusing it starts a fresh line instead of overwriting the old one.
func TestProgressDuplicateActionIDs(t *testing.T) {
	p := NewProgress("codex", Options{MaxActions: 5})
	seq := []events.Event{
		started("dup", events.KindCommand, "echo first"),
		completed("dup", events.KindCommand, "echo first", true, map[string]any{"exit_code": 0}),
		started("dup", events.KindCommand, "echo second"),
		completed("dup", events.KindCommand, "echo second", true, map[string]any{"exit_code": 0}),
	}
	for _, evt := range seq {
		if !p.Note(evt) {
			t.Fatalf("Note(%T) = false, want true", evt)
		}
	}

	lines := recentTexts(p)
	if len(lines) != 2 {
		t.Fatalf("recent window = %v, want two lines", lines)
	}
	if !strings.HasPrefix(lines[0], "✓ ") || !strings.Contains(lines[0], "echo first") {
		t.Fatalf("first line = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "✓ ") || !strings.Contains(lines[1], "echo second") {
		t.Fatalf("second line = %q", lines[1])
	}
	if p.ActionCount() != 2 {
		t.Fatalf("ActionCount = %d, want 2", p.ActionCount())
	}
}

// TestProgressCollapsesActionUpdates verifies repeated ActionStarted for an
// open id updates its line in place.
func TestProgressCollapsesActionUpdates(t *testing.T) {
	p := NewProgress("codex", Options{MaxActions: 5})
	seq := []events.Event{
		started("a-1", events.KindCommand, "echo one"),
		started("a-1", events.KindCommand, "echo two"),
		completed("a-1", events.KindCommand, "echo two", true, map[string]any{"exit_code": 0}),
	}
	for _, evt := range seq {
		if !p.Note(evt) {
			t.Fatalf("Note(%T) = false, want true", evt)
		}
	}

	if p.ActionCount() != 1 {
		t.Fatalf("ActionCount = %d, want 1", p.ActionCount())
	}
	lines := recentTexts(p)
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "✓ ") || !strings.Contains(lines[0], "echo two") {
		t.Fatalf("recent window = %v", lines)
	}
}

// TestProgressDeterministic verifies equal event sequences render to
// byte-identical bodies.
func TestProgressDeterministic(t *testing.T) {
	seq := []events.Event{
		started("a-1", events.KindCommand, "echo ok"),
		completed("a-1", events.KindCommand, "echo ok", true, map[string]any{"exit_code": 0}),
	}
	p1 := NewProgress("codex", Options{MaxActions: 5})
	p2 := NewProgress("codex", Options{MaxActions: 5})
	for _, evt := range seq {
		p1.Note(evt)
		p2.Note(evt)
	}

	if a, b := p1.RenderProgress(time.Second), p2.RenderProgress(time.Second); a != b {
		t.Fatalf("renders differ:\n%s\n---\n%s", a, b)
	}
}

// TestProgressCommandWidth verifies display-cell truncation of command
// titles.
func TestProgressCommandWidth(t *testing.T) {
	p := NewProgress("codex", Options{CommandWidth: 10})
	p.Note(started("a-1", events.KindCommand, "echo something very long"))

	lines := recentTexts(p)
	if len(lines) != 1 {
		t.Fatalf("recent window = %v", lines)
	}
	if !strings.Contains(lines[0], "…") {
		t.Fatalf("line not truncated: %q", lines[0])
	}
	if strings.Contains(lines[0], "very long") {
		t.Fatalf("line kept full command: %q", lines[0])
	}
}

// TestProgressBodyRendersAsHTML verifies the progress body survives the
// markdown→HTML conversion with commands as code spans.
func TestProgressBodyRendersAsHTML(t *testing.T) {
	p := NewProgress("codex", Options{MaxActions: 5})
	for _, i := range []int{30, 31, 32} {
		p.Note(completed(fmt.Sprintf("item_%d", i), events.KindCommand, fmt.Sprintf("echo %d", i), true, map[string]any{"exit_code": 0}))
	}

	html := MarkdownToHTML(p.RenderProgress(0))
	for _, want := range []string{"<code>echo 30</code>", "<code>echo 31</code>", "<code>echo 32</code>"} {
		if !strings.Contains(html, want) {
			t.Fatalf("html missing %q:\n%s", want, html)
		}
	}
}
