// Package render turns runner events into chat text: single event lines
// for the terminal, the stateful progress body for message edits, and
// Telegram-safe HTML.
package render

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/takohq/tako/internal/events"
)

// EventLines renders one event for the terminal. SessionStarted shows the
// engine name, actions render as single lines, Completed renders nothing
// (the caller prints the answer itself).
func EventLines(evt events.Event, cwd string) []string {
	switch e := evt.(type) {
	case events.SessionStarted:
		return []string{e.Engine}
	case events.ActionStarted:
		return []string{startedLine(e.Action, cwd, 0)}
	case events.ActionCompleted:
		return []string{completedLine(e.Action, e.OK, cwd, 0)}
	}
	return nil
}

func startedLine(a events.Action, cwd string, commandWidth int) string {
	switch a.Kind {
	case events.KindCommand:
		return "▸ " + backtick(clipCells(a.Title, commandWidth))
	case events.KindTool:
		return "tool: " + a.Title
	case events.KindWebSearch:
		return "searched: " + a.Title
	case events.KindFileChange:
		return "files: " + changesText(a, cwd)
	default:
		return "▸ " + a.Title
	}
}

func completedLine(a events.Action, ok bool, cwd string, commandWidth int) string {
	switch a.Kind {
	case events.KindCommand:
		cmd := backtick(clipCells(a.Title, commandWidth))
		if ok {
			return "✓ " + cmd
		}
		if code, found := exitCode(a.Detail); found {
			return fmt.Sprintf("✗ %s (exit %d)", cmd, code)
		}
		return "✗ " + cmd
	case events.KindTool:
		return "tool: " + a.Title
	case events.KindWebSearch:
		return "searched: " + a.Title
	case events.KindFileChange:
		return "files: " + changesText(a, cwd)
	default:
		if ok {
			return "✓ " + a.Title
		}
		return "✗ " + a.Title
	}
}

// changesText renders file-change details as "{kind} `{path}`" pairs.
// Absolute paths inside cwd render relative; anything else stays verbatim.
func changesText(a events.Action, cwd string) string {
	changes, _ := a.Detail["changes"].([]any)
	parts := make([]string, 0, len(changes))
	for _, raw := range changes {
		change, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		kind, _ := change["kind"].(string)
		path, _ := change["path"].(string)
		parts = append(parts, kind+" "+backtick(displayPath(path, cwd)))
	}
	if len(parts) == 0 {
		return a.Title
	}
	return strings.Join(parts, ", ")
}

func displayPath(path, cwd string) string {
	if cwd == "" || !filepath.IsAbs(path) {
		return path
	}
	rel, err := filepath.Rel(cwd, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}

func exitCode(detail map[string]any) (int, bool) {
	switch v := detail["exit_code"].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// clipCells truncates text to width display cells. Zero width disables
// truncation.
func clipCells(text string, width int) string {
	if width <= 0 {
		return text
	}
	return runewidth.Truncate(text, width, "…")
}

func backtick(text string) string {
	return "`" + text + "`"
}
