package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/takohq/tako/internal/events"
)

// DefaultMaxActions bounds the recent-action window.
const DefaultMaxActions = 5

// Options tunes a Progress renderer. Zero values mean defaults: five
// recent lines, no command truncation, hints via ResumeToken.Format.
type Options struct {
	MaxActions   int
	CommandWidth int
	Cwd          string
	FormatResume func(events.ResumeToken) string
}

// Progress folds a run's event stream into the bounded body shown while
// the agent works and the final body shown when it completes. The fold is
// deterministic: the same events and elapsed time produce identical text.
type Progress struct {
	engine       string
	maxActions   int
	commandWidth int
	cwd          string
	formatResume func(events.ResumeToken) string

	actionCount int
	recent      []progressLine
	lastResume  *events.ResumeToken
	lastTitle   string
}

// progressLine is one slot of the recent-action window. id stays set while
// the action is open so later events can replace the line in place.
type progressLine struct {
	id   string
	text string
}

// NewProgress creates a renderer for one run of the given engine.
func NewProgress(engine string, opts Options) *Progress {
	if opts.MaxActions <= 0 {
		opts.MaxActions = DefaultMaxActions
	}
	if opts.FormatResume == nil {
		opts.FormatResume = events.ResumeToken.Format
	}
	return &Progress{
		engine:       engine,
		maxActions:   opts.MaxActions,
		commandWidth: opts.CommandWidth,
		cwd:          opts.Cwd,
		formatResume: opts.FormatResume,
	}
}

// Note folds one event and reports whether the rendered state changed.
// Unknown events leave the state untouched.
func (p *Progress) Note(evt events.Event) bool {
	switch e := evt.(type) {
	case events.SessionStarted:
		token := e.Resume()
		p.lastResume = &token
		p.lastTitle = e.Title
		return true
	case events.ActionStarted:
		p.upsert(e.Action.ID, startedLine(e.Action, p.cwd, p.commandWidth), true)
		return true
	case events.ActionCompleted:
		p.upsert(e.Action.ID, completedLine(e.Action, e.OK, p.cwd, p.commandWidth), false)
		return true
	}
	return false
}

// upsert replaces the line of a still-open action or appends a new one.
// keepOpen leaves the slot addressable by id; completion clears it, so a
// reused id starts a fresh line. Appends beyond the window evict the
// oldest line together with its id.
func (p *Progress) upsert(id, text string, keepOpen bool) {
	if id != "" {
		for i := range p.recent {
			if p.recent[i].id == id {
				p.recent[i].text = text
				if !keepOpen {
					p.recent[i].id = ""
				}
				return
			}
		}
	}
	line := progressLine{text: text}
	if keepOpen {
		line.id = id
	}
	p.recent = append(p.recent, line)
	p.actionCount++
	if len(p.recent) > p.maxActions {
		p.recent = p.recent[len(p.recent)-p.maxActions:]
	}
}

// ActionCount reports how many actions the run has surfaced so far.
func (p *Progress) ActionCount() int {
	return p.actionCount
}

// Resume returns the session token observed for this run, if any.
func (p *Progress) Resume() *events.ResumeToken {
	return p.lastResume
}

// RenderProgress returns the in-flight body for the given elapsed time.
func (p *Progress) RenderProgress(elapsed time.Duration) string {
	lines := make([]string, 0, len(p.recent)+2)
	lines = append(lines, p.header("working", elapsed))
	for _, line := range p.recent {
		lines = append(lines, line.text)
	}
	if p.lastResume != nil {
		lines = append(lines, p.formatResume(*p.lastResume))
	}
	return strings.Join(lines, "\n")
}

// RenderFinal returns the terminal body: status header, blank line, the
// answer, and the resume hint when one is known.
func (p *Progress) RenderFinal(elapsed time.Duration, answer, status string) string {
	parts := []string{p.header(status, elapsed), "", answer}
	if p.lastResume != nil {
		parts = append(parts, "", p.formatResume(*p.lastResume))
	}
	return strings.Join(parts, "\n")
}

func (p *Progress) header(status string, elapsed time.Duration) string {
	return fmt.Sprintf("%s · %ds · step %d", status, int(elapsed.Seconds()), p.actionCount)
}
