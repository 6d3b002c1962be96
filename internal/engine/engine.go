// Package engine adapts agent CLIs that speak line-delimited JSON on stdout
// to the shared event stream.
package engine

import (
	"fmt"
	"strings"

	"github.com/takohq/tako/internal/events"
)

// Engine describes one agent CLI. Implementations are stateless; per-run
// state lives in RunState.
type Engine interface {
	// ID is the engine name used in resume hints, lock keys and logs.
	ID() string
	// Bin is the binary to execute.
	Bin() string
	// BuildArgs returns the argv after the binary for one invocation.
	BuildArgs(prompt string, resume *events.ResumeToken) []string
	// StdinPayload returns the bytes written to the child's stdin, nil for
	// none. The pipe is closed either way.
	StdinPayload(prompt string) []byte
	// Env returns extra environment entries for the child, nil to inherit
	// the parent environment unchanged.
	Env() []string
	// Translate converts one decoded JSONL object into zero or more events.
	// Unknown payloads translate to nothing; malformed known payloads
	// return an error, which the runner downgrades to a warning note.
	Translate(data map[string]any, st *RunState) ([]events.Event, error)
}

// New returns the adapter for name, or an error for engines this build
// does not know.
func New(name, bin string, args []string) (Engine, error) {
	switch name {
	case "codex":
		return NewCodex(bin, args), nil
	case "claude":
		return NewClaude(bin, args), nil
	}
	return nil, fmt.Errorf("unknown engine %q", name)
}

// Names lists the engines New accepts.
func Names() []string {
	return []string{"codex", "claude"}
}

// RunState carries translator state shared across the lines of one run.
type RunState struct {
	answers []string
	open    map[string]events.Action
}

// NewRunState returns an empty state.
func NewRunState() *RunState {
	return &RunState{open: make(map[string]events.Action)}
}

// AppendAnswer records one assistant text block.
func (st *RunState) AppendAnswer(text string) {
	if text == "" {
		return
	}
	st.answers = append(st.answers, text)
}

// Answer joins the recorded assistant text blocks.
func (st *RunState) Answer() string {
	return strings.Join(st.answers, "\n\n")
}

// TrackAction remembers a started action so its completion can reuse the
// kind and title.
func (st *RunState) TrackAction(a events.Action) {
	st.open[a.ID] = a
}

// FinishAction returns and forgets the tracked action with this id.
func (st *RunState) FinishAction(id string) (events.Action, bool) {
	a, ok := st.open[id]
	if ok {
		delete(st.open, id)
	}
	return a, ok
}
