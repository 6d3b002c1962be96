// Package events defines the event stream a running agent produces: session
// announcements, action progress, and the single terminal completion.
package events

// Action is one user-visible sub-step of a run (a command, a tool call, a
// file edit, a synthetic note). ID is stable across the started/completed
// pair; Detail carries engine payload fields verbatim.
type Action struct {
	ID     string
	Kind   string
	Title  string
	Detail map[string]any
}

// Action kinds with dedicated rendering. Engines may emit other kinds;
// those render in the generic form.
const (
	KindCommand    = "command"
	KindTool       = "tool"
	KindWebSearch  = "web_search"
	KindFileChange = "file_change"
	KindNote       = "note"
	KindWarning    = "warning"
)

// Event is one item of a run's output stream. The concrete types are
// SessionStarted, ActionStarted, ActionCompleted and Completed.
type Event interface {
	event()
}

// SessionStarted announces the session id the agent minted (or confirmed)
// for this run. At most one per run.
type SessionStarted struct {
	Engine    string
	SessionID string
	Title     string
}

func (SessionStarted) event() {}

// Resume returns the token that continues this session.
func (e SessionStarted) Resume() ResumeToken {
	return ResumeToken{Engine: e.Engine, Value: e.SessionID}
}

// ActionStarted marks an action as in progress.
type ActionStarted struct {
	Engine string
	Action Action
}

func (ActionStarted) event() {}

// ActionCompleted marks an action as finished. Message mirrors the title for
// synthetic notes; Level is "info" for successes and "warning" otherwise.
type ActionCompleted struct {
	Engine  string
	Action  Action
	OK      bool
	Message string
	Level   string
}

func (ActionCompleted) event() {}

// Completed terminates a run. Exactly one is delivered per run, always last.
// Resume carries the session token when one was observed or supplied.
type Completed struct {
	Engine string
	OK     bool
	Answer string
	Resume *ResumeToken
	Err    string
}

func (Completed) event() {}
