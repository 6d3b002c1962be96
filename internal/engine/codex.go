package engine

import (
	"fmt"

	"github.com/takohq/tako/internal/events"
)

// Codex adapts the Codex CLI in exec mode. Resumed runs use
// `exec resume --json <session> <prompt>`.
type Codex struct {
	bin  string
	args []string
}

// NewCodex returns the codex adapter. bin defaults to "codex"; args are
// inserted before the exec subcommand.
func NewCodex(bin string, args []string) *Codex {
	if bin == "" {
		bin = "codex"
	}
	return &Codex{bin: bin, args: args}
}

func (c *Codex) ID() string  { return "codex" }
func (c *Codex) Bin() string { return c.bin }

func (c *Codex) BuildArgs(prompt string, resume *events.ResumeToken) []string {
	args := append([]string{}, c.args...)
	args = append(args, "exec")
	if resume != nil {
		args = append(args, "resume")
	}
	args = append(args, "--json")
	if resume != nil {
		args = append(args, resume.Value)
	}
	return append(args, prompt)
}

// StdinPayload is nil; codex takes the prompt as an argument.
func (c *Codex) StdinPayload(prompt string) []byte { return nil }

func (c *Codex) Env() []string { return nil }

func (c *Codex) Translate(data map[string]any, st *RunState) ([]events.Event, error) {
	switch asString(data["type"]) {
	case "session.started":
		id := asString(data["session_id"])
		if id == "" {
			id = asString(data["id"])
		}
		if id == "" {
			return nil, fmt.Errorf("session.started without a session id")
		}
		return []events.Event{events.SessionStarted{Engine: "codex", SessionID: id, Title: "Codex"}}, nil

	case "thread.started":
		id := asString(data["thread_id"])
		if id == "" {
			return nil, fmt.Errorf("thread.started without a thread id")
		}
		return []events.Event{events.SessionStarted{Engine: "codex", SessionID: id, Title: "Codex"}}, nil

	case "item.started", "item.updated":
		item, ok := data["item"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("item event without an item object")
		}
		return c.itemStarted(item, st), nil

	case "item.completed":
		item, ok := data["item"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("item event without an item object")
		}
		return c.itemCompleted(item, st), nil

	case "turn.completed":
		answer := asString(data["text"])
		if answer == "" {
			answer = st.Answer()
		}
		return []events.Event{events.Completed{Engine: "codex", OK: true, Answer: answer}}, nil

	case "turn.failed":
		message := "turn failed"
		if errObj, ok := data["error"].(map[string]any); ok {
			if m := asString(errObj["message"]); m != "" {
				message = m
			}
		}
		return []events.Event{events.Completed{Engine: "codex", OK: false, Answer: st.Answer(), Err: message}}, nil

	case "error":
		message := asString(data["message"])
		if message == "" {
			message = "agent error"
		}
		return []events.Event{events.ActionCompleted{
			Engine:  "codex",
			Action:  events.Action{ID: "codex.error", Kind: events.KindWarning, Title: message},
			OK:      false,
			Message: message,
			Level:   "warning",
		}}, nil
	}
	// turn.started, usage reports and anything unrecognized carry no
	// user-visible progress.
	return nil, nil
}

func (c *Codex) itemStarted(item map[string]any, st *RunState) []events.Event {
	action, ok := c.itemAction(item)
	if !ok {
		return nil
	}
	st.TrackAction(action)
	return []events.Event{events.ActionStarted{Engine: "codex", Action: action}}
}

func (c *Codex) itemCompleted(item map[string]any, st *RunState) []events.Event {
	switch asString(item["type"]) {
	case "agent_message":
		st.AppendAnswer(asString(item["text"]))
		return nil
	case "error":
		message := asString(item["message"])
		id := asString(item["id"])
		if id == "" {
			id = "codex.error"
		}
		return []events.Event{events.ActionCompleted{
			Engine:  "codex",
			Action:  events.Action{ID: id, Kind: events.KindWarning, Title: message},
			OK:      false,
			Message: message,
			Level:   "warning",
		}}
	}

	action, ok := c.itemAction(item)
	if !ok {
		return nil
	}
	st.FinishAction(action.ID)
	ok = asString(item["status"]) != "failed"
	if code, has := asInt(item["exit_code"]); has && code != 0 {
		ok = false
	}
	return []events.Event{events.ActionCompleted{Engine: "codex", Action: action, OK: ok}}
}

// itemAction maps a codex item to an action. Items with no user-visible
// progress (reasoning, todo lists, agent messages) map to nothing.
func (c *Codex) itemAction(item map[string]any) (events.Action, bool) {
	id := asString(item["id"])
	switch asString(item["type"]) {
	case "command_execution":
		detail := map[string]any{}
		if code, ok := asInt(item["exit_code"]); ok {
			detail["exit_code"] = code
		}
		if out := asString(item["aggregated_output"]); out != "" {
			detail["aggregated_output"] = out
		}
		return events.Action{ID: id, Kind: events.KindCommand, Title: asString(item["command"]), Detail: detail}, true

	case "mcp_tool_call":
		title := asString(item["tool"])
		if server := asString(item["server"]); server != "" {
			title = server + "." + title
		}
		return events.Action{ID: id, Kind: events.KindTool, Title: title}, true

	case "web_search":
		return events.Action{ID: id, Kind: events.KindWebSearch, Title: asString(item["query"])}, true

	case "file_change":
		changes, _ := item["changes"].([]any)
		title := fmt.Sprintf("%d files", len(changes))
		return events.Action{
			ID:     id,
			Kind:   events.KindFileChange,
			Title:  title,
			Detail: map[string]any{"changes": changes},
		}, true
	}
	return events.Action{}, false
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}
