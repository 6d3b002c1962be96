package engine

import (
	"fmt"

	"github.com/takohq/tako/internal/events"
)

// Claude adapts the Claude CLI in print mode with stream-json output. The
// prompt travels on stdin; tool_use/tool_result pairs correlate by id.
type Claude struct {
	bin  string
	args []string
}

// NewClaude returns the claude adapter. bin defaults to "claude".
func NewClaude(bin string, args []string) *Claude {
	if bin == "" {
		bin = "claude"
	}
	return &Claude{bin: bin, args: args}
}

func (c *Claude) ID() string  { return "claude" }
func (c *Claude) Bin() string { return c.bin }

func (c *Claude) BuildArgs(prompt string, resume *events.ResumeToken) []string {
	args := append([]string{}, c.args...)
	args = append(args, "-p", "--output-format", "stream-json", "--verbose")
	if resume != nil {
		args = append(args, "--resume", resume.Value)
	}
	return args
}

func (c *Claude) StdinPayload(prompt string) []byte { return []byte(prompt) }

func (c *Claude) Env() []string { return nil }

func (c *Claude) Translate(data map[string]any, st *RunState) ([]events.Event, error) {
	switch asString(data["type"]) {
	case "system":
		if asString(data["subtype"]) != "init" {
			return nil, nil
		}
		id := asString(data["session_id"])
		if id == "" {
			return nil, fmt.Errorf("system init without a session id")
		}
		return []events.Event{events.SessionStarted{Engine: "claude", SessionID: id, Title: "Claude"}}, nil

	case "assistant":
		return c.assistantEvents(data, st)

	case "user":
		return c.toolResults(data, st), nil

	case "result":
		answer := asString(data["result"])
		if answer == "" {
			answer = st.Answer()
		}
		isError, _ := data["is_error"].(bool)
		evt := events.Completed{Engine: "claude", OK: !isError, Answer: answer}
		if isError {
			evt.Err = answer
			if evt.Err == "" {
				evt.Err = "claude reported an error result"
			}
		}
		return []events.Event{evt}, nil
	}
	return nil, nil
}

func (c *Claude) assistantEvents(data map[string]any, st *RunState) ([]events.Event, error) {
	blocks, err := contentBlocks(data)
	if err != nil {
		return nil, err
	}
	var out []events.Event
	for _, block := range blocks {
		switch asString(block["type"]) {
		case "text":
			st.AppendAnswer(asString(block["text"]))
		case "tool_use":
			action := toolUseAction(block)
			st.TrackAction(action)
			out = append(out, events.ActionStarted{Engine: "claude", Action: action})
		}
	}
	return out, nil
}

func (c *Claude) toolResults(data map[string]any, st *RunState) []events.Event {
	blocks, err := contentBlocks(data)
	if err != nil {
		return nil
	}
	var out []events.Event
	for _, block := range blocks {
		if asString(block["type"]) != "tool_result" {
			continue
		}
		id := asString(block["tool_use_id"])
		action, ok := st.FinishAction(id)
		if !ok {
			continue
		}
		isError, _ := block["is_error"].(bool)
		out = append(out, events.ActionCompleted{Engine: "claude", Action: action, OK: !isError})
	}
	return out
}

// toolUseAction renders Bash invocations as commands and every other tool
// by name.
func toolUseAction(block map[string]any) events.Action {
	id := asString(block["id"])
	name := asString(block["name"])
	input, _ := block["input"].(map[string]any)
	if name == "Bash" {
		if command := asString(input["command"]); command != "" {
			return events.Action{ID: id, Kind: events.KindCommand, Title: command}
		}
	}
	return events.Action{ID: id, Kind: events.KindTool, Title: name}
}

func contentBlocks(data map[string]any) ([]map[string]any, error) {
	message, ok := data["message"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("message event without a message object")
	}
	raw, ok := message["content"].([]any)
	if !ok {
		return nil, nil
	}
	blocks := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if block, ok := item.(map[string]any); ok {
			blocks = append(blocks, block)
		}
	}
	return blocks, nil
}
