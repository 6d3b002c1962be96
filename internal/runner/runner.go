// Package runner executes agent CLIs and converts their JSONL stdout into
// event streams. Runs that share a session are serialized through a lock
// registry, and every run terminates with exactly one Completed event
// unless a session-id violation makes the invocation fatal.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/takohq/tako/internal/engine"
	"github.com/takohq/tako/internal/events"
)

// Runner executes runs for one engine.
type Runner struct {
	eng   engine.Engine
	locks *LockRegistry
}

// New returns a Runner using locks to serialize same-session runs. A nil
// registry gets a private one.
func New(eng engine.Engine, locks *LockRegistry) *Runner {
	if locks == nil {
		locks = NewLockRegistry()
	}
	return &Runner{eng: eng, locks: locks}
}

// Invocation is one in-flight run. Events is closed after the terminal
// event. Err is valid once Events is closed and reports a fatal protocol
// violation; in that case no Completed was delivered.
type Invocation struct {
	ch  chan events.Event
	err error
}

// Events returns the run's event stream.
func (inv *Invocation) Events() <-chan events.Event { return inv.ch }

// Err reports the fatal error of the run, if any. Only valid after Events
// is closed.
func (inv *Invocation) Err() error { return inv.err }

// Run starts one agent invocation. When resume is supplied its session lock
// is taken before the child spawns; fresh runs take the lock when the child
// announces its session, before that event is delivered downstream.
func (r *Runner) Run(ctx context.Context, prompt string, resume *events.ResumeToken) (*Invocation, error) {
	if resume != nil && resume.Engine != r.eng.ID() {
		return nil, fmt.Errorf("resume token is for engine %q, not %q", resume.Engine, r.eng.ID())
	}
	inv := &Invocation{ch: make(chan events.Event)}
	go func() {
		defer close(inv.ch)
		inv.err = r.execute(ctx, prompt, resume, inv.ch)
	}()
	return inv, nil
}

func (r *Runner) execute(ctx context.Context, prompt string, resume *events.ResumeToken, out chan<- events.Event) error {
	rn := &run{
		eng:      r.eng,
		tag:      r.eng.ID(),
		locks:    r.locks,
		out:      out,
		supplied: resume,
		st:       engine.NewRunState(),
	}
	defer rn.unlock()

	if resume != nil {
		release, err := r.locks.Acquire(ctx, resume.Key())
		if err != nil {
			return err
		}
		rn.release = release
	}

	args := r.eng.BuildArgs(prompt, resume)
	cmd := exec.CommandContext(ctx, r.eng.Bin(), args...)
	// Wait must not hang on pipes a grandchild still holds open.
	cmd.WaitDelay = 10 * time.Second
	if extra := r.eng.Env(); len(extra) > 0 {
		cmd.Env = append(os.Environ(), extra...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return rn.spawnFailure(ctx, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return rn.spawnFailure(ctx, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return rn.spawnFailure(ctx, err)
	}
	if err := cmd.Start(); err != nil {
		return rn.spawnFailure(ctx, err)
	}
	slog.Debug("agent spawned", "engine", rn.tag, "pid", cmd.Process.Pid, "args", args)

	go func() {
		if payload := r.eng.StdinPayload(prompt); len(payload) > 0 {
			_, _ = stdin.Write(payload)
		}
		_ = stdin.Close()
	}()

	var drain sync.WaitGroup
	drain.Add(1)
	go func() {
		defer drain.Done()
		DrainStderr(rn.tag, stderr)
	}()

	streamErr := rn.stream(ctx, stdout)
	if streamErr != nil {
		// Fatal mid-stream: reap the child before reporting.
		_ = cmd.Process.Kill()
	}
	drain.Wait()

	rc := 0
	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			rc = exitErr.ExitCode()
		} else {
			rc = -1
		}
	}
	slog.Debug("agent exited", "engine", rn.tag, "pid", cmd.Process.Pid, "rc", rc)

	if streamErr != nil {
		return streamErr
	}
	return rn.finish(ctx, rc)
}

// run carries the state of one invocation.
type run struct {
	eng      engine.Engine
	tag      string
	locks    *LockRegistry
	out      chan<- events.Event
	supplied *events.ResumeToken
	found    *events.ResumeToken
	st       *engine.RunState
	noteSeq  int
	done     bool // terminal event delivered
	release  func()
}

func (rn *run) unlock() {
	if rn.release != nil {
		rn.release()
		rn.release = nil
	}
}

func (rn *run) emit(ctx context.Context, evt events.Event) error {
	select {
	case rn.out <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rn *run) nextNoteID() string {
	rn.noteSeq++
	return fmt.Sprintf("%s.note.%d", rn.tag, rn.noteSeq)
}

// note emits a synthetic warning-kind completion carrying message.
func (rn *run) note(ctx context.Context, message string, ok bool, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	level := "warning"
	if ok {
		level = "info"
	}
	return rn.emit(ctx, events.ActionCompleted{
		Engine: rn.tag,
		Action: events.Action{
			ID:     rn.nextNoteID(),
			Kind:   events.KindWarning,
			Title:  message,
			Detail: detail,
		},
		OK:      ok,
		Message: message,
		Level:   level,
	})
}

// sessionToken returns the token attached to terminal events: the one the
// child announced, else the one the caller supplied.
func (rn *run) sessionToken() *events.ResumeToken {
	if rn.found != nil {
		return rn.found
	}
	return rn.supplied
}

// stream consumes the child's stdout. It returns non-nil only for fatal
// protocol violations or a dead context.
func (rn *run) stream(ctx context.Context, stdout io.Reader) error {
	var fatal error
	readErr := ReadLines(stdout, func(line string) {
		if fatal != nil || rn.done {
			return
		}
		fatal = rn.processLine(ctx, line)
	})
	if fatal != nil {
		return fatal
	}
	if readErr != nil {
		slog.Debug("agent stdout read error", "engine", rn.tag, "error", readErr)
	}
	return nil
}

func (rn *run) processLine(ctx context.Context, line string) error {
	slog.Debug("agent line", "engine", rn.tag, "line", line)
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(trimmed), &data); err != nil {
		return rn.note(ctx, fmt.Sprintf("invalid JSON from %s; ignoring line", rn.tag), false,
			map[string]any{"line": trimmed})
	}

	evts, err := rn.eng.Translate(data, rn.st)
	if err != nil {
		detail := map[string]any{"error": err.Error()}
		if t, ok := data["type"]; ok {
			detail["type"] = t
		}
		if item, ok := data["item"].(map[string]any); ok {
			if it, ok := item["type"]; ok {
				detail["item_type"] = it
			}
		}
		return rn.note(ctx, fmt.Sprintf("%s translation error; ignoring event", rn.tag), false, detail)
	}

	for _, evt := range evts {
		switch e := evt.(type) {
		case events.SessionStarted:
			pass, err := rn.handleStarted(ctx, e)
			if err != nil {
				return err
			}
			if !pass {
				continue
			}
			if err := rn.emit(ctx, e); err != nil {
				return err
			}
		case events.Completed:
			if e.Resume == nil {
				e.Resume = rn.sessionToken()
			}
			if err := rn.emit(ctx, e); err != nil {
				return err
			}
			rn.done = true
			return nil
		default:
			if err := rn.emit(ctx, evt); err != nil {
				return err
			}
		}
	}
	return nil
}

// handleStarted validates the announced session and, for fresh runs, takes
// its lock before the event is delivered. Duplicate announcements of the
// same session are swallowed; a different one is fatal.
func (rn *run) handleStarted(ctx context.Context, evt events.SessionStarted) (bool, error) {
	token := evt.Resume()
	if token.Engine != rn.tag {
		return false, fmt.Errorf("%s emitted session token for engine %q", rn.tag, token.Engine)
	}
	if rn.supplied != nil && token.Value != rn.supplied.Value {
		return false, fmt.Errorf("%s emitted session id %s but expected %s", rn.tag, token.Value, rn.supplied.Value)
	}
	if rn.found == nil {
		if rn.supplied == nil {
			release, err := rn.locks.Acquire(ctx, token.Key())
			if err != nil {
				return false, err
			}
			rn.release = release
		}
		rn.found = &token
		return true, nil
	}
	if token.Value != rn.found.Value {
		return false, fmt.Errorf("%s emitted session id %s but expected %s", rn.tag, token.Value, rn.found.Value)
	}
	return false, nil
}

// finish emits the synthetic terminal events when the child exited without
// its own result.
func (rn *run) finish(ctx context.Context, rc int) error {
	if rn.done {
		return nil
	}
	if rc != 0 {
		message := fmt.Sprintf("%s failed (rc=%d).", rn.tag, rc)
		if err := rn.note(ctx, message, false, nil); err != nil {
			return err
		}
		rn.done = true
		return rn.emit(ctx, events.Completed{
			Engine: rn.tag,
			OK:     false,
			Answer: "",
			Resume: rn.sessionToken(),
			Err:    message,
		})
	}
	message := fmt.Sprintf("%s finished without a result event", rn.tag)
	rn.done = true
	return rn.emit(ctx, events.Completed{
		Engine: rn.tag,
		OK:     false,
		Answer: "",
		Resume: rn.sessionToken(),
		Err:    message,
	})
}

// spawnFailure reports a child that could not be started at all.
func (rn *run) spawnFailure(ctx context.Context, cause error) error {
	message := fmt.Sprintf("%s failed to open subprocess pipes", rn.tag)
	slog.Error("agent spawn failed", "engine", rn.tag, "error", cause)
	if err := rn.note(ctx, message, false, map[string]any{"error": cause.Error()}); err != nil {
		return err
	}
	rn.done = true
	return rn.emit(ctx, events.Completed{
		Engine: rn.tag,
		OK:     false,
		Answer: "",
		Resume: rn.sessionToken(),
		Err:    message,
	})
}
