// Package bridge runs the chat loop: transport updates in, agent runs out.
// Session commands, voice and photo intake, and spool or cron injections all
// feed the same per-chat pipeline, with one run in flight per chat.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/takohq/tako/internal/config"
	"github.com/takohq/tako/internal/events"
	"github.com/takohq/tako/internal/inject"
	"github.com/takohq/tako/internal/runner"
	"github.com/takohq/tako/internal/sessions"
	"github.com/takohq/tako/internal/transport"
	"github.com/takohq/tako/internal/voice"
)

const (
	busyReply   = "still working on the previous message."
	stopTimeout = 5 * time.Second
)

// Runner executes one agent invocation and streams its events.
type Runner interface {
	Run(ctx context.Context, prompt string, resume *events.ResumeToken) (Invocation, error)
}

// Invocation is one in-flight run. Events closes after the terminal event;
// Err is valid once Events is closed.
type Invocation interface {
	Events() <-chan events.Event
	Err() error
}

// Adapt wraps the concrete runner in the Runner interface.
func Adapt(r *runner.Runner) Runner { return runnerAdapter{r} }

type runnerAdapter struct{ r *runner.Runner }

func (a runnerAdapter) Run(ctx context.Context, prompt string, resume *events.ResumeToken) (Invocation, error) {
	inv, err := a.r.Run(ctx, prompt, resume)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// Bridge connects one transport to one engine runner.
type Bridge struct {
	cfg      *config.Config
	tp       transport.Transport
	store    *sessions.Store
	runner   Runner
	engineID string

	transcriber voice.Transcriber
	voiceMax    int64

	homeChat int64
	scope    string
	cwd      string
	photoDir string
	tracer   trace.Tracer

	mu    sync.Mutex
	slots map[string]chan struct{}
	runs  sync.WaitGroup
}

// New wires a bridge over the given transport. The runner must execute the
// configured default engine.
func New(cfg *config.Config, tp transport.Transport, store *sessions.Store, r Runner) (*Bridge, error) {
	b := &Bridge{
		cfg:      cfg,
		tp:       tp,
		store:    store,
		runner:   r,
		engineID: cfg.DefaultEngine,
		scope:    cfg.Transports.Telegram.Topics.Scope,
		photoDir: os.TempDir(),
		tracer:   otel.Tracer("github.com/takohq/tako/internal/bridge"),
		slots:    map[string]chan struct{}{},
	}
	if cwd, err := os.Getwd(); err == nil {
		b.cwd = cwd
	}

	switch tp.Name() {
	case "discord":
		if id := cfg.Transports.Discord.ChannelID; id != "" {
			parsed, err := strconv.ParseInt(id, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bridge: malformed discord channel id %q: %w", id, err)
			}
			b.homeChat = parsed
		}
	default:
		b.homeChat = cfg.Transports.Telegram.ChatID
	}

	if cfg.Transports.Telegram.VoiceTranscription {
		tr, err := voice.New(cfg.Voice)
		if err != nil {
			return nil, err
		}
		b.transcriber = tr
		b.voiceMax = cfg.Voice.MaxBytes
	}
	return b, nil
}

// Run serves the bridge until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	injectDir, err := b.cfg.InjectDir()
	if err != nil {
		return err
	}

	updates, err := b.tp.Start(ctx)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := b.tp.Stop(stopCtx); err != nil {
			slog.Warn("transport stop failed", "error", err)
		}
	}()

	if err := b.tp.SyncCommands(ctx, commandMenu()); err != nil {
		slog.Warn("command menu sync failed", "error", err)
	}

	injections := make(chan inject.Injection, 16)
	g, gctx := errgroup.WithContext(ctx)

	if b.homeChat == 0 {
		slog.Warn("injections disabled: no chat configured")
	} else {
		watcher := inject.NewWatcher(injectDir)
		g.Go(func() error {
			return watcher.Run(gctx, func(inj inject.Injection) {
				queueInjection(gctx, injections, inj)
			})
		})
		scheduler := inject.NewScheduler(b.cfg.Schedules)
		g.Go(func() error {
			return scheduler.Run(gctx, func(inj inject.Injection) {
				queueInjection(gctx, injections, inj)
			})
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case upd, ok := <-updates:
				if !ok {
					if gctx.Err() != nil {
						return nil
					}
					return errors.New("bridge: update stream closed")
				}
				b.handleUpdate(gctx, upd)
			case inj := <-injections:
				b.handleInjection(gctx, inj)
			}
		}
	})

	err = g.Wait()
	b.waitForRuns()
	return err
}

// waitForRuns gives in-flight run goroutines a bounded window to finish
// before the transport is stopped underneath them.
func (b *Bridge) waitForRuns() {
	done := make(chan struct{})
	go func() {
		b.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		slog.Warn("runs still in flight at shutdown")
	}
}

func queueInjection(ctx context.Context, ch chan<- inject.Injection, inj inject.Injection) {
	select {
	case ch <- inj:
	case <-ctx.Done():
	}
}

// handleUpdate routes one inbound update: callbacks and known commands are
// answered inline, everything else dispatches as a prompt.
func (b *Bridge) handleUpdate(ctx context.Context, upd transport.Update) {
	if upd.Callback != nil {
		b.handleCallback(ctx, upd)
		return
	}
	if upd.Voice == nil && upd.Photo == nil {
		if name, args, ok := parseCommand(upd.Text); ok {
			if b.handleCommand(ctx, upd, name, args) {
				return
			}
			// Unknown commands fall through as prompts.
		}
	}
	b.dispatch(ctx, upd)
}

// handleInjection runs an injected prompt in the configured chat. Unlike a
// typed prompt it waits for the chat to free up instead of bouncing.
func (b *Bridge) handleInjection(ctx context.Context, inj inject.Injection) {
	key := sessions.ChatKey{ChatID: b.homeChat}
	b.runs.Add(1)
	go func() {
		defer b.runs.Done()
		if !b.acquireWait(ctx, key) {
			return
		}
		defer b.release(key)
		if inj.NewSession {
			if err := b.store.NewSession(key, b.engineID); err != nil {
				slog.Warn("session reset failed", "error", err)
			}
		}
		b.runPrompt(ctx, runRequest{key: key, chatID: b.homeChat, prompt: inj.Text})
	}()
}

// dispatch runs the prompt in its own goroutine; a chat that is already
// running one gets a short busy reply instead.
func (b *Bridge) dispatch(ctx context.Context, upd transport.Update) {
	key := b.chatKey(upd)
	if !b.acquire(key) {
		b.reply(ctx, upd, busyReply, nil)
		return
	}
	b.runs.Add(1)
	go func() {
		defer b.runs.Done()
		defer b.release(key)
		prompt, ok := b.resolvePrompt(ctx, upd)
		if !ok {
			return
		}
		if strings.TrimSpace(prompt) == "" {
			slog.Debug("empty prompt; skipping", "chat", key.String())
			return
		}
		b.runPrompt(ctx, runRequest{
			key:      key,
			chatID:   upd.ChatID,
			threadID: upd.ThreadID,
			replyTo:  upd.MessageID,
			prompt:   prompt,
		})
	}()
}

// chatKey scopes the update to its session space. Under projects scope each
// forum topic owns its sessions; otherwise the chat shares one space.
func (b *Bridge) chatKey(upd transport.Update) sessions.ChatKey {
	key := sessions.ChatKey{ChatID: upd.ChatID}
	if b.scope == "projects" {
		key.Owner = int64(upd.ThreadID)
	}
	return key
}

func (b *Bridge) slot(key sessions.ChatKey) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[key.String()]
	if !ok {
		s = make(chan struct{}, 1)
		b.slots[key.String()] = s
	}
	return s
}

// acquire claims the chat's run slot without blocking.
func (b *Bridge) acquire(key sessions.ChatKey) bool {
	select {
	case b.slot(key) <- struct{}{}:
		return true
	default:
		return false
	}
}

// acquireWait blocks until the chat's run slot frees up or ctx dies.
func (b *Bridge) acquireWait(ctx context.Context, key sessions.ChatKey) bool {
	select {
	case b.slot(key) <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (b *Bridge) release(key sessions.ChatKey) {
	<-b.slot(key)
}

func commandMenu() []transport.Command {
	return []transport.Command{
		{Name: "sessions", Description: "List sessions"},
		{Name: "switch", Description: "Switch to a session"},
		{Name: "name", Description: "Name the current session"},
		{Name: "delete", Description: "Delete a session"},
		{Name: "new", Description: "Start a fresh session"},
		{Name: "clear", Description: "Drop all active sessions"},
		{Name: "help", Description: "Show available commands"},
	}
}
