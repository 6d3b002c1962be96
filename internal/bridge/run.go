package bridge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/takohq/tako/internal/events"
	"github.com/takohq/tako/internal/render"
	"github.com/takohq/tako/internal/sessions"
	"github.com/takohq/tako/internal/transport"
)

const (
	// editInterval is the minimum spacing between progress edits.
	editInterval = 800 * time.Millisecond
	placeholder  = "…"
)

// runRequest is one prompt ready to execute, with the chat coordinates its
// placeholder and edits go to.
type runRequest struct {
	key      sessions.ChatKey
	chatID   int64
	threadID int
	replyTo  int
	prompt   string
}

// runPrompt executes one prompt end to end: placeholder, streamed progress
// edits, session bookkeeping, and the final answer.
func (b *Bridge) runPrompt(ctx context.Context, req runRequest) {
	ctx, span := b.tracer.Start(ctx, "bridge.run", trace.WithAttributes(
		attribute.String("engine", b.engineID),
		attribute.String("chat", req.key.String()),
	))
	ok := false
	defer func() {
		span.SetAttributes(attribute.Bool("ok", ok))
		span.End()
	}()

	msgID, err := b.tp.Send(ctx, transport.Outgoing{
		ChatID:   req.chatID,
		ThreadID: req.threadID,
		ReplyTo:  req.replyTo,
		Text:     placeholder,
	})
	if err != nil {
		slog.Error("placeholder send failed", "chat", req.key.String(), "error", err)
		return
	}

	resume := b.store.ActiveSession(req.key, b.engineID)
	inv, err := b.runner.Run(ctx, req.prompt, resume)
	if err != nil {
		b.deliverFinal(ctx, req, msgID, err.Error())
		return
	}

	prog := render.NewProgress(b.engineID, render.Options{
		MaxActions:   b.cfg.Render.MaxActions,
		CommandWidth: b.cfg.Render.CommandWidth,
		Cwd:          b.cwd,
	})
	limiter := rate.NewLimiter(rate.Every(editInterval), 1)
	started := time.Now()

	var final *events.Completed
	for evt := range inv.Events() {
		changed := prog.Note(evt)
		switch e := evt.(type) {
		case events.SessionStarted:
			if err := b.store.SetSessionResume(req.key, e.Resume(), req.prompt); err != nil {
				slog.Warn("session state save failed", "error", err)
			}
			// Forced flush; still consume a token so the next periodic edit
			// keeps its distance.
			_ = limiter.Allow()
			b.editProgress(ctx, req, msgID, prog.RenderProgress(time.Since(started)))
		case events.Completed:
			final = &e
		default:
			if changed && limiter.Allow() {
				b.editProgress(ctx, req, msgID, prog.RenderProgress(time.Since(started)))
			}
		}
	}

	elapsed := time.Since(started)
	if err := inv.Err(); err != nil {
		slog.Error("run failed", "engine", b.engineID, "error", err)
		b.deliverFinal(ctx, req, msgID, prog.RenderFinal(elapsed, err.Error(), "error"))
		return
	}
	if final == nil {
		// Context died before the terminal event; nothing left to edit.
		return
	}

	ok = final.OK
	status := "done"
	answer := final.Answer
	if !final.OK {
		status = "error"
		if answer == "" {
			answer = final.Err
		}
	}
	slog.Info("run finished", "engine", b.engineID, "chat", req.key.String(),
		"ok", final.OK, "elapsed", elapsed.Round(time.Second))
	b.deliverFinal(ctx, req, msgID, prog.RenderFinal(elapsed, answer, status))
}

// editProgress is best-effort: one retry after a reported rate limit, then
// the edit is dropped (the next tick carries the newer state anyway).
func (b *Bridge) editProgress(ctx context.Context, req runRequest, msgID int, text string) {
	markdown := transport.Truncate(text, b.tp.MessageLimit())
	body, html := b.bodyFor(markdown)
	err := b.tp.Edit(ctx, req.chatID, msgID, body, html)
	if err == nil {
		return
	}
	if html && errors.Is(err, transport.ErrUnparsable) {
		if b.tp.Edit(ctx, req.chatID, msgID, markdown, false) == nil {
			return
		}
	}
	if wait, limited := transport.RetryAfter(err); limited {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if err := b.tp.Edit(ctx, req.chatID, msgID, body, html); err != nil {
			slog.Debug("progress edit dropped", "error", err)
		}
		return
	}
	slog.Debug("progress edit failed", "error", err)
}

// deliverFinal replaces the placeholder with the final body, splitting
// overflow into follow-up messages. When the placeholder cannot be edited
// the first chunk goes out as a fresh message instead.
func (b *Bridge) deliverFinal(ctx context.Context, req runRequest, msgID int, markdown string) {
	for i, chunk := range transport.Split(markdown, b.tp.MessageLimit()) {
		if i == 0 && b.editWithRetry(ctx, req.chatID, msgID, chunk) {
			continue
		}
		b.sendWithRetry(ctx, transport.Outgoing{ChatID: req.chatID, ThreadID: req.threadID}, chunk)
	}
}

// editWithRetry edits msgID to the markdown chunk, waiting out rate limits
// until ctx dies. It reports whether the edit was delivered.
func (b *Bridge) editWithRetry(ctx context.Context, chatID int64, msgID int, markdown string) bool {
	for ctx.Err() == nil {
		body, html := b.bodyFor(markdown)
		err := b.tp.Edit(ctx, chatID, msgID, body, html)
		if err == nil {
			return true
		}
		if html && errors.Is(err, transport.ErrUnparsable) {
			if b.tp.Edit(ctx, chatID, msgID, markdown, false) == nil {
				return true
			}
		}
		wait, limited := transport.RetryAfter(err)
		if !limited {
			slog.Warn("final edit failed", "error", err)
			return false
		}
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
	return false
}

// sendWithRetry delivers one chunk, waiting out rate limits until ctx dies.
func (b *Bridge) sendWithRetry(ctx context.Context, out transport.Outgoing, markdown string) {
	for ctx.Err() == nil {
		out.Text, out.HTML = b.bodyFor(markdown)
		_, err := b.tp.Send(ctx, out)
		if err == nil {
			return
		}
		if out.HTML && errors.Is(err, transport.ErrUnparsable) {
			out.Text, out.HTML = markdown, false
			if _, err2 := b.tp.Send(ctx, out); err2 == nil {
				return
			}
		}
		wait, limited := transport.RetryAfter(err)
		if !limited {
			slog.Warn("final send failed", "error", err)
			return
		}
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
}

// bodyFor converts markdown for the transport. Conversion is skipped when
// the transport takes markdown natively, or when the converted body outgrows
// the message limit (the plain text fits its split by construction).
func (b *Bridge) bodyFor(markdown string) (string, bool) {
	if !b.tp.SupportsHTML() {
		return markdown, false
	}
	body := render.MarkdownToHTML(markdown)
	if len(body) > b.tp.MessageLimit() {
		return markdown, false
	}
	return body, true
}
