package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/takohq/tako/internal/events"
	"github.com/takohq/tako/internal/sessions"
	"github.com/takohq/tako/internal/transport"
)

const (
	// callbackSwitch prefixes the callback data of session switch buttons.
	callbackSwitch = "tako:switch:"

	maxSessionsShown = 10
	maxSwitchButtons = 6

	helpText = "tako bridges this chat to a coding agent. send a message to run it.\n\n" +
		"`/sessions` - list sessions\n" +
		"`/switch <id>` - switch to session\n" +
		"`/name <title>` - name current session\n" +
		"`/delete <id>` - delete a session\n" +
		"`/new` - start fresh (keeps history)\n" +
		"`/clear` - drop all active sessions"
)

// parseCommand splits "/switch abc@bot arg" into its lowercase name and the
// argument text. ok is false when text is not a slash command at all.
func parseCommand(text string) (name, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text, " ")
	head = strings.SplitN(head, "@", 2)[0]
	return strings.ToLower(strings.TrimPrefix(head, "/")), strings.TrimSpace(rest), true
}

// handleCommand answers a known command and reports whether it did. Unknown
// commands return false so the caller can run them as prompts.
func (b *Bridge) handleCommand(ctx context.Context, upd transport.Update, name, args string) bool {
	key := b.chatKey(upd)
	switch name {
	case "start", "help":
		b.reply(ctx, upd, helpText, nil)
	case "sessions":
		text, keyboard := b.sessionsReply(key, args)
		b.reply(ctx, upd, text, keyboard)
	case "switch":
		b.reply(ctx, upd, b.switchReply(key, args), nil)
	case "name":
		b.reply(ctx, upd, b.nameReply(key, args), nil)
	case "delete":
		b.reply(ctx, upd, b.deleteReply(key, args), nil)
	case "new":
		b.reply(ctx, upd, b.newReply(key), nil)
	case "clear":
		b.reply(ctx, upd, b.clearReply(key), nil)
	default:
		return false
	}
	return true
}

// handleCallback answers a session switch button press.
func (b *Bridge) handleCallback(ctx context.Context, upd transport.Update) {
	data := upd.Callback.Data
	if !strings.HasPrefix(data, callbackSwitch) {
		slog.Debug("unknown callback", "data", data)
		return
	}

	var answer string
	info, err := b.store.SwitchSession(b.chatKey(upd), strings.TrimPrefix(data, callbackSwitch))
	switch {
	case err == nil:
		answer = "switched to: " + info.Label()
	case errors.Is(err, sessions.ErrNotFound), errors.Is(err, sessions.ErrAmbiguous):
		answer = "session not found"
	default:
		slog.Warn("session switch failed", "error", err)
		answer = "failed to switch session"
	}
	if err := b.tp.AnswerCallback(ctx, upd.Callback.ID, answer); err != nil {
		slog.Warn("callback answer failed", "error", err)
	}
}

// reply sends markdown back to the update's chat and topic, falling back to
// plain text when the service rejects the formatting.
func (b *Bridge) reply(ctx context.Context, upd transport.Update, markdown string, keyboard [][]transport.Button) {
	body, html := b.bodyFor(markdown)
	out := transport.Outgoing{
		ChatID:   upd.ChatID,
		ThreadID: upd.ThreadID,
		ReplyTo:  upd.MessageID,
		Text:     body,
		HTML:     html,
		Keyboard: keyboard,
	}
	_, err := b.tp.Send(ctx, out)
	if err == nil {
		return
	}
	if html && errors.Is(err, transport.ErrUnparsable) {
		out.Text, out.HTML = markdown, false
		if _, err2 := b.tp.Send(ctx, out); err2 == nil {
			return
		}
	}
	slog.Warn("reply send failed", "error", err)
}

// sessionsReply builds the /sessions listing and its switch keyboard. An
// argument filters by engine name.
func (b *Bridge) sessionsReply(key sessions.ChatKey, engineFilter string) (string, [][]transport.Button) {
	list := b.store.ListSessions(key, engineFilter)
	if len(list) == 0 {
		return "no sessions found. start chatting to create one!", nil
	}

	// Group by engine, preserving the newest-first order inside each group.
	var engines []string
	byEngine := map[string][]sessions.SessionInfo{}
	activeIDs := map[string]string{}
	for _, s := range list {
		if _, seen := byEngine[s.Engine]; !seen {
			engines = append(engines, s.Engine)
			activeIDs[s.Engine] = b.store.ActiveSessionID(key, s.Engine)
		}
		byEngine[s.Engine] = append(byEngine[s.Engine], s)
	}

	now := float64(time.Now().UnixNano()) / float64(time.Second)
	lines := []string{"**your sessions:**\n"}
	for _, engine := range engines {
		group := byEngine[engine]
		lines = append(lines, fmt.Sprintf("**%s:**", engine))
		shown := group
		if len(shown) > maxSessionsShown {
			shown = shown[:maxSessionsShown]
		}
		for i, s := range shown {
			lines = append(lines, formatSessionRow(s, s.Resume == activeIDs[engine], i+1, now))
		}
		if len(group) > maxSessionsShown {
			lines = append(lines, fmt.Sprintf("  ... and %d more", len(group)-maxSessionsShown))
		}
		lines = append(lines, "")
	}
	lines = append(lines,
		"commands:",
		"`/switch <id>` - switch to session",
		"`/name <title>` - name current session",
		"`/new` - start fresh (keeps history)",
	)

	var keyboard [][]transport.Button
	candidates := list
	if len(candidates) > maxSwitchButtons {
		candidates = candidates[:maxSwitchButtons]
	}
	for _, s := range candidates {
		if s.Resume == activeIDs[s.Engine] {
			continue
		}
		keyboard = append(keyboard, []transport.Button{{
			Text: "↩️ " + clipRunes(s.Label(), 20),
			Data: callbackSwitch + resumePrefix(s.Resume),
		}})
	}
	return strings.Join(lines, "\n"), keyboard
}

func (b *Bridge) switchReply(key sessions.ChatKey, args string) string {
	if args == "" {
		return "usage: `/switch <session_id>`\nuse `/sessions` to see available sessions."
	}
	info, err := b.store.SwitchSession(key, args)
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		return fmt.Sprintf("no session found matching `%s`", args)
	case errors.Is(err, sessions.ErrAmbiguous):
		return fmt.Sprintf("multiple sessions match `%s`. be more specific.", args)
	case err != nil:
		slog.Warn("session switch failed", "error", err)
		return "failed to switch session."
	}
	token := events.ResumeToken{Engine: info.Engine, Value: info.Resume}
	return fmt.Sprintf("switched to: `%s`\n\nresume: %s", info.Label(), token.Format())
}

func (b *Bridge) nameReply(key sessions.ChatKey, args string) string {
	if args == "" {
		return "usage: `/name <title>`\nexample: `/name API refactoring`"
	}
	ok, err := b.store.NameSession(key, b.engineID, args)
	if err != nil {
		slog.Warn("session name failed", "error", err)
		return "failed to name session."
	}
	if !ok {
		return "no active session to name. start a conversation first."
	}
	return fmt.Sprintf("session named: `%s`", args)
}

func (b *Bridge) deleteReply(key sessions.ChatKey, args string) string {
	if args == "" {
		return "usage: `/delete <session_id>`\nuse `/sessions` to see available sessions."
	}
	info, err := b.store.DeleteSession(key, args)
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		return fmt.Sprintf("no session found matching `%s`", args)
	case errors.Is(err, sessions.ErrAmbiguous):
		return fmt.Sprintf("multiple sessions match `%s`. be more specific.", args)
	case err != nil:
		slog.Warn("session delete failed", "error", err)
		return "failed to delete session."
	}
	return fmt.Sprintf("deleted session: `%s`", info.Label())
}

func (b *Bridge) newReply(key sessions.ChatKey) string {
	if err := b.store.NewSession(key, b.engineID); err != nil {
		slog.Warn("session reset failed", "error", err)
		return "failed to start a new session."
	}
	return "starting fresh. your next message begins a new session."
}

func (b *Bridge) clearReply(key sessions.ChatKey) string {
	if err := b.store.ClearSessions(key); err != nil {
		slog.Warn("session clear failed", "error", err)
		return "failed to clear sessions."
	}
	return "cleared all active sessions."
}

// formatSessionRow renders one /sessions line: index, active marker, short
// id, clipped title and age.
func formatSessionRow(s sessions.SessionInfo, active bool, index int, now float64) string {
	marker := "  "
	if active {
		marker = "▸ "
	}
	title := s.Title
	if title == "" {
		title = s.FirstMessage
	}
	if title == "" {
		title = "untitled"
	}
	return fmt.Sprintf("%d. %s`%s` %s (%s)",
		index, marker, sessions.ShortID(s.Resume), clipRunes(title, 30), formatTimeAgo(s.UpdatedAt, now))
}

// formatTimeAgo renders a unix timestamp relative to now, both in seconds.
func formatTimeAgo(timestamp, now float64) string {
	if timestamp == 0 {
		return "unknown"
	}
	diff := now - timestamp
	switch {
	case diff < 60:
		return "just now"
	case diff < 3600:
		return fmt.Sprintf("%dm ago", int(diff/60))
	case diff < 86400:
		return fmt.Sprintf("%dh ago", int(diff/3600))
	default:
		return fmt.Sprintf("%dd ago", int(diff/86400))
	}
}

// clipRunes keeps at most max runes, ending clipped text with "...".
func clipRunes(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-3]) + "..."
}

// resumePrefix bounds the resume id carried in callback data; Telegram caps
// the payload at 64 bytes.
func resumePrefix(resume string) string {
	if len(resume) > 32 {
		return resume[:32]
	}
	return resume
}
