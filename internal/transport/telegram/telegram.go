// Package telegram implements the bridge transport over the Telegram Bot API
// using long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/takohq/tako/internal/config"
	"github.com/takohq/tako/internal/transport"
)

const (
	// messageLimit is the longest text Telegram accepts per message.
	messageLimit = 4096

	// generalTopicID is the fixed id of the "General" topic in forum
	// supergroups. Send/edit calls must omit it or Telegram rejects the
	// request with "message thread not found".
	generalTopicID = 1

	longPollTimeout = 30 // seconds

	stopTimeout = 10 * time.Second
)

// Transport serves one Telegram chat.
type Transport struct {
	bot        *telego.Bot
	cfg        config.TelegramConfig
	http       *http.Client
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New builds the transport. The bot token must already be resolved (config
// overlays the env var).
func New(cfg config.TelegramConfig) (*Transport, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("telegram: bot_token is not configured")
	}
	bot, err := telego.NewBot(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return &Transport{
		bot:  bot,
		cfg:  cfg,
		http: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (t *Transport) Name() string { return "telegram" }

func (t *Transport) SupportsHTML() bool { return true }

func (t *Transport) MessageLimit() int { return messageLimit }

// Start begins long polling and translating updates.
func (t *Transport) Start(ctx context.Context) (<-chan transport.Update, error) {
	pollCtx, cancel := context.WithCancel(ctx)
	t.pollCancel = cancel
	t.pollDone = make(chan struct{})

	updates, err := t.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        longPollTimeout,
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("telegram: start long polling: %w", err)
	}

	slog.Info("telegram bot connected", "username", t.bot.Username())

	out := make(chan transport.Update)
	go func() {
		defer close(t.pollDone)
		defer close(out)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				var (
					u       transport.Update
					deliver bool
				)
				switch {
				case update.Message != nil:
					u, deliver = t.translateMessage(update.Message)
				case update.CallbackQuery != nil:
					u, deliver = t.translateCallback(update.CallbackQuery)
				}
				if !deliver {
					continue
				}
				select {
				case out <- u:
				case <-pollCtx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Stop cancels long polling and waits for the poll goroutine to exit so
// Telegram releases the getUpdates lock before another instance starts.
func (t *Transport) Stop(_ context.Context) error {
	if t.pollCancel != nil {
		t.pollCancel()
	}
	if t.pollDone != nil {
		select {
		case <-t.pollDone:
		case <-time.After(stopTimeout):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

// allowed reports whether the update comes from the configured chat.
func (t *Transport) allowed(chatID int64) bool {
	return t.cfg.ChatID == 0 || chatID == t.cfg.ChatID
}

func (t *Transport) translateMessage(msg *telego.Message) (transport.Update, bool) {
	if !t.allowed(msg.Chat.ID) {
		slog.Debug("telegram message dropped: chat not allowed", "chat_id", msg.Chat.ID)
		return transport.Update{}, false
	}
	if msg.From == nil {
		return transport.Update{}, false
	}

	u := transport.Update{
		ChatID:    msg.Chat.ID,
		ThreadID:  threadID(msg),
		MessageID: msg.MessageID,
		UserID:    msg.From.ID,
		Text:      msg.Text,
	}
	if u.Text == "" {
		u.Text = msg.Caption
	}
	if msg.Voice != nil {
		u.Voice = &transport.FileRef{ID: msg.Voice.FileID, Size: int64(msg.Voice.FileSize)}
	}
	if len(msg.Photo) > 0 {
		largest := msg.Photo[len(msg.Photo)-1]
		u.Photo = &transport.FileRef{ID: largest.FileID, Size: int64(largest.FileSize)}
	}
	if u.Text == "" && u.Voice == nil && u.Photo == nil {
		// Service message (member joined, title changed, ...).
		return transport.Update{}, false
	}
	return u, true
}

func (t *Transport) translateCallback(q *telego.CallbackQuery) (transport.Update, bool) {
	msg, ok := q.Message.(*telego.Message)
	if !ok {
		slog.Debug("telegram callback dropped: message inaccessible", "callback_id", q.ID)
		return transport.Update{}, false
	}
	if !t.allowed(msg.Chat.ID) {
		slog.Debug("telegram callback dropped: chat not allowed", "chat_id", msg.Chat.ID)
		return transport.Update{}, false
	}
	return transport.Update{
		ChatID:    msg.Chat.ID,
		ThreadID:  threadID(msg),
		MessageID: msg.MessageID,
		UserID:    q.From.ID,
		Callback:  &transport.Callback{ID: q.ID, Data: q.Data},
	}, true
}

// threadID returns the forum topic id for session scoping. Outside forums
// message_thread_id is reply context, not a topic, so it is ignored; in a
// forum the General topic arrives without one and maps to 0.
func threadID(msg *telego.Message) int {
	if msg.Chat.IsForum {
		return msg.MessageThreadID
	}
	return 0
}

// Send delivers one message, falling back to plain text when HTML is
// rejected by the parser.
func (t *Transport) Send(ctx context.Context, out transport.Outgoing) (int, error) {
	params := tu.Message(tu.ID(out.ChatID), out.Text)
	if tid := sendThreadID(out.ThreadID); tid > 0 {
		params.MessageThreadID = tid
	}
	if out.ReplyTo > 0 {
		params.ReplyParameters = &telego.ReplyParameters{MessageID: out.ReplyTo}
	}
	if out.HTML {
		params.ParseMode = telego.ModeHTML
		params.LinkPreviewOptions = &telego.LinkPreviewOptions{IsDisabled: true}
	}
	if len(out.Keyboard) > 0 {
		params.ReplyMarkup = inlineKeyboard(out.Keyboard)
	}

	msg, err := t.bot.SendMessage(ctx, params)
	if err != nil {
		return 0, classify(err, out.HTML)
	}
	return msg.MessageID, nil
}

// Edit replaces a previously sent message. Editing to identical text is
// reported as success.
func (t *Transport) Edit(ctx context.Context, chatID int64, messageID int, text string, html bool) error {
	params := &telego.EditMessageTextParams{
		ChatID:    tu.ID(chatID),
		MessageID: messageID,
		Text:      text,
	}
	if html {
		params.ParseMode = telego.ModeHTML
		params.LinkPreviewOptions = &telego.LinkPreviewOptions{IsDisabled: true}
	}
	if _, err := t.bot.EditMessageText(ctx, params); err != nil {
		if isNotModified(err) {
			return nil
		}
		return classify(err, html)
	}
	return nil
}

// SyncCommands replaces the bot's slash-command menu.
func (t *Transport) SyncCommands(ctx context.Context, commands []transport.Command) error {
	if err := t.bot.DeleteMyCommands(ctx, nil); err != nil {
		slog.Debug("deleteMyCommands failed (menu may not exist)", "error", err)
	}
	if len(commands) == 0 {
		return nil
	}
	botCommands := make([]telego.BotCommand, 0, len(commands))
	for _, c := range commands {
		botCommands = append(botCommands, telego.BotCommand{
			Command:     c.Name,
			Description: c.Description,
		})
	}
	return t.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{Commands: botCommands})
}

// GetFile resolves a file reference into a download URL.
func (t *Transport) GetFile(ctx context.Context, ref *transport.FileRef) (*transport.FileInfo, error) {
	file, err := t.bot.GetFile(ctx, &telego.GetFileParams{FileID: ref.ID})
	if err != nil {
		return nil, fmt.Errorf("telegram: get file: %w", err)
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("telegram: empty file path for file id %s", ref.ID)
	}
	return &transport.FileInfo{
		URL:  fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", t.cfg.BotToken, file.FilePath),
		Size: int64(file.FileSize),
	}, nil
}

// Download fetches the file bytes.
func (t *Transport) Download(ctx context.Context, info *transport.FileInfo) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: build download request: %w", err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram: download failed with status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("telegram: read file body: %w", err)
	}
	return data, nil
}

// AnswerCallback acknowledges an inline-button press with a toast.
func (t *Transport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return t.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
	})
}

// sendThreadID maps a topic id onto what the send API accepts: the General
// topic must be omitted entirely.
func sendThreadID(threadID int) int {
	if threadID == generalTopicID {
		return 0
	}
	return threadID
}

func inlineKeyboard(rows [][]transport.Button) *telego.InlineKeyboardMarkup {
	markup := &telego.InlineKeyboardMarkup{
		InlineKeyboard: make([][]telego.InlineKeyboardButton, 0, len(rows)),
	}
	for _, row := range rows {
		buttons := make([]telego.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, telego.InlineKeyboardButton{
				Text:         b.Text,
				CallbackData: b.Data,
			})
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, buttons)
	}
	return markup
}

var retryAfterPattern = regexp.MustCompile(`retry after (\d+)`)

// classify maps raw Bot API failures onto the transport error vocabulary:
// 429s carry their backoff, HTML parse rejections become ErrUnparsable so
// the caller can retry with plain text.
func classify(err error, html bool) error {
	if m := retryAfterPattern.FindStringSubmatch(err.Error()); m != nil {
		seconds, convErr := strconv.Atoi(m[1])
		if convErr == nil {
			return &transport.RetryAfterError{After: time.Duration(seconds) * time.Second, Err: err}
		}
	}
	if html && isParseError(err) {
		return fmt.Errorf("%w: %v", transport.ErrUnparsable, err)
	}
	return err
}

func isParseError(err error) bool {
	return strings.Contains(err.Error(), "can't parse entities")
}

func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}
