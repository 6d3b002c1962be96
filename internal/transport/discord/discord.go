// Package discord implements the bridge transport over the Discord gateway.
// Discord has no forum topics and no inline keyboards, so session switching
// happens through text commands only.
package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/takohq/tako/internal/config"
	"github.com/takohq/tako/internal/transport"
)

// messageLimit is the longest text Discord accepts per message.
const messageLimit = 2000

// Transport serves one Discord channel.
type Transport struct {
	session    *discordgo.Session
	cfg        config.DiscordConfig
	http       *http.Client
	botUserID  string
	pollCancel context.CancelFunc
}

// New builds the transport. The bot token must already be resolved.
func New(cfg config.DiscordConfig) (*Transport, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("discord: bot_token is not configured")
	}
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	return &Transport{
		session: session,
		cfg:     cfg,
		http:    &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (t *Transport) Name() string { return "discord" }

func (t *Transport) SupportsHTML() bool { return false }

func (t *Transport) MessageLimit() int { return messageLimit }

// Start opens the gateway connection and begins translating message events.
func (t *Transport) Start(ctx context.Context) (<-chan transport.Update, error) {
	pollCtx, cancel := context.WithCancel(ctx)
	t.pollCancel = cancel

	// Handlers run on discordgo's goroutines; they enqueue into raw, which
	// is never closed, and the forwarder owns the outbound channel.
	raw := make(chan transport.Update, 64)
	t.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		u, ok := t.translateMessage(m)
		if !ok {
			return
		}
		select {
		case raw <- u:
		default:
			slog.Warn("discord update dropped: queue full", "channel_id", m.ChannelID)
		}
	})

	if err := t.session.Open(); err != nil {
		cancel()
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	user, err := t.session.User("@me")
	if err != nil {
		t.session.Close()
		cancel()
		return nil, fmt.Errorf("discord: fetch bot identity: %w", err)
	}
	t.botUserID = user.ID
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)

	out := make(chan transport.Update)
	go func() {
		defer close(out)
		for {
			select {
			case <-pollCtx.Done():
				return
			case u := <-raw:
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

// Stop closes the gateway connection.
func (t *Transport) Stop(_ context.Context) error {
	if t.pollCancel != nil {
		t.pollCancel()
	}
	return t.session.Close()
}

func (t *Transport) translateMessage(m *discordgo.MessageCreate) (transport.Update, bool) {
	if m.Author == nil || m.Author.Bot {
		return transport.Update{}, false
	}
	if t.cfg.ChannelID != "" && m.ChannelID != t.cfg.ChannelID {
		slog.Debug("discord message dropped: channel not allowed", "channel_id", m.ChannelID)
		return transport.Update{}, false
	}

	chatID, err := parseSnowflake(m.ChannelID)
	if err != nil {
		slog.Debug("discord message dropped: bad channel id", "channel_id", m.ChannelID)
		return transport.Update{}, false
	}
	messageID, _ := parseSnowflake(m.ID)
	userID, _ := parseSnowflake(m.Author.ID)

	u := transport.Update{
		ChatID:    chatID,
		MessageID: int(messageID),
		UserID:    userID,
		Text:      m.Content,
	}
	for _, att := range m.Attachments {
		switch {
		case u.Voice == nil && strings.HasPrefix(att.ContentType, "audio/"):
			u.Voice = &transport.FileRef{URL: att.URL, Size: int64(att.Size)}
		case u.Photo == nil && strings.HasPrefix(att.ContentType, "image/"):
			u.Photo = &transport.FileRef{URL: att.URL, Size: int64(att.Size)}
		}
	}
	if u.Text == "" && u.Voice == nil && u.Photo == nil {
		return transport.Update{}, false
	}
	return u, true
}

// Send delivers the text, chunking anything over the message limit at line
// boundaries. The id of the first chunk is returned so it can be edited.
func (t *Transport) Send(ctx context.Context, out transport.Outgoing) (int, error) {
	channelID := strconv.FormatInt(out.ChatID, 10)
	chunks := transport.Split(out.Text, messageLimit)

	firstID := 0
	for i, chunk := range chunks {
		var (
			msg *discordgo.Message
			err error
		)
		if i == 0 && out.ReplyTo > 0 {
			msg, err = t.session.ChannelMessageSendReply(channelID, chunk, &discordgo.MessageReference{
				MessageID: strconv.Itoa(out.ReplyTo),
				ChannelID: channelID,
			})
		} else {
			msg, err = t.session.ChannelMessageSend(channelID, chunk)
		}
		if err != nil {
			return 0, fmt.Errorf("discord: send message: %w", err)
		}
		if i == 0 {
			id, _ := parseSnowflake(msg.ID)
			firstID = int(id)
		}
	}
	return firstID, nil
}

// Edit replaces a previously sent message.
func (t *Transport) Edit(ctx context.Context, chatID int64, messageID int, text string, _ bool) error {
	channelID := strconv.FormatInt(chatID, 10)
	if _, err := t.session.ChannelMessageEdit(channelID, strconv.Itoa(messageID), text); err != nil {
		return fmt.Errorf("discord: edit message: %w", err)
	}
	return nil
}

// SyncCommands is a no-op: the bridge's commands are plain text on Discord.
func (t *Transport) SyncCommands(context.Context, []transport.Command) error { return nil }

// GetFile is trivial on Discord: attachments already carry their URL.
func (t *Transport) GetFile(_ context.Context, ref *transport.FileRef) (*transport.FileInfo, error) {
	if ref.URL == "" {
		return nil, errors.New("discord: attachment has no URL")
	}
	return &transport.FileInfo{URL: ref.URL, Size: ref.Size}, nil
}

// Download fetches the attachment bytes.
func (t *Transport) Download(ctx context.Context, info *transport.FileInfo) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("discord: build download request: %w", err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discord: download attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discord: download failed with status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("discord: read attachment body: %w", err)
	}
	return data, nil
}

// AnswerCallback is a no-op: this transport never produces callbacks.
func (t *Transport) AnswerCallback(context.Context, string, string) error { return nil }

func parseSnowflake(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
