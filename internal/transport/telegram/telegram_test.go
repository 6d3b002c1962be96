package telegram

import (
	"errors"
	"testing"
	"time"

	"github.com/mymmrac/telego"

	"github.com/takohq/tako/internal/config"
	"github.com/takohq/tako/internal/transport"
)

func newTestTransport(chatID int64) *Transport {
	return &Transport{cfg: config.TelegramConfig{BotToken: "123:abc", ChatID: chatID}}
}

func textMessage(chatID int64, text string) *telego.Message {
	return &telego.Message{
		MessageID: 42,
		Chat:      telego.Chat{ID: chatID},
		From:      &telego.User{ID: 7},
		Text:      text,
	}
}

func TestTranslateMessageAllowedChat(t *testing.T) {
	tr := newTestTransport(100)

	if _, ok := tr.translateMessage(textMessage(200, "hi")); ok {
		t.Error("message from a foreign chat was delivered")
	}

	u, ok := tr.translateMessage(textMessage(100, "hi"))
	if !ok {
		t.Fatal("message from the configured chat was dropped")
	}
	if u.ChatID != 100 || u.MessageID != 42 || u.UserID != 7 || u.Text != "hi" {
		t.Errorf("translated update = %+v", u)
	}
}

func TestTranslateMessagePhotoCaption(t *testing.T) {
	msg := textMessage(100, "")
	msg.Caption = "look at this"
	msg.Photo = []telego.PhotoSize{
		{FileID: "small", FileSize: 100},
		{FileID: "large", FileSize: 9000},
	}

	u, ok := newTestTransport(100).translateMessage(msg)
	if !ok {
		t.Fatal("photo message was dropped")
	}
	if u.Text != "look at this" {
		t.Errorf("Text = %q, want caption", u.Text)
	}
	if u.Photo == nil || u.Photo.ID != "large" || u.Photo.Size != 9000 {
		t.Errorf("Photo = %+v, want the largest size", u.Photo)
	}
}

func TestTranslateMessageVoice(t *testing.T) {
	msg := textMessage(100, "")
	msg.Voice = &telego.Voice{FileID: "v1", FileSize: 2048}

	u, ok := newTestTransport(100).translateMessage(msg)
	if !ok {
		t.Fatal("voice message was dropped")
	}
	if u.Voice == nil || u.Voice.ID != "v1" || u.Voice.Size != 2048 {
		t.Errorf("Voice = %+v", u.Voice)
	}
}

func TestTranslateMessageServiceSkipped(t *testing.T) {
	msg := textMessage(100, "") // no text, caption, or media
	if _, ok := newTestTransport(100).translateMessage(msg); ok {
		t.Error("service message was delivered")
	}
}

func TestThreadID(t *testing.T) {
	tests := []struct {
		name string
		msg  *telego.Message
		want int
	}{
		{
			name: "non-forum reply context ignored",
			msg:  &telego.Message{Chat: telego.Chat{ID: 1}, MessageThreadID: 55},
			want: 0,
		},
		{
			name: "forum topic",
			msg:  &telego.Message{Chat: telego.Chat{ID: 1, IsForum: true}, MessageThreadID: 55},
			want: 55,
		},
		{
			name: "forum general",
			msg:  &telego.Message{Chat: telego.Chat{ID: 1, IsForum: true}},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := threadID(tt.msg); got != tt.want {
				t.Errorf("threadID = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTranslateCallback(t *testing.T) {
	tr := newTestTransport(100)

	q := &telego.CallbackQuery{
		ID:      "cb1",
		From:    telego.User{ID: 9},
		Data:    "tako:switch:abc12345",
		Message: textMessage(100, "your sessions"),
	}
	u, ok := tr.translateCallback(q)
	if !ok {
		t.Fatal("callback was dropped")
	}
	if u.Callback == nil || u.Callback.ID != "cb1" || u.Callback.Data != "tako:switch:abc12345" {
		t.Errorf("Callback = %+v", u.Callback)
	}
	if u.UserID != 9 || u.ChatID != 100 {
		t.Errorf("update = %+v", u)
	}

	if _, ok := tr.translateCallback(&telego.CallbackQuery{ID: "cb2"}); ok {
		t.Error("callback without an accessible message was delivered")
	}

	q.Message = textMessage(200, "elsewhere")
	if _, ok := tr.translateCallback(q); ok {
		t.Error("callback from a foreign chat was delivered")
	}
}

func TestSendThreadID(t *testing.T) {
	if got := sendThreadID(generalTopicID); got != 0 {
		t.Errorf("sendThreadID(general) = %d, want 0", got)
	}
	if got := sendThreadID(0); got != 0 {
		t.Errorf("sendThreadID(0) = %d, want 0", got)
	}
	if got := sendThreadID(7); got != 7 {
		t.Errorf("sendThreadID(7) = %d, want 7", got)
	}
}

func TestClassify(t *testing.T) {
	rateLimited := errors.New("telego: sendMessage: api: 429 Too Many Requests: retry after 5")
	got := classify(rateLimited, false)
	after, ok := transport.RetryAfter(got)
	if !ok || after != 5*time.Second {
		t.Errorf("classify(rate limited) = %v (after=%v, ok=%v), want 5s backoff", got, after, ok)
	}

	parseErr := errors.New("telego: sendMessage: api: 400 Bad Request: can't parse entities: unclosed tag")
	if got := classify(parseErr, true); !errors.Is(got, transport.ErrUnparsable) {
		t.Errorf("classify(parse error, html) = %v, want ErrUnparsable", got)
	}
	if got := classify(parseErr, false); errors.Is(got, transport.ErrUnparsable) {
		t.Error("classify(parse error, plain) reported ErrUnparsable")
	}

	plain := errors.New("connection reset")
	if got := classify(plain, true); got != plain {
		t.Errorf("classify(plain) = %v, want passthrough", got)
	}
}

func TestIsNotModified(t *testing.T) {
	err := errors.New("telego: editMessageText: api: 400 Bad Request: message is not modified")
	if !isNotModified(err) {
		t.Error("isNotModified missed the sentinel text")
	}
	if isNotModified(errors.New("some other failure")) {
		t.Error("isNotModified matched an unrelated error")
	}
}
