// Package transport abstracts the chat services the bridge can serve. A
// Transport turns service-specific updates into normalized Update values and
// delivers outgoing messages, hiding rate-limit and formatting quirks behind
// a small surface.
package transport

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// Update is one normalized inbound event from a chat service.
type Update struct {
	ChatID    int64
	ThreadID  int // forum topic id, 0 outside topics
	MessageID int
	UserID    int64
	Text      string
	Voice     *FileRef
	Photo     *FileRef
	Callback  *Callback
}

// FileRef is a handle to an attachment carried by an Update. Telegram fills
// ID (resolved later via GetFile); Discord already knows the URL.
type FileRef struct {
	ID   string
	URL  string
	Size int64
}

// FileInfo is a resolved download location for a FileRef.
type FileInfo struct {
	URL  string
	Size int64
}

// Callback is an inline-keyboard button press.
type Callback struct {
	ID   string
	Data string
}

// Button is one inline-keyboard button.
type Button struct {
	Text string
	Data string
}

// Outgoing is one message to deliver.
type Outgoing struct {
	ChatID   int64
	ThreadID int
	ReplyTo  int // message id to reply to, 0 for none
	Text     string
	HTML     bool
	Keyboard [][]Button
}

// Command is one slash-command menu entry.
type Command struct {
	Name        string
	Description string
}

// Transport is a chat service the bridge can serve.
type Transport interface {
	Name() string
	// Start begins receiving updates. The returned channel closes when ctx
	// is cancelled or the connection shuts down.
	Start(ctx context.Context) (<-chan Update, error)
	Stop(ctx context.Context) error
	// Send delivers one message and returns its message id.
	Send(ctx context.Context, out Outgoing) (int, error)
	// Edit replaces the text of a previously sent message. Editing to the
	// text the message already has is not an error.
	Edit(ctx context.Context, chatID int64, messageID int, text string, html bool) error
	// SyncCommands publishes the slash-command menu where the service
	// supports one.
	SyncCommands(ctx context.Context, commands []Command) error
	GetFile(ctx context.Context, ref *FileRef) (*FileInfo, error)
	Download(ctx context.Context, info *FileInfo) ([]byte, error)
	// AnswerCallback acknowledges an inline-button press.
	AnswerCallback(ctx context.Context, callbackID, text string) error
	// SupportsHTML reports whether Send/Edit accept HTML-formatted text.
	SupportsHTML() bool
	// MessageLimit is the longest text the service accepts per message.
	MessageLimit() int
}

// ErrUnparsable reports that the service rejected the message formatting.
// Callers that asked for HTML can retry the same content as plain text.
var ErrUnparsable = errors.New("transport: unparsable formatting")

// RetryAfterError reports a rate limit along with the backoff the service
// asked for.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "rate limited"
}

func (e *RetryAfterError) Unwrap() error { return e.Err }

// RetryAfter extracts the requested backoff when err carries one.
func RetryAfter(err error) (time.Duration, bool) {
	var ra *RetryAfterError
	if errors.As(err, &ra) {
		return ra.After, true
	}
	return 0, false
}

// Split breaks text into chunks of at most limit bytes, preferring to cut at
// line boundaries. A line longer than the limit is cut mid-line on a rune
// boundary.
func Split(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}
	var parts []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit], '\n')
		if cut < limit/2 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		chunk := strings.TrimRight(text[:cut], "\n")
		if chunk != "" {
			parts = append(parts, chunk)
		}
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

// Truncate clips text to at most limit bytes on a rune boundary, appending
// an ellipsis when anything was removed.
func Truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	cut := limit - len("…")
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "…"
}
