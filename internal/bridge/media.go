package bridge

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/takohq/tako/internal/transport"
)

const (
	voiceFilename = "voice.ogg"

	// maxPhotoDim bounds the longer edge of re-encoded photos.
	maxPhotoDim  = 2048
	photoQuality = 85

	voiceDisabledHint = "voice transcription is disabled. enable it in config:\n" +
		"```toml\n" +
		"[transports.telegram]\n" +
		"voice_transcription = true\n" +
		"```"
)

// resolvePrompt turns an update into prompt text, downloading voice and
// photo attachments as needed. ok is false when the update was already
// answered and nothing should run.
func (b *Bridge) resolvePrompt(ctx context.Context, upd transport.Update) (string, bool) {
	switch {
	case upd.Voice != nil:
		return b.voicePrompt(ctx, upd)
	case upd.Photo != nil:
		return b.photoPrompt(ctx, upd)
	default:
		return upd.Text, true
	}
}

// voicePrompt transcribes a voice note into the prompt. Every failure mode
// answers the chat and consumes the message; a voice note never falls
// through to running its raw caption.
func (b *Bridge) voicePrompt(ctx context.Context, upd transport.Update) (string, bool) {
	if b.transcriber == nil {
		b.reply(ctx, upd, voiceDisabledHint, nil)
		return "", false
	}
	if b.voiceMax > 0 && upd.Voice.Size > b.voiceMax {
		b.reply(ctx, upd, "voice message is too large to transcribe.", nil)
		return "", false
	}
	info, err := b.tp.GetFile(ctx, upd.Voice)
	if err != nil {
		slog.Warn("voice file lookup failed", "error", err)
		b.reply(ctx, upd, "failed to fetch voice file.", nil)
		return "", false
	}
	audio, err := b.tp.Download(ctx, info)
	if err != nil {
		slog.Warn("voice download failed", "error", err)
		b.reply(ctx, upd, "failed to download voice file.", nil)
		return "", false
	}
	if b.voiceMax > 0 && int64(len(audio)) > b.voiceMax {
		b.reply(ctx, upd, "voice message is too large to transcribe.", nil)
		return "", false
	}

	text, err := b.transcriber.Transcribe(ctx, bytes.NewReader(audio), voiceFilename)
	if err != nil {
		slog.Error("voice transcription failed", "error", err)
		msg := strings.TrimSpace(err.Error())
		if msg == "" {
			msg = "voice transcription failed"
		}
		b.reply(ctx, upd, msg, nil)
		return "", false
	}
	slog.Info("voice transcribed", "bytes", len(audio), "chars", len(text))
	return text, true
}

// photoPrompt saves the photo to disk and appends its path to the caption so
// the agent can open it. A failed download degrades to the caption alone.
func (b *Bridge) photoPrompt(ctx context.Context, upd transport.Update) (string, bool) {
	path, err := b.savePhoto(ctx, upd.Photo)
	if err != nil {
		slog.Warn("photo intake failed", "error", err)
		if upd.Text != "" {
			return upd.Text, true
		}
		b.reply(ctx, upd, "failed to process the photo.", nil)
		return "", false
	}

	prompt := upd.Text
	if prompt != "" {
		prompt += "\n\n"
	}
	return prompt + "[image: " + path + "]", true
}

// savePhoto downloads the photo and re-encodes it as a bounded JPEG in the
// temp directory.
func (b *Bridge) savePhoto(ctx context.Context, ref *transport.FileRef) (string, error) {
	info, err := b.tp.GetFile(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("resolve photo: %w", err)
	}
	data, err := b.tp.Download(ctx, info)
	if err != nil {
		return "", fmt.Errorf("download photo: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode photo: %w", err)
	}
	img = imaging.Fit(img, maxPhotoDim, maxPhotoDim, imaging.Lanczos)

	path := filepath.Join(b.photoDir, "tako-photo-"+uuid.NewString()+".jpg")
	if err := imaging.Save(img, path, imaging.JPEGQuality(photoQuality)); err != nil {
		return "", fmt.Errorf("encode photo: %w", err)
	}
	slog.Debug("photo saved", "path", path, "bytes", len(data))
	return path, nil
}
