package bridge

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/takohq/tako/internal/transport"
)

type fakeTranscriber struct {
	text string
	err  error
	got  []byte
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio io.Reader, _ string) (string, error) {
	data, err := io.ReadAll(audio)
	if err != nil {
		return "", err
	}
	f.got = data
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func voiceUpdate(size int64) transport.Update {
	return transport.Update{ChatID: 42, MessageID: 7, Voice: &transport.FileRef{ID: "v1", Size: size}}
}

func TestVoicePromptDisabled(t *testing.T) {
	ft := newFakeTransport()
	b := newTestBridge(t, ft, &fakeRunner{})

	prompt, ok := b.resolvePrompt(context.Background(), voiceUpdate(100))
	if ok || prompt != "" {
		t.Fatalf("resolvePrompt = %q, %v", prompt, ok)
	}
	if ft.sendCount() != 1 || ft.sendAt(0).Text != voiceDisabledHint {
		t.Fatalf("reply = %+v", ft.sentTexts())
	}
}

func TestVoicePromptTooLarge(t *testing.T) {
	ft := newFakeTransport()
	b := newTestBridge(t, ft, &fakeRunner{})
	b.transcriber = &fakeTranscriber{text: "ignored"}
	b.voiceMax = 10

	if _, ok := b.voicePrompt(context.Background(), voiceUpdate(20)); ok {
		t.Fatal("oversize voice message was accepted")
	}
	if got := ft.sendAt(0).Text; got != "voice message is too large to transcribe." {
		t.Fatalf("reply = %q", got)
	}
}

func TestVoicePromptOversizeAfterDownload(t *testing.T) {
	ft := newFakeTransport()
	ft.fileData = bytes.Repeat([]byte("x"), 20)
	b := newTestBridge(t, ft, &fakeRunner{})
	b.transcriber = &fakeTranscriber{text: "ignored"}
	b.voiceMax = 10

	// Size 0 means the service did not announce one up front.
	if _, ok := b.voicePrompt(context.Background(), voiceUpdate(0)); ok {
		t.Fatal("oversize voice message was accepted")
	}
	if got := ft.sendAt(0).Text; got != "voice message is too large to transcribe." {
		t.Fatalf("reply = %q", got)
	}
}

func TestVoicePromptFetchFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.fileErr = errors.New("file lookup exploded")
	b := newTestBridge(t, ft, &fakeRunner{})
	b.transcriber = &fakeTranscriber{text: "ignored"}

	if _, ok := b.voicePrompt(context.Background(), voiceUpdate(5)); ok {
		t.Fatal("voice prompt succeeded despite fetch failure")
	}
	if got := ft.sendAt(0).Text; got != "failed to fetch voice file." {
		t.Fatalf("reply = %q", got)
	}
}

func TestVoicePromptDownloadFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.dlErr = errors.New("connection reset")
	b := newTestBridge(t, ft, &fakeRunner{})
	b.transcriber = &fakeTranscriber{text: "ignored"}

	if _, ok := b.voicePrompt(context.Background(), voiceUpdate(5)); ok {
		t.Fatal("voice prompt succeeded despite download failure")
	}
	if got := ft.sendAt(0).Text; got != "failed to download voice file." {
		t.Fatalf("reply = %q", got)
	}
}

func TestVoicePromptTranscriberError(t *testing.T) {
	ft := newFakeTransport()
	ft.fileData = []byte("ogg-bytes")
	b := newTestBridge(t, ft, &fakeRunner{})
	b.transcriber = &fakeTranscriber{err: errors.New("transcription failed: bad audio")}

	if _, ok := b.voicePrompt(context.Background(), voiceUpdate(5)); ok {
		t.Fatal("voice prompt succeeded despite transcriber error")
	}
	if got := ft.sendAt(0).Text; got != "transcription failed: bad audio" {
		t.Fatalf("reply = %q", got)
	}
}

func TestVoicePromptSuccess(t *testing.T) {
	ft := newFakeTransport()
	ft.fileData = []byte("ogg-bytes")
	b := newTestBridge(t, ft, &fakeRunner{})
	tr := &fakeTranscriber{text: "hello from the mic"}
	b.transcriber = tr

	prompt, ok := b.voicePrompt(context.Background(), voiceUpdate(5))
	if !ok || prompt != "hello from the mic" {
		t.Fatalf("voicePrompt = %q, %v", prompt, ok)
	}
	if !bytes.Equal(tr.got, ft.fileData) {
		t.Fatalf("transcriber received %q", tr.got)
	}
	if ft.sendCount() != 0 {
		t.Fatalf("unexpected replies: %v", ft.sentTexts())
	}
}

func encodePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestPhotoPrompt(t *testing.T) {
	ft := newFakeTransport()
	ft.fileData = encodePNG(t)
	b := newTestBridge(t, ft, &fakeRunner{})

	upd := transport.Update{
		ChatID: 42,
		Text:   "what is in this screenshot?",
		Photo:  &transport.FileRef{ID: "p1"},
	}
	prompt, ok := b.resolvePrompt(context.Background(), upd)
	if !ok {
		t.Fatal("photo prompt failed")
	}
	if !strings.HasPrefix(prompt, "what is in this screenshot?\n\n[image: ") || !strings.HasSuffix(prompt, ".jpg]") {
		t.Fatalf("prompt = %q", prompt)
	}

	path := strings.TrimSuffix(strings.TrimPrefix(prompt, "what is in this screenshot?\n\n[image: "), "]")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("saved photo: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("saved photo is empty")
	}
	if !strings.HasPrefix(path, b.photoDir) {
		t.Fatalf("photo saved outside %s: %s", b.photoDir, path)
	}
}

func TestPhotoPromptWithoutCaption(t *testing.T) {
	ft := newFakeTransport()
	ft.fileData = encodePNG(t)
	b := newTestBridge(t, ft, &fakeRunner{})

	prompt, ok := b.photoPrompt(context.Background(), transport.Update{ChatID: 42, Photo: &transport.FileRef{ID: "p1"}})
	if !ok || !strings.HasPrefix(prompt, "[image: ") {
		t.Fatalf("prompt = %q, %v", prompt, ok)
	}
}

func TestPhotoPromptFailureKeepsCaption(t *testing.T) {
	ft := newFakeTransport()
	ft.dlErr = errors.New("connection reset")
	b := newTestBridge(t, ft, &fakeRunner{})

	upd := transport.Update{ChatID: 42, Text: "caption stays", Photo: &transport.FileRef{ID: "p1"}}
	prompt, ok := b.photoPrompt(context.Background(), upd)
	if !ok || prompt != "caption stays" {
		t.Fatalf("prompt = %q, %v", prompt, ok)
	}
	if ft.sendCount() != 0 {
		t.Fatalf("unexpected replies: %v", ft.sentTexts())
	}
}

func TestPhotoPromptFailureWithoutCaption(t *testing.T) {
	ft := newFakeTransport()
	ft.dlErr = errors.New("connection reset")
	b := newTestBridge(t, ft, &fakeRunner{})

	prompt, ok := b.photoPrompt(context.Background(), transport.Update{ChatID: 42, Photo: &transport.FileRef{ID: "p1"}})
	if ok || prompt != "" {
		t.Fatalf("prompt = %q, %v", prompt, ok)
	}
	if got := ft.sendAt(0).Text; got != "failed to process the photo." {
		t.Fatalf("reply = %q", got)
	}
}

func TestResolvePromptPlainText(t *testing.T) {
	b := newTestBridge(t, newFakeTransport(), &fakeRunner{})

	prompt, ok := b.resolvePrompt(context.Background(), transport.Update{ChatID: 42, Text: "just text"})
	if !ok || prompt != "just text" {
		t.Fatalf("resolvePrompt = %q, %v", prompt, ok)
	}
}
