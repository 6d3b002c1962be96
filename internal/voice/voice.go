// Package voice transcribes chat audio attachments through HTTP speech APIs.
//
// Two backends are supported: an OpenAI-compatible synchronous endpoint
// (POST /audio/transcriptions) and a polling service that accepts an upload,
// processes it asynchronously, and serves the result once the task completes.
package voice

import (
	"context"
	"fmt"
	"io"

	"github.com/takohq/tako/internal/config"
)

// Transcriber converts an audio attachment into text. The filename is used
// as the multipart filename so the service can infer the container format.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// New builds the transcriber selected by cfg.Provider.
func New(cfg config.VoiceConfig) (Transcriber, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAI(cfg), nil
	case "polling":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("voice: polling provider requires base_url")
		}
		return NewPolling(cfg), nil
	default:
		return nil, fmt.Errorf("voice: unknown provider %q", cfg.Provider)
	}
}
