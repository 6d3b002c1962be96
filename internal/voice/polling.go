package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/takohq/tako/internal/config"
)

const (
	defaultPollingModel = "large-v3"
	pollingLanguage     = "auto"

	// pollingTimeout bounds each individual HTTP call, not the whole task.
	pollingTimeout = 300 * time.Second

	defaultPollInterval = 5 * time.Second
	defaultMaxPolls     = 120
)

// Polling transcribes audio through an asynchronous speech service: upload
// the file, poll the task status until it completes, then fetch the result.
type Polling struct {
	baseURL  string
	apiKey   string
	model    string
	client   *http.Client
	interval time.Duration
	maxPolls int
}

// NewPolling builds the backend from cfg.
func NewPolling(cfg config.VoiceConfig) *Polling {
	model := cfg.Model
	if model == "" {
		model = defaultPollingModel
	}
	return &Polling{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		model:    model,
		client:   &http.Client{Timeout: pollingTimeout},
		interval: defaultPollInterval,
		maxPolls: defaultMaxPolls,
	}
}

// Transcribe uploads the audio, waits for the task to complete, and returns
// the transcript text.
func (p *Polling) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	taskID, err := p.upload(ctx, audio, filename)
	if err != nil {
		return "", err
	}
	if err := p.await(ctx, taskID); err != nil {
		return "", err
	}
	return p.fetch(ctx, taskID)
}

func (p *Polling) upload(ctx context.Context, audio io.Reader, filename string) (string, error) {
	if filename == "" {
		filename = "voice.ogg"
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("voice: create form file field: %w", err)
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return "", fmt.Errorf("voice: write audio bytes to form: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("voice: close multipart writer: %w", err)
	}

	q := url.Values{}
	q.Set("model", p.model)
	q.Set("language", pollingLanguage)
	q.Set("diarize", "false")
	endpoint := p.baseURL + "/upload?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("voice: build request to %q: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("voice: request to %q failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("voice: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("voice: upload returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("voice: parse upload response: %w", err)
	}
	if result.TaskID == "" {
		return "", errors.New("voice: upload response missing task_id")
	}
	return result.TaskID, nil
}

// await polls the task status until it completes or maxPolls runs out.
func (p *Polling) await(ctx context.Context, taskID string) error {
	endpoint := p.baseURL + "/transcriptions/" + taskID + "/status"
	for i := 0; i < p.maxPolls; i++ {
		var status struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := p.getJSON(ctx, endpoint, &status); err != nil {
			return err
		}
		switch status.Status {
		case "completed":
			return nil
		case "failed":
			msg := status.Error
			if msg == "" {
				msg = "unknown error"
			}
			return fmt.Errorf("transcription failed: %s", msg)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}
	return errors.New("transcription timed out")
}

func (p *Polling) fetch(ctx context.Context, taskID string) (string, error) {
	var result struct {
		Text     string `json:"text"`
		Segments []struct {
			Text string `json:"text"`
		} `json:"segments"`
	}
	if err := p.getJSON(ctx, p.baseURL+"/transcriptions/"+taskID, &result); err != nil {
		return "", err
	}
	text := result.Text
	if text == "" && len(result.Segments) > 0 {
		parts := make([]string, 0, len(result.Segments))
		for _, seg := range result.Segments {
			if seg.Text != "" {
				parts = append(parts, seg.Text)
			}
		}
		text = strings.Join(parts, " ")
	}
	return strings.TrimSpace(text), nil
}

func (p *Polling) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("voice: build request to %q: %w", endpoint, err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("voice: request to %q failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("voice: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("voice: %s returned %d: %s",
			endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("voice: parse response JSON: %w", err)
	}
	return nil
}
