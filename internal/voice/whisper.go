package voice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/taskmate-ai/taskmate/internal/httpkit"
)

// Transcriber turns MP3 audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, mp3 []byte) (string, error)
}

// WhisperClient calls an OpenAI-compatible /audio/transcriptions endpoint.
type WhisperClient struct {
	baseURL    string
	apiKey     string
	model      string
	language   string
	httpClient *http.Client
}

// NewWhisperClient creates a transcription client. baseURL includes the
// API version, e.g. https://api.openai.com/v1.
func NewWhisperClient(baseURL, apiKey, model, language string, timeout time.Duration) *WhisperClient {
	if model == "" {
		model = "whisper-1"
	}
	return &WhisperClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		language:   language,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(timeout)),
	}
}

// Transcribe uploads mp3 and returns the plain-text transcript.
func (c *WhisperClient) Transcribe(ctx context.Context, mp3 []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", "audio.mp3")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(mp3); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	fields := [][2]string{
		{"model", c.model},
		{"response_format", "text"},
	}
	if c.language != "" {
		fields = append(fields, [2]string{"language", c.language})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("write %s field: %w", f[0], err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}

	url := c.baseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &httpkit.StatusError{
			Method:     http.MethodPost,
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       httpkit.ReadErrorBody(resp.Body, 2048),
		}
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)

	text, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	return strings.TrimSpace(string(text)), nil
}
