package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/taskmate-ai/taskmate/internal/httpkit"
)

// maxSpeechBytes bounds a synthesized reply.
const maxSpeechBytes = 16 << 20

// Synthesizer turns text into MP3 audio.
type Synthesizer interface {
	Speak(ctx context.Context, text string) ([]byte, error)
}

// SpeechClient calls an OpenAI-compatible /audio/speech endpoint.
type SpeechClient struct {
	baseURL    string
	apiKey     string
	model      string
	voice      string
	speed      float64
	httpClient *http.Client
}

// NewSpeechClient creates a text-to-speech client.
func NewSpeechClient(baseURL, apiKey, model, voice string, speed float64, timeout time.Duration) *SpeechClient {
	return &SpeechClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		voice:      voice,
		speed:      speed,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(timeout)),
	}
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed,omitempty"`
	ResponseFormat string  `json:"response_format"`
}

// Speak returns MP3 audio for text.
func (c *SpeechClient) Speak(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(speechRequest{
		Model:          c.model,
		Input:          text,
		Voice:          c.voice,
		Speed:          c.speed,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal speech request: %w", err)
	}

	url := c.baseURL + "/audio/speech"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &httpkit.StatusError{
			Method:     http.MethodPost,
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       httpkit.ReadErrorBody(resp.Body, 2048),
		}
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxSpeechBytes))
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}
	return audio, nil
}
