package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/taskmate-ai/taskmate/internal/agent"
	"github.com/taskmate-ai/taskmate/internal/events"
	"github.com/taskmate-ai/taskmate/internal/metrics"
)

// ErrNoSpeech is returned when a recording transcribes to nothing.
var ErrNoSpeech = errors.New("no speech recognized")

// ErrEmptyText is returned when Speak is given nothing to say.
var ErrEmptyText = errors.New("no text to speak")

// Chatter answers a chat request. *agent.Loop satisfies it.
type Chatter interface {
	Run(ctx context.Context, req *agent.Request) (*agent.Response, error)
}

// Reply is the outcome of a spoken conversation turn.
type Reply struct {
	Text        string   `json:"text"`
	Message     string   `json:"message"`
	UserID      string   `json:"userId"`
	Suggestions []string `json:"suggestions"`
}

// Adapter connects the voice services to the chat loop.
type Adapter struct {
	transcoder  Transcoder
	transcriber Transcriber
	synthesizer Synthesizer
	chat        Chatter
	logger      *slog.Logger
	events      *events.Bus
	metrics     *metrics.Metrics
}

// NewAdapter creates an adapter. synthesizer may be nil, in which case
// Speak fails.
func NewAdapter(logger *slog.Logger, transcoder Transcoder, transcriber Transcriber, synthesizer Synthesizer, chat Chatter) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		transcoder:  transcoder,
		transcriber: transcriber,
		synthesizer: synthesizer,
		chat:        chat,
		logger:      logger.With("component", "voice"),
	}
}

// SetEventBus publishes voice events to bus.
func (a *Adapter) SetEventBus(bus *events.Bus) { a.events = bus }

// SetMetrics records voice metrics in m.
func (a *Adapter) SetMetrics(m *metrics.Metrics) { a.metrics = m }

// Transcribe converts a recording to MP3 and returns its transcript.
func (a *Adapter) Transcribe(ctx context.Context, audio io.Reader) (string, error) {
	start := time.Now()
	mp3, err := a.transcoder.ToMP3(ctx, audio)
	if err != nil {
		a.metrics.ObserveVoice("convert", err)
		return "", fmt.Errorf("convert audio: %w", err)
	}
	a.metrics.ObserveVoice("convert", nil)

	text, err := a.transcriber.Transcribe(ctx, mp3)
	a.metrics.ObserveVoice("transcribe", err)
	if err != nil {
		return "", fmt.Errorf("transcribe audio: %w", err)
	}

	elapsed := time.Since(start)
	a.events.Emit(events.SourceVoice, events.KindTranscribed, map[string]any{
		"bytes":       len(mp3),
		"chars":       len(text),
		"duration_ms": elapsed.Milliseconds(),
	})
	a.logger.DebugContext(ctx, "audio transcribed",
		"mp3_bytes", len(mp3),
		"chars", len(text),
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return text, nil
}

// Speak returns MP3 audio for text.
func (a *Adapter) Speak(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if a.synthesizer == nil {
		return nil, errors.New("speech synthesis is not configured")
	}
	start := time.Now()
	audio, err := a.synthesizer.Speak(ctx, text)
	a.metrics.ObserveVoice("speak", err)
	if err != nil {
		return nil, fmt.Errorf("synthesize speech: %w", err)
	}
	a.events.Emit(events.SourceVoice, events.KindSynthesized, map[string]any{
		"chars":       len(text),
		"bytes":       len(audio),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return audio, nil
}

// Converse transcribes a recording and answers it as a user message in
// userID's conversation.
func (a *Adapter) Converse(ctx context.Context, audio io.Reader, userID string) (*Reply, error) {
	text, err := a.Transcribe(ctx, audio)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoSpeech
	}

	resp, err := a.chat.Run(ctx, &agent.Request{
		UserID:   userID,
		Messages: []agent.Message{{Role: "user", Content: text}},
	})
	if err != nil {
		return nil, err
	}
	return &Reply{
		Text:        text,
		Message:     resp.Message,
		UserID:      resp.UserID,
		Suggestions: resp.Suggestions,
	}, nil
}
