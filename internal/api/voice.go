package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/taskmate-ai/taskmate/internal/prompts"
	"github.com/taskmate-ai/taskmate/internal/voice"
)

// VoiceService is the speech side of the assistant. *voice.Adapter
// satisfies it.
type VoiceService interface {
	Transcribe(ctx context.Context, audio io.Reader) (string, error)
	Speak(ctx context.Context, text string) ([]byte, error)
	Converse(ctx context.Context, audio io.Reader, userID string) (*voice.Reply, error)
}

// audioUpload returns the multipart "audio" file. It writes the error
// response itself and returns ok=false when the upload is unusable.
func (s *Server) audioUpload(w http.ResponseWriter, r *http.Request) (io.ReadCloser, bool) {
	if s.voice == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "voice is not configured")
		return nil, false
	}
	if r.ContentLength > s.maxUpload {
		s.errorResponse(w, http.StatusRequestEntityTooLarge, "audio file is too large")
		return nil, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.errorResponse(w, http.StatusRequestEntityTooLarge, "audio file is too large")
			return nil, false
		}
		s.errorResponse(w, http.StatusBadRequest, "No audio file uploaded.")
		return nil, false
	}
	file, _, err := r.FormFile("audio")
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "No audio file uploaded.")
		return nil, false
	}
	return file, true
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	file, ok := s.audioUpload(w, r)
	if !ok {
		return
	}
	defer file.Close()
	defer r.MultipartForm.RemoveAll()

	text, err := s.voice.Transcribe(r.Context(), file)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "transcription failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to transcribe audio.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text}, s.logger)
}

type speakRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	if s.voice == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "voice is not configured")
		return
	}
	var req speakRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.errorResponse(w, http.StatusBadRequest, "text is required")
		return
	}

	audio, err := s.voice.Speak(r.Context(), req.Text)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "speech synthesis failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to synthesize speech.")
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	if _, err := w.Write(audio); err != nil {
		s.logger.Debug("failed to write audio response", "error", err)
	}
}

func (s *Server) handleVoiceChat(w http.ResponseWriter, r *http.Request) {
	file, ok := s.audioUpload(w, r)
	if !ok {
		return
	}
	defer file.Close()
	defer r.MultipartForm.RemoveAll()

	userID := r.FormValue("userId")
	if userID == "" {
		userID = s.newUserID()
	}

	reply, err := s.voice.Converse(r.Context(), file, userID)
	switch {
	case errors.Is(err, voice.ErrNoSpeech):
		s.errorResponse(w, http.StatusBadRequest, prompts.VoiceTranscriptMissing)
		return
	case err != nil:
		s.chatFailure(w, r, userID, err)
		return
	}
	s.metrics.ObserveChat(chatOK)
	writeJSON(w, http.StatusOK, reply, s.logger)
}
