package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/taskmate-ai/taskmate/internal/agent"
	"github.com/taskmate-ai/taskmate/internal/prompts"
)

// maxChatBody bounds a chat request body.
const maxChatBody = 1 << 20

// Chat request outcomes recorded in metrics.
const (
	chatOK      = "ok"
	chatInvalid = "invalid"
	chatError   = "error"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Messages []agent.Message `json:"messages"`
	UserID   string          `json:"userId,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		s.metrics.ObserveChat(chatInvalid)
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		req.UserID = s.newUserID()
	}

	resp, err := s.chat.Run(r.Context(), &agent.Request{
		Messages: req.Messages,
		UserID:   req.UserID,
	})
	if err != nil {
		s.chatFailure(w, r, req.UserID, err)
		return
	}

	s.metrics.ObserveChat(chatOK)
	writeJSON(w, http.StatusOK, resp, s.logger)
}

// chatFailure maps a loop error to a response. Validation errors are
// the caller's to fix; anything else is reported without detail.
func (s *Server) chatFailure(w http.ResponseWriter, r *http.Request, userID string, err error) {
	if errors.Is(err, agent.ErrInvalidRequest) {
		s.metrics.ObserveChat(chatInvalid)
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	s.metrics.ObserveChat(chatError)
	s.logger.ErrorContext(r.Context(), "chat failed", "user_id", userID, "error", err)
	s.errorResponse(w, http.StatusInternalServerError, prompts.ChatFailure)
}
