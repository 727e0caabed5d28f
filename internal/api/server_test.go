package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taskmate-ai/taskmate/internal/agent"
	"github.com/taskmate-ai/taskmate/internal/events"
	"github.com/taskmate-ai/taskmate/internal/health"
	"github.com/taskmate-ai/taskmate/internal/metrics"
	"github.com/taskmate-ai/taskmate/internal/tasks"
	"github.com/taskmate-ai/taskmate/internal/voice"
)

type stubChat struct {
	mu   sync.Mutex
	reqs []*agent.Request
	err  error
}

func (s *stubChat) Run(_ context.Context, req *agent.Request) (*agent.Response, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &agent.Response{
		Message:      "You have 2 overdue tasks.",
		UserID:       req.UserID,
		Suggestions:  []string{"Show them"},
		RequestID:    "r_deadbeef",
		Model:        "test-model",
		InputTokens:  100,
		OutputTokens: 20,
	}, nil
}

type stubVoice struct {
	transcript string
	err        error
	gotUser    string
}

func (s *stubVoice) Transcribe(_ context.Context, audio io.Reader) (string, error) {
	if _, err := io.ReadAll(audio); err != nil {
		return "", err
	}
	return s.transcript, s.err
}

func (s *stubVoice) Speak(_ context.Context, text string) ([]byte, error) {
	return []byte("ID3" + text), s.err
}

func (s *stubVoice) Converse(_ context.Context, audio io.Reader, userID string) (*voice.Reply, error) {
	s.gotUser = userID
	if s.err != nil {
		return nil, s.err
	}
	return &voice.Reply{Text: s.transcript, Message: "ok", UserID: userID, Suggestions: []string{}}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(chat Chatter) *Server {
	s := NewServer("127.0.0.1", 0, chat, quietLogger())
	s.newUserID = func() string { return "guest_test" }
	return s
}

func do(h http.Handler, method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestChat(t *testing.T) {
	chat := &stubChat{}
	h := newTestServer(chat).Handler()

	w := do(h, "POST", "/chat", "application/json",
		strings.NewReader(`{"messages":[{"role":"user","content":"overdue?"}],"userId":"u-42"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	got := decode(t, w)
	if got["message"] != "You have 2 overdue tasks." || got["userId"] != "u-42" {
		t.Errorf("response = %v", got)
	}
	if s, ok := got["suggestions"].([]any); !ok || len(s) != 1 {
		t.Errorf("suggestions = %v", got["suggestions"])
	}
	if len(got) != 3 {
		t.Errorf("diagnostic fields leaked: %v", got)
	}
	if len(chat.reqs) != 1 || chat.reqs[0].Messages[0].Content != "overdue?" {
		t.Errorf("loop request = %+v", chat.reqs)
	}
}

func TestChat_AssignsGuestID(t *testing.T) {
	chat := &stubChat{}
	h := newTestServer(chat).Handler()

	w := do(h, "POST", "/chat", "application/json", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	if got := decode(t, w)["userId"]; got != "guest_test" {
		t.Errorf("userId = %v", got)
	}
}

func TestNewServer_GuestIDFormat(t *testing.T) {
	id := NewServer("", 0, &stubChat{}, nil).newUserID()
	if !strings.HasPrefix(id, "guest_") || len(id) != len("guest_")+36 {
		t.Errorf("guest id = %q", id)
	}
}

func TestSetWriteTimeout(t *testing.T) {
	tests := []struct {
		name string
		set  time.Duration
		want time.Duration
	}{
		{"default", 0, DefaultWriteTimeout},
		{"negative keeps default", -time.Second, DefaultWriteTimeout},
		{"derived from chat limits", 490 * time.Second, 490 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer("", 0, &stubChat{}, nil)
			s.SetWriteTimeout(tt.set)
			if s.writeWait != tt.want {
				t.Errorf("write timeout = %v, want %v", s.writeWait, tt.want)
			}
		})
	}
}

func TestChat_Errors(t *testing.T) {
	tests := []struct {
		name     string
		loopErr  error
		body     string
		wantCode int
		wantErr  string
	}{
		{"malformed body", nil, `{"messages":`, http.StatusBadRequest, "invalid request body"},
		{"invalid request", fmt.Errorf("%w: no messages", agent.ErrInvalidRequest), `{}`, http.StatusBadRequest, "invalid chat request: no messages"},
		{"iteration limit", &agent.ErrIterationLimit{Limit: 5}, `{"messages":[{"role":"user","content":"x"}]}`, http.StatusInternalServerError, "Something went wrong. Please try again."},
		{"upstream", errors.New("dial tcp: connection refused"), `{"messages":[{"role":"user","content":"x"}]}`, http.StatusInternalServerError, "Something went wrong. Please try again."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&stubChat{err: tt.loopErr}).Handler()
			w := do(h, "POST", "/chat", "application/json", strings.NewReader(tt.body))
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if got := decode(t, w)["error"]; got != tt.wantErr {
				t.Errorf("error = %q, want %q", got, tt.wantErr)
			}
		})
	}
}

func multipartAudio(t *testing.T, field string, fields map[string]string) (string, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, "clip.webm")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte("webm-bytes"))
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()
	return mw.FormDataContentType(), &buf
}

func TestVoiceTranscribe(t *testing.T) {
	s := newTestServer(&stubChat{})
	s.SetVoice(&stubVoice{transcript: "list my tasks"})
	h := s.Handler()

	ct, body := multipartAudio(t, "audio", nil)
	w := do(h, "POST", "/voice/transcribe", ct, body)
	if w.Code != http.StatusOK || decode(t, w)["text"] != "list my tasks" {
		t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
	}

	ct, body = multipartAudio(t, "", map[string]string{"userId": "u"})
	w = do(h, "POST", "/voice/transcribe", ct, body)
	if w.Code != http.StatusBadRequest || decode(t, w)["error"] != "No audio file uploaded." {
		t.Errorf("missing file: status = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(h, "POST", "/voice/transcribe", "application/json", strings.NewReader(`{}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("non-multipart status = %d", w.Code)
	}
}

func TestVoiceTranscribe_TooLarge(t *testing.T) {
	s := newTestServer(&stubChat{})
	s.SetVoice(&stubVoice{})
	s.SetMaxUploadBytes(16)

	ct, body := multipartAudio(t, "audio", nil)
	w := do(s.Handler(), "POST", "/voice/transcribe", ct, body)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestVoiceSpeak(t *testing.T) {
	s := newTestServer(&stubChat{})
	s.SetVoice(&stubVoice{})
	h := s.Handler()

	w := do(h, "POST", "/voice/speak", "application/json", strings.NewReader(`{"text":"hello"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Body.String() != "ID3hello" {
		t.Errorf("body = %q", w.Body.String())
	}

	w = do(h, "POST", "/voice/speak", "application/json", strings.NewReader(`{"text":"  "}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank text status = %d", w.Code)
	}
}

func TestVoiceChat(t *testing.T) {
	v := &stubVoice{transcript: "what is overdue"}
	s := newTestServer(&stubChat{})
	s.SetVoice(v)
	h := s.Handler()

	ct, body := multipartAudio(t, "audio", map[string]string{"userId": "u-7"})
	w := do(h, "POST", "/voice/chat", ct, body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	got := decode(t, w)
	if got["text"] != "what is overdue" || got["userId"] != "u-7" || v.gotUser != "u-7" {
		t.Errorf("response = %v", got)
	}

	ct, body = multipartAudio(t, "audio", nil)
	do(h, "POST", "/voice/chat", ct, body)
	if v.gotUser != "guest_test" {
		t.Errorf("guest id not assigned: %q", v.gotUser)
	}
}

func TestVoiceChat_NoSpeech(t *testing.T) {
	s := newTestServer(&stubChat{})
	s.SetVoice(&stubVoice{err: voice.ErrNoSpeech})

	ct, body := multipartAudio(t, "audio", nil)
	w := do(s.Handler(), "POST", "/voice/chat", ct, body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestVoice_NotConfigured(t *testing.T) {
	h := newTestServer(&stubChat{}).Handler()
	w := do(h, "POST", "/voice/speak", "application/json", strings.NewReader(`{"text":"x"}`))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestProbes(t *testing.T) {
	h := newTestServer(&stubChat{}).Handler()

	tests := []struct {
		path string
		key  string
		want string
	}{
		{"/health", "status", "healthy"},
		{"/", "name", "Taskmate"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := do(h, "GET", tt.path, "", nil)
			if w.Code != http.StatusOK || decode(t, w)[tt.key] != tt.want {
				t.Errorf("GET %s = %d %s", tt.path, w.Code, w.Body.String())
			}
		})
	}

	w := do(h, "GET", "/version", "", nil)
	if _, ok := decode(t, w)["go_version"]; !ok {
		t.Errorf("version = %s", w.Body.String())
	}

	if w := do(h, "GET", "/nope", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown path = %d", w.Code)
	}
}

type stubHealth []health.Status

func (h stubHealth) Status() []health.Status { return h }

func (h stubHealth) Healthy() bool {
	for _, s := range h {
		if !s.Up {
			return false
		}
	}
	return true
}

func TestHealthDependencies(t *testing.T) {
	tests := []struct {
		name   string
		deps   stubHealth
		status string
	}{
		{"all up", stubHealth{{Name: "model", Up: true}}, "healthy"},
		{"one down", stubHealth{{Name: "model", Up: true}, {Name: "prediction", LastError: "refused"}}, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&stubChat{})
			s.SetHealth(tt.deps)
			w := do(s.Handler(), "GET", "/health", "", nil)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			body := decode(t, w)
			if body["status"] != tt.status {
				t.Errorf("status = %v, want %s", body["status"], tt.status)
			}
			deps, _ := body["dependencies"].([]any)
			if len(deps) != len(tt.deps) {
				t.Errorf("dependencies = %v", body["dependencies"])
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(&stubChat{})
	s.SetMetrics(metrics.New())
	h := s.Handler()

	do(h, "POST", "/chat", "application/json", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	w := do(h, "GET", "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`taskmate_chat_requests_total{status="ok"} 1`,
		`taskmate_http_requests_total{method="POST",route="POST /chat",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestTasksMounted(t *testing.T) {
	store, err := tasks.NewFileStore(filepath.Join(t.TempDir(), "tasks.json"))
	if err != nil {
		t.Fatal(err)
	}
	s := newTestServer(&stubChat{})
	s.SetTasks(tasks.NewHandler(store, nil, quietLogger()))
	h := s.Handler()

	w := do(h, "POST", "/tasks", "application/json", strings.NewReader(
		`{"AssignedUserID":1,"TaskName":"Write docs","DueDate":"2025-06-01","Category":"QA","Color":"#fff"}`))
	if w.Code != http.StatusCreated && w.Code != http.StatusOK {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	w = do(h, "GET", "/tasks", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Write docs") {
		t.Errorf("list = %d %s", w.Code, w.Body.String())
	}
}

func TestEventsWebsocket(t *testing.T) {
	bus := events.New()
	s := newTestServer(&stubChat{})
	s.SetEventBus(bus)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events?source=agent"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Emit(events.SourceVoice, events.KindTranscribed, nil)
	bus.Emit(events.SourceAgent, events.KindRequestStart, map[string]any{"request_id": "r_1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e events.Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read: %v", err)
	}
	if e.Source != events.SourceAgent || e.Kind != events.KindRequestStart || e.Data["request_id"] != "r_1" {
		t.Errorf("event = %+v", e)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not removed after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEvents_Disabled(t *testing.T) {
	h := newTestServer(&stubChat{}).Handler()
	if w := do(h, "GET", "/v1/events", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}
