package web

import "net/http"

// ChatData is the template context for the chat page.
type ChatData struct {
	PageData
}

// handleChat renders the chat page. The page keeps its user ID in
// localStorage and posts to /chat.
func (s *WebServer) handleChat(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "chat.html", ChatData{PageData: s.page("chat")})
}
