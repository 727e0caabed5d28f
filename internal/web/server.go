// Package web serves the browser pages: a runtime overview, a chat page
// that talks to the JSON API, and read-only task views. Pages use a
// shared layout; htmx requests receive only the page content block.
package web

import (
	"context"
	"embed"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/taskmate-ai/taskmate/internal/tasks"
)

//go:embed static/*
var staticFiles embed.FS

// TaskReader is the read side of the task store.
type TaskReader interface {
	List(ctx context.Context) ([]tasks.Task, error)
	Get(ctx context.Context, id int) (*tasks.Task, error)
}

// Config wires a WebServer.
type Config struct {
	Tasks TaskReader
	// StatsFunc returns runtime counters shown on the overview page.
	StatsFunc func() map[string]any
	BrandName string
	Logger    *slog.Logger
	Now       func() time.Time
}

// PageData is embedded in every page's template context.
type PageData struct {
	BrandName string
	ActiveNav string
}

// WebServer renders the HTML pages.
type WebServer struct {
	tasks     TaskReader
	statsFunc func() map[string]any
	brandName string
	logger    *slog.Logger
	now       func() time.Time
	templates map[string]*template.Template
	markdown  goldmark.Markdown
}

// NewWebServer parses templates and returns a server. It panics on a
// template syntax error.
func NewWebServer(cfg Config) *WebServer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	brand := cfg.BrandName
	if brand == "" {
		brand = "Taskmate"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &WebServer{
		tasks:     cfg.Tasks,
		statsFunc: cfg.StatsFunc,
		brandName: brand,
		logger:    logger.With("component", "web"),
		now:       now,
		templates: loadTemplates(),
		markdown:  goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// RegisterRoutes mounts the pages under /ui/.
func (s *WebServer) RegisterRoutes(mux *http.ServeMux) {
	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	mux.Handle("GET /ui/static/", http.StripPrefix("/ui/static/", http.FileServer(http.FS(static))))

	mux.HandleFunc("GET /ui/{$}", s.handleDashboard)
	mux.HandleFunc("GET /ui/chat", s.handleChat)
	mux.HandleFunc("GET /ui/tasks", s.handleTasks)
	mux.HandleFunc("GET /ui/tasks/{id}", s.handleTaskDetail)
}

func (s *WebServer) page(nav string) PageData {
	return PageData{BrandName: s.brandName, ActiveNav: nav}
}
