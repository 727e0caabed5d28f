package web

import (
	"net/http"
	"sort"
	"time"

	"github.com/taskmate-ai/taskmate/internal/buildinfo"
	"github.com/taskmate-ai/taskmate/internal/tasks"
)

// DashboardData is the template context for the overview page.
type DashboardData struct {
	PageData
	Build      map[string]string
	Uptime     time.Duration
	Stats      []statRow
	TotalTasks int
	Overdue    int
	TaskError  string
}

type statRow struct {
	Name  string
	Value any
}

func (s *WebServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := DashboardData{
		PageData: s.page("overview"),
		Build:    buildinfo.BuildInfo(),
		Uptime:   buildinfo.Uptime(),
	}

	if s.statsFunc != nil {
		for k, v := range s.statsFunc() {
			data.Stats = append(data.Stats, statRow{Name: k, Value: v})
		}
		sort.Slice(data.Stats, func(i, j int) bool { return data.Stats[i].Name < data.Stats[j].Name })
	}

	if s.tasks != nil {
		list, err := s.tasks.List(r.Context())
		if err != nil {
			s.logger.Warn("task list failed", "error", err)
			data.TaskError = "task store unavailable"
		} else {
			data.TotalTasks = len(list)
			data.Overdue = len(tasks.Overdue(list, s.now()))
		}
	}

	s.render(w, r, "dashboard.html", data)
}
