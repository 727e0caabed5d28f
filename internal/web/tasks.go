package web

import (
	"errors"
	"html/template"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/taskmate-ai/taskmate/internal/tasks"
)

// TasksData is the template context for the task list.
type TasksData struct {
	PageData
	Tasks    []*taskRow
	Category string
	Overdue  int
}

type taskRow struct {
	ID       int
	Name     string
	Category string
	Color    string
	Assignee int
	Status   string
	DueDate  string
	DueIn    string
	Overdue  bool
}

// TaskDetailData is the template context for one task.
type TaskDetailData struct {
	PageData
	Task    *tasks.Task
	Comment template.HTML
	DueIn   string
	Overdue bool
}

// handleTasks lists tasks, soonest due first. ?category= filters.
func (s *WebServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		http.Error(w, "task store not configured", http.StatusServiceUnavailable)
		return
	}
	list, err := s.tasks.List(r.Context())
	if err != nil {
		s.logger.Error("task list failed", "error", err)
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}

	now := s.now()
	data := TasksData{
		PageData: s.page("tasks"),
		Category: r.URL.Query().Get("category"),
	}
	for _, t := range list {
		if data.Category != "" && t.Category != data.Category {
			continue
		}
		row := &taskRow{
			ID:       t.TaskID,
			Name:     t.TaskName,
			Category: t.Category,
			Color:    t.Color,
			Assignee: t.AssignedUserID,
			Status:   t.Status,
			DueDate:  t.DueDate,
			Overdue:  t.Overdue(now),
		}
		if due, ok := t.Due(); ok {
			row.DueIn = timeAgo(now, due)
		}
		if row.Overdue {
			data.Overdue++
		}
		data.Tasks = append(data.Tasks, row)
	}
	sort.SliceStable(data.Tasks, func(i, j int) bool {
		return dueKey(data.Tasks[i]).Before(dueKey(data.Tasks[j]))
	})

	s.render(w, r, "tasks.html", data)
}

// dueKey sorts tasks without a parseable due date last.
func dueKey(row *taskRow) time.Time {
	if due, ok := (tasks.Task{DueDate: row.DueDate}).Due(); ok {
		return due
	}
	return time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
}

// handleTaskDetail shows one task with its comment rendered as markdown.
func (s *WebServer) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		http.Error(w, "task store not configured", http.StatusServiceUnavailable)
		return
	}
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	task, err := s.tasks.Get(r.Context(), id)
	if errors.Is(err, tasks.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error("task detail failed", "id", id, "error", err)
		http.Error(w, "load failed", http.StatusInternalServerError)
		return
	}

	now := s.now()
	data := TaskDetailData{
		PageData: s.page("tasks"),
		Task:     task,
		Comment:  s.renderMarkdown(task.Comment),
		Overdue:  task.Overdue(now),
	}
	if due, ok := task.Due(); ok {
		data.DueIn = timeAgo(now, due)
	}
	s.render(w, r, "task_detail.html", data)
}
