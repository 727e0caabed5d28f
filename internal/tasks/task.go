// Package tasks holds the task record, its storage backends, the HTTP
// CRUD handler that fronts them, and the client the assistant's tools
// use to reach that handler.
package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Task is one task record. JSON names are the store's canonical field
// names and are shared by the file format, the HTTP API, and the
// assistant's tool translation.
type Task struct {
	TaskID            int     `json:"TaskID"`
	AssignedUserID    int     `json:"AssignedUserID"`
	TaskName          string  `json:"TaskName"`
	DueDate           string  `json:"DueDate"`
	Category          string  `json:"Category"`
	Color             string  `json:"Color"`
	ApproverUserID    int     `json:"ApproverUserID,omitempty"`
	Comment           string  `json:"Comment,omitempty"`
	RecommendedUserID int     `json:"RecommendedUserID,omitempty"`
	Status            string  `json:"Status,omitempty"`
	TotalStoryPoints  float64 `json:"TotalStoryPoints,omitempty"`
	PriorityID        int     `json:"PriorityID,omitempty"`
}

// RequiredFields lists the fields a new task must carry, in the order
// they are reported when missing.
var RequiredFields = []string{"AssignedUserID", "TaskName", "DueDate", "Category", "Color"}

// Categories is the closed set of task categories.
var Categories = []string{"DevOps", "Marketing", "QA", "Management", "Development", "Design"}

// ErrNotFound is returned when a task ID does not exist.
var ErrNotFound = errors.New("task not found")

// MissingFieldsError reports required fields that were absent or null
// on create.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// Fields is a partial task keyed by canonical field name. Null values
// mean "leave unchanged" in updates.
type Fields map[string]any

// MissingRequired returns the required fields that are absent or null,
// in RequiredFields order.
func (f Fields) MissingRequired() []string {
	var missing []string
	for _, name := range RequiredFields {
		if v, ok := f[name]; !ok || v == nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// NewTask builds a task from fields after checking required ones. The
// TaskID in fields, if any, is ignored.
func NewTask(f Fields) (Task, error) {
	if missing := f.MissingRequired(); len(missing) > 0 {
		return Task{}, &MissingFieldsError{Fields: missing}
	}
	var t Task
	if err := t.apply(f); err != nil {
		return Task{}, err
	}
	t.TaskID = 0
	return t, nil
}

// Apply overlays the non-null fields onto a copy of t. TaskID cannot be
// changed. Unknown field names are ignored.
func (t Task) Apply(f Fields) (Task, error) {
	id := t.TaskID
	if err := t.apply(f); err != nil {
		return Task{}, err
	}
	t.TaskID = id
	return t, nil
}

func (t *Task) apply(f Fields) error {
	patch := make(map[string]any, len(f))
	for k, v := range f {
		if v != nil {
			patch[k] = v
		}
	}
	if len(patch) == 0 {
		return nil
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	if err := json.Unmarshal(data, t); err != nil {
		return fmt.Errorf("invalid task fields: %w", err)
	}
	return nil
}

// Due parses DueDate. Date-only values are midnight UTC.
func (t Task) Due() (time.Time, bool) {
	s := strings.TrimSpace(t.DueDate)
	for _, layout := range []string{time.DateOnly, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if d, err := time.Parse(layout, s); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

// Overdue reports whether the due date is strictly before now. Tasks
// without a parseable due date are never overdue.
func (t Task) Overdue(now time.Time) bool {
	due, ok := t.Due()
	return ok && due.Before(now)
}

// Overdue returns the tasks whose due date is strictly before now.
func Overdue(list []Task, now time.Time) []Task {
	out := []Task{}
	for _, t := range list {
		if t.Overdue(now) {
			out = append(out, t)
		}
	}
	return out
}

// NextID returns one more than the largest TaskID, or 1 when empty.
func NextID(list []Task) int {
	maxID := 0
	for _, t := range list {
		if t.TaskID > maxID {
			maxID = t.TaskID
		}
	}
	return maxID + 1
}
