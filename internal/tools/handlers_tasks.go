package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/taskmate-ai/taskmate/internal/tasks"
)

// toMap converts a params struct or record into a generic map using its
// JSON field names.
func toMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// propose builds a pending result for action that the model must echo
// back, together with the token, to apply the change.
func (r *Registry) propose(ctx context.Context, action Name, params any, message string) Result {
	token, err := r.confirmer.Token(action, params)
	if err != nil {
		return r.fail(ctx, action, "Failed to prepare confirmation", err)
	}
	return Result{
		Success: true,
		Pending: true,
		Action:  action,
		Message: message,
		Args:    toMap(params),
		Token:   token,
	}
}

// taskFailure converts a task store error into a tool failure.
func (r *Registry) taskFailure(ctx context.Context, tool Name, id int, action string, err error) Result {
	var missing *tasks.MissingFieldsError
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		return Failed(fmt.Sprintf("Task %d not found", id))
	case errors.As(err, &missing):
		return Failed("Missing required fields: " + strings.Join(missing.Fields, ", "))
	}
	return r.fail(ctx, tool, "Failed to "+action, err)
}

func (p createTaskParams) fields() tasks.Fields {
	return Translate(toMap(p))
}

// fields returns the non-null, non-empty changes keyed by canonical
// task field name.
func (p updateTaskParams) fields() tasks.Fields {
	changes := make(map[string]any)
	for k, v := range toMap(p) {
		if k == "taskId" || v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		changes[k] = v
	}
	return Translate(changes)
}

func (r *Registry) createTask(ctx context.Context, p createTaskParams) Result {
	if !r.deps.RequireConfirmation {
		return r.applyCreate(ctx, CreateTask, p)
	}
	msg := "Please confirm creating this task:\n" + FormatPreview(p.fields())
	return r.propose(ctx, ConfirmCreateTask, p, msg)
}

func (r *Registry) confirmCreateTask(ctx context.Context, p confirmCreateTaskParams) Result {
	if !r.confirmer.Verify(ConfirmCreateTask, p.createTaskParams, p.ConfirmationToken) {
		return Failed(ErrTokenMismatch)
	}
	return r.applyCreate(ctx, ConfirmCreateTask, p.createTaskParams)
}

func (r *Registry) applyCreate(ctx context.Context, tool Name, p createTaskParams) Result {
	task, err := r.deps.Tasks.Create(ctx, p.fields())
	if err != nil {
		return r.taskFailure(ctx, tool, 0, "create task", err)
	}
	r.logger.InfoContext(ctx, "task created",
		"task_id", task.TaskID,
		"user_id", UserIDFromContext(ctx),
	)
	return Succeeded(task)
}

func (r *Registry) updateTask(ctx context.Context, p updateTaskParams) Result {
	changes := p.fields()
	if len(changes) == 0 {
		return Result{Success: false, Message: "No valid update fields provided."}
	}
	if !r.deps.RequireConfirmation {
		return r.applyUpdate(ctx, UpdateTask, p.TaskID, changes)
	}

	current, err := r.deps.Tasks.Get(ctx, p.TaskID)
	if err != nil {
		return r.taskFailure(ctx, UpdateTask, p.TaskID, "update task", err)
	}
	msg := fmt.Sprintf("Please confirm updating task %d (%s) with:\n%s",
		current.TaskID, current.TaskName, FormatPreview(changes))
	return r.propose(ctx, ConfirmUpdateTask, p, msg)
}

func (r *Registry) confirmUpdateTask(ctx context.Context, p confirmUpdateTaskParams) Result {
	if !r.confirmer.Verify(ConfirmUpdateTask, p.updateTaskParams, p.ConfirmationToken) {
		return Failed(ErrTokenMismatch)
	}
	changes := p.fields()
	if len(changes) == 0 {
		return Result{Success: false, Message: "No valid update fields provided."}
	}
	return r.applyUpdate(ctx, ConfirmUpdateTask, p.TaskID, changes)
}

func (r *Registry) applyUpdate(ctx context.Context, tool Name, id int, changes tasks.Fields) Result {
	task, err := r.deps.Tasks.Update(ctx, id, changes)
	if err != nil {
		return r.taskFailure(ctx, tool, id, "update task", err)
	}
	r.logger.InfoContext(ctx, "task updated",
		"task_id", id,
		"fields", len(changes),
		"user_id", UserIDFromContext(ctx),
	)
	return Succeeded(task)
}

func (r *Registry) deleteTask(ctx context.Context, p deleteTaskParams) Result {
	if !r.deps.RequireConfirmation {
		return r.applyDelete(ctx, DeleteTask, p.TaskID)
	}
	current, err := r.deps.Tasks.Get(ctx, p.TaskID)
	if err != nil {
		return r.taskFailure(ctx, DeleteTask, p.TaskID, "delete task", err)
	}
	msg := "Please confirm deleting this task:\n" + FormatPreview(toMap(current))
	return r.propose(ctx, ConfirmDeleteTask, p, msg)
}

func (r *Registry) confirmDeleteTask(ctx context.Context, p confirmDeleteTaskParams) Result {
	if !r.confirmer.Verify(ConfirmDeleteTask, p.deleteTaskParams, p.ConfirmationToken) {
		return Failed(ErrTokenMismatch)
	}
	return r.applyDelete(ctx, ConfirmDeleteTask, p.TaskID)
}

func (r *Registry) applyDelete(ctx context.Context, tool Name, id int) Result {
	if err := r.deps.Tasks.Delete(ctx, id); err != nil {
		return r.taskFailure(ctx, tool, id, "delete task", err)
	}
	r.logger.InfoContext(ctx, "task deleted",
		"task_id", id,
		"user_id", UserIDFromContext(ctx),
	)
	return Result{Success: true, Message: fmt.Sprintf("Task %d deleted", id)}
}

func (r *Registry) getAllTasks(ctx context.Context, _ noArgs) Result {
	list, err := r.deps.Tasks.List(ctx)
	if err != nil {
		return r.fail(ctx, GetAllTasks, "Failed to retrieve tasks", err)
	}
	if list == nil {
		list = []tasks.Task{}
	}
	return Succeeded(list)
}

func (r *Registry) detectOverdueTasks(ctx context.Context, _ noArgs) Result {
	list, err := r.deps.Tasks.List(ctx)
	if err != nil {
		return r.fail(ctx, DetectOverdueTasks, "Failed to retrieve tasks", err)
	}
	return Succeeded(tasks.Overdue(list, r.deps.Now()))
}

func (r *Registry) generateWeeklyReport(ctx context.Context, _ noArgs) Result {
	list, err := r.deps.Tasks.List(ctx)
	if err != nil {
		return r.fail(ctx, GenerateWeeklyReport, "Failed to generate report", err)
	}
	return Succeeded(tasks.WeeklyReport(list, r.deps.Now()))
}
