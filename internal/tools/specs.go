package tools

import (
	"sort"

	"github.com/taskmate-ai/taskmate/internal/tasks"
)

// Name identifies one tool in the closed catalog.
type Name string

// The tool catalog.
const (
	CreateTask                Name = "createTask"
	ConfirmCreateTask         Name = "confirmCreateTask"
	UpdateTask                Name = "updateTask"
	ConfirmUpdateTask         Name = "confirmUpdateTask"
	DeleteTask                Name = "deleteTask"
	ConfirmDeleteTask         Name = "confirmDeleteTask"
	GetAllTasks               Name = "getAllTasks"
	DetectOverdueTasks        Name = "detectOverdueTasks"
	GenerateWeeklyReport      Name = "generateWeeklyReport"
	GetLatenessPrediction     Name = "getLatenessPrediction"
	GenerateRecommendations   Name = "generateRecommendations"
	GetReassignmentSuggestion Name = "getReassignmentSuggestion"
	PerformRootCauseAnalysis  Name = "performRootCauseAnalysis"
	SendNotification          Name = "sendNotification"
	TrainModel                Name = "trainModel"
)

// confirmTools are only advertised when confirmation is enabled.
var confirmTools = map[Name]bool{
	ConfirmCreateTask: true,
	ConfirmUpdateTask: true,
	ConfirmDeleteTask: true,
}

// Spec is the declaration of one tool shown to the model.
type Spec struct {
	Name        Name
	Description string
	Parameters  map[string]any
}

func prop(typ any, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

func nullable(typ string) []string {
	return []string{typ, "null"}
}

func categoryProp(desc string, allowNull bool) map[string]any {
	enum := make([]any, 0, len(tasks.Categories)+1)
	for _, c := range tasks.Categories {
		enum = append(enum, c)
	}
	p := prop("string", desc)
	if allowNull {
		p["type"] = nullable("string")
		enum = append(enum, nil)
	}
	p["enum"] = enum
	return p
}

// strictObject builds an object schema in which every property is
// required and no other property is allowed. Optional parameters are
// expressed as nullable types.
func strictObject(props map[string]any) map[string]any {
	required := make([]string, 0, len(props))
	for k := range props {
		required = append(required, k)
	}
	sort.Strings(required)
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
		"required":             required,
	}
}

func withToken(props map[string]any) map[string]any {
	out := make(map[string]any, len(props)+1)
	for k, v := range props {
		out[k] = v
	}
	out["confirmationToken"] = prop("string", "The confirmationToken returned by the proposing call, echoed back unchanged.")
	return out
}

func createProps() map[string]any {
	return map[string]any{
		"newAssignee": prop("integer", "The user ID to assign the task to."),
		"newTaskName": prop("string", "The name of the task."),
		"newDueDate":  prop("string", "The due date of the task in ISO 8601 format (YYYY-MM-DD)."),
		"newCategory": categoryProp("The category for the task.", false),
		"newColor":    prop("string", "The color code for the task in hex format (e.g., #FF5733)."),
	}
}

func updateProps() map[string]any {
	return map[string]any{
		"taskId":            prop("integer", "The ID of the task to be updated."),
		"newAssignee":       prop(nullable("integer"), "The new user ID to assign the task to."),
		"newTaskName":       prop(nullable("string"), "The new name of the task."),
		"newDueDate":        prop(nullable("string"), "The new due date of the task in ISO 8601 format (YYYY-MM-DD)."),
		"newCategory":       categoryProp("The new category for the task.", true),
		"newColor":          prop(nullable("string"), "The new color code for the task in hex format (e.g., #FF5733)."),
		"approverId":        prop(nullable("integer"), "The user ID of the approver."),
		"comment":           prop(nullable("string"), "A comment to record on the task."),
		"recommendedUserId": prop(nullable("integer"), "The user ID recommended to take over the task."),
		"status":            prop(nullable("string"), "The new status of the task."),
		"storyPoints":       prop(nullable("number"), "The total story points of the task."),
		"priorityId":        prop(nullable("integer"), "The priority ID of the task."),
	}
}

func deleteProps() map[string]any {
	return map[string]any{
		"taskId": prop("integer", "The ID of the task to delete."),
	}
}

func noParams() map[string]any {
	return strictObject(map[string]any{})
}

// catalog returns every tool declaration.
func catalog() []Spec {
	return []Spec{
		{
			Name:        CreateTask,
			Description: "Propose creating a task with assignee, name, due date, category and color. Returns a preview the user must confirm.",
			Parameters:  strictObject(createProps()),
		},
		{
			Name:        ConfirmCreateTask,
			Description: "Create a previously proposed task after the user confirms. Pass the same arguments and the confirmationToken from createTask.",
			Parameters:  strictObject(withToken(createProps())),
		},
		{
			Name:        UpdateTask,
			Description: "Propose updating a task's details. Pass null for every field that should not change. Returns a preview the user must confirm.",
			Parameters:  strictObject(updateProps()),
		},
		{
			Name:        ConfirmUpdateTask,
			Description: "Apply a previously proposed task update after the user confirms. Pass the same arguments and the confirmationToken from updateTask.",
			Parameters:  strictObject(withToken(updateProps())),
		},
		{
			Name:        DeleteTask,
			Description: "Propose deleting a task. Returns a preview of the task the user must confirm.",
			Parameters:  strictObject(deleteProps()),
		},
		{
			Name:        ConfirmDeleteTask,
			Description: "Delete a task after the user confirms. Pass the same taskId and the confirmationToken from deleteTask.",
			Parameters:  strictObject(withToken(deleteProps())),
		},
		{
			Name:        GetAllTasks,
			Description: "List every task with all of its fields.",
			Parameters:  noParams(),
		},
		{
			Name:        DetectOverdueTasks,
			Description: "Identify overdue tasks by comparing due dates with the current date.",
			Parameters:  noParams(),
		},
		{
			Name:        GenerateWeeklyReport,
			Description: "Provide a summary of overdue tasks and patterns by category.",
			Parameters:  noParams(),
		},
		{
			Name:        GetLatenessPrediction,
			Description: "Predict which tasks are likely to be late. Only tasks with at least a 50% probability are returned.",
			Parameters:  noParams(),
		},
		{
			Name:        GenerateRecommendations,
			Description: "Suggest actions for overdue or at-risk tasks.",
			Parameters:  noParams(),
		},
		{
			Name:        GetReassignmentSuggestion,
			Description: "Suggest better assignees for a task, or for all tasks when taskId is null.",
			Parameters: strictObject(map[string]any{
				"taskId": prop(nullable("integer"), "The task to get suggestions for, or null for all tasks."),
			}),
		},
		{
			Name:        PerformRootCauseAnalysis,
			Description: "Analyze task metadata to identify common causes for delays.",
			Parameters:  noParams(),
		},
		{
			Name:        SendNotification,
			Description: "Send a notification to a user about an overdue task, alert, or recommendation.",
			Parameters: strictObject(map[string]any{
				"recipient": prop("string", "The name or ID of the user receiving the notification."),
				"message":   prop("string", "The content of the notification message."),
				"priority": map[string]any{
					"type":        "string",
					"enum":        []any{"low", "medium", "high"},
					"description": "The priority level of the notification.",
				},
			}),
		},
		{
			Name:        TrainModel,
			Description: "Start retraining the prediction models in the background. Returns immediately.",
			Parameters:  noParams(),
		},
	}
}

// Typed parameters, one struct per parameter shape.

type createTaskParams struct {
	NewAssignee int    `json:"newAssignee"`
	NewTaskName string `json:"newTaskName"`
	NewDueDate  string `json:"newDueDate"`
	NewCategory string `json:"newCategory"`
	NewColor    string `json:"newColor"`
}

type confirmCreateTaskParams struct {
	createTaskParams
	ConfirmationToken string `json:"confirmationToken"`
}

type updateTaskParams struct {
	TaskID            int      `json:"taskId"`
	NewAssignee       *int     `json:"newAssignee"`
	NewTaskName       *string  `json:"newTaskName"`
	NewDueDate        *string  `json:"newDueDate"`
	NewCategory       *string  `json:"newCategory"`
	NewColor          *string  `json:"newColor"`
	ApproverID        *int     `json:"approverId"`
	Comment           *string  `json:"comment"`
	RecommendedUserID *int     `json:"recommendedUserId"`
	Status            *string  `json:"status"`
	StoryPoints       *float64 `json:"storyPoints"`
	PriorityID        *int     `json:"priorityId"`
}

type confirmUpdateTaskParams struct {
	updateTaskParams
	ConfirmationToken string `json:"confirmationToken"`
}

type deleteTaskParams struct {
	TaskID int `json:"taskId"`
}

type confirmDeleteTaskParams struct {
	deleteTaskParams
	ConfirmationToken string `json:"confirmationToken"`
}

type reassignmentParams struct {
	TaskID *int `json:"taskId"`
}

type notificationParams struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	Priority  string `json:"priority"`
}

type noArgs struct{}
