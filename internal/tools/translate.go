package tools

import (
	"fmt"
	"sort"
	"strings"

	"github.com/taskmate-ai/taskmate/internal/tasks"
)

// fieldNames maps tool argument names to canonical task field names.
var fieldNames = map[string]string{
	"newAssignee":       "AssignedUserID",
	"newTaskName":       "TaskName",
	"newDueDate":        "DueDate",
	"newCategory":       "Category",
	"newColor":          "Color",
	"approverId":        "ApproverUserID",
	"comment":           "Comment",
	"recommendedUserId": "RecommendedUserID",
	"status":            "Status",
	"storyPoints":       "TotalStoryPoints",
	"priorityId":        "PriorityID",
}

// CanonicalField returns the task field name for a tool argument name.
// Unrecognized names are returned unchanged.
func CanonicalField(arg string) string {
	if name, ok := fieldNames[arg]; ok {
		return name
	}
	return arg
}

// Translate renames argument keys to canonical task fields. Values are
// copied as-is; unrecognized keys pass through.
func Translate(args map[string]any) tasks.Fields {
	out := make(tasks.Fields, len(args))
	for k, v := range args {
		out[CanonicalField(k)] = v
	}
	return out
}

// FormatPreview renders fields as markdown bullets, one per field in
// sorted order:
//
//	- **TaskName**: `Deploy v2`
func FormatPreview(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- **%s**: `%v`", k, formatValue(fields[k])))
	}
	return strings.Join(lines, "\n")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case float64:
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprint(x)
	}
}
