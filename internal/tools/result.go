package tools

import (
	"encoding/json"
)

// Result is the uniform outcome of a tool call, serialized as JSON and
// returned to the model. A pending result describes a proposed change
// that has not been applied; Action names the tool that applies it and
// Token must accompany that call.
type Result struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
	Message string         `json:"message,omitempty"`
	Pending bool           `json:"pending,omitempty"`
	Action  Name           `json:"action,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Token   string         `json:"confirmationToken,omitempty"`
}

// Succeeded returns a successful result carrying data.
func Succeeded(data any) Result {
	return Result{Success: true, Data: data}
}

// Failed returns a failed result with a short description.
func Failed(msg string) Result {
	return Result{Success: false, Error: msg}
}

// Mutated reports whether the call may have changed stored data.
func (r Result) Mutated() bool {
	return r.Success && !r.Pending
}

// JSON encodes the result for the model.
func (r Result) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"error":"Failed to encode tool result"}`
	}
	return string(data)
}
