package tools

import "fmt"

// ErrToolUnavailable is returned when a tool call targets a tool that
// is not in the effective catalog (nonexistent, or a confirm tool while
// confirmation is disabled). It is a protocol anomaly, not a transient
// failure: the caller skips the call.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// ArgumentError is returned when a tool call's arguments are not valid
// JSON, do not match the tool's schema, or do not decode into its typed
// parameters. Like ErrToolUnavailable, the caller skips the call.
type ArgumentError struct {
	ToolName string
	Reason   string
	Err      error
}

// Error implements the error interface.
func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %q: %s", e.ToolName, e.Reason)
}

// Unwrap returns the underlying decode error, if any.
func (e *ArgumentError) Unwrap() error {
	return e.Err
}
