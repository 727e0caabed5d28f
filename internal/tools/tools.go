// Package tools defines the closed catalog of tools the assistant's
// model may call, validates their arguments, and runs their handlers
// against the task store, the prediction service, and the notifier.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/taskmate-ai/taskmate/internal/notify"
	"github.com/taskmate-ai/taskmate/internal/prediction"
	"github.com/taskmate-ai/taskmate/internal/tasks"
)

// TaskService is the task store as seen by the tools.
type TaskService interface {
	List(ctx context.Context) ([]tasks.Task, error)
	Get(ctx context.Context, id int) (*tasks.Task, error)
	Create(ctx context.Context, f tasks.Fields) (*tasks.Task, error)
	Update(ctx context.Context, id int, f tasks.Fields) (*tasks.Task, error)
	Delete(ctx context.Context, id int) error
}

// PredictionService is the analytics service as seen by the tools.
type PredictionService interface {
	Lateness(ctx context.Context) ([]prediction.LatenessPrediction, error)
	RootCause(ctx context.Context) (*prediction.RootCauseSummary, error)
	Recommendations(ctx context.Context) ([]prediction.Recommendation, error)
	Reassignment(ctx context.Context, taskID *int) ([]prediction.Reassignment, error)
	Train(ctx context.Context) (*prediction.TrainStatus, error)
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Tasks       TaskService
	Predictions PredictionService // nil when no prediction service is configured
	Notifier    notify.Notifier   // nil logs only
	Logger      *slog.Logger

	// RequireConfirmation makes create, update, and delete return a
	// pending preview instead of mutating.
	RequireConfirmation bool
	ConfirmationSecret  string

	// TrainTimeout bounds a background training run. Zero means 10m.
	TrainTimeout time.Duration

	// Now is the clock for overdue checks. Nil means time.Now.
	Now func() time.Time
}

// handler decodes raw arguments into a tool's typed parameters and runs
// the tool with them.
type handler struct {
	decode func(raw []byte) (any, error)
	run    func(ctx context.Context, params any) Result
}

// typed adapts a handler over a concrete parameter type.
func typed[P any](fn func(ctx context.Context, p P) Result) handler {
	return handler{
		decode: func(raw []byte) (any, error) {
			var p P
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&p); err != nil {
				return nil, err
			}
			return p, nil
		},
		run: func(ctx context.Context, params any) Result {
			return fn(ctx, params.(P))
		},
	}
}

type entry struct {
	spec    Spec
	schema  *gojsonschema.Schema
	handler handler
}

// Registry holds the tool catalog and executes calls against it.
type Registry struct {
	tools      map[Name]*entry
	order      []Name
	deps       Deps
	confirmer  *Confirmer
	logger     *slog.Logger
	background sync.WaitGroup
}

// NewRegistry builds the registry and checks that every declared tool
// has a handler and every handler has a declaration.
func NewRegistry(deps Deps) (*Registry, error) {
	if deps.Tasks == nil {
		return nil, fmt.Errorf("tools: task service is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.TrainTimeout <= 0 {
		deps.TrainTimeout = 10 * time.Minute
	}
	confirmer, err := NewConfirmer(deps.ConfirmationSecret)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		tools:     make(map[Name]*entry),
		deps:      deps,
		confirmer: confirmer,
		logger:    deps.Logger.With("component", "tools"),
	}
	if err := r.register(catalog(), r.handlers()); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) register(specs []Spec, handlers map[Name]handler) error {
	for _, spec := range specs {
		h, ok := handlers[spec.Name]
		if !ok {
			return fmt.Errorf("tool %q is declared but has no handler", spec.Name)
		}
		if _, dup := r.tools[spec.Name]; dup {
			return fmt.Errorf("tool %q is declared twice", spec.Name)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(spec.Parameters))
		if err != nil {
			return fmt.Errorf("tool %q: compile parameter schema: %w", spec.Name, err)
		}
		r.tools[spec.Name] = &entry{spec: spec, schema: schema, handler: h}
		r.order = append(r.order, spec.Name)
	}
	for name := range handlers {
		if _, ok := r.tools[name]; !ok {
			return fmt.Errorf("tool %q has a handler but is not declared", name)
		}
	}
	return nil
}

func (r *Registry) handlers() map[Name]handler {
	return map[Name]handler{
		CreateTask:                typed(r.createTask),
		ConfirmCreateTask:         typed(r.confirmCreateTask),
		UpdateTask:                typed(r.updateTask),
		ConfirmUpdateTask:         typed(r.confirmUpdateTask),
		DeleteTask:                typed(r.deleteTask),
		ConfirmDeleteTask:         typed(r.confirmDeleteTask),
		GetAllTasks:               typed(r.getAllTasks),
		DetectOverdueTasks:        typed(r.detectOverdueTasks),
		GenerateWeeklyReport:      typed(r.generateWeeklyReport),
		GetLatenessPrediction:     typed(r.getLatenessPrediction),
		GenerateRecommendations:   typed(r.generateRecommendations),
		GetReassignmentSuggestion: typed(r.getReassignmentSuggestion),
		PerformRootCauseAnalysis:  typed(r.performRootCauseAnalysis),
		SendNotification:          typed(r.sendNotification),
		TrainModel:                typed(r.trainModel),
	}
}

// available reports whether name is in the effective catalog.
func (r *Registry) available(name Name) (*entry, bool) {
	e, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	if confirmTools[name] && !r.deps.RequireConfirmation {
		return nil, false
	}
	return e, true
}

// Names returns the effective tool names in declaration order.
func (r *Registry) Names() []Name {
	names := make([]Name, 0, len(r.order))
	for _, n := range r.order {
		if _, ok := r.available(n); ok {
			names = append(names, n)
		}
	}
	return names
}

// List returns the effective tools in function-tool form for the model.
func (r *Registry) List() []map[string]any {
	result := make([]map[string]any, 0, len(r.order))
	for _, n := range r.Names() {
		e := r.tools[n]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        string(e.spec.Name),
				"description": e.spec.Description,
				"parameters":  e.spec.Parameters,
				"strict":      true,
			},
		})
	}
	return result
}

// Execute validates argsJSON against the tool's schema, decodes it into
// typed parameters, and runs the handler. Unknown tools return
// *ErrToolUnavailable and bad arguments return *ArgumentError; in both
// cases nothing ran. Handler failures, including panics and context
// expiry, come back as a failed Result with a nil error.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (Result, error) {
	e, ok := r.available(Name(name))
	if !ok {
		return Result{}, &ErrToolUnavailable{ToolName: name}
	}

	raw := []byte(argsJSON)
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	raw, err := integralNumbers(raw)
	if err != nil {
		return Result{}, &ArgumentError{ToolName: name, Reason: "arguments are not valid JSON", Err: err}
	}
	res, err := e.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return Result{}, &ArgumentError{ToolName: name, Reason: "schema validation failed", Err: err}
	}
	if !res.Valid() {
		reason := "arguments do not match schema"
		if errs := res.Errors(); len(errs) > 0 {
			reason = errs[0].String()
		}
		return Result{}, &ArgumentError{ToolName: name, Reason: reason}
	}
	params, err := e.handler.decode(raw)
	if err != nil {
		return Result{}, &ArgumentError{ToolName: name, Reason: err.Error(), Err: err}
	}

	return r.run(ctx, e, params), nil
}

// integralNumbers rewrites numbers with an integral value, such as 1.0
// or 1e2, in their plain integer form. The schema's "integer" type
// accepts them, so the typed decode has to as well.
func integralNumbers(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after arguments")
	}
	v, changed := rewriteIntegral(v)
	if !changed {
		return raw, nil
	}
	return json.Marshal(v)
}

func rewriteIntegral(v any) (any, bool) {
	switch x := v.(type) {
	case json.Number:
		s := x.String()
		if !strings.ContainsAny(s, ".eE") {
			return x, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
			return x, false
		}
		return json.Number(strconv.FormatInt(int64(f), 10)), true
	case map[string]any:
		changed := false
		for k, e := range x {
			if ne, c := rewriteIntegral(e); c {
				x[k] = ne
				changed = true
			}
		}
		return x, changed
	case []any:
		changed := false
		for i, e := range x {
			if ne, c := rewriteIntegral(e); c {
				x[i] = ne
				changed = true
			}
		}
		return x, changed
	}
	return v, false
}

func (r *Registry) run(ctx context.Context, e *entry, params any) (result Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", e.spec.Name, "panic", p)
			result = Failed(fmt.Sprintf("Failed to run %s", e.spec.Name))
		}
	}()
	return e.handler.run(ctx, params)
}

// fail logs err and returns a failed result with msg.
func (r *Registry) fail(ctx context.Context, tool Name, msg string, err error) Result {
	r.logger.ErrorContext(ctx, "tool failed",
		"tool", tool,
		"user_id", UserIDFromContext(ctx),
		"error", err,
	)
	return Failed(msg)
}

// Wait blocks until background work started by tools (model training)
// has finished.
func (r *Registry) Wait() {
	r.background.Wait()
}
