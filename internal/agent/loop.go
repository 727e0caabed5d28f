// Package agent implements the multi-turn tool-calling loop behind the
// chat endpoint: it sends the conversation to the model, runs the tools
// the model asks for, feeds their results back, and commits the final
// answer to the conversation store.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/iter"

	"github.com/taskmate-ai/taskmate/internal/conversation"
	"github.com/taskmate-ai/taskmate/internal/events"
	"github.com/taskmate-ai/taskmate/internal/llm"
	"github.com/taskmate-ai/taskmate/internal/metrics"
	"github.com/taskmate-ai/taskmate/internal/prompts"
	"github.com/taskmate-ai/taskmate/internal/tools"
)

// Defaults applied by NewLoop to zero Config fields.
const (
	DefaultMaxIterations   = 5
	DefaultModelTimeout    = 120 * time.Second
	DefaultToolTimeout     = 30 * time.Second
	DefaultToolConcurrency = 4
)

// ErrInvalidRequest marks requests rejected before any model call.
var ErrInvalidRequest = errors.New("invalid chat request")

// Message is one incoming conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one chat request. UserID selects the conversation and
// must be set; callers generate one for anonymous users.
type Request struct {
	Messages  []Message
	UserID    string
	RequestID string
}

// Response is the loop's answer. Only Message, UserID, and Suggestions
// are part of the HTTP contract; the rest is diagnostics.
type Response struct {
	Message     string   `json:"message"`
	UserID      string   `json:"userId"`
	Suggestions []string `json:"suggestions"`

	RequestID    string   `json:"-"`
	Model        string   `json:"-"`
	Iterations   int      `json:"-"`
	ToolCalls    []string `json:"-"`
	InputTokens  int      `json:"-"`
	OutputTokens int      `json:"-"`
}

// ToolExecutor is the tool registry as seen by the loop.
type ToolExecutor interface {
	List() []map[string]any
	Execute(ctx context.Context, name, argsJSON string) (tools.Result, error)
}

// Config tunes the loop.
type Config struct {
	Model               string
	MaxIterations       int // model invocations per request
	HistorySize         int // turns kept per conversation
	ModelTimeout        time.Duration
	ToolTimeout         time.Duration
	ToolConcurrency     int
	RequireConfirmation bool

	// Instructions replaces the built-in system instructions when set.
	Instructions string

	// Now is the clock used for the date in the system instructions.
	Now func() time.Time
}

// Loop runs chat requests.
type Loop struct {
	logger  *slog.Logger
	llm     llm.Client
	tools   ToolExecutor
	store   conversation.Store
	locks   *conversation.KeyedMutex
	events  *events.Bus
	metrics *metrics.Metrics
	cfg     Config
}

// NewLoop creates a loop. Zero Config fields get defaults.
func NewLoop(logger *slog.Logger, client llm.Client, registry ToolExecutor, store conversation.Store, cfg Config) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = conversation.DefaultMaxTurns
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = DefaultModelTimeout
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = DefaultToolTimeout
	}
	if cfg.ToolConcurrency <= 0 {
		cfg.ToolConcurrency = DefaultToolConcurrency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Loop{
		logger: logger.With("component", "agent"),
		llm:    client,
		tools:  registry,
		store:  store,
		locks:  conversation.NewKeyedMutex(),
		cfg:    cfg,
	}
}

// SetEventBus publishes loop events to bus.
func (l *Loop) SetEventBus(bus *events.Bus) { l.events = bus }

// SetMetrics records loop metrics in m.
func (l *Loop) SetMetrics(m *metrics.Metrics) { l.metrics = m }

// Model returns the configured model name.
func (l *Loop) Model() string { return l.cfg.Model }

// ConversationStats returns conversation store statistics.
func (l *Loop) ConversationStats() map[string]any { return l.store.Stats() }

// generateRequestID returns "r_" and eight hex characters.
func generateRequestID() string {
	return "r_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// validate checks the incoming turns.
func validate(req *Request) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidRequest)
	}
	if len(req.Messages) == 0 {
		return fmt.Errorf("%w: no messages", ErrInvalidRequest)
	}
	for i, m := range req.Messages {
		switch m.Role {
		case conversation.RoleSystem, conversation.RoleUser, conversation.RoleAssistant:
		default:
			return fmt.Errorf("%w: message %d has unsupported role %q", ErrInvalidRequest, i, m.Role)
		}
	}
	return nil
}

// run is the state of one request.
type run struct {
	l         *Loop
	requestID string
	userID    string
	state     State
	iteration int
	start     time.Time
}

func (r *run) transition(ctx context.Context, to State) {
	if !canTransition(r.state, to) {
		r.l.logger.WarnContext(ctx, "unexpected state transition",
			"request_id", r.requestID, "from", r.state, "to", to)
	}
	r.l.logger.Log(ctx, llm.LevelTrace, "state transition",
		"request_id", r.requestID, "from", r.state, "to", to, "iteration", r.iteration)
	r.l.events.Emit(events.SourceAgent, events.KindState, map[string]any{
		"request_id": r.requestID,
		"from":       string(r.state),
		"to":         string(to),
		"iteration":  r.iteration,
	})
	r.state = to
}

func (r *run) abort(ctx context.Context, err error) error {
	r.transition(ctx, StateAborted)
	r.l.metrics.ObserveLoop(r.iteration, isIterationLimit(err))
	r.l.events.Emit(events.SourceAgent, events.KindRequestAborted, map[string]any{
		"request_id": r.requestID,
		"iterations": r.iteration,
		"error":      err.Error(),
	})
	r.l.logger.ErrorContext(ctx, "chat request aborted",
		"request_id", r.requestID,
		"user_id", r.userID,
		"iterations", r.iteration,
		"elapsed", time.Since(r.start).Round(time.Millisecond),
		"error", err,
	)
	return err
}

func isIterationLimit(err error) bool {
	var limit *ErrIterationLimit
	return errors.As(err, &limit)
}

// Run answers one chat request. Runs for the same user are serialized.
// History is only written when the run completes: an error, an aborted
// loop, or a cancelled ctx leaves the conversation untouched.
func (l *Loop) Run(ctx context.Context, req *Request) (*Response, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	unlock, err := l.locks.Lock(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("wait for conversation %s: %w", req.UserID, err)
	}
	defer unlock()

	r := &run{
		l:         l,
		requestID: req.RequestID,
		userID:    req.UserID,
		state:     StateAwaitingModel,
		start:     time.Now(),
	}
	if r.requestID == "" {
		r.requestID = generateRequestID()
	}

	history, err := l.store.Read(ctx, req.UserID)
	if err != nil {
		return nil, r.abort(ctx, fmt.Errorf("read history: %w", err))
	}
	incoming := make([]conversation.Turn, 0, len(req.Messages))
	for _, m := range req.Messages {
		incoming = append(incoming, conversation.Turn{Role: m.Role, Content: m.Content})
	}
	view := conversation.Trim(append(history, incoming...), l.cfg.HistorySize)

	system := l.cfg.Instructions
	if system == "" {
		system = prompts.SystemInstructions(l.cfg.Now(), l.cfg.RequireConfirmation)
	}
	messages := make([]llm.Message, 0, len(view)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, t := range view {
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
	}

	l.logger.InfoContext(ctx, "chat request started",
		"request_id", r.requestID,
		"user_id", req.UserID,
		"incoming", len(incoming),
		"history", len(history),
		"context_turns", len(view),
	)
	l.events.Emit(events.SourceAgent, events.KindRequestStart, map[string]any{
		"request_id": r.requestID,
		"user_id":    req.UserID,
		"turns":      len(incoming),
	})

	toolDefs := l.tools.List()
	resp := &Response{
		UserID:    req.UserID,
		RequestID: r.requestID,
		Model:     l.cfg.Model,
		ToolCalls: []string{},
	}

	var final *llm.ChatResponse
	for r.iteration < l.cfg.MaxIterations {
		r.iteration++
		modelResp, err := l.invokeModel(ctx, r, messages, toolDefs)
		if err != nil {
			return nil, r.abort(ctx, err)
		}
		resp.InputTokens += modelResp.InputTokens
		resp.OutputTokens += modelResp.OutputTokens

		if !modelResp.HasToolCalls() {
			final = modelResp
			break
		}
		if r.iteration == l.cfg.MaxIterations {
			return nil, r.abort(ctx, &ErrIterationLimit{
				Limit:     l.cfg.MaxIterations,
				ToolCalls: len(modelResp.Message.ToolCalls),
			})
		}

		r.transition(ctx, StateExecutingTools)
		executed, outputs := l.executeTools(ctx, r, modelResp.Message.ToolCalls)
		if err := ctx.Err(); err != nil {
			return nil, r.abort(ctx, err)
		}
		for _, c := range executed {
			resp.ToolCalls = append(resp.ToolCalls, c.Name)
		}

		if len(executed) > 0 || modelResp.Message.Content != "" {
			messages = append(messages, llm.Message{
				Role:      llm.RoleAssistant,
				Content:   modelResp.Message.Content,
				ToolCalls: executed,
			})
		}
		messages = append(messages, outputs...)
		r.transition(ctx, StateAwaitingModel)
	}

	text, suggestions := ExtractSuggestions(final.Message.Content)
	if strings.TrimSpace(text) == "" {
		text = prompts.EmptyResponseFallback
	}
	resp.Message = text
	resp.Suggestions = suggestions
	resp.Iterations = r.iteration
	if final.Model != "" {
		resp.Model = final.Model
	}

	if err := ctx.Err(); err != nil {
		return nil, r.abort(ctx, err)
	}
	commit := append(incoming, conversation.Turn{Role: conversation.RoleAssistant, Content: text})
	if err := l.store.Append(ctx, req.UserID, commit...); err != nil {
		return nil, r.abort(ctx, fmt.Errorf("save history: %w", err))
	}

	r.transition(ctx, StateDone)
	l.metrics.ObserveLoop(r.iteration, false)
	elapsed := time.Since(r.start)
	l.events.Emit(events.SourceAgent, events.KindRequestComplete, map[string]any{
		"request_id":  r.requestID,
		"iterations":  r.iteration,
		"suggestions": len(suggestions),
		"tokens_in":   resp.InputTokens,
		"tokens_out":  resp.OutputTokens,
		"elapsed_ms":  elapsed.Milliseconds(),
	})
	l.logger.InfoContext(ctx, "chat request completed",
		"request_id", r.requestID,
		"user_id", req.UserID,
		"model", resp.Model,
		"iterations", r.iteration,
		"tools", resp.ToolCalls,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return resp, nil
}

// invokeModel makes one model call under the model timeout.
func (l *Loop) invokeModel(ctx context.Context, r *run, messages []llm.Message, toolDefs []map[string]any) (*llm.ChatResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.ModelTimeout)
	defer cancel()

	l.logger.DebugContext(ctx, "calling model",
		"request_id", r.requestID,
		"iteration", r.iteration,
		"model", l.cfg.Model,
		"messages", len(messages),
	)
	l.events.Emit(events.SourceAgent, events.KindLLMCall, map[string]any{
		"request_id": r.requestID,
		"iteration":  r.iteration,
		"model":      l.cfg.Model,
	})

	start := time.Now()
	resp, err := l.llm.Chat(callCtx, l.cfg.Model, messages, toolDefs)
	if err != nil {
		return nil, fmt.Errorf("model call %d: %w", r.iteration, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("model call %d: empty response", r.iteration)
	}
	elapsed := time.Since(start)
	l.metrics.ObserveModel(elapsed, resp.InputTokens, resp.OutputTokens)
	l.events.Emit(events.SourceAgent, events.KindLLMResponse, map[string]any{
		"request_id":  r.requestID,
		"iteration":   r.iteration,
		"model":       resp.Model,
		"tokens_in":   resp.InputTokens,
		"tokens_out":  resp.OutputTokens,
		"tool_calls":  len(resp.Message.ToolCalls),
		"duration_ms": elapsed.Milliseconds(),
	})
	return resp, nil
}

// toolOutcome is the result of one requested call.
type toolOutcome struct {
	call    llm.ToolCall
	result  tools.Result
	skipped bool
}

// executeTools runs one batch of calls concurrently and waits for all of
// them. It returns the calls that executed, in request order, and one
// tool message per executed call. Unknown tools and calls with invalid
// arguments are skipped.
func (l *Loop) executeTools(ctx context.Context, r *run, calls []llm.ToolCall) ([]llm.ToolCall, []llm.Message) {
	toolCtx := tools.WithUserID(ctx, r.userID)

	mapper := iter.Mapper[llm.ToolCall, toolOutcome]{MaxGoroutines: l.cfg.ToolConcurrency}
	outcomes := mapper.Map(calls, func(c *llm.ToolCall) toolOutcome {
		return l.executeTool(toolCtx, r, *c)
	})

	executed := make([]llm.ToolCall, 0, len(outcomes))
	outputs := make([]llm.Message, 0, len(outcomes))
	for _, o := range outcomes {
		if o.skipped {
			continue
		}
		executed = append(executed, o.call)
		outputs = append(outputs, llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: o.call.ID,
			Content:    o.result.JSON(),
		})
	}
	return executed, outputs
}

func (l *Loop) executeTool(ctx context.Context, r *run, call llm.ToolCall) toolOutcome {
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.ToolTimeout)
	defer cancel()

	l.events.Emit(events.SourceAgent, events.KindToolCall, map[string]any{
		"request_id": r.requestID,
		"tool":       call.Name,
	})
	l.logger.Log(ctx, llm.LevelTrace, "tool call",
		"request_id", r.requestID,
		"tool", call.Name,
		"call_id", call.ID,
		"arguments", call.Arguments,
	)

	start := time.Now()
	result, err := l.tools.Execute(callCtx, call.Name, call.Arguments)
	if err != nil {
		var unavailable *tools.ErrToolUnavailable
		var badArgs *tools.ArgumentError
		reason := "error"
		switch {
		case errors.As(err, &unavailable):
			reason = "unavailable"
		case errors.As(err, &badArgs):
			reason = "invalid_arguments"
		}
		l.logger.WarnContext(ctx, "skipping tool call",
			"request_id", r.requestID,
			"tool", call.Name,
			"call_id", call.ID,
			"reason", reason,
			"error", err,
		)
		l.metrics.ObserveTool(call.Name, metrics.OutcomeSkipped)
		l.events.Emit(events.SourceAgent, events.KindToolSkipped, map[string]any{
			"request_id": r.requestID,
			"tool":       call.Name,
			"reason":     reason,
		})
		return toolOutcome{call: call, skipped: true}
	}

	elapsed := time.Since(start)
	mutated := result.Mutated()
	outcome := metrics.OutcomeOK
	switch {
	case result.Pending:
		outcome = metrics.OutcomePending
	case !mutated:
		outcome = metrics.OutcomeFailed
	}
	l.metrics.ObserveTool(call.Name, outcome)
	l.events.Emit(events.SourceAgent, events.KindToolDone, map[string]any{
		"request_id":  r.requestID,
		"tool":        call.Name,
		"ok":          result.Success,
		"pending":     result.Pending,
		"mutated":     mutated,
		"duration_ms": elapsed.Milliseconds(),
	})
	l.logger.DebugContext(ctx, "tool executed",
		"request_id", r.requestID,
		"tool", call.Name,
		"outcome", outcome,
		"mutated", mutated,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return toolOutcome{call: call, result: result}
}
