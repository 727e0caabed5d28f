package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/taskmate-ai/taskmate/internal/httpkit"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient is a client for the OpenAI Responses API.
type OpenAIClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a new Responses API client. Request deadlines
// come from the caller's context.
func NewOpenAIClient(baseURL, apiKey string, logger *slog.Logger) *OpenAIClient {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	hc := httpkit.NewClient(
		httpkit.WithTimeout(0),
		httpkit.WithTransport(t),
	)
	hc.Transport = &bearerTransport{base: hc.Transport, token: apiKey}

	return &OpenAIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger.With("provider", "openai"),
		httpClient: hc,
	}
}

// Responses API request/response types

type responsesRequest struct {
	Model string           `json:"model"`
	Input []map[string]any `json:"input"`
	Tools []responsesTool  `json:"tools,omitempty"`
}

type responsesTool struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters"`
	Strict      bool   `json:"strict"`
}

type responsesOutput struct {
	Type      string             `json:"type"`
	ID        string             `json:"id,omitempty"`
	Role      string             `json:"role,omitempty"`
	Content   []responsesContent `json:"content,omitempty"`
	CallID    string             `json:"call_id,omitempty"`
	Name      string             `json:"name,omitempty"`
	Arguments string             `json:"arguments,omitempty"`
}

type responsesContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesResponse struct {
	ID     string            `json:"id"`
	Model  string            `json:"model"`
	Status string            `json:"status"`
	Output []responsesOutput `json:"output"`
	Usage  struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat sends one Responses API request.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	req := responsesRequest{
		Model: model,
		Input: convertToResponsesInput(messages),
		Tools: convertToolsToResponses(tools),
	}

	c.logger.Debug("preparing request",
		"model", model,
		"input_items", len(req.Input),
		"tools", len(req.Tools),
	)
	if c.logger.Enabled(ctx, LevelTrace) {
		if payload, err := json.Marshal(req); err == nil {
			c.logger.Log(ctx, LevelTrace, "request payload", "body", string(payload))
		}
	}

	start := time.Now()
	var resp responsesResponse
	if err := httpkit.DoJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/responses", req, &resp); err != nil {
		return nil, fmt.Errorf("openai responses: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("openai responses: %s: %s", resp.Error.Code, resp.Error.Message)
	}

	out := convertFromResponses(&resp)
	out.Duration = time.Since(start)

	c.logger.Debug("response received",
		"model", out.Model,
		"tool_calls", len(out.Message.ToolCalls),
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
		"elapsed", out.Duration,
	)
	return out, nil
}

// Ping checks that the API key is accepted.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	return httpkit.DoJSON(ctx, c.httpClient, http.MethodGet, c.baseURL+"/models", nil, nil)
}

// bearerTransport adds the Authorization header to every request.
type bearerTransport struct {
	base  http.RoundTripper
	token string
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(req)
}

// convertToResponsesInput flattens provider-neutral messages into
// Responses API input items. An assistant message with tool calls
// becomes one function_call item per call; a tool message becomes a
// function_call_output item.
func convertToResponsesInput(messages []Message) []map[string]any {
	items := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleTool:
			items = append(items, map[string]any{
				"type":    "function_call_output",
				"call_id": m.ToolCallID,
				"output":  m.Content,
			})
		case RoleAssistant:
			if m.Content != "" {
				items = append(items, map[string]any{"role": RoleAssistant, "content": m.Content})
			}
			for _, tc := range m.ToolCalls {
				items = append(items, map[string]any{
					"type":      "function_call",
					"call_id":   tc.ID,
					"name":      tc.Name,
					"arguments": tc.Arguments,
				})
			}
		default:
			items = append(items, map[string]any{"role": m.Role, "content": m.Content})
		}
	}
	return items
}

func convertToolsToResponses(tools []map[string]any) []responsesTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]responsesTool, 0, len(tools))
	for _, tool := range tools {
		fn := ToolFunction(tool)
		if fn == nil {
			continue
		}
		rt := responsesTool{Type: "function", Parameters: fn["parameters"]}
		rt.Name, _ = fn["name"].(string)
		rt.Description, _ = fn["description"].(string)
		rt.Strict, _ = fn["strict"].(bool)
		out = append(out, rt)
	}
	return out
}

// convertFromResponses collects output_text parts into Content and
// function_call items into ToolCalls, preserving output order.
func convertFromResponses(resp *responsesResponse) *ChatResponse {
	out := &ChatResponse{
		Model:        resp.Model,
		Message:      Message{Role: RoleAssistant},
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	var text strings.Builder
	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, part := range item.Content {
				if part.Type == "output_text" {
					text.WriteString(part.Text)
				}
			}
		case "function_call":
			id := item.CallID
			if id == "" {
				id = item.ID
			}
			out.Message.ToolCalls = append(out.Message.ToolCalls, ToolCall{
				ID:        id,
				Name:      item.Name,
				Arguments: item.Arguments,
			})
		}
	}
	out.Message.Content = text.String()
	return out
}
