package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

var testTools = []map[string]any{
	{
		"type": "function",
		"function": map[string]any{
			"name":        "getAllTasks",
			"description": "List tasks",
			"parameters":  map[string]any{"type": "object", "properties": map[string]any{}},
			"strict":      true,
		},
	},
}

func TestConvertToResponsesInput(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "list tasks"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "call_1", Name: "getAllTasks", Arguments: "{}"},
			{ID: "call_2", Name: "detectOverdueTasks", Arguments: "{}"},
		}},
		{Role: RoleTool, ToolCallID: "call_1", Content: `{"success":true}`},
	}

	items := convertToResponsesInput(msgs)
	if len(items) != 5 {
		t.Fatalf("got %d items, want 5: %v", len(items), items)
	}
	if items[0]["role"] != RoleSystem || items[1]["content"] != "list tasks" {
		t.Errorf("message items wrong: %v %v", items[0], items[1])
	}
	if items[2]["type"] != "function_call" || items[2]["call_id"] != "call_1" {
		t.Errorf("items[2] = %v", items[2])
	}
	if items[3]["name"] != "detectOverdueTasks" {
		t.Errorf("items[3] = %v", items[3])
	}
	if items[4]["type"] != "function_call_output" || items[4]["output"] != `{"success":true}` {
		t.Errorf("items[4] = %v", items[4])
	}
}

func TestConvertToolsToResponses(t *testing.T) {
	got := convertToolsToResponses(append(testTools, map[string]any{"type": "web_search"}))
	if len(got) != 1 {
		t.Fatalf("got %d tools, want 1", len(got))
	}
	if got[0].Name != "getAllTasks" || !got[0].Strict || got[0].Type != "function" {
		t.Errorf("tool = %+v", got[0])
	}
}

func TestOpenAIClient_Chat(t *testing.T) {
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("authorization = %q", auth)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotReq)
		w.Write([]byte(`{
			"id": "resp_1",
			"model": "gpt-4o",
			"output": [
				{"type": "message", "role": "assistant", "content": [{"type": "output_text", "text": "Checking."}]},
				{"type": "function_call", "id": "fc_1", "call_id": "call_abc", "name": "getAllTasks", "arguments": "{}"}
			],
			"usage": {"input_tokens": 120, "output_tokens": 9}
		}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "sk-test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	resp, err := c.Chat(context.Background(), "gpt-4o", []Message{{Role: RoleUser, Content: "hi"}}, testTools)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if gotReq["model"] != "gpt-4o" {
		t.Errorf("request model = %v", gotReq["model"])
	}
	if tools, _ := gotReq["tools"].([]any); len(tools) != 1 {
		t.Errorf("request tools = %v", gotReq["tools"])
	}

	if resp.Message.Content != "Checking." {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if !resp.HasToolCalls() || resp.Message.ToolCalls[0].ID != "call_abc" {
		t.Fatalf("tool calls = %+v", resp.Message.ToolCalls)
	}
	if resp.InputTokens != 120 || resp.OutputTokens != 9 {
		t.Errorf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestOpenAIClient_ChatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "nope", nil)
	if _, err := c.Chat(context.Background(), "gpt-4o", nil, nil); err == nil {
		t.Fatal("expected error for 401")
	}
}
