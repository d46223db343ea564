package providers

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestSanitizeStructuredSchemaForModel_AnthropicRemovesIntegerBounds(t *testing.T) {
	raw := json.RawMessage(`{
		"name":"test_schema",
		"strict":true,
		"schema":{
			"type":"object",
			"properties":{
				"level":{"type":"integer","minimum":1,"maximum":3},
				"confidence":{"type":"number","minimum":0.0,"maximum":1.0}
			},
			"required":["level"]
		}
	}`)

	got, err := sanitizeStructuredSchemaForModel("anthropic/claude-opus-4.6", raw)
	if err != nil {
		t.Fatalf("sanitizeStructuredSchemaForModel() error = %v", err)
	}

	if strings.Contains(string(got), `"minimum":1`) || strings.Contains(string(got), `"maximum":3`) {
		t.Fatalf("integer minimum/maximum should be removed, got: %s", string(got))
	}
	if !strings.Contains(string(got), `"minimum":0`) && !strings.Contains(string(got), `"minimum":0.0`) {
		t.Fatalf("number minimum should remain, got: %s", string(got))
	}
}

func TestSanitizeStructuredSchemaForModel_NonAnthropicUnchanged(t *testing.T) {
	raw := json.RawMessage(`{"schema":{"type":"object","properties":{"x":{"type":"integer","minimum":1}}}}`)
	got, err := sanitizeStructuredSchemaForModel("openai/gpt-4.1", raw)
	if err != nil {
		t.Fatalf("sanitizeStructuredSchemaForModel() error = %v", err)
	}
	if string(got) != string(raw) {
		t.Fatalf("non-anthropic schema should be unchanged, got: %s", string(got))
	}
}

func TestParseStructuredJSON_StripsCodeFence(t *testing.T) {
	content := "```json\n{\"ok\":true}\n```"
	got, err := parseStructuredJSON(content)
	if err != nil {
		t.Fatalf("parseStructuredJSON() error = %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(got, &parsed); err != nil {
		t.Fatalf("failed to unmarshal parsed JSON: %v", err)
	}
	if ok, _ := parsed["ok"].(bool); !ok {
		t.Fatalf("expected ok=true, got %#v", parsed)
	}
}

func TestValidateStructuredJSON_EnforcesCanonicalBounds(t *testing.T) {
	schema := json.RawMessage(`{
		"name":"toc_extraction",
		"strict":true,
		"schema":{
			"type":"object",
			"properties":{
				"level":{"type":"integer","minimum":1,"maximum":3}
			},
			"required":["level"],
			"additionalProperties":false
		}
	}`)

	valid := json.RawMessage(`{"level":2}`)
	if err := validateStructuredJSON(schema, valid); err != nil {
		t.Fatalf("validateStructuredJSON(valid) error = %v", err)
	}

	invalid := json.RawMessage(`{"level":5}`)
	if err := validateStructuredJSON(schema, invalid); err == nil {
		t.Fatal("validateStructuredJSON(invalid) expected error, got nil")
	}
}

func TestChatStructured(t *testing.T) {
	schema := json.RawMessage(`{
		"name":"section_summary",
		"strict":true,
		"schema":{
			"type":"object",
			"properties":{
				"title":{"type":"string"}
			},
			"required":["title"],
			"additionalProperties":false
		}
	}`)

	request := func() *ChatRequest {
		return &ChatRequest{
			Messages:       []Message{{Role: "user", Content: "summarize"}},
			ResponseFormat: &ResponseFormat{Type: "json_schema", JSONSchema: schema},
		}
	}

	t.Run("passthrough without response format", func(t *testing.T) {
		mock := NewMockClient()
		mock.ResponseText = "plain text"

		result, err := ChatStructured(context.Background(), mock, &ChatRequest{
			Messages: []Message{{Role: "user", Content: "hi"}},
		})
		if err != nil {
			t.Fatalf("ChatStructured() error = %v", err)
		}
		if result.Content != "plain text" {
			t.Errorf("Content = %q", result.Content)
		}
		if mock.RequestCount() != 1 {
			t.Errorf("RequestCount = %d, want 1", mock.RequestCount())
		}
	})

	t.Run("valid output on first attempt", func(t *testing.T) {
		mock := NewMockClient()
		mock.Script = []*ChatResult{
			{Success: true, Content: `{"title":"Fractions"}`},
		}

		result, err := ChatStructured(context.Background(), mock, request())
		if err != nil {
			t.Fatalf("ChatStructured() error = %v", err)
		}
		if !result.Success {
			t.Error("expected Success = true")
		}
		if result.ParsedJSON == nil {
			t.Fatal("expected ParsedJSON to be set")
		}
		if result.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", result.Attempts)
		}
	})

	t.Run("repairs malformed JSON", func(t *testing.T) {
		mock := NewMockClient()
		mock.Script = []*ChatResult{
			{Success: true, Content: "the answer is forty-two"},
			{Success: true, Content: `{"title":"Fixed"}`},
		}

		result, err := ChatStructured(context.Background(), mock, request())
		if err != nil {
			t.Fatalf("ChatStructured() error = %v", err)
		}
		if !result.Success {
			t.Errorf("expected Success = true, got %s: %s", result.ErrorType, result.ErrorMessage)
		}
		if result.Attempts != 2 {
			t.Errorf("Attempts = %d, want 2", result.Attempts)
		}

		reqs := mock.Requests()
		if len(reqs) != 2 {
			t.Fatalf("expected 2 requests, got %d", len(reqs))
		}
		repair := reqs[1].Messages
		if len(repair) != 3 {
			t.Fatalf("repair conversation should have 3 messages, got %d", len(repair))
		}
		if repair[1].Role != "assistant" || repair[1].Content != "the answer is forty-two" {
			t.Errorf("repair should echo the failed output, got %+v", repair[1])
		}
		if repair[2].Role != "user" || !strings.Contains(repair[2].Content, "Validation issue") {
			t.Errorf("repair should carry the repair prompt, got %+v", repair[2])
		}
	})

	t.Run("repairs schema violations", func(t *testing.T) {
		mock := NewMockClient()
		mock.Script = []*ChatResult{
			{Success: true, Content: `{"heading":"wrong shape"}`},
			{Success: true, Content: `{"title":"Right shape"}`},
		}

		result, err := ChatStructured(context.Background(), mock, request())
		if err != nil {
			t.Fatalf("ChatStructured() error = %v", err)
		}
		if !result.Success {
			t.Errorf("expected Success = true, got %s: %s", result.ErrorType, result.ErrorMessage)
		}
		if result.Attempts != 2 {
			t.Errorf("Attempts = %d, want 2", result.Attempts)
		}
	})

	t.Run("gives up after repair budget", func(t *testing.T) {
		mock := NewMockClient()
		mock.Script = []*ChatResult{
			{Success: true, Content: "nope"},
			{Success: true, Content: "still nope"},
			{Success: true, Content: "never json"},
		}

		result, err := ChatStructured(context.Background(), mock, request())
		if err == nil {
			t.Fatal("expected error after exhausting repair attempts")
		}
		if result.Success {
			t.Error("expected Success = false")
		}
		if result.ErrorType != "json_parse" {
			t.Errorf("ErrorType = %s, want json_parse", result.ErrorType)
		}
		if result.Attempts != 3 {
			t.Errorf("Attempts = %d, want 3", result.Attempts)
		}
		if mock.RequestCount() != 3 {
			t.Errorf("RequestCount = %d, want 3", mock.RequestCount())
		}
	})

	t.Run("repair conversation does not grow across attempts", func(t *testing.T) {
		mock := NewMockClient()
		mock.Script = []*ChatResult{
			{Success: true, Content: "bad one"},
			{Success: true, Content: "bad two"},
			{Success: true, Content: "bad three"},
		}

		ChatStructured(context.Background(), mock, request())

		reqs := mock.Requests()
		if len(reqs) != 3 {
			t.Fatalf("expected 3 requests, got %d", len(reqs))
		}
		if len(reqs[0].Messages) != 1 {
			t.Errorf("first request should have 1 message, got %d", len(reqs[0].Messages))
		}
		for i := 1; i < 3; i++ {
			if len(reqs[i].Messages) != 3 {
				t.Errorf("repair request %d should have 3 messages, got %d", i, len(reqs[i].Messages))
			}
		}
	})

	t.Run("provider error propagates", func(t *testing.T) {
		mock := NewMockClient()
		mock.ShouldFail = true

		_, err := ChatStructured(context.Background(), mock, request())
		if err == nil {
			t.Fatal("expected provider error to propagate")
		}
		if mock.RequestCount() != 1 {
			t.Errorf("RequestCount = %d, want 1 (no retry on transport errors)", mock.RequestCount())
		}
	})
}
