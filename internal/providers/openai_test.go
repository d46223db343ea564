package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func openAIChatResponse(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-5",
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     12,
			"completion_tokens": 4,
			"total_tokens":      16,
			"completion_tokens_details": map[string]any{
				"reasoning_tokens": 2,
			},
		},
	}
}

func TestOpenAIChat(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected authorization: %s", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openAIChatResponse("Hello back"))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	})

	result, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "You extract teaching guidelines."},
			{Role: "user", Content: "Hello"},
		},
		Temperature:     0.7,
		MaxTokens:       100,
		ReasoningEffort: "low",
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if !result.Success {
		t.Error("expected Success = true")
	}
	if result.Content != "Hello back" {
		t.Errorf("Content = %q", result.Content)
	}
	if result.Provider != OpenAIName {
		t.Errorf("Provider = %s, want %s", result.Provider, OpenAIName)
	}
	if result.ModelUsed != "gpt-5" {
		t.Errorf("ModelUsed = %s, want gpt-5", result.ModelUsed)
	}
	if result.PromptTokens != 12 || result.CompletionTokens != 4 || result.TotalTokens != 16 {
		t.Errorf("tokens = %d/%d/%d, want 12/4/16",
			result.PromptTokens, result.CompletionTokens, result.TotalTokens)
	}
	if result.ReasoningTokens != 2 {
		t.Errorf("ReasoningTokens = %d, want 2", result.ReasoningTokens)
	}

	if got, _ := payload["model"].(string); got != "gpt-5" {
		t.Errorf("expected model gpt-5, got %q", got)
	}
	msgs, _ := payload["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if got, _ := payload["max_completion_tokens"].(float64); got != 100 {
		t.Errorf("expected max_completion_tokens 100, got %v", payload["max_completion_tokens"])
	}
	if got, _ := payload["reasoning_effort"].(string); got != "low" {
		t.Errorf("expected reasoning_effort low, got %q", got)
	}
	// gpt-5 family rejects temperature overrides, so it must not be sent
	if _, present := payload["temperature"]; present {
		t.Error("temperature should not be sent for reasoning models")
	}
}

func TestOpenAIChatTemperatureForwarded(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openAIChatResponse("ok"))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	})

	_, err := client.Chat(context.Background(), &ChatRequest{
		Model:       "gpt-4.1",
		Messages:    []Message{{Role: "user", Content: "Hello"}},
		Temperature: 0.3,
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if got, _ := payload["temperature"].(float64); got != 0.3 {
		t.Errorf("expected temperature 0.3, got %v", payload["temperature"])
	}
}

func TestOpenAIChatVision(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openAIChatResponse("I see a page"))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	})

	_, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{
			{
				Role:    "user",
				Content: "What's on this page?",
				Images:  [][]byte{[]byte("fake-image-data")},
			},
		},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	msgs, _ := payload["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	msg, _ := msgs[0].(map[string]any)
	parts, _ := msg["content"].([]any)
	if len(parts) != 2 {
		t.Fatalf("expected 2 content parts, got %d", len(parts))
	}
	text, _ := parts[0].(map[string]any)
	if got, _ := text["type"].(string); got != "text" {
		t.Errorf("expected first part type text, got %q", got)
	}
	image, _ := parts[1].(map[string]any)
	if got, _ := image["type"].(string); got != "image_url" {
		t.Errorf("expected second part type image_url, got %q", got)
	}
	imageURL, _ := image["image_url"].(map[string]any)
	if url, _ := imageURL["url"].(string); !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("expected data URL, got %q", url)
	}
}

func TestOpenAIChatStructuredOutput(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openAIChatResponse(`{"title":"Fractions"}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	})

	result, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "extract"}},
		ResponseFormat: &ResponseFormat{
			Type:       "json_schema",
			JSONSchema: json.RawMessage(`{"name":"guideline","strict":true,"schema":{"type":"object","properties":{"title":{"type":"string"}},"required":["title"]}}`),
		},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if result.ParsedJSON == nil {
		t.Error("expected ParsedJSON to be set")
	}

	rf, _ := payload["response_format"].(map[string]any)
	if rf == nil {
		t.Fatal("expected response_format in payload")
	}
	if got, _ := rf["type"].(string); got != "json_schema" {
		t.Errorf("expected response_format type json_schema, got %q", got)
	}
	js, _ := rf["json_schema"].(map[string]any)
	if js == nil {
		t.Fatal("expected json_schema in response_format")
	}
	if got, _ := js["name"].(string); got != "guideline" {
		t.Errorf("expected schema name guideline, got %q", got)
	}
	if got, _ := js["strict"].(bool); !got {
		t.Error("expected strict = true")
	}
	if _, ok := js["schema"].(map[string]any); !ok {
		t.Errorf("expected inner schema object, got %T", js["schema"])
	}
}

func TestOpenAIChatJSONObjectFormat(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openAIChatResponse(`{"greeting":"hello"}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	})

	result, err := client.Chat(context.Background(), &ChatRequest{
		Messages:       []Message{{Role: "user", Content: "say hello as JSON"}},
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if result.ParsedJSON == nil {
		t.Error("expected ParsedJSON to be set")
	}

	rf, _ := payload["response_format"].(map[string]any)
	if got, _ := rf["type"].(string); got != "json_object" {
		t.Errorf("expected response_format type json_object, got %q", got)
	}
}

func TestOpenAIChatRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit","type":"rate_limit_error","param":"","code":"rate_limit"}}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		MaxRetries: 1,
	})

	result, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "Hello"}},
	})
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	rle, ok := IsRateLimitError(err)
	if !ok {
		t.Fatalf("expected RateLimitError, got %T: %v", err, err)
	}
	if rle.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rle.StatusCode)
	}
	if rle.RetryAfter != time.Second {
		t.Fatalf("expected RetryAfter=1s, got %v", rle.RetryAfter)
	}
	if result.ErrorType != "rate_limited" {
		t.Errorf("ErrorType = %s, want rate_limited", result.ErrorType)
	}
}

func TestOpenAIClientDefaults(t *testing.T) {
	client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key"})

	if client.Name() != OpenAIName {
		t.Errorf("Name() = %s, want %s", client.Name(), OpenAIName)
	}
	if client.Model() != "gpt-5" {
		t.Errorf("Model() = %s, want gpt-5", client.Model())
	}
	if client.RequestsPerSecond() != 8.0 {
		t.Errorf("RequestsPerSecond() = %f, want 8.0", client.RequestsPerSecond())
	}
	if client.MaxRetries() != 3 {
		t.Errorf("MaxRetries() = %d, want 3", client.MaxRetries())
	}
	if client.RetryDelayBase() != 2*time.Second {
		t.Errorf("RetryDelayBase() = %v, want 2s", client.RetryDelayBase())
	}
}

// TestOpenAIIntegration runs real chat calls against the OpenAI API.
// Requires OPENAI_API_KEY environment variable to be set.
func TestOpenAIIntegration(t *testing.T) {
	cfg := LoadTestConfig()
	if !cfg.HasOpenAI() {
		t.Skip("OPENAI_API_KEY not set - skipping integration test")
	}

	client := cfg.NewOpenAIClient()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	result, err := client.Chat(ctx, &ChatRequest{
		Model: "gpt-5-mini",
		Messages: []Message{
			{Role: "user", Content: "Say 'hello' and nothing else."},
		},
		MaxTokens:       256,
		ReasoningEffort: "minimal",
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if !result.Success {
		t.Errorf("Chat failed: %s", result.ErrorMessage)
	}
	if result.Content == "" {
		t.Error("expected non-empty content")
	}
	t.Logf("Response: %q", result.Content)
	t.Logf("Tokens: %d prompt, %d completion (%d reasoning)",
		result.PromptTokens, result.CompletionTokens, result.ReasoningTokens)
}
