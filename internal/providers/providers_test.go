package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMockClient(t *testing.T) {
	t.Run("chat", func(t *testing.T) {
		c := NewMockClient()
		c.ResponseText = "hello world"

		result, err := c.Chat(context.Background(), &ChatRequest{
			Model: "test-model",
			Messages: []Message{
				{Role: "user", Content: "test"},
			},
		})

		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if !result.Success {
			t.Errorf("Success = false, want true")
		}
		if result.Content != "hello world" {
			t.Errorf("Content = %q, want %q", result.Content, "hello world")
		}
		if c.RequestCount() != 1 {
			t.Errorf("RequestCount = %d, want 1", c.RequestCount())
		}
	})

	t.Run("scripted responses in order", func(t *testing.T) {
		c := NewMockClient()
		c.Script = []*ChatResult{
			{Success: true, Content: "first"},
			{Success: true, Content: "second"},
		}

		for i, want := range []string{"first", "second"} {
			result, err := c.Chat(context.Background(), &ChatRequest{})
			if err != nil {
				t.Fatalf("request %d: %v", i, err)
			}
			if result.Content != want {
				t.Errorf("request %d: Content = %q, want %q", i, result.Content, want)
			}
		}

		// Past the end of the script fails loudly.
		if _, err := c.Chat(context.Background(), &ChatRequest{}); err == nil {
			t.Error("expected error once script is exhausted")
		}
	})

	t.Run("respond func takes control", func(t *testing.T) {
		c := NewMockClient()
		c.RespondFunc = func(req *ChatRequest) (*ChatResult, error) {
			return &ChatResult{Success: true, Content: "from " + req.Model}, nil
		}

		result, err := c.Chat(context.Background(), &ChatRequest{Model: "m1"})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if result.Content != "from m1" {
			t.Errorf("Content = %q", result.Content)
		}
	})

	t.Run("records requests", func(t *testing.T) {
		c := NewMockClient()

		_, _ = c.Chat(context.Background(), &ChatRequest{
			Model:    "m1",
			Messages: []Message{{Role: "user", Content: "one"}},
		})
		_, _ = c.Chat(context.Background(), &ChatRequest{
			Model:    "m2",
			Messages: []Message{{Role: "user", Content: "two"}},
		})

		reqs := c.Requests()
		if len(reqs) != 2 {
			t.Fatalf("captured %d requests, want 2", len(reqs))
		}
		if reqs[0].Model != "m1" || reqs[1].Model != "m2" {
			t.Errorf("models = %q, %q", reqs[0].Model, reqs[1].Model)
		}
		if reqs[1].Messages[0].Content != "two" {
			t.Errorf("second request content = %q", reqs[1].Messages[0].Content)
		}
	})

	t.Run("structured output", func(t *testing.T) {
		c := NewMockClient()
		c.ResponseJSON = json.RawMessage(`{"key": "value"}`)

		result, err := c.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: "user", Content: "test"}},
			ResponseFormat: &ResponseFormat{
				Type: "json_schema",
			},
		})

		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if result.ParsedJSON == nil {
			t.Error("expected ParsedJSON")
		}
	})

	t.Run("failure", func(t *testing.T) {
		c := NewMockClient()
		c.ShouldFail = true

		result, err := c.Chat(context.Background(), &ChatRequest{})
		if err == nil {
			t.Error("expected error, got nil")
		}
		if result.Success {
			t.Error("expected Success = false")
		}
	})

	t.Run("fail after N", func(t *testing.T) {
		c := NewMockClient()
		c.FailAfter = 2

		// First two should succeed
		_, err := c.Chat(context.Background(), &ChatRequest{})
		if err != nil {
			t.Fatalf("first request should succeed: %v", err)
		}
		_, err = c.Chat(context.Background(), &ChatRequest{})
		if err != nil {
			t.Fatalf("second request should succeed: %v", err)
		}

		// Third should fail
		_, err = c.Chat(context.Background(), &ChatRequest{})
		if err == nil {
			t.Error("third request should fail")
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		c := NewMockClient()
		c.Latency = 5 * time.Second

		ctx, cancel := context.WithCancel(context.Background())
		cancel() // Cancel immediately

		_, err := c.Chat(ctx, &ChatRequest{})
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestMockOCRProvider(t *testing.T) {
	t.Run("process image", func(t *testing.T) {
		p := NewMockOCRProvider()
		p.ResponseText = "extracted text"

		result, err := p.ProcessImage(context.Background(), []byte("fake image"), 1)

		if err != nil {
			t.Fatalf("ProcessImage() error = %v", err)
		}
		if !result.Success {
			t.Error("expected success")
		}
		if result.Text == "" {
			t.Error("expected non-empty text")
		}
	})

	t.Run("per-page failure", func(t *testing.T) {
		p := NewMockOCRProvider()
		pageErr := fmt.Errorf("Rate limit exceeded (429)")
		p.FailPage(3, pageErr)

		if _, err := p.ProcessImage(context.Background(), []byte("img"), 2); err != nil {
			t.Fatalf("page 2 should succeed: %v", err)
		}

		result, err := p.ProcessImage(context.Background(), []byte("img"), 3)
		if !errors.Is(err, pageErr) {
			t.Fatalf("page 3 error = %v, want configured failure", err)
		}
		if result.Success {
			t.Error("expected Success = false for failing page")
		}

		p.ClearPageFailure(3)
		if _, err := p.ProcessImage(context.Background(), []byte("img"), 3); err != nil {
			t.Fatalf("page 3 should succeed after clear: %v", err)
		}
	})

	t.Run("rate limit properties", func(t *testing.T) {
		p := NewMockOCRProvider()

		if p.RequestsPerSecond() <= 0 {
			t.Errorf("RequestsPerSecond = %f, want positive", p.RequestsPerSecond())
		}
		if p.MaxRetries() != 3 {
			t.Errorf("MaxRetries = %d, want 3", p.MaxRetries())
		}
		if p.RetryDelayBase() <= 0 {
			t.Errorf("RetryDelayBase = %v, want positive", p.RetryDelayBase())
		}
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows initial requests", func(t *testing.T) {
		limiter := NewRateLimiter(600) // 10 per second

		// Should allow 5 requests quickly
		start := time.Now()
		for i := 0; i < 5; i++ {
			if err := limiter.Wait(context.Background()); err != nil {
				t.Fatalf("request %d failed: %v", i, err)
			}
		}
		elapsed := time.Since(start)

		// Should complete quickly since we have burst capacity
		if elapsed > time.Second {
			t.Errorf("took too long: %v", elapsed)
		}
	})

	t.Run("per second constructor", func(t *testing.T) {
		limiter := NewRateLimiterPerSecond(6.0)

		status := limiter.Status()
		if status.TokensLimit != 360 {
			t.Errorf("TokensLimit = %d, want 360", status.TokensLimit)
		}
	})

	t.Run("try consume", func(t *testing.T) {
		limiter := NewRateLimiter(60)

		// Should succeed initially
		if !limiter.TryConsume() {
			t.Error("first TryConsume should succeed")
		}
	})

	t.Run("status", func(t *testing.T) {
		limiter := NewRateLimiter(60)

		status := limiter.Status()

		if status.TokensLimit != 60 {
			t.Errorf("TokensLimit = %d, want 60", status.TokensLimit)
		}
		if status.TokensAvailable <= 0 {
			t.Error("expected positive tokens available")
		}
	})

	t.Run("record 429", func(t *testing.T) {
		limiter := NewRateLimiter(60)

		limiter.Record429(time.Second)

		status := limiter.Status()
		if status.Last429Time.IsZero() {
			t.Error("Last429Time should be set")
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		// Create limiter with very low rate
		limiter := NewRateLimiter(1) // 1 per minute

		// Consume the one allowed token
		limiter.Wait(context.Background())

		// Cancel context immediately
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := limiter.Wait(ctx)
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("concurrent requests", func(t *testing.T) {
		limiter := NewRateLimiter(6000) // 100 per second

		var wg sync.WaitGroup
		var errCount atomic.Int32

		// Fire 10 concurrent requests
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := limiter.Wait(context.Background()); err != nil {
					errCount.Add(1)
				}
			}()
		}

		wg.Wait()

		if errCount.Load() > 0 {
			t.Errorf("had %d errors", errCount.Load())
		}

		status := limiter.Status()
		if status.TotalConsumed != 10 {
			t.Errorf("TotalConsumed = %d, want 10", status.TotalConsumed)
		}
	})
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "3", 3 * time.Second},
		{"zero seconds", "0", 0},
		{"garbage", "soon", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.value); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}

	t.Run("http date", func(t *testing.T) {
		future := time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)
		got := parseRetryAfter(future)
		if got <= 0 || got > 10*time.Second {
			t.Errorf("parseRetryAfter(date) = %v, want (0, 10s]", got)
		}
	})
}

func TestIsRateLimitError(t *testing.T) {
	rle := &RateLimitError{Message: "slow down", RetryAfter: 2 * time.Second, StatusCode: 429}

	t.Run("direct", func(t *testing.T) {
		got, ok := IsRateLimitError(rle)
		if !ok || got.RetryAfter != 2*time.Second {
			t.Fatalf("IsRateLimitError = %v, %v", got, ok)
		}
	})

	t.Run("wrapped", func(t *testing.T) {
		wrapped := fmt.Errorf("max retries (3) exceeded: %w", rle)
		got, ok := IsRateLimitError(wrapped)
		if !ok || got.StatusCode != 429 {
			t.Fatalf("IsRateLimitError(wrapped) = %v, %v", got, ok)
		}
	})

	t.Run("other error", func(t *testing.T) {
		if _, ok := IsRateLimitError(errors.New("nope")); ok {
			t.Error("plain error should not match")
		}
	})
}

// TestTestConfig verifies the test helper works correctly.
func TestTestConfig(t *testing.T) {
	t.Run("loads from environment", func(t *testing.T) {
		cfg := LoadTestConfig()
		// Just verify it doesn't panic - actual values depend on environment
		_ = cfg.HasOpenAI()
		_ = cfg.HasOpenRouter()
		_ = cfg.HasMistral()
		_ = cfg.HasAnyOCR()
		_ = cfg.HasAnyLLM()
	})

	t.Run("ToRegistryConfig", func(t *testing.T) {
		cfg := LoadTestConfig()
		regCfg := cfg.ToRegistryConfig()

		// Verify structure is correct
		if regCfg.OCRProviders == nil {
			t.Error("OCRProviders should not be nil")
		}
		if regCfg.LLMProviders == nil {
			t.Error("LLMProviders should not be nil")
		}
	})
}
