package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockProvider is a test backend that records calls and returns canned responses.
type MockProvider struct {
	mu         sync.Mutex
	Calls      []CompletionRequest
	Response   *CompletionResponse
	Err        error
	Transcript string
	Audio      []byte
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		Response: &CompletionResponse{
			Content:      "mock response",
			InputTokens:  10,
			OutputTokens: 20,
			Model:        "mock-model",
			FinishReason: FinishStop,
		},
		Transcript: "hello",
		Audio:      []byte("ID3"),
	}
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, req)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Response, nil
}

func (m *MockProvider) Transcribe(ctx context.Context, req TranscriptionRequest) (string, error) {
	return m.Transcript, nil
}

func (m *MockProvider) Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error) {
	return m.Audio, nil
}

func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// --- Tests ---

func TestFactoryReturnsErrorForMissingAPIKey(t *testing.T) {
	if _, err := NewProvider("openai", "", "gpt-4o"); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestFactoryReturnsErrorForUnknownProvider(t *testing.T) {
	if _, err := NewProvider("unknown", "key", "model"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestFactoryCreatesProviders(t *testing.T) {
	for _, name := range []string{"openai", "openrouter"} {
		p, err := NewProvider(name, "key", "model")
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if p.Name() != name {
			t.Errorf("expected name %q, got %q", name, p.Name())
		}
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	mock := NewMockProvider()
	if got := NewRateLimitedBackend(mock, 0); got != Backend(mock) {
		t.Error("expected backend returned unchanged when rpm is 0")
	}
}

func TestRateLimiterPassesThrough(t *testing.T) {
	mock := NewMockProvider()
	rl := NewRateLimitedBackend(mock, 60)

	resp, err := rl.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "mock response" {
		t.Errorf("expected 'mock response', got %q", resp.Content)
	}
	text, err := rl.Transcribe(context.Background(), TranscriptionRequest{Data: []byte("x")})
	if err != nil || text != "hello" {
		t.Errorf("Transcribe = %q, %v", text, err)
	}
	if rl.Name() != "mock" {
		t.Errorf("expected name 'mock', got %q", rl.Name())
	}
}

func TestRateLimiterLimitsRequests(t *testing.T) {
	mock := NewMockProvider()
	// Allow only 2 requests per minute.
	rl := NewRateLimitedBackend(mock, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	req := CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hello"}}}
	for i := 0; i < 2; i++ {
		if _, err := rl.Complete(ctx, req); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
	}

	// Audio calls share the bucket, so this blocks until the context expires.
	_, err := rl.Synthesize(ctx, SpeechRequest{Text: "hi"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestEstimateCost(t *testing.T) {
	// gpt-4o: $2.5/1M input, $10/1M output
	cost := EstimateCost("gpt-4o", 1_000_000, 1_000_000)
	if cost < 12.49 || cost > 12.51 {
		t.Errorf("expected cost ~$12.50, got $%.2f", cost)
	}
	if EstimateCost("unknown-model", 1000, 500) != 0 {
		t.Error("expected 0 for unknown model")
	}
}

func TestMessageHasContent(t *testing.T) {
	if (Message{Role: RoleUser}).HasContent() {
		t.Error("empty message should have no content")
	}
	if !(Message{Role: RoleUser, Parts: []ContentPart{{Type: PartImage, ImageURL: "data:"}}}).HasContent() {
		t.Error("image part should count as content")
	}
}

// fakeOpenAI serves a canned chat completion and records the request body.
func fakeOpenAI(t *testing.T, response string, captured *map[string]any) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if captured != nil {
			json.Unmarshal(body, captured)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return NewCompatibleProvider("test", "key", srv.URL+"/v1", "gpt-4o")
}

func TestOpenAICompleteWithToolCalls(t *testing.T) {
	var captured map[string]any
	p := fakeOpenAI(t, `{
		"id": "c1", "model": "gpt-4o",
		"choices": [{
			"index": 0,
			"finish_reason": "tool_calls",
			"message": {
				"role": "assistant",
				"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "getPlanPrices", "arguments": "{}"}}]
			}
		}],
		"usage": {"prompt_tokens": 5, "completion_tokens": 7}
	}`, &captured)

	resp, err := p.Complete(context.Background(), CompletionRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "be nice"},
			{Role: RoleUser, Parts: []ContentPart{
				{Type: PartText, Text: "what is this?"},
				{Type: PartImage, ImageURL: "data:image/png;base64,AAAA"},
			}},
		},
		Tools: []ToolDefinition{{Name: "getPlanPrices", Description: "prices"}},
		User:  "dev_chat",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.FinishReason != FinishToolCalls {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "getPlanPrices" || resp.ToolCalls[0].ID != "call_1" {
		t.Errorf("unexpected tool calls %+v", resp.ToolCalls)
	}
	if resp.InputTokens != 5 || resp.OutputTokens != 7 {
		t.Errorf("unexpected usage %d/%d", resp.InputTokens, resp.OutputTokens)
	}

	if captured["user"] != "dev_chat" {
		t.Errorf("user tag not forwarded: %v", captured["user"])
	}
	tools, _ := captured["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool in request, got %v", captured["tools"])
	}
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	params := fn["parameters"].(map[string]any)
	if params["type"] != "object" {
		t.Errorf("expected default object schema, got %v", params)
	}
	msgs := captured["messages"].([]any)
	content, ok := msgs[1].(map[string]any)["content"].([]any)
	if !ok || len(content) != 2 {
		t.Errorf("expected multimodal content array, got %v", msgs[1])
	}
}

func TestOpenAICompleteNoChoices(t *testing.T) {
	p := fakeOpenAI(t, `{"id": "c1", "model": "gpt-4o", "choices": []}`, nil)
	_, err := p.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if !errors.Is(err, ErrNoChoices) {
		t.Errorf("expected ErrNoChoices, got %v", err)
	}
}

func TestRoles(t *testing.T) {
	if RoleSystem != "system" || RoleUser != "user" || RoleAssistant != "assistant" || RoleTool != "tool" {
		t.Error("unexpected role constants")
	}
}
