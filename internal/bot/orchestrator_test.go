package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/ziadkadry99/chatpilot/internal/llm"
)

type staticKnowledge struct {
	content string
	queries []string
}

func (k *staticKnowledge) Query(_ context.Context, text string) (string, error) {
	k.queries = append(k.queries, text)
	return k.content, nil
}

func newTestOrchestrator(p llm.Provider, tools *ToolRegistry, k Knowledge) *Orchestrator {
	return NewOrchestrator(p, tools, k, OrchestratorOptions{
		Model:         "gpt-4o",
		Temperature:   0.2,
		MaxTokens:     1000,
		MaxToolRounds: 10,
		Instructions:  func() string { return "You are a helpful assistant" },
		FallbackReply: "Sorry, I did not understand",
	}, testLogger())
}

func toolCallResponse(calls ...llm.ToolCall) *llm.CompletionResponse {
	return &llm.CompletionResponse{ToolCalls: calls, FinishReason: llm.FinishToolCalls}
}

func baseRequest(text string) GenerateRequest {
	return GenerateRequest{
		Turn:       llm.Message{Role: llm.RoleUser, Content: text},
		Invocation: Invocation{DeviceID: "dev", ChatID: "chat"},
	}
}

func TestGenerateComposesRequest(t *testing.T) {
	p := &scriptedProvider{}
	k := &staticKnowledge{content: "Pro plan is 90 USD"}
	o := newTestOrchestrator(p, nil, k)

	req := baseRequest("prices?")
	req.UseKnowledge = true
	req.Window = []llm.Message{
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleAssistant, Content: "hi"},
	}

	res, err := o.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Reply != "ok" || res.Fallback {
		t.Errorf("unexpected result %+v", res)
	}

	sent := p.requests[0]
	if sent.User != "dev_chat" || sent.Temperature != 0.2 || sent.Model != "gpt-4o" {
		t.Errorf("unexpected request params %+v", sent)
	}
	roles := []llm.Role{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant, llm.RoleUser, llm.RoleSystem}
	if len(sent.Messages) != len(roles) {
		t.Fatalf("expected %d messages, got %d", len(roles), len(sent.Messages))
	}
	for i, r := range roles {
		if sent.Messages[i].Role != r {
			t.Errorf("message %d role = %q, want %q", i, sent.Messages[i].Role, r)
		}
	}
	if sent.Messages[4].Content != "Pro plan is 90 USD" {
		t.Errorf("expected knowledge content last, got %q", sent.Messages[4].Content)
	}
	if len(k.queries) != 1 || k.queries[0] != "prices?" {
		t.Errorf("unexpected knowledge queries %v", k.queries)
	}
}

func TestGenerateSkipsKnowledgeWhenNotAllowed(t *testing.T) {
	p := &scriptedProvider{}
	k := &staticKnowledge{content: "facts"}
	o := newTestOrchestrator(p, nil, k)

	if _, err := o.Generate(context.Background(), baseRequest("hi")); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(k.queries) != 0 {
		t.Error("knowledge must not be queried for this turn")
	}
	if len(p.requests[0].Messages) != 2 {
		t.Errorf("expected system + user, got %d messages", len(p.requests[0].Messages))
	}
}

func TestGenerateDedupsCurrentTurn(t *testing.T) {
	p := &scriptedProvider{}
	o := newTestOrchestrator(p, nil, nil)

	req := baseRequest("prices?")
	req.Window = []llm.Message{{Role: llm.RoleUser, Content: "prices?"}}
	if _, err := o.Generate(context.Background(), req); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if n := len(p.requests[0].Messages); n != 2 {
		t.Errorf("expected the persisted turn not to be duplicated, got %d messages", n)
	}
}

func TestGenerateRunsTools(t *testing.T) {
	tools := NewToolRegistry()
	var got Invocation
	tools.Register(Tool{
		Name: "verifyMeetingAvailability",
		Run: func(_ context.Context, inv Invocation) (string, error) {
			got = inv
			return "Available", nil
		},
	})

	p := &scriptedProvider{responses: []*llm.CompletionResponse{
		toolCallResponse(
			llm.ToolCall{ID: "c1", Name: "verifyMeetingAvailability", Arguments: `{"date":"2024-05-02T10:00:00Z"}`},
			llm.ToolCall{ID: "c2", Name: "doesNotExist", Arguments: `{}`},
		),
		{Content: "That slot is available!", FinishReason: llm.FinishStop},
	}}
	o := newTestOrchestrator(p, tools, nil)

	res, err := o.Generate(context.Background(), baseRequest("Can we meet tomorrow at 10?"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Reply != "That slot is available!" || res.Rounds != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(res.ToolRuns) != 1 || res.ToolRuns[0].Name != "verifyMeetingAvailability" {
		t.Errorf("unexpected tool runs %+v", res.ToolRuns)
	}
	if got.String("date") != "2024-05-02T10:00:00Z" || got.ChatID != "chat" || got.CallID != "c1" {
		t.Errorf("unexpected invocation %+v", got)
	}
	if len(p.requests[0].Tools) != 1 {
		t.Errorf("expected tool definitions attached, got %d", len(p.requests[0].Tools))
	}

	second := p.requests[1].Messages
	if len(second) < 3 {
		t.Fatalf("expected tool round in second request, got %+v", second)
	}
	assistant := second[len(second)-3]
	if assistant.Role != llm.RoleAssistant || len(assistant.ToolCalls) != 2 {
		t.Fatalf("expected assistant tool-call record, got %+v", assistant)
	}
	answered := map[string]string{}
	for _, m := range second[len(second)-2:] {
		if m.Role != llm.RoleTool {
			t.Errorf("expected tool message, got %+v", m)
		}
		answered[m.ToolCallID] = m.Content
	}
	for _, call := range assistant.ToolCalls {
		if _, ok := answered[call.ID]; !ok {
			t.Errorf("tool call %s has no tool message", call.ID)
		}
	}
	if answered["c1"] != "Available" {
		t.Errorf("c1 result = %q, want Available", answered["c1"])
	}
	if answered["c2"] != toolUnavailable {
		t.Errorf("c2 result = %q, want placeholder", answered["c2"])
	}
}

func TestGenerateAnswersFailedAndEmptyToolCalls(t *testing.T) {
	tools := NewToolRegistry()
	tools.Register(Tool{Name: "ok", Run: func(context.Context, Invocation) (string, error) { return "done", nil }})
	tools.Register(Tool{Name: "broken", Run: func(context.Context, Invocation) (string, error) { return "", errors.New("boom") }})
	tools.Register(Tool{Name: "silent", Run: func(context.Context, Invocation) (string, error) { return "", nil }})

	p := &scriptedProvider{responses: []*llm.CompletionResponse{
		toolCallResponse(
			llm.ToolCall{ID: "a", Name: "ok"},
			llm.ToolCall{ID: "b", Name: "broken"},
			llm.ToolCall{ID: "c", Name: "silent"},
		),
		{Content: "All set", FinishReason: llm.FinishStop},
	}}
	o := newTestOrchestrator(p, tools, nil)

	res, err := o.Generate(context.Background(), baseRequest("book it"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Reply != "All set" {
		t.Errorf("Reply = %q", res.Reply)
	}

	want := map[string]string{"a": "done", "b": toolFailed, "c": toolNoResult}
	got := map[string]string{}
	for _, m := range p.requests[1].Messages {
		if m.Role == llm.RoleTool {
			got[m.ToolCallID] = m.Content
		}
	}
	for id, content := range want {
		if got[id] != content {
			t.Errorf("tool message for %s = %q, want %q", id, got[id], content)
		}
	}
}

func TestGenerateStopsOnNaturalFinish(t *testing.T) {
	tools := NewToolRegistry()
	runs := 0
	tools.Register(Tool{Name: "getPlanPrices", Run: func(context.Context, Invocation) (string, error) {
		runs++
		return "prices", nil
	}})
	p := &scriptedProvider{responses: []*llm.CompletionResponse{{
		Content:      "Here are our prices.",
		ToolCalls:    []llm.ToolCall{{ID: "c1", Name: "getPlanPrices"}},
		FinishReason: llm.FinishStop,
	}}}
	o := newTestOrchestrator(p, tools, nil)

	res, err := o.Generate(context.Background(), baseRequest("prices?"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if p.calls() != 1 || runs != 0 || res.Rounds != 0 {
		t.Errorf("expected completion to stop, got calls=%d runs=%d rounds=%d", p.calls(), runs, res.Rounds)
	}
	if res.Reply != "Here are our prices." {
		t.Errorf("Reply = %q", res.Reply)
	}
}

func TestGenerateMalformedArguments(t *testing.T) {
	tools := NewToolRegistry()
	var args map[string]any
	tools.Register(Tool{
		Name: "getPlanPrices",
		Run: func(_ context.Context, inv Invocation) (string, error) {
			args = inv.Arguments
			return "prices", nil
		},
	})
	p := &scriptedProvider{responses: []*llm.CompletionResponse{
		toolCallResponse(llm.ToolCall{ID: "c1", Name: "getPlanPrices", Arguments: `{"broken`}),
	}}
	o := newTestOrchestrator(p, tools, nil)

	if _, err := o.Generate(context.Background(), baseRequest("prices")); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if args == nil || len(args) != 0 {
		t.Errorf("expected empty argument object, got %v", args)
	}
}

func TestGenerateStopsWhenNoToolResult(t *testing.T) {
	p := &scriptedProvider{repeat: toolCallResponse(llm.ToolCall{ID: "c1", Name: "unknown"})}
	o := newTestOrchestrator(p, nil, nil)

	res, err := o.Generate(context.Background(), baseRequest("hi"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if p.calls() != 1 {
		t.Errorf("expected a single backend call, got %d", p.calls())
	}
	if res.Reply != "Sorry, I did not understand" || !res.Fallback {
		t.Errorf("expected fallback reply, got %+v", res)
	}
}

func TestGenerateBoundedToolLoop(t *testing.T) {
	tools := NewToolRegistry()
	runs := 0
	tools.Register(Tool{
		Name: "loop",
		Run: func(context.Context, Invocation) (string, error) {
			runs++
			return "again", nil
		},
	})
	p := &scriptedProvider{repeat: toolCallResponse(llm.ToolCall{ID: "c", Name: "loop"})}
	o := newTestOrchestrator(p, tools, nil)

	res, err := o.Generate(context.Background(), baseRequest("hi"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Rounds != 10 || runs != 10 {
		t.Errorf("expected 10 tool rounds, got rounds=%d runs=%d", res.Rounds, runs)
	}
	if p.calls() != 11 {
		t.Errorf("expected 11 backend calls, got %d", p.calls())
	}
}

func TestGenerateNoChoices(t *testing.T) {
	p := &scriptedProvider{err: llm.ErrNoChoices}
	o := newTestOrchestrator(p, nil, nil)

	res, err := o.Generate(context.Background(), baseRequest("hi"))
	if err != nil {
		t.Fatalf("expected no error for empty choices, got %v", err)
	}
	if res.Reply != "Sorry, I did not understand" || !res.Fallback {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestGenerateBackendError(t *testing.T) {
	p := &scriptedProvider{err: errors.New("503 service unavailable")}
	o := newTestOrchestrator(p, nil, nil)

	res, err := o.Generate(context.Background(), baseRequest("hi"))
	if err == nil {
		t.Fatal("expected error")
	}
	if res == nil || res.Reply != "Sorry, I did not understand" {
		t.Errorf("expected fallback reply alongside the error, got %+v", res)
	}
	if p.calls() != 1 {
		t.Errorf("backend errors must not be retried, got %d calls", p.calls())
	}
}
