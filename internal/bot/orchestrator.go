package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ziadkadry99/chatpilot/internal/llm"
)

// OrchestratorOptions configures generation.
type OrchestratorOptions struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	MaxToolRounds int
	Instructions  func() string
	FallbackReply string
}

// GenerateRequest is one generation cycle for a chat. UseKnowledge enables
// the retrieval lookup, which only text and transcribed audio turns get.
type GenerateRequest struct {
	Window       []llm.Message
	Turn         llm.Message
	UseKnowledge bool
	Invocation   Invocation
}

// ToolRun records one executed tool call.
type ToolRun struct {
	Name   string
	CallID string
	Result string
	Err    error
}

// Result is the outcome of a generation cycle.
type Result struct {
	Reply    string
	Rounds   int
	ToolRuns []ToolRun
	Fallback bool
	Usage    Usage
}

// Usage is the token consumption of a cycle.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Orchestrator drives the ask, run tools, resubmit loop against the model.
type Orchestrator struct {
	provider  llm.Provider
	tools     *ToolRegistry
	knowledge Knowledge
	opts      OrchestratorOptions
	log       *logrus.Entry
}

// NewOrchestrator creates an Orchestrator. tools and knowledge may be nil.
func NewOrchestrator(provider llm.Provider, tools *ToolRegistry, knowledge Knowledge, opts OrchestratorOptions, log *logrus.Entry) *Orchestrator {
	if tools == nil {
		tools = NewToolRegistry()
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = 10
	}
	return &Orchestrator{provider: provider, tools: tools, knowledge: knowledge, opts: opts, log: log}
}

// Tool messages sent back for calls that produced no usable result.
const (
	toolUnavailable = "This tool is not available."
	toolFailed      = "The tool failed to run."
	toolNoResult    = "The tool returned no result."
)

// Generate produces the reply for a turn. On backend failure the returned
// result still carries the fallback reply along with the error.
func (o *Orchestrator) Generate(ctx context.Context, req GenerateRequest) (*Result, error) {
	log := o.log.WithField("chat", req.Invocation.ChatID)

	messages := []llm.Message{{Role: llm.RoleSystem, Content: o.instructions()}}
	messages = append(messages, AppendTurn(req.Window, req.Turn)...)

	if o.knowledge != nil && req.UseKnowledge {
		if query := turnText(req.Turn); query != "" {
			content, err := o.knowledge.Query(ctx, query)
			if err != nil {
				log.WithError(err).Warn("knowledge lookup failed")
			} else if content != "" {
				messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: content})
			}
		}
	}

	completion := llm.CompletionRequest{
		Model:       o.opts.Model,
		Tools:       o.tools.Definitions(),
		MaxTokens:   o.opts.MaxTokens,
		Temperature: o.opts.Temperature,
		User:        req.Invocation.DeviceID + "_" + req.Invocation.ChatID,
	}

	res := &Result{}
	var reply string
	for {
		completion.Messages = messages
		resp, err := o.provider.Complete(ctx, completion)
		if err != nil {
			res.Reply = o.opts.FallbackReply
			res.Fallback = true
			if errors.Is(err, llm.ErrNoChoices) {
				log.Warn("model returned no choices")
				return res, nil
			}
			return res, fmt.Errorf("generating reply: %w", err)
		}
		res.Usage.InputTokens += resp.InputTokens
		res.Usage.OutputTokens += resp.OutputTokens
		reply = resp.Content

		if len(resp.ToolCalls) == 0 || resp.FinishReason == llm.FinishStop || res.Rounds >= o.opts.MaxToolRounds {
			break
		}
		res.Rounds++

		// Every call id in the assistant message needs a tool message, so
		// skipped calls are answered with a placeholder.
		results := make([]llm.Message, 0, len(resp.ToolCalls))
		produced := 0
		for _, call := range resp.ToolCalls {
			content := toolUnavailable
			if run, ok := o.runTool(ctx, call, req.Invocation, log); ok {
				res.ToolRuns = append(res.ToolRuns, run)
				switch {
				case run.Err != nil:
					content = toolFailed
				case run.Result == "":
					content = toolNoResult
				default:
					content = run.Result
					produced++
				}
			}
			results = append(results, llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: content})
		}
		if produced == 0 {
			break
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		messages = append(messages, results...)
	}

	if strings.TrimSpace(reply) == "" {
		reply = o.opts.FallbackReply
		res.Fallback = true
	}
	res.Reply = reply
	return res, nil
}

func (o *Orchestrator) runTool(ctx context.Context, call llm.ToolCall, base Invocation, log *logrus.Entry) (ToolRun, bool) {
	tool, ok := o.tools.Get(call.Name)
	if !ok {
		log.WithField("tool", call.Name).Warn("model requested unknown tool")
		return ToolRun{}, false
	}

	inv := base
	inv.CallID = call.ID
	inv.Name = call.Name
	inv.RawArgs = call.Arguments
	inv.Arguments = ParseArguments(call.Arguments)

	log.WithFields(logrus.Fields{"tool": call.Name, "args": inv.Arguments}).Info("running tool")
	result, err := tool.Run(ctx, inv)
	if err != nil {
		log.WithError(err).WithField("tool", call.Name).Warn("tool failed")
	}
	return ToolRun{Name: call.Name, CallID: call.ID, Result: result, Err: err}, true
}

func (o *Orchestrator) instructions() string {
	if o.opts.Instructions == nil {
		return ""
	}
	return o.opts.Instructions()
}

// turnText returns the textual content of a turn.
func turnText(m llm.Message) string {
	if m.Content != "" {
		return m.Content
	}
	var parts []string
	for _, p := range m.Parts {
		if p.Type == llm.PartText && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}
