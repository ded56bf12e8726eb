// Dispatch router: the state machine between a raw user prompt and a
// terminal result.
//
// Information Hiding:
// - Model call timeout and retry policy hidden
// - Argument normalization and range validation hidden
// - Debug dump of normalized arguments hidden (best effort, never fatal)

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/weichinwang/marketagent/llm"
	"github.com/weichinwang/marketagent/period"
)

// systemInstruction steers the model's tool selection. Mirrors the routing
// hints the production prompt carries: transcripts go to rag_retrieval,
// metric questions to csv_agent, line charts to plot_line_chart.
const systemInstruction = "You route financial questions. " +
	"For questions about earnings calls, call rag_retrieval. " +
	"For questions about financial indices, call csv_agent to load the relevant data. " +
	"For line plot requests, call plot_line_chart. " +
	"Otherwise answer directly."

// Router dispatches requests to registered handlers via model tool selection.
type Router struct {
	provider llm.Provider
	registry *Registry

	envelope    period.Range
	callTimeout time.Duration
	maxRetries  int
	dumpPath    string // "" disables the debug dump
	verbose     bool
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithCallTimeout bounds each model call.
func WithCallTimeout(d time.Duration) RouterOption {
	return func(r *Router) { r.callTimeout = d }
}

// WithMaxRetries sets how many additional attempts follow a failed model call.
func WithMaxRetries(n int) RouterOption {
	return func(r *Router) { r.maxRetries = n }
}

// WithDebugDump sets the path for the normalized-argument dump.
// An empty path disables the dump.
func WithDebugDump(path string) RouterOption {
	return func(r *Router) { r.dumpPath = path }
}

// WithVerbose enables progress output on stdout.
func WithVerbose(verbose bool) RouterOption {
	return func(r *Router) { r.verbose = verbose }
}

// NewRouter creates a router over the given provider and handler registry.
// The envelope is the inclusive period range the dataset covers; chart
// queries outside it are rejected before any handler runs.
func NewRouter(provider llm.Provider, registry *Registry, envelope period.Range, opts ...RouterOption) *Router {
	r := &Router{
		provider:    provider,
		registry:    registry,
		envelope:    envelope,
		callTimeout: 60 * time.Second,
		maxRetries:  1,
		dumpPath:    "gemini_parsed_output.json",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispatch runs one request to a terminal result. It never returns an error:
// every failure mode maps onto a Result outcome so callers get a uniform
// surface.
func (r *Router) Dispatch(ctx context.Context, req Request) Result {
	messages := r.buildMessages(req)

	choice := llm.ToolChoiceAuto
	if req.Forced {
		choice = llm.ToolChoiceRequired
	}

	stats := &TokenStats{}
	resp, err := r.callModel(ctx, messages, r.registry.Descriptors(), choice, stats)
	if err != nil {
		result := NewFailedResult(fmt.Sprintf("model call failed: %v", err), "")
		result.Usage = stats
		return result
	}

	result := r.resolve(ctx, req, resp)
	result.Usage = stats
	return result
}

// resolve maps a model response onto a terminal result.
func (r *Router) resolve(ctx context.Context, req Request, resp llm.LLMResponse) Result {
	if resp.Empty() {
		return NewFailedResult("no functional response from model", "")
	}

	// Text without a tool invocation is a direct answer.
	if len(resp.ToolCalls) == 0 {
		return NewAnsweredResult(resp.Content, "")
	}

	call := resp.ToolCalls[0]
	r.logf("model selected tool %s", call.Name)

	args, err := decodeArgs(call.Arguments)
	if err != nil {
		return NewFailedResult(fmt.Sprintf("malformed tool arguments: %v", err), call.Name)
	}

	handler, ok := r.registry.Get(call.Name)
	if !ok {
		return NewFailedResult(fmt.Sprintf("unrecognized tool %q", call.Name), call.Name)
	}

	// Argument-less tools (rag_retrieval, csv_agent) skip validation; the
	// chart tool rejects an empty argument set outright.
	if requiresArgs(handler.Tool()) {
		if len(args) == 0 {
			return NewRejectedResult("the model returned no arguments for the request", call.Name)
		}

		args = NormalizeArgs(args, r.envelope)

		if reason, ok := r.checkEnvelope(args); !ok {
			return NewRejectedResult(reason, call.Name)
		}

		r.dumpArgs(args)
	}

	answer, err := handler.Handle(ctx, req, args)
	if err != nil {
		return NewFailedResult(fmt.Sprintf("%s: %v", call.Name, err), call.Name)
	}
	return NewAnsweredResult(answer, call.Name)
}

// checkEnvelope verifies normalized start/end fall inside the dataset range.
func (r *Router) checkEnvelope(args map[string]any) (string, bool) {
	outOfRange := fmt.Sprintf(
		"Time range is out of data. Our data range is from %d Q%d to %d Q%d. Please input the correct time range query.",
		r.envelope.Start.Year, r.envelope.Start.Q, r.envelope.End.Year, r.envelope.End.Q)

	start, err := parseTimeArg(args, "start_time")
	if err != nil {
		return outOfRange, false
	}
	end, err := parseTimeArg(args, "end_time")
	if err != nil {
		return outOfRange, false
	}

	if start.After(end) || !r.envelope.Contains(start) || !r.envelope.Contains(end) {
		return outOfRange, false
	}
	return "", true
}

// callModel runs the tool-selection call with a per-attempt timeout and a
// bounded number of retries.
func (r *Router) callModel(ctx context.Context, messages []llm.ChatMessage, tools []llm.ToolDefinition, choice llm.ToolChoice, stats *TokenStats) (llm.LLMResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			r.logf("retrying model call (attempt %d)", attempt+1)
			select {
			case <-ctx.Done():
				return llm.LLMResponse{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		resp, err := r.provider.ChatWithTools(callCtx, messages, tools, choice)
		cancel()

		if err == nil {
			stats.add(resp.Usage)
			return resp, nil
		}
		lastErr = err

		// The parent context being done is not retryable.
		if ctx.Err() != nil {
			return llm.LLMResponse{}, ctx.Err()
		}
	}

	return llm.LLMResponse{}, fmt.Errorf("after %d attempts: %w", r.maxRetries+1, lastErr)
}

// buildMessages assembles the system instruction, prior turns and the prompt.
func (r *Router) buildMessages(req Request) []llm.ChatMessage {
	messages := []llm.ChatMessage{llm.SystemMessage(systemInstruction)}
	for _, turn := range req.History {
		switch turn.Role {
		case "model", "assistant":
			messages = append(messages, llm.AssistantMessage(turn.Text()))
		default:
			messages = append(messages, llm.UserMessage(turn.Text()))
		}
	}
	return append(messages, llm.UserMessage(req.Prompt))
}

// dumpArgs writes the normalized arguments to the debug dump path.
// Best effort: a write failure never fails the request.
func (r *Router) dumpArgs(args map[string]any) {
	if r.dumpPath == "" {
		return
	}
	data, err := json.MarshalIndent(args, "", "    ")
	if err != nil {
		return
	}
	if err := os.WriteFile(r.dumpPath, data, 0o644); err != nil {
		r.logf("debug dump failed: %v", err)
	}
}

func (r *Router) logf(format string, args ...any) {
	if r.verbose {
		fmt.Printf(format+"\n", args...)
	}
}

func (ts *TokenStats) add(usage *llm.TokenUsage) {
	if ts == nil {
		return
	}
	ts.Calls++
	if usage == nil {
		return
	}
	ts.PromptTokens += usage.PromptTokens
	ts.CompletionTokens += usage.CompletionTokens
	ts.TotalTokens += usage.TotalTokens
}

// decodeArgs unpacks the raw tool-call argument payload. A missing or empty
// payload decodes to an empty map, which the router treats as a rejection
// for tools that require arguments.
func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// requiresArgs reports whether a tool's schema declares required parameters.
func requiresArgs(def llm.ToolDefinition) bool {
	req, ok := def.Parameters["required"]
	if !ok {
		return false
	}
	switch v := req.(type) {
	case []string:
		return len(v) > 0
	case []any:
		return len(v) > 0
	default:
		return false
	}
}
