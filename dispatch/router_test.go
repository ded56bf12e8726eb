package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/weichinwang/marketagent/llm"
	"github.com/weichinwang/marketagent/period"
)

var testEnvelope = period.Range{
	Start: period.Quarter{Year: 2020, Q: 1},
	End:   period.Quarter{Year: 2024, Q: 3},
}

// fakeProvider scripts the responses the router sees.
type fakeProvider struct {
	responses []llm.LLMResponse
	errs      []error
	calls     int
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-model" }

func (f *fakeProvider) Chat(ctx context.Context, messages []llm.ChatMessage) (llm.LLMResponse, error) {
	return f.next()
}

func (f *fakeProvider) ChatWithFormat(ctx context.Context, messages []llm.ChatMessage, format *llm.ResponseFormat) (llm.LLMResponse, error) {
	return f.next()
}

func (f *fakeProvider) ChatWithTools(ctx context.Context, messages []llm.ChatMessage, tools []llm.ToolDefinition, choice llm.ToolChoice) (llm.LLMResponse, error) {
	return f.next()
}

func (f *fakeProvider) StreamChat(ctx context.Context, messages []llm.ChatMessage, chunks chan<- string) (*llm.TokenUsage, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProvider) next() (llm.LLMResponse, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return llm.LLMResponse{}, err
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return llm.LLMResponse{}, errors.New("no scripted response")
}

// recordingHandler captures the arguments the router hands it.
type recordingHandler struct {
	tool   llm.ToolDefinition
	args   map[string]any
	answer string
	err    error
}

func (h *recordingHandler) Tool() llm.ToolDefinition { return h.tool }

func (h *recordingHandler) Handle(ctx context.Context, req Request, args map[string]any) (string, error) {
	h.args = args
	return h.answer, h.err
}

func newTestRegistry(t *testing.T, handlers ...Handler) *Registry {
	t.Helper()
	registry := NewRegistry()
	for _, h := range handlers {
		if err := registry.Register(h); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return registry
}

func toolCall(name string, args map[string]any) llm.LLMResponse {
	raw, _ := json.Marshal(args)
	return llm.LLMResponse{ToolCalls: []llm.ToolCall{{ID: "1", Name: name, Arguments: raw}}}
}

func TestDispatchDirectAnswer(t *testing.T) {
	provider := &fakeProvider{responses: []llm.LLMResponse{{Content: "TSMC makes chips."}}}
	router := NewRouter(provider, newTestRegistry(t), testEnvelope, WithDebugDump(""))

	result := router.Dispatch(context.Background(), Request{Prompt: "what does TSMC do"})
	if result.Outcome != OutcomeAnswered {
		t.Fatalf("outcome = %v, want answered (%+v)", result.Outcome, result)
	}
	if result.Answer != "TSMC makes chips." {
		t.Errorf("unexpected answer %q", result.Answer)
	}
	if result.Tool != "" {
		t.Errorf("direct answer should carry no tool, got %q", result.Tool)
	}
}

func TestDispatchEmptyResponse(t *testing.T) {
	provider := &fakeProvider{responses: []llm.LLMResponse{{}}}
	router := NewRouter(provider, newTestRegistry(t), testEnvelope, WithDebugDump(""), WithMaxRetries(0))

	result := router.Dispatch(context.Background(), Request{Prompt: "anything"})
	if result.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", result.Outcome)
	}
	if !strings.Contains(result.Error, "no functional response") {
		t.Errorf("error should name the empty response, got %q", result.Error)
	}
}

func TestDispatchUnrecognizedTool(t *testing.T) {
	provider := &fakeProvider{responses: []llm.LLMResponse{toolCall("delete_everything", nil)}}
	router := NewRouter(provider, newTestRegistry(t), testEnvelope, WithDebugDump(""))

	result := router.Dispatch(context.Background(), Request{Prompt: "hi"})
	if result.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", result.Outcome)
	}
	if !strings.Contains(result.Error, "unrecognized tool") {
		t.Errorf("error should name the unrecognized tool, got %q", result.Error)
	}
}

func TestDispatchEmptyArgsRejected(t *testing.T) {
	handler := &recordingHandler{tool: PlotLineChartTool(), answer: "chart.png"}
	provider := &fakeProvider{responses: []llm.LLMResponse{toolCall(ToolPlotLineChart, map[string]any{})}}
	router := NewRouter(provider, newTestRegistry(t, handler), testEnvelope, WithDebugDump(""))

	result := router.Dispatch(context.Background(), Request{Prompt: "plot something"})
	if result.Outcome != OutcomeRejected {
		t.Fatalf("outcome = %v, want rejected (%+v)", result.Outcome, result)
	}
	if handler.args != nil {
		t.Error("handler should not run for empty arguments")
	}
}

func TestDispatchNormalizesArguments(t *testing.T) {
	handler := &recordingHandler{tool: PlotLineChartTool(), answer: "Line_Chart/chart.png"}
	provider := &fakeProvider{responses: []llm.LLMResponse{toolCall(ToolPlotLineChart, map[string]any{
		"company":    "Apple",
		"index":      "Revenue, Cost of Goods Sold",
		"start_time": "2021 Q2",
		"end_time":   "nonsense",
	})}}
	router := NewRouter(provider, newTestRegistry(t, handler), testEnvelope, WithDebugDump(""))

	result := router.Dispatch(context.Background(), Request{Prompt: "plot revenue"})
	if result.Outcome != OutcomeAnswered {
		t.Fatalf("outcome = %v, want answered (%+v)", result.Outcome, result)
	}
	if result.Answer != "Line_Chart/chart.png" {
		t.Errorf("unexpected answer %q", result.Answer)
	}

	indices, ok := handler.args["index"].([]string)
	if !ok || len(indices) != 2 || indices[0] != "Revenue" || indices[1] != "Cost of Goods Sold" {
		t.Errorf("index not split on ', ': %#v", handler.args["index"])
	}
	if handler.args["start_time"] != "2021_Q2" {
		t.Errorf("start_time = %v, want 2021_Q2", handler.args["start_time"])
	}
	// Malformed end_time falls back to the envelope end.
	if handler.args["end_time"] != "2024_Q3" {
		t.Errorf("end_time = %v, want 2024_Q3", handler.args["end_time"])
	}
}

func TestDispatchOutOfRangeRejected(t *testing.T) {
	handler := &recordingHandler{tool: PlotLineChartTool(), answer: "chart.png"}
	provider := &fakeProvider{responses: []llm.LLMResponse{toolCall(ToolPlotLineChart, map[string]any{
		"company":    "Apple",
		"index":      "Revenue",
		"start_time": "2019_Q1",
		"end_time":   "2020_Q4",
	})}}
	router := NewRouter(provider, newTestRegistry(t, handler), testEnvelope, WithDebugDump(""))

	result := router.Dispatch(context.Background(), Request{Prompt: "plot revenue since 2019"})
	if result.Outcome != OutcomeRejected {
		t.Fatalf("outcome = %v, want rejected (%+v)", result.Outcome, result)
	}
	if !strings.Contains(result.Reason, "2020 Q1 to 2024 Q3") {
		t.Errorf("rejection should state the valid range, got %q", result.Reason)
	}
	if handler.args != nil {
		t.Error("handler should not run for an out-of-range query")
	}
}

func TestDispatchHandlerErrorBecomesFailed(t *testing.T) {
	handler := &recordingHandler{tool: RAGRetrievalTool(), err: errors.New("corpus unreachable")}
	provider := &fakeProvider{responses: []llm.LLMResponse{toolCall(ToolRAGRetrieval, nil)}}
	router := NewRouter(provider, newTestRegistry(t, handler), testEnvelope, WithDebugDump(""))

	result := router.Dispatch(context.Background(), Request{Prompt: "earnings call summary"})
	if result.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", result.Outcome)
	}
	if !strings.Contains(result.Error, "corpus unreachable") {
		t.Errorf("error should carry the handler message, got %q", result.Error)
	}
}

func TestDispatchArgumentlessToolSkipsValidation(t *testing.T) {
	handler := &recordingHandler{tool: CSVAgentTool(), answer: "revenue was 90B"}
	provider := &fakeProvider{responses: []llm.LLMResponse{toolCall(ToolCSVAgent, nil)}}
	router := NewRouter(provider, newTestRegistry(t, handler), testEnvelope, WithDebugDump(""))

	result := router.Dispatch(context.Background(), Request{Prompt: "what was TSMC revenue"})
	if result.Outcome != OutcomeAnswered {
		t.Fatalf("outcome = %v, want answered (%+v)", result.Outcome, result)
	}
	if result.Answer != "revenue was 90B" {
		t.Errorf("unexpected answer %q", result.Answer)
	}
}

func TestDispatchRetriesModelCall(t *testing.T) {
	provider := &fakeProvider{
		errs:      []error{errors.New("connection reset")},
		responses: []llm.LLMResponse{{}, {Content: "answer after retry"}},
	}
	router := NewRouter(provider, newTestRegistry(t), testEnvelope, WithDebugDump(""), WithMaxRetries(1))

	result := router.Dispatch(context.Background(), Request{Prompt: "hi"})
	if result.Outcome != OutcomeAnswered {
		t.Fatalf("outcome = %v, want answered after retry (%+v)", result.Outcome, result)
	}
	if provider.calls != 2 {
		t.Errorf("provider calls = %d, want 2", provider.calls)
	}
}

func TestDispatchRetriesExhausted(t *testing.T) {
	provider := &fakeProvider{errs: []error{errors.New("boom"), errors.New("boom")}}
	router := NewRouter(provider, newTestRegistry(t), testEnvelope, WithDebugDump(""), WithMaxRetries(1))

	result := router.Dispatch(context.Background(), Request{Prompt: "hi"})
	if result.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", result.Outcome)
	}
	if !strings.Contains(result.Error, "after 2 attempts") {
		t.Errorf("error should report the attempt count, got %q", result.Error)
	}
}

func TestDispatchDebugDump(t *testing.T) {
	dumpPath := filepath.Join(t.TempDir(), "gemini_parsed_output.json")
	handler := &recordingHandler{tool: PlotLineChartTool(), answer: "chart.png"}
	provider := &fakeProvider{responses: []llm.LLMResponse{toolCall(ToolPlotLineChart, map[string]any{
		"company":    "Nvidia",
		"index":      "Revenue",
		"start_time": "2021_Q1",
		"end_time":   "2022_Q4",
	})}}
	router := NewRouter(provider, newTestRegistry(t, handler), testEnvelope, WithDebugDump(dumpPath))

	result := router.Dispatch(context.Background(), Request{Prompt: "plot nvidia revenue"})
	if result.Outcome != OutcomeAnswered {
		t.Fatalf("outcome = %v, want answered (%+v)", result.Outcome, result)
	}

	data, err := os.ReadFile(dumpPath)
	if err != nil {
		t.Fatalf("debug dump missing: %v", err)
	}
	var dumped map[string]any
	if err := json.Unmarshal(data, &dumped); err != nil {
		t.Fatalf("debug dump is not JSON: %v", err)
	}
	if dumped["company"] != "Nvidia" {
		t.Errorf("dumped company = %v, want Nvidia", dumped["company"])
	}
}

func TestDispatchDumpFailureDoesNotFailRequest(t *testing.T) {
	handler := &recordingHandler{tool: PlotLineChartTool(), answer: "chart.png"}
	provider := &fakeProvider{responses: []llm.LLMResponse{toolCall(ToolPlotLineChart, map[string]any{
		"company":    "Apple",
		"index":      "Revenue",
		"start_time": "2021_Q1",
		"end_time":   "2022_Q4",
	})}}
	// Dump path inside a directory that does not exist.
	dumpPath := filepath.Join(t.TempDir(), "no", "such", "dir", "dump.json")
	router := NewRouter(provider, newTestRegistry(t, handler), testEnvelope, WithDebugDump(dumpPath))

	result := router.Dispatch(context.Background(), Request{Prompt: "plot apple revenue"})
	if result.Outcome != OutcomeAnswered {
		t.Fatalf("outcome = %v, want answered despite dump failure (%+v)", result.Outcome, result)
	}
}

func TestNormalizeArgsBareIndex(t *testing.T) {
	args := NormalizeArgs(map[string]any{"index": "Revenue"}, testEnvelope)
	indices, ok := args["index"].([]string)
	if !ok || len(indices) != 1 || indices[0] != "Revenue" {
		t.Errorf("bare index should become a one-element list, got %#v", args["index"])
	}
	// Missing time fields pick up the envelope defaults.
	if args["start_time"] != "2020_Q1" || args["end_time"] != "2024_Q3" {
		t.Errorf("missing time fields should default, got %v / %v", args["start_time"], args["end_time"])
	}
}

func TestParseChartQuery(t *testing.T) {
	args := NormalizeArgs(map[string]any{
		"company":    "TSMC",
		"index":      "Revenue, Operating Income",
		"start_time": "2020_Q1",
		"end_time":   "2023_Q4",
	}, testEnvelope)

	query, err := ParseChartQuery(args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if query.Company != "TSMC" {
		t.Errorf("company = %q", query.Company)
	}
	if len(query.Indices) != 2 {
		t.Fatalf("indices = %v", query.Indices)
	}
	if query.Start.String() != "2020_Q1" || query.End.String() != "2023_Q4" {
		t.Errorf("range = %v to %v", query.Start, query.End)
	}
}

func TestParseChartQueryMissingCompany(t *testing.T) {
	_, err := ParseChartQuery(map[string]any{"index": []string{"Revenue"}})
	if err == nil {
		t.Fatal("expected error for missing company")
	}
}

func TestRegistryDescriptorsOrdered(t *testing.T) {
	registry := newTestRegistry(t,
		&recordingHandler{tool: RAGRetrievalTool()},
		&recordingHandler{tool: PlotLineChartTool()},
		&recordingHandler{tool: CSVAgentTool()},
	)

	defs := registry.Descriptors()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	want := fmt.Sprintf("%v", []string{ToolCSVAgent, ToolPlotLineChart, ToolRAGRetrieval})
	if fmt.Sprintf("%v", names) != want {
		t.Errorf("descriptor order = %v, want %v", names, want)
	}
}

func TestRegistryDuplicateRegistration(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&recordingHandler{tool: CSVAgentTool()}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := registry.Register(&recordingHandler{tool: CSVAgentTool()}); err == nil {
		t.Error("expected error for duplicate registration")
	}
}
