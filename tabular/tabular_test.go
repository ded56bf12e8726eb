package tabular

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/weichinwang/marketagent/dispatch"
	"github.com/weichinwang/marketagent/findata"
	"github.com/weichinwang/marketagent/llm"
	"github.com/weichinwang/marketagent/model"
)

func sampleDataset() *findata.Dataset {
	return &findata.Dataset{Rows: []findata.Row{
		{Company: "Apple", Index: "Revenue", Year: 2022, Quarter: 1, Value: 97278},
		{Company: "Apple", Index: "Revenue", Year: 2022, Quarter: 2, Value: 82959},
		{Company: "Apple", Index: "Operating Income", Year: 2022, Quarter: 1, Value: 29979},
		{Company: "Nvidia", Index: "Revenue", Year: 2022, Quarter: 1, Value: 8288},
	}}
}

// staticSource serves an in-memory dataset.
type staticSource struct {
	ds  *findata.Dataset
	err error
}

func (s staticSource) Fetch(ctx context.Context) (*findata.Dataset, error) { return s.ds, s.err }
func (s staticSource) Location() string                                    { return "memory" }

// chatProvider records the messages of the last Chat call.
type chatProvider struct {
	llm.Provider
	lastMessages []llm.ChatMessage
	answer       string
	err          error
}

func (p *chatProvider) Name() string { return "fake" }

func (p *chatProvider) Chat(ctx context.Context, messages []llm.ChatMessage) (llm.LLMResponse, error) {
	p.lastMessages = messages
	if p.err != nil {
		return llm.LLMResponse{}, p.err
	}
	return llm.LLMResponse{Content: p.answer}, nil
}

func sourceFor(src findata.Source) SourceFunc {
	return func(model.Role) findata.Source { return src }
}

func TestHandleBuildsDataContext(t *testing.T) {
	provider := &chatProvider{answer: "Apple Q1 2022 revenue was 97278 million USD."}
	action := NewAction(provider, sourceFor(staticSource{ds: sampleDataset()}))

	answer, err := action.Handle(context.Background(), dispatch.Request{
		Role:   model.RoleGlobal,
		Prompt: "What was Apple's revenue in Q1 2022?",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(answer, "97278") {
		t.Errorf("unexpected answer %q", answer)
	}

	if len(provider.lastMessages) != 2 {
		t.Fatalf("expected system + user message, got %d", len(provider.lastMessages))
	}
	userMsg := provider.lastMessages[1].Content
	for _, want := range []string{
		"Companies: Apple, Nvidia",
		"Operating Income",
		"Apple, Revenue, 2022_Q1, 97278.00",
		"Question: What was Apple's revenue in Q1 2022?",
	} {
		if !strings.Contains(userMsg, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestHandleSourceError(t *testing.T) {
	action := NewAction(&chatProvider{}, sourceFor(staticSource{err: errors.New("bucket unreachable")}))

	_, err := action.Handle(context.Background(), dispatch.Request{Role: model.RoleGlobal, Prompt: "q"}, nil)
	if err == nil || !strings.Contains(err.Error(), "bucket unreachable") {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestHandleEmptyDataset(t *testing.T) {
	action := NewAction(&chatProvider{}, sourceFor(staticSource{ds: &findata.Dataset{}}))

	_, err := action.Handle(context.Background(), dispatch.Request{Role: model.RoleGlobal, Prompt: "q"}, nil)
	if err == nil {
		t.Fatal("expected error for empty dataset")
	}
}

func TestBuildContextStats(t *testing.T) {
	context := BuildContext(sampleDataset())
	if !strings.Contains(context, "Per-index summary statistics") {
		t.Error("stats section missing")
	}
	// Revenue series: 97278, 82959, 8288 -> count 3
	if !strings.Contains(context, "Revenue: count=3") {
		t.Errorf("revenue stats missing:\n%s", context)
	}
}
