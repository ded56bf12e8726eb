package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/weichinwang/marketagent/dispatch"
	"github.com/weichinwang/marketagent/llm"
	"github.com/weichinwang/marketagent/model"
)

func testRegistry() *CorpusRegistry {
	return NewCorpusRegistry(map[model.Role]string{
		model.RoleGlobal: "projects/p/locations/us-central1/ragCorpora/1",
		model.RoleChina:  "projects/p/locations/us-central1/ragCorpora/2",
	}, 20, 10, 0.6)
}

func TestConfigForGlobalRole(t *testing.T) {
	cfg, err := testRegistry().ConfigFor(model.RoleGlobal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TopK != 20 {
		t.Errorf("global top-k = %d, want 20", cfg.TopK)
	}
	if cfg.DistanceThreshold != 0.6 {
		t.Errorf("distance threshold = %v, want 0.6", cfg.DistanceThreshold)
	}
}

func TestConfigForRegionalRole(t *testing.T) {
	cfg, err := testRegistry().ConfigFor(model.RoleChina)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TopK != 10 {
		t.Errorf("regional top-k = %d, want 10", cfg.TopK)
	}
}

func TestConfigForUnconfiguredRole(t *testing.T) {
	_, err := testRegistry().ConfigFor(model.RoleKorea)
	if err == nil {
		t.Fatal("expected error for role without a corpus")
	}
}

// retrievingProvider is a fake provider that supports retrieval.
type retrievingProvider struct {
	llm.Provider
	lastRetrieval llm.RetrievalConfig
	answer        string
	err           error
}

func (p *retrievingProvider) Name() string { return "fake" }

func (p *retrievingProvider) ChatWithRetrieval(ctx context.Context, messages []llm.ChatMessage, retrieval llm.RetrievalConfig) (llm.LLMResponse, error) {
	p.lastRetrieval = retrieval
	if p.err != nil {
		return llm.LLMResponse{}, p.err
	}
	return llm.LLMResponse{Content: p.answer}, nil
}

// plainProvider has no retrieval support.
type plainProvider struct {
	llm.Provider
}

func (p *plainProvider) Name() string { return "plain" }

func TestActionHandle(t *testing.T) {
	provider := &retrievingProvider{answer: "margins improved"}
	action := NewAction(provider, testRegistry())

	answer, err := action.Handle(context.Background(), dispatch.Request{
		Role:   model.RoleChina,
		Prompt: "what did management say about margins",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "margins improved" {
		t.Errorf("answer = %q", answer)
	}
	if provider.lastRetrieval.TopK != 10 {
		t.Errorf("retrieval top-k = %d, want 10", provider.lastRetrieval.TopK)
	}
}

func TestActionHandleNoRetrievalSupport(t *testing.T) {
	action := NewAction(&plainProvider{}, testRegistry())

	_, err := action.Handle(context.Background(), dispatch.Request{Role: model.RoleGlobal, Prompt: "q"}, nil)
	if err == nil {
		t.Fatal("expected error for provider without retrieval support")
	}
}

func TestActionHandleRetrievalError(t *testing.T) {
	provider := &retrievingProvider{err: errors.New("corpus unavailable")}
	action := NewAction(provider, testRegistry())

	_, err := action.Handle(context.Background(), dispatch.Request{Role: model.RoleGlobal, Prompt: "q"}, nil)
	if err == nil {
		t.Fatal("expected retrieval error to propagate")
	}
}
