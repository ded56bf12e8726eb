// Package rag answers questions from earnings-call transcripts through a
// hosted retrieval corpus. Each user role maps to its own corpus; retrieval
// depth is tuned per role.
package rag

import (
	"context"
	"fmt"

	"github.com/weichinwang/marketagent/dispatch"
	"github.com/weichinwang/marketagent/llm"
	"github.com/weichinwang/marketagent/model"
)

// CorpusRegistry maps user roles to retrieval corpora and tuning.
type CorpusRegistry struct {
	corpora           map[model.Role]string
	globalTopK        int32
	regionalTopK      int32
	distanceThreshold float64
}

// NewCorpusRegistry creates a registry over the given role->corpus table.
// The Global role retrieves more chunks than regional roles since its corpus
// spans every company.
func NewCorpusRegistry(corpora map[model.Role]string, globalTopK, regionalTopK int32, distanceThreshold float64) *CorpusRegistry {
	return &CorpusRegistry{
		corpora:           corpora,
		globalTopK:        globalTopK,
		regionalTopK:      regionalTopK,
		distanceThreshold: distanceThreshold,
	}
}

// ConfigFor returns the retrieval configuration for a role.
// Returns an error when the role has no corpus configured.
func (r *CorpusRegistry) ConfigFor(role model.Role) (llm.RetrievalConfig, error) {
	corpus, ok := r.corpora[role]
	if !ok || corpus == "" {
		return llm.RetrievalConfig{}, fmt.Errorf("no retrieval corpus configured for role %s", role)
	}

	topK := r.regionalTopK
	if role == model.RoleGlobal {
		topK = r.globalTopK
	}

	return llm.RetrievalConfig{
		Corpus:            corpus,
		TopK:              topK,
		DistanceThreshold: r.distanceThreshold,
	}, nil
}

// Action is the rag_retrieval handler: it grounds the user's question in the
// role's transcript corpus and returns the model's answer.
type Action struct {
	provider llm.Provider
	corpora  *CorpusRegistry
}

// NewAction creates the retrieval action.
func NewAction(provider llm.Provider, corpora *CorpusRegistry) *Action {
	return &Action{provider: provider, corpora: corpora}
}

// Tool returns the descriptor advertised to the model.
func (a *Action) Tool() llm.ToolDefinition {
	return dispatch.RAGRetrievalTool()
}

// Handle answers the prompt using retrieval over the role's corpus.
func (a *Action) Handle(ctx context.Context, req dispatch.Request, args map[string]any) (string, error) {
	retriever, ok := a.provider.(llm.Retriever)
	if !ok {
		return "", fmt.Errorf("provider %s does not support hosted retrieval", a.provider.Name())
	}

	retrieval, err := a.corpora.ConfigFor(req.Role)
	if err != nil {
		return "", err
	}

	messages := make([]llm.ChatMessage, 0, len(req.History)+1)
	for _, turn := range req.History {
		switch turn.Role {
		case "model", "assistant":
			messages = append(messages, llm.AssistantMessage(turn.Text()))
		default:
			messages = append(messages, llm.UserMessage(turn.Text()))
		}
	}
	messages = append(messages, llm.UserMessage(req.Prompt))

	resp, err := retriever.ChatWithRetrieval(ctx, messages, retrieval)
	if err != nil {
		return "", fmt.Errorf("retrieval chat failed: %w", err)
	}
	if resp.Content == "" {
		return "", fmt.Errorf("retrieval produced no answer")
	}
	return resp.Content, nil
}

// Verify Action satisfies the dispatch handler contract.
var _ dispatch.Handler = (*Action)(nil)
