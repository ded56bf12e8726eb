// Package tabular answers metric questions against the quarterly financial
// dataset. Instead of executing generated code against the CSV, it hands the
// model a compact serialized view of the data — the category enumerations,
// per-metric summary statistics, and the rows themselves in long form — and
// lets the model compute the answer from that context.
package tabular

import (
	"context"
	"fmt"
	"strings"

	"github.com/weichinwang/marketagent/dispatch"
	"github.com/weichinwang/marketagent/findata"
	"github.com/weichinwang/marketagent/llm"
	"github.com/weichinwang/marketagent/model"
)

// maxContextRows caps how many dataset rows are serialized into the prompt.
const maxContextRows = 2000

// SourceFunc returns the dataset source for a role.
type SourceFunc func(role model.Role) findata.Source

// Action is the csv_agent handler.
type Action struct {
	provider  llm.Provider
	sourceFor SourceFunc
}

// NewAction creates the tabular question-answering action.
func NewAction(provider llm.Provider, sourceFor SourceFunc) *Action {
	return &Action{provider: provider, sourceFor: sourceFor}
}

// Tool returns the descriptor advertised to the model.
func (a *Action) Tool() llm.ToolDefinition {
	return dispatch.CSVAgentTool()
}

// Handle fetches the role's dataset and asks the model to answer the prompt
// from the serialized data.
func (a *Action) Handle(ctx context.Context, req dispatch.Request, args map[string]any) (string, error) {
	source := a.sourceFor(req.Role)
	ds, err := source.Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load dataset from %s: %w", source.Location(), err)
	}
	if len(ds.Rows) == 0 {
		return "", fmt.Errorf("dataset %s is empty", source.Location())
	}

	messages := []llm.ChatMessage{
		llm.SystemMessage("You are a financial data analyst. Answer strictly from the quarterly " +
			"dataset provided. Values are in USD million. If the question cannot be answered " +
			"from the data, say so."),
		llm.UserMessage(BuildContext(ds) + "\n\nQuestion: " + req.Prompt),
	}

	resp, err := a.provider.Chat(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("tabular chat failed: %w", err)
	}
	if resp.Content == "" {
		return "", fmt.Errorf("tabular chat produced no answer")
	}
	return resp.Content, nil
}

// BuildContext serializes the dataset for the model: category enumerations,
// per-metric summary statistics, and the long-form rows (capped).
func BuildContext(ds *findata.Dataset) string {
	cats := ds.Categorize()
	stats := findata.DescribeByIndex(ds.Rows)

	var b strings.Builder
	b.WriteString("Dataset overview:\n")
	fmt.Fprintf(&b, "- Companies: %s\n", strings.Join(cats.Companies, ", "))
	fmt.Fprintf(&b, "- Indices: %s\n", strings.Join(cats.Indices, ", "))
	fmt.Fprintf(&b, "- Years: %v\n", cats.Years)
	fmt.Fprintf(&b, "- Quarters: %v\n", cats.Quarters)

	b.WriteString("\nPer-index summary statistics (USD million):\n")
	for _, index := range cats.Indices {
		s := stats[index]
		fmt.Fprintf(&b, "- %s: count=%d mean=%.2f std=%.2f min=%.2f max=%.2f\n",
			index, s.Count, s.Mean, s.StdDev, s.Min, s.Max)
	}

	b.WriteString("\nRows (Company, Index, Period, USD_Value):\n")
	rows := ds.Rows
	truncated := false
	if len(rows) > maxContextRows {
		rows = rows[:maxContextRows]
		truncated = true
	}
	for _, row := range rows {
		fmt.Fprintf(&b, "%s, %s, %s, %.2f\n", row.Company, row.Index, row.Period(), row.Value)
	}
	if truncated {
		fmt.Fprintf(&b, "... (%d more rows omitted)\n", len(ds.Rows)-maxContextRows)
	}

	return b.String()
}

// Verify Action satisfies the dispatch handler contract.
var _ dispatch.Handler = (*Action)(nil)
