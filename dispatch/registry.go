// Tool descriptor and handler registry.
//
// Descriptors are static and advisory: they tell the model what each action
// accepts, but the router re-validates every argument after the model
// decides. Handlers are registered once at startup.

package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/weichinwang/marketagent/llm"
)

// Tool names the model can select.
const (
	ToolPlotLineChart = "plot_line_chart"
	ToolRAGRetrieval  = "rag_retrieval"
	ToolCSVAgent      = "csv_agent"
)

// Companies with rows in the quarterly dataset. Advisory: listed in the
// descriptor so the model maps aliases onto canonical names.
var Companies = []string{
	"Amazon", "AMD", "Amkor", "Apple", "Applied Material", "Baidu",
	"Broadcom", "Cirrus Logic", "Google", "Himax", "Intel", "KLA",
	"Marvell", "Microchip", "Microsoft", "Nvidia", "ON Semi", "Qorvo",
	"Qualcomm", "Samsung", "STM", "Tencent", "Texas Instruments", "TSMC",
	"Western Digital",
}

// Indices are the financial metrics the dataset tracks.
var Indices = []string{
	"Cost of Goods Sold", "Operating Expense", "Operating Income",
	"Revenue", "Tax Expense", "Total Asset", "Gross profit margin",
	"Operating margin",
}

// Handler executes one action once the router has validated the decision.
type Handler interface {
	// Tool returns the descriptor advertised to the model.
	Tool() llm.ToolDefinition

	// Handle runs the action with normalized arguments and returns the
	// user-facing answer (free text or an artifact path).
	Handle(ctx context.Context, req Request, args map[string]any) (string, error)
}

// Registry manages the available handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates a new empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler to the registry.
// Returns error if a handler with the same tool name already exists.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := h.Tool().Name
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler '%s' already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// Get returns a handler by tool name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.handlers[name]
	return h, exists
}

// Names returns all registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptors returns the tool definitions for all registered handlers,
// ordered by name so the model sees a stable toolkit.
func (r *Registry) Descriptors() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.handlers[name].Tool())
	}
	return defs
}

// PlotLineChartTool is the descriptor for the line-chart action.
func PlotLineChartTool() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name: ToolPlotLineChart,
		Description: "Draw a line chart of the financial index for a company according to " +
			"the user's query, including the start and end time, which are in the format " +
			"'year_quarter', showing the financial index for each quarter.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"company": map[string]interface{}{
					"type": "string",
					"description": "Canonical company name, one of [" + strings.Join(Companies, ", ") + "]. " +
						"Translate aliases and non-English names onto this list. " +
						"If the user asks about any other company, return out of data.",
				},
				"index": map[string]interface{}{
					"type": "string",
					"description": "Financial index to extract from the raw data, one of [" +
						strings.Join(Indices, ", ") + "]. " +
						"The user can ask for more than one index; return multiple indices " +
						"joined by ', ' in the listed spelling. " +
						"If the user asks for any other index, return out of data.",
				},
				"start_time": map[string]interface{}{
					"type": "string",
					"description": "Start of the data range in 'year_quarter' format, e.g. '2020 Q1' " +
						"becomes 2020_Q1. If the user says 'all' or gives no start, return 2020_Q1.",
				},
				"end_time": map[string]interface{}{
					"type": "string",
					"description": "End of the data range in 'year_quarter' format, e.g. '2023 Q4' " +
						"becomes 2023_Q4. If the user says 'all' or gives no end, return 2024_Q3.",
				},
			},
			"required": []string{"company", "index", "start_time", "end_time"},
		},
	}
}

// RAGRetrievalTool is the descriptor for the transcript retrieval action.
func RAGRetrievalTool() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name: ToolRAGRetrieval,
		Description: "If the question is about an earnings call, call this function to " +
			"retrieve the earnings-call transcripts and answer from them.",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	}
}

// CSVAgentTool is the descriptor for the tabular question-answering action.
func CSVAgentTool() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name: ToolCSVAgent,
		Description: "If you need more information about financial data, like [" +
			strings.Join(Indices, ", ") + "], call this function to access the csv data.",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	}
}
