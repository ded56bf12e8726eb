// Package report assembles a multi-stage financial report: data analysis,
// transcript analysis, visualizations, a narrative draft, and a
// self-evaluation pass. Stages run strictly in sequence over one shared
// AnalysisState; a stage failure aborts the run with the stage's name on the
// error, leaving any artifacts already written on disk.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/weichinwang/marketagent/charts"
	"github.com/weichinwang/marketagent/findata"
	"github.com/weichinwang/marketagent/internal/jsonx"
	"github.com/weichinwang/marketagent/llm"
)

// Params identifies what to report on.
type Params struct {
	CSVPath        string
	TranscriptPath string
	Company        string
	Year           int
	Quarter        int
}

// DataAnalysis is the output of the data-analysis stage.
type DataAnalysis struct {
	RowCount           int                            `json:"row_count"`
	ColumnCount        int                            `json:"column_count"`
	NumericalColumns   []string                       `json:"numerical_columns"`
	CategoricalColumns []string                       `json:"categorical_columns"`
	BasicStats         map[string]findata.ColumnStats `json:"basic_stats"`
}

// Topic is one analyzed section of the earnings-call transcript.
type Topic struct {
	Topic          string          `json:"topic"`
	CriticalPoints []CriticalPoint `json:"critical_point"`
}

// CriticalPoint is a key insight within a topic.
type CriticalPoint struct {
	Summary string   `json:"summary"`
	Data    []string `json:"data"`
}

// Visualization records one emitted artifact.
type Visualization struct {
	Type        string `json:"type"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// AnalysisState accumulates the stage outputs. Each stage writes only its
// own field.
type AnalysisState struct {
	Params

	DataAnalysis       *DataAnalysis
	TranscriptAnalysis []Topic
	Visualizations     []Visualization
	ReportPath         string

	// filtered rows carried from the data-analysis stage to visualization
	rows []findata.Row
}

// RunContext is the timestamped output directory for one pipeline run.
type RunContext struct {
	Dir string
}

// NewRunContext creates a fresh run directory under root.
func NewRunContext(root string) (*RunContext, error) {
	dir := filepath.Join(root, time.Now().Format("20060102-15-04-05"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	return &RunContext{Dir: dir}, nil
}

// Path returns a file path inside the run directory.
func (rc *RunContext) Path(name string) string {
	return filepath.Join(rc.Dir, name)
}

// transcriptSchema constrains the transcript-analysis output to an array of
// topics with critical points.
var transcriptSchema = json.RawMessage(`{
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "topic": {
        "type": "string",
        "description": "Main subject or section from the earnings call"
      },
      "critical_point": {
        "type": "array",
        "items": {
          "type": "object",
          "properties": {
            "summary": {
              "type": "string",
              "description": "Key takeaway or insight from this topic"
            },
            "data": {
              "type": "array",
              "items": {
                "type": "string",
                "description": "Relevant financial figures, trends, or direct quotes"
              }
            }
          },
          "required": ["summary", "data"]
        },
        "description": "Key insights, including financial metrics, market trends, and management outlook"
      }
    },
    "required": ["topic", "critical_point"]
  }
}`)

// Pipeline runs the report stages with one model provider.
type Pipeline struct {
	client  *llm.Client
	run     *RunContext
	verbose bool
}

// NewPipeline creates a report pipeline writing into the given run context.
func NewPipeline(provider llm.Provider, run *RunContext) *Pipeline {
	return &Pipeline{client: llm.NewClient(provider), run: run}
}

// SetVerbose enables progress output on stdout.
func (p *Pipeline) SetVerbose(v bool) { p.verbose = v }

// Run executes all stages in order. The returned state carries every stage's
// output; on failure the error names the stage that broke.
func (p *Pipeline) Run(ctx context.Context, params Params) (*AnalysisState, error) {
	state := &AnalysisState{Params: params}

	stages := []struct {
		name string
		fn   func(context.Context, *AnalysisState) error
	}{
		{"analyze_data", p.analyzeData},
		{"analyze_transcript", p.analyzeTranscript},
		{"create_visualization", p.createVisualizations},
		{"generate_report", p.generateReport},
		{"self_evaluation", p.selfEvaluate},
	}

	for _, stage := range stages {
		p.logf("running stage %s", stage.name)
		if err := stage.fn(ctx, state); err != nil {
			return state, fmt.Errorf("stage %s: %w", stage.name, err)
		}
	}

	return state, nil
}

// analyzeData loads the CSV, cuts it to the target company through the target
// quarter, and computes the summary statistics.
func (p *Pipeline) analyzeData(ctx context.Context, state *AnalysisState) error {
	ds, err := (findata.LocalSource{Path: state.CSVPath}).Fetch(ctx)
	if err != nil {
		return err
	}

	rows := ds.FilterThrough(state.Company, state.Year, state.Quarter)
	state.rows = rows

	state.DataAnalysis = &DataAnalysis{
		RowCount:           len(rows),
		ColumnCount:        5, // Company Name, Index, CALENDAR_YEAR, CALENDAR_QTR, USD_Value
		NumericalColumns:   []string{"CALENDAR_YEAR", "CALENDAR_QTR", "USD_Value"},
		CategoricalColumns: []string{"Company Name", "Index"},
		BasicStats:         findata.DescribeByIndex(rows),
	}
	return nil
}

// analyzeTranscript runs the structured-output analysis of the earnings-call
// transcript. Malformed JSON from the model is fatal to the run.
func (p *Pipeline) analyzeTranscript(ctx context.Context, state *AnalysisState) error {
	transcript, err := os.ReadFile(state.TranscriptPath)
	if err != nil {
		return fmt.Errorf("failed to read transcript: %w", err)
	}

	prompt := fmt.Sprintf(`You are a financial analyst with expertise in corporate earnings reports, market trends, and financial data interpretation. Analyze the following earnings-call transcript and extract key insights to support a financial report.

Cover: company overview, financial performance (revenue, EPS, margins with YoY/QoQ comparisons), market trends, forward guidance, risk factors, ESG initiatives, investment sentiment, and notable executive quotes.

Transcript:
%s

Return the analysis as JSON.`, transcript)

	content, err := p.client.ChatWithFormat(ctx,
		[]llm.ChatMessage{llm.UserMessage(prompt)},
		llm.NewJSONSchemaFormat("transcript_analysis", transcriptSchema))
	if err != nil {
		return fmt.Errorf("transcript analysis call failed: %w", err)
	}

	topics, err := jsonx.ExtractJSONFromResponse[[]Topic](content)
	if err != nil {
		return fmt.Errorf("transcript analysis returned malformed JSON: %w", err)
	}

	state.TranscriptAnalysis = topics
	return nil
}

// createVisualizations pivots the filtered rows and emits up to four
// artifacts. The trend and growth charts need at least 3 periods; the bar
// chart and ratio table need their full column sets. A missing gate silently
// skips that artifact.
func (p *Pipeline) createVisualizations(ctx context.Context, state *AnalysisState) error {
	wide := findata.Pivot(state.rows)
	n := wide.Len()

	add := func(kind, path, description string) {
		state.Visualizations = append(state.Visualizations, Visualization{
			Type: kind, Path: path, Description: description,
		})
	}
	nextPath := func(ext string) string {
		return p.run.Path(fmt.Sprintf("visualization_%d%s", len(state.Visualizations), ext))
	}

	if n >= 3 && wide.HasColumns(charts.ColRevenue, charts.ColOperatingIncome) {
		path := nextPath(".png")
		if err := charts.TrendChart(wide, state.Company, path); err != nil {
			return err
		}
		add("trend", path, "Revenue & Operating Income Trend")
	}

	if wide.HasColumns(charts.ColRevenue, charts.ColCOGS, charts.ColOperatingExp, charts.ColOperatingIncome, charts.ColTaxExpense) {
		path := nextPath(".png")
		if err := charts.CostStructureChart(wide, state.Company, path); err != nil {
			return err
		}
		add("bar", path, "Cost Structure per Quarter")
	}

	if wide.HasColumns(charts.ColRevenue, charts.ColCOGS, charts.ColOperatingIncome, charts.ColTaxExpense) {
		path := nextPath(".md")
		if err := charts.RatioTable(wide, state.Company, path); err != nil {
			return err
		}
		add("table", path, "Financial Ratios Table")
	}

	if n >= 3 && wide.HasColumns(charts.ColRevenue, charts.ColOperatingIncome) {
		path := nextPath(".png")
		if err := charts.GrowthChart(wide, state.Company, path); err != nil {
			return err
		}
		add("growth", path, "Revenue and Operating Income Growth Rate")
	}

	return nil
}

// generateReport drafts the narrative from the accumulated state.
func (p *Pipeline) generateReport(ctx context.Context, state *AnalysisState) error {
	dataJSON, _ := json.MarshalIndent(state.DataAnalysis, "", "  ")
	transcriptJSON, _ := json.MarshalIndent(state.TranscriptAnalysis, "", "  ")
	visualsJSON, _ := json.MarshalIndent(state.Visualizations, "", "  ")

	prompt := fmt.Sprintf(`Please generate a comprehensive analysis report based on the following information:

1. Data Analysis Results:
%s

2. Transcript Analysis:
%s

3. Generated Visualizations:
%s

Please generate a well-structured report in English, including:
- Executive Summary
- Key Findings from Data Analysis
- Highlights from Transcript Analysis
- Conclusions and Recommendations

Format Requirement: Markdown Format`, dataJSON, transcriptJSON, visualsJSON)

	content, err := p.client.Chat(ctx, []llm.ChatMessage{llm.UserMessage(prompt)})
	if err != nil {
		return fmt.Errorf("report draft call failed: %w", err)
	}
	if content == "" {
		return fmt.Errorf("report draft came back empty")
	}

	path := p.run.Path("report.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write report draft: %w", err)
	}
	state.ReportPath = path
	return nil
}

// selfEvaluate has the model critique the draft for hallucinations and
// inconsistencies and writes the corrected final report.
func (p *Pipeline) selfEvaluate(ctx context.Context, state *AnalysisState) error {
	draft, err := os.ReadFile(state.ReportPath)
	if err != nil {
		return fmt.Errorf("failed to read report draft: %w", err)
	}

	prompt := fmt.Sprintf(`You are an expert financial analyst. Please evaluate the following analysis report for any potential hallucinations, inaccuracies, or inconsistencies.
If you find any issues, please provide corrections along with a brief explanation of the changes made.

Report:
%s`, draft)

	content, err := p.client.Chat(ctx, []llm.ChatMessage{llm.UserMessage(prompt)})
	if err != nil {
		return fmt.Errorf("self evaluation call failed: %w", err)
	}
	if content == "" {
		return fmt.Errorf("self evaluation came back empty")
	}

	path := p.run.Path("final_report.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write final report: %w", err)
	}
	state.ReportPath = path
	return nil
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.verbose {
		fmt.Printf(format+"\n", args...)
	}
}
