// Package dispatch routes a natural-language financial query to a backing
// action using the model's function-calling feature: the model picks a tool
// (or answers directly), the router validates and normalizes the arguments,
// and the matching handler produces the final result.
package dispatch

import (
	"fmt"
	"strings"

	"github.com/weichinwang/marketagent/model"
	"github.com/weichinwang/marketagent/period"
)

// Request carries one user query through the router.
type Request struct {
	Role        model.Role
	Prompt      string
	Model       string // model id override; empty uses the provider default
	Temperature float64
	MaxTokens   uint32
	History     []model.Turn
	Forced      bool // true: model must pick a tool; false: free-text fallback allowed
}

// Outcome classifies the terminal state of a dispatched request.
type Outcome int

const (
	// OutcomeAnswered means a usable answer or artifact path was produced.
	OutcomeAnswered Outcome = iota
	// OutcomeRejected means the query was understood but refused on
	// validation grounds (empty arguments, out-of-range period).
	OutcomeRejected
	// OutcomeFailed means the dispatch itself broke down: no functional
	// response, an unrecognized tool, or a handler error.
	OutcomeFailed
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeAnswered:
		return "answered"
	case OutcomeRejected:
		return "rejected"
	default:
		return "failed"
	}
}

// Result is the terminal value of a dispatch. Exactly one of Answer, Reason
// or Error is populated depending on the outcome.
type Result struct {
	Outcome Outcome
	Answer  string // For Answered: free text or an artifact path
	Reason  string // For Rejected: validation message for the user
	Error   string // For Failed: what broke
	Tool    string // tool the model selected, empty for direct answers
	Usage   *TokenStats
}

// TokenStats accumulates token usage across the router's model calls.
type TokenStats struct {
	PromptTokens     uint32 `json:"prompt_tokens"`
	CompletionTokens uint32 `json:"completion_tokens"`
	TotalTokens      uint32 `json:"total_tokens"`
	Calls            int    `json:"calls"`
}

// NewAnsweredResult creates a result carrying a usable answer.
func NewAnsweredResult(answer, tool string) Result {
	return Result{Outcome: OutcomeAnswered, Answer: answer, Tool: tool}
}

// NewRejectedResult creates a result refusing the query with a reason.
func NewRejectedResult(reason, tool string) Result {
	return Result{Outcome: OutcomeRejected, Reason: reason, Tool: tool}
}

// NewFailedResult creates a result recording a dispatch failure.
func NewFailedResult(err, tool string) Result {
	return Result{Outcome: OutcomeFailed, Error: err, Tool: tool}
}

// ChartQuery is a validated line-chart request: which company, which metrics,
// over which inclusive period range.
type ChartQuery struct {
	Company string          `json:"company"`
	Indices []string        `json:"index"`
	Start   period.Quarter  `json:"-"`
	End     period.Quarter  `json:"-"`
}

// Span returns the query's inclusive period range.
func (q ChartQuery) Span() period.Range {
	return period.Range{Start: q.Start, End: q.End}
}

// ParseChartQuery builds a ChartQuery from normalized arguments. The caller
// guarantees index is already a list and the time fields are canonical
// "YYYY_Qn" strings.
func ParseChartQuery(args map[string]any) (ChartQuery, error) {
	company, _ := args["company"].(string)
	if company == "" {
		return ChartQuery{}, fmt.Errorf("missing company argument")
	}

	var indices []string
	switch v := args["index"].(type) {
	case []string:
		indices = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				indices = append(indices, s)
			}
		}
	case string:
		indices = []string{v}
	}
	if len(indices) == 0 {
		return ChartQuery{}, fmt.Errorf("missing index argument")
	}

	start, err := parseTimeArg(args, "start_time")
	if err != nil {
		return ChartQuery{}, err
	}
	end, err := parseTimeArg(args, "end_time")
	if err != nil {
		return ChartQuery{}, err
	}

	return ChartQuery{Company: company, Indices: indices, Start: start, End: end}, nil
}

func parseTimeArg(args map[string]any, key string) (period.Quarter, error) {
	raw, _ := args[key].(string)
	q, err := period.Parse(raw)
	if err != nil {
		return period.Quarter{}, fmt.Errorf("bad %s argument: %w", key, err)
	}
	return q, nil
}

// NormalizeArgs canonicalizes the known argument keys in place and returns
// the map. The index field arrives as a ", "-delimited string and becomes an
// ordered list (a bare value becomes a one-element list); the time fields run
// through the period normalizer with the envelope bounds as defaults.
func NormalizeArgs(args map[string]any, envelope period.Range) map[string]any {
	if raw, ok := args["index"]; ok {
		switch v := raw.(type) {
		case string:
			args["index"] = strings.Split(v, ", ")
		case []string, []any:
			// already a list
		default:
			args["index"] = []string{fmt.Sprint(v)}
		}
	}

	if raw, ok := args["start_time"].(string); ok {
		args["start_time"] = period.Normalize(raw, envelope.Start.String())
	} else if _, present := args["start_time"]; !present {
		args["start_time"] = envelope.Start.String()
	}

	if raw, ok := args["end_time"].(string); ok {
		args["end_time"] = period.Normalize(raw, envelope.End.String())
	} else if _, present := args["end_time"]; !present {
		args["end_time"] = envelope.End.String()
	}

	return args
}
