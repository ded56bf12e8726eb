package charts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/weichinwang/marketagent/dispatch"
	"github.com/weichinwang/marketagent/findata"
	"github.com/weichinwang/marketagent/llm"
	"github.com/weichinwang/marketagent/model"
)

// Action is the plot_line_chart handler: it loads the role's dataset,
// renders the requested series, and answers with the artifact path.
type Action struct {
	sourceFor func(model.Role) findata.Source
	dir       string
}

// NewAction creates the chart handler writing PNGs under dir.
func NewAction(sourceFor func(model.Role) findata.Source, dir string) *Action {
	return &Action{sourceFor: sourceFor, dir: dir}
}

// Tool returns the descriptor advertised to the model.
func (a *Action) Tool() llm.ToolDefinition {
	return dispatch.PlotLineChartTool()
}

// Handle parses the normalized arguments, fetches the dataset, and renders
// the line chart.
func (a *Action) Handle(ctx context.Context, req dispatch.Request, args map[string]any) (string, error) {
	query, err := dispatch.ParseChartQuery(args)
	if err != nil {
		return "", err
	}

	source := a.sourceFor(req.Role)
	ds, err := source.Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load dataset from %s: %w", source.Location(), err)
	}

	path, err := RenderLineChart(ds, query, a.dir)
	if errors.Is(err, ErrNoData) {
		return "", fmt.Errorf("no data for %s (%s) in %s",
			query.Company, strings.Join(query.Indices, ", "), query.Span())
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Line chart saved to %s", path), nil
}

var _ dispatch.Handler = (*Action)(nil)
