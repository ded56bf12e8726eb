// Package charts renders the financial chart artifacts: the dispatched
// quarterly line chart plus the report pipeline's trend, cost-structure,
// growth-rate and ratio-table visuals.
//
// Information Hiding:
// - Plot styling (sizes, markers, legend placement) hidden
// - Artifact naming and directory creation hidden
package charts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/weichinwang/marketagent/dispatch"
	"github.com/weichinwang/marketagent/findata"
)

// ErrNoData reports that the query's company/index/period combination has no
// matching rows; no artifact is produced.
var ErrNoData = errors.New("no data matches the query")

// RenderLineChart filters the dataset by the validated query and renders one
// line series per requested index over the query's period range. The artifact
// is a uniquely named PNG under dir (created if absent); the returned path
// includes the directory.
func RenderLineChart(ds *findata.Dataset, query dispatch.ChartQuery, dir string) (string, error) {
	rows := ds.Filter(query.Company, query.Indices, query.Span())
	if len(rows) == 0 {
		return "", ErrNoData
	}

	wide := findata.Pivot(rows)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s %s from %s to %s",
		query.Company, query.Indices[0], query.Start, query.End)
	p.X.Label.Text = "Year_Quarter"
	p.Y.Label.Text = fmt.Sprintf("%s (USD Million)", query.Indices[0])
	p.X.Tick.Label.Rotation = 0.785 // ~45 degrees
	p.X.Tick.Label.XAlign = -1
	p.Add(plotter.NewGrid())
	p.NominalX(wide.PeriodLabels()...)

	// One series per requested index; all requested metrics are drawn, not
	// just the first.
	var series []interface{}
	for _, index := range query.Indices {
		series = append(series, index, columnPoints(wide, index))
	}
	if err := plotutil.AddLinePoints(p, series...); err != nil {
		return "", fmt.Errorf("failed to add chart series: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create chart directory: %w", err)
	}

	// Collision-free across concurrent invocations.
	path := filepath.Join(dir, fmt.Sprintf("Financial_line_chart_%x.png", [16]byte(uuid.New())))
	if err := p.Save(10*vg.Inch, 6*vg.Inch, path); err != nil {
		return "", fmt.Errorf("failed to save chart: %w", err)
	}
	return path, nil
}

// columnPoints converts one metric column into plot points indexed by period
// position.
func columnPoints(wide findata.WideTable, index string) plotter.XYs {
	col := wide.Column(index)
	pts := make(plotter.XYs, len(col))
	for i, v := range col {
		pts[i].X = float64(i)
		pts[i].Y = v
	}
	return pts
}
