// Report pipeline visuals: trend chart, cost-structure bar chart,
// growth-rate chart and the financial ratios table.

package charts

import (
	"fmt"
	"os"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/weichinwang/marketagent/findata"
)

// Column names the report visuals depend on.
const (
	ColRevenue         = "Revenue"
	ColCOGS            = "Cost of Goods Sold"
	ColOperatingExp    = "Operating Expense"
	ColOperatingIncome = "Operating Income"
	ColTaxExpense      = "Tax Expense"
)

// TrendChart draws Revenue and Operating Income over the table's periods.
func TrendChart(wide findata.WideTable, company, path string) error {
	p := newPeriodPlot(wide, fmt.Sprintf("%s Revenue & Operating Income Trend", company), "Amount (Million USD)")

	err := plotutil.AddLinePoints(p,
		ColRevenue, seriesPoints(wide.Column(ColRevenue)),
		ColOperatingIncome, seriesPoints(wide.Column(ColOperatingIncome)),
	)
	if err != nil {
		return fmt.Errorf("failed to add trend series: %w", err)
	}

	if err := p.Save(10*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save trend chart: %w", err)
	}
	return nil
}

// CostStructureChart draws a grouped bar chart of the cost breakdown per
// period: Revenue, COGS, Operating Expense, Operating Income, Tax Expense.
func CostStructureChart(wide findata.WideTable, company, path string) error {
	p := newPeriodPlot(wide, fmt.Sprintf("%s Cost Structure by Period", company), "Amount (Million USD)")

	columns := []string{ColRevenue, ColCOGS, ColOperatingExp, ColOperatingIncome, ColTaxExpense}
	barWidth := vg.Points(8)

	for i, col := range columns {
		bars, err := plotter.NewBarChart(plotter.Values(wide.Column(col)), barWidth)
		if err != nil {
			return fmt.Errorf("failed to build bars for %s: %w", col, err)
		}
		bars.Color = plotutil.Color(i)
		// Center the group around each period tick.
		bars.Offset = vg.Length(i-len(columns)/2) * barWidth
		p.Add(bars)
		p.Legend.Add(col, bars)
	}

	if err := p.Save(12*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save cost structure chart: %w", err)
	}
	return nil
}

// GrowthChart draws the quarter-over-quarter growth rates of Revenue and
// Operating Income.
func GrowthChart(wide findata.WideTable, company, path string) error {
	p := newPeriodPlot(wide, fmt.Sprintf("%s Growth Rates", company), "Growth Rate (%)")
	p.Add(plotter.NewGrid())

	err := plotutil.AddLinePoints(p,
		"Revenue Growth Rate", seriesPoints(findata.GrowthRates(wide.Column(ColRevenue))),
		"Operating Income Growth Rate", seriesPoints(findata.GrowthRates(wide.Column(ColOperatingIncome))),
	)
	if err != nil {
		return fmt.Errorf("failed to add growth series: %w", err)
	}

	if err := p.Save(10*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save growth chart: %w", err)
	}
	return nil
}

// RatioTable derives Gross Margin, Operating Margin and an approximate Net
// Margin per period and writes them as a markdown table. Requires Revenue,
// COGS, Operating Income and Tax Expense columns.
func RatioTable(wide findata.WideTable, company, path string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s Financial Ratios\n\n", company)
	b.WriteString("| Period | Gross Margin | Operating Margin | Net Margin |\n")
	b.WriteString("| --- | --- | --- | --- |\n")

	revenue := wide.Column(ColRevenue)
	cogs := wide.Column(ColCOGS)
	opIncome := wide.Column(ColOperatingIncome)
	tax := wide.Column(ColTaxExpense)

	for i, p := range wide.Periods {
		if revenue[i] == 0 {
			continue
		}
		grossMargin := (revenue[i] - cogs[i]) / revenue[i]
		operatingMargin := opIncome[i] / revenue[i]
		netMargin := (opIncome[i] - tax[i]) / revenue[i]
		fmt.Fprintf(&b, "| %s | %.2f | %.2f | %.2f |\n", p, grossMargin, operatingMargin, netMargin)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write ratio table: %w", err)
	}
	return nil
}

// newPeriodPlot builds a plot with the table's periods as the nominal x-axis.
func newPeriodPlot(wide findata.WideTable, title, yLabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Period"
	p.Y.Label.Text = yLabel
	p.X.Tick.Label.Rotation = 0.785
	p.X.Tick.Label.XAlign = -1
	p.Legend.Top = true
	p.NominalX(wide.PeriodLabels()...)
	return p
}

// seriesPoints indexes a value series by position for a nominal x-axis.
func seriesPoints(values []float64) plotter.XYs {
	pts := make(plotter.XYs, len(values))
	for i, v := range values {
		pts[i].X = float64(i)
		pts[i].Y = v
	}
	return pts
}
