package findata

import (
	"sort"

	"github.com/weichinwang/marketagent/period"
)

// WideTable is the pivoted view of long-form rows: one entry per period with
// metric names as columns. It is the shape the report visualizations and
// ratio calculations work against.
type WideTable struct {
	Periods []period.Quarter
	// Values maps metric name -> value, aligned with Periods by position.
	Values []map[string]float64
}

// Pivot groups rows by period and spreads the Index column into per-metric
// values. Periods come out in chronological order. When the same
// (period, metric) pair appears more than once the last row wins.
func Pivot(rows []Row) WideTable {
	byPeriod := make(map[period.Quarter]map[string]float64)
	for _, row := range rows {
		p := row.Period()
		if byPeriod[p] == nil {
			byPeriod[p] = make(map[string]float64)
		}
		byPeriod[p][row.Index] = row.Value
	}

	periods := make([]period.Quarter, 0, len(byPeriod))
	for p := range byPeriod {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })

	values := make([]map[string]float64, len(periods))
	for i, p := range periods {
		values[i] = byPeriod[p]
	}

	return WideTable{Periods: periods, Values: values}
}

// Len returns the number of periods in the table.
func (w WideTable) Len() int { return len(w.Periods) }

// HasColumns reports whether every period row carries all the named metrics.
func (w WideTable) HasColumns(names ...string) bool {
	if w.Len() == 0 {
		return false
	}
	for _, row := range w.Values {
		for _, name := range names {
			if _, ok := row[name]; !ok {
				return false
			}
		}
	}
	return true
}

// Column extracts one metric as a series aligned with Periods.
func (w WideTable) Column(name string) []float64 {
	out := make([]float64, w.Len())
	for i, row := range w.Values {
		out[i] = row[name]
	}
	return out
}

// PeriodLabels renders the period axis as "YYYY_Qn" labels.
func (w WideTable) PeriodLabels() []string {
	labels := make([]string, w.Len())
	for i, p := range w.Periods {
		labels[i] = p.String()
	}
	return labels
}

// GrowthRates computes the quarter-over-quarter percentage change of a
// series. The first element has no predecessor and is reported as 0.
func GrowthRates(series []float64) []float64 {
	out := make([]float64, len(series))
	for i := 1; i < len(series); i++ {
		if series[i-1] != 0 {
			out[i] = (series[i] - series[i-1]) / series[i-1] * 100
		}
	}
	return out
}
