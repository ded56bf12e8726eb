package findata

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ColumnStats summarizes one numeric column: count, mean, standard
// deviation, min/max and quartiles.
type ColumnStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std"`
	Min    float64 `json:"min"`
	Q25    float64 `json:"25%"`
	Median float64 `json:"50%"`
	Q75    float64 `json:"75%"`
	Max    float64 `json:"max"`
}

// Describe computes summary statistics for a series. Empty input yields the
// zero value.
func Describe(series []float64) ColumnStats {
	if len(series) == 0 {
		return ColumnStats{}
	}

	sorted := append([]float64(nil), series...)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	s := ColumnStats{
		Count:  len(sorted),
		Mean:   mean,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Q25:    stat.Quantile(0.25, stat.Empirical, sorted, nil),
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		Q75:    stat.Quantile(0.75, stat.Empirical, sorted, nil),
	}
	// MeanStdDev returns NaN std for a single observation.
	if len(sorted) > 1 {
		s.StdDev = std
	}
	return s
}

// DescribeByIndex computes per-metric summary statistics for a set of rows.
func DescribeByIndex(rows []Row) map[string]ColumnStats {
	series := make(map[string][]float64)
	for _, row := range rows {
		series[row.Index] = append(series[row.Index], row.Value)
	}

	out := make(map[string]ColumnStats, len(series))
	for name, values := range series {
		out[name] = Describe(values)
	}
	return out
}
