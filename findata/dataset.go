// Package findata loads and slices the quarterly financial metrics dataset.
//
// The dataset is a long-form CSV with one row per (company, metric, quarter):
//
//	Company Name, Index, CALENDAR_YEAR, CALENDAR_QTR, USD_Value
//
// where Index is a metric name such as "Revenue" and CALENDAR_QTR is "Q1".."Q4".
package findata

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/weichinwang/marketagent/period"
)

// Row is a single observation of one metric for one company in one quarter.
type Row struct {
	Company string
	Index   string
	Year    int
	Quarter int
	Value   float64
}

// Period returns the row's fiscal quarter.
func (r Row) Period() period.Quarter {
	return period.Quarter{Year: r.Year, Q: r.Quarter}
}

// Dataset is an in-memory slice of the financial metrics table.
type Dataset struct {
	Rows []Row
}

// Categories enumerates the distinct values present in a dataset. The
// tabular action hands these to the model so it knows what it can ask about.
type Categories struct {
	Companies []string
	Indices   []string
	Years     []int
	Quarters  []int
}

// Read decodes a long-form CSV stream into a Dataset. The header row is
// required and columns are located by name, so column order is free.
func Read(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"Company Name", "Index", "CALENDAR_YEAR", "CALENDAR_QTR", "USD_Value"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("CSV missing required column %q", required)
		}
	}

	ds := &Dataset{}
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}

		year, err := strconv.Atoi(strings.TrimSpace(record[col["CALENDAR_YEAR"]]))
		if err != nil {
			return nil, fmt.Errorf("line %d: bad CALENDAR_YEAR: %w", line, err)
		}
		quarter, err := parseQuarterLabel(record[col["CALENDAR_QTR"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(record[col["USD_Value"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad USD_Value: %w", line, err)
		}

		ds.Rows = append(ds.Rows, Row{
			Company: strings.TrimSpace(record[col["Company Name"]]),
			Index:   strings.TrimSpace(record[col["Index"]]),
			Year:    year,
			Quarter: quarter,
			Value:   value,
		})
	}

	return ds, nil
}

// parseQuarterLabel extracts the quarter digit from labels like "Q1" or "1".
func parseQuarterLabel(label string) (int, error) {
	label = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(label), "Q"))
	q, err := strconv.Atoi(label)
	if err != nil || q < 1 || q > 4 {
		return 0, fmt.Errorf("bad CALENDAR_QTR %q", label)
	}
	return q, nil
}

// Filter returns the rows matching all non-zero criteria: exact company,
// index membership in indices (empty slice matches every index), and period
// inside the inclusive range.
func (d *Dataset) Filter(company string, indices []string, r period.Range) []Row {
	indexSet := make(map[string]bool, len(indices))
	for _, idx := range indices {
		indexSet[idx] = true
	}

	var out []Row
	for _, row := range d.Rows {
		if company != "" && row.Company != company {
			continue
		}
		if len(indexSet) > 0 && !indexSet[row.Index] {
			continue
		}
		if !r.Contains(row.Period()) {
			continue
		}
		out = append(out, row)
	}

	SortChronological(out)
	return out
}

// FilterThrough keeps rows for company with (year < y) OR (year == y AND
// quarter <= q) — the report pipeline's "everything up to and including the
// target quarter" cut.
func (d *Dataset) FilterThrough(company string, year, quarter int) []Row {
	var out []Row
	for _, row := range d.Rows {
		if row.Company != company {
			continue
		}
		if row.Year < year || (row.Year == year && row.Quarter <= quarter) {
			out = append(out, row)
		}
	}
	SortChronological(out)
	return out
}

// SortChronological orders rows by (year, quarter), then by index name for a
// stable layout within a quarter.
func SortChronological(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Year != rows[j].Year {
			return rows[i].Year < rows[j].Year
		}
		if rows[i].Quarter != rows[j].Quarter {
			return rows[i].Quarter < rows[j].Quarter
		}
		return rows[i].Index < rows[j].Index
	})
}

// Categorize enumerates the distinct companies, indices, years and quarters.
func (d *Dataset) Categorize() Categories {
	companies := map[string]bool{}
	indices := map[string]bool{}
	years := map[int]bool{}
	quarters := map[int]bool{}
	for _, row := range d.Rows {
		companies[row.Company] = true
		indices[row.Index] = true
		years[row.Year] = true
		quarters[row.Quarter] = true
	}

	cat := Categories{
		Companies: sortedKeys(companies),
		Indices:   sortedKeys(indices),
		Years:     sortedInts(years),
		Quarters:  sortedInts(quarters),
	}
	return cat
}

// MaxPeriod returns the latest quarter present in the dataset, or false when
// the dataset is empty.
func (d *Dataset) MaxPeriod() (period.Quarter, bool) {
	if len(d.Rows) == 0 {
		return period.Quarter{}, false
	}
	max := d.Rows[0].Period()
	for _, row := range d.Rows[1:] {
		if p := row.Period(); p.After(max) {
			max = p
		}
	}
	return max, true
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedInts(set map[int]bool) []int {
	keys := make([]int, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
