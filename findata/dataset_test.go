package findata

import (
	"strings"
	"testing"

	"github.com/weichinwang/marketagent/period"
)

const sampleCSV = `Company Name,Index,CALENDAR_YEAR,CALENDAR_QTR,USD_Value
Apple,Revenue,2020,Q1,58313
Apple,Revenue,2020,Q2,59685
Apple,Revenue,2020,Q3,64698
Apple,Cost of Goods Sold,2020,Q1,35943
Apple,Cost of Goods Sold,2020,Q2,37005
Apple,Operating Income,2020,Q1,12853
Nvidia,Revenue,2020,Q1,3080
Nvidia,Revenue,2021,Q1,5661
`

func loadSample(t *testing.T) *Dataset {
	t.Helper()
	ds, err := Read(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return ds
}

func TestReadParsesRows(t *testing.T) {
	ds := loadSample(t)
	if len(ds.Rows) != 8 {
		t.Fatalf("expected 8 rows, got %d", len(ds.Rows))
	}
	first := ds.Rows[0]
	if first.Company != "Apple" || first.Index != "Revenue" {
		t.Errorf("unexpected first row: %+v", first)
	}
	if first.Year != 2020 || first.Quarter != 1 {
		t.Errorf("expected 2020 Q1, got %d Q%d", first.Year, first.Quarter)
	}
	if first.Value != 58313 {
		t.Errorf("expected 58313, got %f", first.Value)
	}
}

func TestReadMissingColumn(t *testing.T) {
	csv := "Company Name,Index,CALENDAR_YEAR,USD_Value\nApple,Revenue,2020,1\n"
	if _, err := Read(strings.NewReader(csv)); err == nil {
		t.Fatal("expected error for missing CALENDAR_QTR column")
	}
}

func TestReadBadQuarterLabel(t *testing.T) {
	csv := "Company Name,Index,CALENDAR_YEAR,CALENDAR_QTR,USD_Value\nApple,Revenue,2020,Q7,1\n"
	if _, err := Read(strings.NewReader(csv)); err == nil {
		t.Fatal("expected error for quarter out of range")
	}
}

func TestFilterByCompanyIndexAndRange(t *testing.T) {
	ds := loadSample(t)
	r := period.Range{Start: period.Quarter{Year: 2020, Q: 1}, End: period.Quarter{Year: 2020, Q: 2}}
	rows := ds.Filter("Apple", []string{"Revenue"}, r)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Company != "Apple" || row.Index != "Revenue" {
			t.Errorf("unexpected row: %+v", row)
		}
	}
}

func TestFilterNoMatch(t *testing.T) {
	ds := loadSample(t)
	r := period.Range{Start: period.Quarter{Year: 2020, Q: 1}, End: period.Quarter{Year: 2024, Q: 3}}
	rows := ds.Filter("Tesla", []string{"Revenue"}, r)
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
}

func TestFilterThrough(t *testing.T) {
	ds := loadSample(t)
	rows := ds.FilterThrough("Apple", 2020, 2)
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows through 2020 Q2, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Year > 2020 || (row.Year == 2020 && row.Quarter > 2) {
			t.Errorf("row after cutoff leaked through: %+v", row)
		}
	}
}

func TestCategorize(t *testing.T) {
	ds := loadSample(t)
	cat := ds.Categorize()
	if len(cat.Companies) != 2 {
		t.Errorf("expected 2 companies, got %v", cat.Companies)
	}
	if cat.Companies[0] != "Apple" || cat.Companies[1] != "Nvidia" {
		t.Errorf("expected sorted companies, got %v", cat.Companies)
	}
	if len(cat.Indices) != 3 {
		t.Errorf("expected 3 indices, got %v", cat.Indices)
	}
}

func TestMaxPeriod(t *testing.T) {
	ds := loadSample(t)
	max, ok := ds.MaxPeriod()
	if !ok {
		t.Fatal("expected a max period")
	}
	if max.String() != "2021_Q1" {
		t.Errorf("expected 2021_Q1, got %s", max)
	}

	empty := &Dataset{}
	if _, ok := empty.MaxPeriod(); ok {
		t.Error("empty dataset should report no max period")
	}
}

func TestPivot(t *testing.T) {
	ds := loadSample(t)
	rows := ds.FilterThrough("Apple", 2020, 3)
	wide := Pivot(rows)
	if wide.Len() != 3 {
		t.Fatalf("expected 3 periods, got %d", wide.Len())
	}
	if wide.Periods[0].String() != "2020_Q1" {
		t.Errorf("expected periods sorted, got %v", wide.PeriodLabels())
	}
	if !wide.HasColumns("Revenue") {
		t.Error("Revenue should be present in every period")
	}
	if wide.HasColumns("Cost of Goods Sold") {
		t.Error("COGS is missing in 2020_Q3 and should not count as a full column")
	}
	rev := wide.Column("Revenue")
	if rev[0] != 58313 || rev[2] != 64698 {
		t.Errorf("unexpected revenue series: %v", rev)
	}
}

func TestGrowthRates(t *testing.T) {
	rates := GrowthRates([]float64{100, 110, 99})
	if rates[0] != 0 {
		t.Errorf("first rate should be 0, got %f", rates[0])
	}
	if rates[1] < 9.99 || rates[1] > 10.01 {
		t.Errorf("expected ~10%%, got %f", rates[1])
	}
	if rates[2] > -9.99 || rates[2] < -10.01 {
		t.Errorf("expected ~-10%%, got %f", rates[2])
	}
}

func TestDescribe(t *testing.T) {
	s := Describe([]float64{1, 2, 3, 4})
	if s.Count != 4 {
		t.Errorf("expected count 4, got %d", s.Count)
	}
	if s.Mean != 2.5 {
		t.Errorf("expected mean 2.5, got %f", s.Mean)
	}
	if s.Min != 1 || s.Max != 4 {
		t.Errorf("unexpected min/max: %f/%f", s.Min, s.Max)
	}

	single := Describe([]float64{7})
	if single.StdDev != 0 {
		t.Errorf("single observation should have zero std, got %f", single.StdDev)
	}
}
