package charts

import (
	"context"
	"strings"
	"testing"

	"github.com/weichinwang/marketagent/dispatch"
	"github.com/weichinwang/marketagent/findata"
	"github.com/weichinwang/marketagent/model"
)

type staticSource struct {
	ds  *findata.Dataset
	err error
}

func (s staticSource) Fetch(ctx context.Context) (*findata.Dataset, error) { return s.ds, s.err }
func (s staticSource) Location() string                                    { return "memory" }

func sourceFor(src findata.Source) func(model.Role) findata.Source {
	return func(model.Role) findata.Source { return src }
}

func chartArgs() map[string]any {
	return map[string]any{
		"company":    "Apple",
		"index":      []any{"Revenue", "Operating Income"},
		"start_time": "2022_Q1",
		"end_time":   "2022_Q4",
	}
}

func TestHandlerRendersChart(t *testing.T) {
	action := NewAction(sourceFor(staticSource{ds: sampleDataset()}), t.TempDir())

	answer, err := action.Handle(context.Background(), dispatch.Request{Role: model.RoleGlobal}, chartArgs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(answer, "Financial_line_chart_") || !strings.HasSuffix(answer, ".png") {
		t.Errorf("unexpected answer %q", answer)
	}
}

func TestHandlerNoMatchingData(t *testing.T) {
	action := NewAction(sourceFor(staticSource{ds: sampleDataset()}), t.TempDir())

	args := chartArgs()
	args["company"] = "Nvidia"
	_, err := action.Handle(context.Background(), dispatch.Request{Role: model.RoleGlobal}, args)
	if err == nil || !strings.Contains(err.Error(), "no data for Nvidia") {
		t.Fatalf("expected no-data error, got %v", err)
	}
}

func TestHandlerBadArgs(t *testing.T) {
	action := NewAction(sourceFor(staticSource{ds: sampleDataset()}), t.TempDir())

	_, err := action.Handle(context.Background(), dispatch.Request{Role: model.RoleGlobal}, map[string]any{})
	if err == nil {
		t.Fatal("expected error for missing company")
	}
}
