package analysis_test

import (
	"math"
	"strings"
	"testing"

	"github.com/MegaGrindStone/datachat/internal/analysis"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

const salesCSV = `region,sales,day
north,1,2024-01-01
south,2,2024-01-02
east,3,2024-01-03
west,4,2024-01-04
`

func TestParseFrame(t *testing.T) {
	frame, err := analysis.ParseFrame([]byte(salesCSV))
	if err != nil {
		t.Fatalf("ParseFrame() unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"region", "sales", "day"}, frame.Columns); diff != "" {
		t.Errorf("Columns mismatch (-want +got):\n%s", diff)
	}
	if frame.Len() != 4 {
		t.Errorf("Len() = %d, want 4", frame.Len())
	}

	if _, err := analysis.ParseFrame(nil); err == nil {
		t.Error("ParseFrame() of an empty file error = nil, want error")
	}
}

func TestFrameTypes(t *testing.T) {
	tests := []struct {
		name string
		csv  string
		want []analysis.ColumnType
	}{
		{
			name: "mixed",
			csv:  salesCSV,
			want: []analysis.ColumnType{
				analysis.ColumnNominal,
				analysis.ColumnQuantitative,
				analysis.ColumnTemporal,
			},
		},
		{
			name: "empty cells are ignored",
			csv:  "a,b\n1,\n,x\n2.5,y\n",
			want: []analysis.ColumnType{analysis.ColumnQuantitative, analysis.ColumnNominal},
		},
		{
			name: "column without values",
			csv:  "a,b\n1,\n2,\n",
			want: []analysis.ColumnType{analysis.ColumnQuantitative, analysis.ColumnNominal},
		},
		{
			name: "numbers mixed with text",
			csv:  "a\n1\ntwo\n",
			want: []analysis.ColumnType{analysis.ColumnNominal},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := analysis.ParseFrame([]byte(tt.csv))
			if err != nil {
				t.Fatalf("ParseFrame() unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, frame.Types()); diff != "" {
				t.Errorf("Types() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFrameHead(t *testing.T) {
	frame, err := analysis.ParseFrame([]byte("name,score\nann,1\nbob,\n"))
	if err != nil {
		t.Fatalf("ParseFrame() unexpected error: %v", err)
	}

	want := []map[string]any{
		{"name": "ann", "score": 1.0},
		{"name": "bob", "score": nil},
	}
	if diff := cmp.Diff(want, frame.Head(5)); diff != "" {
		t.Errorf("Head() mismatch (-want +got):\n%s", diff)
	}
	if n := len(frame.Head(1)); n != 1 {
		t.Errorf("Head(1) length = %d, want 1", n)
	}
}

func TestFrameInfo(t *testing.T) {
	frame, err := analysis.ParseFrame([]byte("n\n" + strings.Repeat("7\n", 200)))
	if err != nil {
		t.Fatalf("ParseFrame() unexpected error: %v", err)
	}

	info := frame.Info()
	if len(info) != 1 {
		t.Fatalf("Info() length = %d, want 1", len(info))
	}
	if info[0].Type != analysis.ColumnQuantitative {
		t.Errorf("Type = %s, want %s", info[0].Type, analysis.ColumnQuantitative)
	}
	if n := len(info[0].Samples); n != 150 {
		t.Errorf("Samples length = %d, want 150", n)
	}
}

func TestFrameDescribe(t *testing.T) {
	frame, err := analysis.ParseFrame([]byte(salesCSV))
	if err != nil {
		t.Fatalf("ParseFrame() unexpected error: %v", err)
	}

	want := []analysis.ColumnStats{
		{
			Name:  "sales",
			Count: 4,
			Mean:  2.5,
			Std:   math.Sqrt(5.0 / 3.0),
			Min:   1,
			Q25:   1.75,
			Q50:   2.5,
			Q75:   3.25,
			Max:   4,
		},
	}
	if diff := cmp.Diff(want, frame.Describe(), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("Describe() mismatch (-want +got):\n%s", diff)
	}

	table := analysis.FormatStats(frame.Describe())
	if !strings.Contains(table, "sales") || !strings.Contains(table, "mean") {
		t.Errorf("FormatStats() = %q, want a table with the sales column", table)
	}
}

func TestFrameDescribeSingleValue(t *testing.T) {
	frame, err := analysis.ParseFrame([]byte("a\n3\n"))
	if err != nil {
		t.Fatalf("ParseFrame() unexpected error: %v", err)
	}

	stats := frame.Describe()
	if len(stats) != 1 {
		t.Fatalf("Describe() length = %d, want 1", len(stats))
	}
	if !math.IsNaN(stats[0].Std) {
		t.Errorf("Std = %v, want NaN", stats[0].Std)
	}
	if stats[0].Q25 != 3 || stats[0].Q75 != 3 {
		t.Errorf("quartiles = %v, %v, want 3, 3", stats[0].Q25, stats[0].Q75)
	}
}
