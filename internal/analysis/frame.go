package analysis

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Frame is a dataset held by the analysis service: a header and the raw cell values of every row.
type Frame struct {
	Columns []string   `json:"columns"`
	Records [][]string `json:"records"`
}

// ColumnType is the Vega-Lite measurement type inferred for a column.
type ColumnType string

// ColumnInfo describes a column to the language model.
type ColumnInfo struct {
	Name    string     `json:"name"`
	Type    ColumnType `json:"type"`
	Samples []any      `json:"sample_values"`
}

// ColumnStats holds the descriptive statistics of a quantitative column.
type ColumnStats struct {
	Name  string
	Count int
	Mean  float64
	Std   float64
	Min   float64
	Q25   float64
	Q50   float64
	Q75   float64
	Max   float64
}

const (
	ColumnQuantitative ColumnType = "quantitative"
	ColumnTemporal     ColumnType = "temporal"
	ColumnNominal      ColumnType = "nominal"

	// maxSamples is the number of non-empty values per column shown to the model.
	maxSamples = 150
)

var errNoColumns = errors.New("no columns to parse from file")

var timeLayouts = []string{
	time.RFC3339,
	time.DateTime,
	time.DateOnly,
	"2006/01/02",
	"01/02/2006",
	"2006-01",
}

// ParseFrame reads a CSV document whose first row is the header.
func ParseFrame(raw []byte) (*Frame, error) {
	cr := csv.NewReader(bytes.NewReader(raw))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errNoColumns
	}

	return &Frame{
		Columns: records[0],
		Records: records[1:],
	}, nil
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.Records)
}

func (f *Frame) cell(row, col int) string {
	r := f.Records[row]
	if col >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[col])
}

func (f *Frame) values(col int) []string {
	vals := make([]string, 0, len(f.Records))
	for i := range f.Records {
		if v := f.cell(i, col); v != "" {
			vals = append(vals, v)
		}
	}
	return vals
}

// Types infers the type of every column from its non-empty values. Columns without values are nominal.
func (f *Frame) Types() []ColumnType {
	types := make([]ColumnType, len(f.Columns))
	for i := range f.Columns {
		types[i] = inferType(f.values(i))
	}
	return types
}

func inferType(vals []string) ColumnType {
	if len(vals) == 0 {
		return ColumnNominal
	}
	if !slices.ContainsFunc(vals, func(v string) bool { return !isNumber(v) }) {
		return ColumnQuantitative
	}
	if !slices.ContainsFunc(vals, func(v string) bool { return !isTime(v) }) {
		return ColumnTemporal
	}
	return ColumnNominal
}

func isNumber(v string) bool {
	_, err := strconv.ParseFloat(v, 64)
	return err == nil
}

func isTime(v string) bool {
	for _, layout := range timeLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}

// Info describes every column with its type and up to 150 sample values.
func (f *Frame) Info() []ColumnInfo {
	types := f.Types()
	infos := make([]ColumnInfo, len(f.Columns))
	for i, name := range f.Columns {
		vals := f.values(i)
		vals = vals[:min(len(vals), maxSamples)]
		samples := make([]any, len(vals))
		for j, v := range vals {
			samples[j] = typedValue(v, types[i])
		}
		infos[i] = ColumnInfo{Name: name, Type: types[i], Samples: samples}
	}
	return infos
}

// Head returns the first n rows keyed by column name. Empty cells are nil, cells of quantitative columns
// are numbers.
func (f *Frame) Head(n int) []map[string]any {
	types := f.Types()
	rows := make([]map[string]any, 0, min(n, f.Len()))
	for i := range min(n, f.Len()) {
		row := make(map[string]any, len(f.Columns))
		for j, name := range f.Columns {
			v := f.cell(i, j)
			if v == "" {
				row[name] = nil
				continue
			}
			row[name] = typedValue(v, types[j])
		}
		rows = append(rows, row)
	}
	return rows
}

func typedValue(v string, t ColumnType) any {
	if t != ColumnQuantitative {
		return v
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return v
	}
	return n
}

// Describe computes count, mean, sample standard deviation, min, quartiles and max of every quantitative
// column. Quartiles are linearly interpolated between the closest ranks.
func (f *Frame) Describe() []ColumnStats {
	var stats []ColumnStats
	for i, t := range f.Types() {
		if t != ColumnQuantitative {
			continue
		}
		vals := f.values(i)
		nums := make([]float64, len(vals))
		for j, v := range vals {
			nums[j], _ = strconv.ParseFloat(v, 64)
		}
		stats = append(stats, describe(f.Columns[i], nums))
	}
	return stats
}

func describe(name string, nums []float64) ColumnStats {
	sorted := slices.Clone(nums)
	slices.Sort(sorted)

	var sum float64
	for _, n := range sorted {
		sum += n
	}
	mean := sum / float64(len(sorted))

	std := math.NaN()
	if len(sorted) > 1 {
		var sq float64
		for _, n := range sorted {
			sq += (n - mean) * (n - mean)
		}
		std = math.Sqrt(sq / float64(len(sorted)-1))
	}

	return ColumnStats{
		Name:  name,
		Count: len(sorted),
		Mean:  mean,
		Std:   std,
		Min:   sorted[0],
		Q25:   quantile(sorted, 0.25),
		Q50:   quantile(sorted, 0.5),
		Q75:   quantile(sorted, 0.75),
		Max:   sorted[len(sorted)-1],
	}
}

func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

// FormatStats renders stats as a plain text table, one column per statistic.
func FormatStats(stats []ColumnStats) string {
	if len(stats) == 0 {
		return "The dataset has no numeric columns."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%-16s %8s %12s %12s %12s %12s %12s %12s %12s\n",
		"column", "count", "mean", "std", "min", "25%", "50%", "75%", "max")
	for _, s := range stats {
		fmt.Fprintf(&sb, "%-16s %8d %12.4g %12.4g %12.4g %12.4g %12.4g %12.4g %12.4g\n",
			s.Name, s.Count, s.Mean, s.Std, s.Min, s.Q25, s.Q50, s.Q75, s.Max)
	}
	return sb.String()
}
