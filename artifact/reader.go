package artifact

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/ZephyrDeng/cprofcsv/analyzer"
)

// artifactName matches "<stem>-<timestamp>[-N].csv".
var artifactName = regexp.MustCompile(`^(.*)-(\d{4}-\d{2}-\d{2}-\d{2}-\d{2}-\d{2})(?:-\d+)?\.csv$`)

// ReadFile loads a CSV artifact back into a report. Source and CapturedAt
// are recovered from the file name when it follows the artifact pattern.
func ReadFile(path string) (*analyzer.ProfileReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact '%s': %w", path, err)
	}
	defer f.Close()

	report, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact '%s': %w", path, err)
	}

	report.Source = Stem(path)
	if m := artifactName.FindStringSubmatch(filepath.Base(path)); m != nil {
		report.Source = m[1]
		if ts, err := time.ParseInLocation(TimestampLayout, m[2], time.Local); err == nil {
			report.CapturedAt = ts
		}
	}
	return report, nil
}

// Read parses CSV rows written by Writer. Columns are located by header
// name; only the first five are required. Totals come from the total_*
// columns when present, otherwise they are summed from the rows.
func Read(r io.Reader) (*analyzer.ProfileReport, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("missing header row")
	}
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for _, required := range Header[:5] {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	_, hasTotals := index["total_function_calls"]

	report := &analyzer.ProfileReport{}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rec, err := parseRow(row, index)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		report.Records = append(report.Records, rec)
		if !hasTotals {
			report.Totals.FunctionCalls += rec.Calls
			report.Totals.PrimitiveCalls += rec.PrimitiveCalls
			report.Totals.Seconds += rec.TotTime
			continue
		}
		if line == 2 {
			if report.Totals, err = parseTotals(row, index); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
	}
	return report, nil
}

func parseRow(row []string, index map[string]int) (analyzer.CallStatRecord, error) {
	var rec analyzer.CallStatRecord
	cols := columns{row: row, index: index}
	rec.Function = cols.get("function")
	rec.File = cols.get("filename")
	rec.Name = cols.get("funcname")

	ints := []struct {
		name string
		dst  *int64
	}{
		{"ncalls", &rec.Calls},
		{"primitive_calls", &rec.PrimitiveCalls},
	}
	for _, it := range ints {
		if err := cols.intField(it.name, it.dst); err != nil {
			return rec, err
		}
	}
	floats := []struct {
		name string
		dst  *float64
	}{
		{"tottime", &rec.TotTime},
		{"cumtime", &rec.CumTime},
		{"percall", &rec.PerCall},
		{"tottime_percall", &rec.TotTimePerCall},
	}
	for _, it := range floats {
		if err := cols.floatField(it.name, it.dst); err != nil {
			return rec, err
		}
	}
	if v := cols.get("lineno"); v != "" {
		line, err := strconv.Atoi(v)
		if err != nil {
			return rec, fmt.Errorf("column lineno: %w", err)
		}
		rec.Line = line
	}
	return rec, nil
}

func parseTotals(row []string, index map[string]int) (analyzer.Totals, error) {
	var (
		t   analyzer.Totals
		err error
	)
	cols := columns{row: row, index: index}
	if err = cols.intField("total_function_calls", &t.FunctionCalls); err != nil {
		return t, err
	}
	if err = cols.intField("total_primitive_calls", &t.PrimitiveCalls); err != nil {
		return t, err
	}
	if err = cols.floatField("total_seconds", &t.Seconds); err != nil {
		return t, err
	}
	err = cols.floatField("wall_seconds", &t.WallSeconds)
	return t, err
}

// columns looks up fields of one row by header name. Missing or empty
// fields leave the destination untouched.
type columns struct {
	row   []string
	index map[string]int
}

func (c columns) get(name string) string {
	i, ok := c.index[name]
	if !ok || i >= len(c.row) {
		return ""
	}
	return c.row[i]
}

func (c columns) intField(name string, dst *int64) error {
	v := c.get(name)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("column %s: %w", name, err)
	}
	*dst = n
	return nil
}

func (c columns) floatField(name string, dst *float64) error {
	v := c.get(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("column %s: %w", name, err)
	}
	*dst = f
	return nil
}
