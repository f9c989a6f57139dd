// Package artifact writes per-script profiling results to disk: one
// timestamped CSV per script, optionally with a gzipped pprof companion.
package artifact

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ZephyrDeng/cprofcsv/analyzer"
)

// ErrWrite marks any failure to produce an artifact on disk.
var ErrWrite = errors.New("write failure")

// TimestampLayout is the collection timestamp embedded in artifact names.
const TimestampLayout = "2006-01-02-15-04-05"

// maxCollisions bounds the "-N" suffix search for same-second writes.
const maxCollisions = 1000

// Header is the fixed CSV header. The first five columns are the stable
// contract; the next five carry the split-out identifier and per-call
// variants. The trailing total_* and wall_seconds columns repeat the run
// totals on every row.
var Header = []string{
	"function",
	"ncalls",
	"tottime",
	"cumtime",
	"percall",
	"primitive_calls",
	"tottime_percall",
	"filename",
	"lineno",
	"funcname",
	"total_function_calls",
	"total_primitive_calls",
	"total_seconds",
	"wall_seconds",
}

// Artifact describes one written CSV file.
type Artifact struct {
	Path      string
	Rows      int
	Timestamp time.Time
}

// Writer creates artifacts in a single output directory.
type Writer struct {
	dir string
	now func() time.Time
}

// Option configures a Writer.
type Option func(*Writer)

// WithClock overrides the time source used for artifact names.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// NewWriter returns a Writer targeting dir. An empty dir means the current
// working directory.
func NewWriter(dir string, opts ...Option) *Writer {
	w := &Writer{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	if w.dir == "" {
		return "."
	}
	return w.dir
}

// Stem returns the source file name without directory and extension.
func Stem(source string) string {
	base := filepath.Base(source)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Write serializes report to <stem>-<timestamp>.csv. The timestamp is taken
// now and stored in report.CapturedAt. An existing file is never overwritten:
// a same-second collision gets a "-1", "-2", ... suffix instead.
func (w *Writer) Write(report *analyzer.ProfileReport) (Artifact, error) {
	if report == nil {
		return Artifact{}, fmt.Errorf("%w: nil report", ErrWrite)
	}
	if err := os.MkdirAll(w.Dir(), 0o755); err != nil {
		return Artifact{}, fmt.Errorf("%w: output directory %s: %v", ErrWrite, w.Dir(), err)
	}

	ts := w.now()
	report.CapturedAt = ts
	base := fmt.Sprintf("%s-%s", Stem(report.Source), ts.Format(TimestampLayout))

	f, path, err := createExclusive(w.Dir(), base, ".csv")
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %s: %v", ErrWrite, report.Source, err)
	}

	writeErr := writeRecords(f, report)
	closeErr := f.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		_ = os.Remove(path)
		return Artifact{}, fmt.Errorf("%w: %s: %v", ErrWrite, path, writeErr)
	}

	return Artifact{Path: path, Rows: len(report.Records), Timestamp: ts}, nil
}

// WritePprof writes the gzipped pprof companion next to a CSV artifact,
// sharing its name with a .pb.gz extension.
func (w *Writer) WritePprof(report *analyzer.ProfileReport, csvArtifact Artifact) (string, error) {
	base := strings.TrimSuffix(filepath.Base(csvArtifact.Path), ".csv")
	f, path, err := createExclusive(filepath.Dir(csvArtifact.Path), base, ".pb.gz")
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrWrite, report.Source, err)
	}

	writeErr := analyzer.WritePprof(f, report)
	closeErr := f.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("%w: %s: %v", ErrWrite, path, writeErr)
	}
	return path, nil
}

func writeRecords(f *os.File, report *analyzer.ProfileReport) error {
	cw := csv.NewWriter(f)
	if err := cw.Write(Header); err != nil {
		return err
	}
	totals := []string{
		strconv.FormatInt(report.Totals.FunctionCalls, 10),
		strconv.FormatInt(report.Totals.PrimitiveCalls, 10),
		analyzer.FormatFloat(report.Totals.Seconds),
		analyzer.FormatFloat(report.Totals.WallSeconds),
	}
	for _, r := range report.Records {
		row := []string{
			r.Function,
			strconv.FormatInt(r.Calls, 10),
			analyzer.FormatFloat(r.TotTime),
			analyzer.FormatFloat(r.CumTime),
			analyzer.FormatFloat(r.PerCall),
			strconv.FormatInt(r.PrimitiveCalls, 10),
			analyzer.FormatFloat(r.TotTimePerCall),
			r.File,
			strconv.Itoa(r.Line),
			r.Name,
		}
		if err := cw.Write(append(row, totals...)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func createExclusive(dir, base, ext string) (*os.File, string, error) {
	for i := 0; i < maxCollisions; i++ {
		name := base + ext
		if i > 0 {
			name = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("too many artifacts named %s%s", base, ext)
}
