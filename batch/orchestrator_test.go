package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZephyrDeng/cprofcsv/analyzer"
	"github.com/ZephyrDeng/cprofcsv/artifact"
	"github.com/ZephyrDeng/cprofcsv/runner"
	"github.com/ZephyrDeng/cprofcsv/selector"
)

// fakeRunner returns canned stats per script base name and fails the rest.
type fakeRunner struct {
	calls []string
	stats map[string]*analyzer.RawReport
	hook  func(script string)
}

func (f *fakeRunner) Run(ctx context.Context, script string) (*analyzer.RawReport, error) {
	f.calls = append(f.calls, filepath.Base(script))
	if f.hook != nil {
		f.hook(script)
	}
	raw, ok := f.stats[filepath.Base(script)]
	if !ok {
		return nil, fmt.Errorf("%w: %s: ZeroDivisionError: division by zero", runner.ErrProfiling, script)
	}
	return raw, nil
}

// failingWriter fails every write for the listed stems.
type failingWriter struct {
	*artifact.Writer
	failStems map[string]bool
}

func (w failingWriter) Write(report *analyzer.ProfileReport) (artifact.Artifact, error) {
	if w.failStems[artifact.Stem(report.Source)] {
		return artifact.Artifact{}, fmt.Errorf("%w: %s: permission denied", artifact.ErrWrite, report.Source)
	}
	return w.Writer.Write(report)
}

// pprofFailingWriter writes CSVs but refuses every pprof companion.
type pprofFailingWriter struct {
	*artifact.Writer
}

func (w pprofFailingWriter) WritePprof(report *analyzer.ProfileReport, csvArtifact artifact.Artifact) (string, error) {
	return "", fmt.Errorf("%w: %s: disk full", artifact.ErrWrite, report.Source)
}

func fooStats(script string) *analyzer.RawReport {
	return &analyzer.RawReport{Stats: map[analyzer.FuncKey]analyzer.RawStat{
		{File: script, Line: 1, Name: "<module>"}:                     {PrimitiveCalls: 1, Calls: 1, TotTime: 0.00001, CumTime: 0.0002},
		{File: script, Line: 1, Name: "foo"}:                          {PrimitiveCalls: 3, Calls: 3, TotTime: 0.0001, CumTime: 0.0001},
		{File: "~", Line: 0, Name: "<built-in method builtins.exec>"}: {PrimitiveCalls: 1, Calls: 1, TotTime: 0.00002, CumTime: 0.0003},
	}}
}

func scripts(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		path := filepath.Join(dir, n)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("pass\n"), 0o644))
	}
	return dir
}

func csvFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	require.NoError(t, err)
	var names []string
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	return names
}

func TestRunSelection_PartialFailureScenario(t *testing.T) {
	src := scripts(t, "a.py", "b.py")
	out := t.TempDir()
	var logs bytes.Buffer
	logger := zerolog.New(&logs).Level(zerolog.InfoLevel)

	fr := &fakeRunner{stats: map[string]*analyzer.RawReport{"a.py": fooStats("a.py")}}
	o := New(fr, artifact.NewWriter(out), WithLogger(logger), WithVerbose(true))

	s := o.RunSelection(context.Background(), selector.Options{BaseDir: src, Recursive: true})

	require.Len(t, s.Outcomes, 2)
	assert.Equal(t, StateCompleted, s.Outcomes[0].State)
	assert.Equal(t, StateFailed, s.Outcomes[1].State)
	assert.Equal(t, StateProfiling, s.Outcomes[1].FailedIn)
	assert.ErrorIs(t, s.Outcomes[1].Err, runner.ErrProfiling)
	assert.Equal(t, ExitPartialFailure, s.ExitCode())
	assert.NotEmpty(t, s.RunID)

	files := csvFiles(t, out)
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(files[0], "a-"))

	report, err := artifact.ReadFile(filepath.Join(out, files[0]))
	require.NoError(t, err)
	var foo *analyzer.CallStatRecord
	for i := range report.Records {
		if report.Records[i].Name == "foo" {
			foo = &report.Records[i]
		}
	}
	require.NotNil(t, foo)
	assert.Equal(t, int64(3), foo.Calls)

	assert.Contains(t, logs.String(), "Target failed")
	assert.Contains(t, logs.String(), "b.py")
	assert.Contains(t, logs.String(), "Rows written")
}

func TestRun_FailureDoesNotStopLaterTargets(t *testing.T) {
	src := scripts(t, "1_bad.py", "2_good.py", "3_good.py")
	out := t.TempDir()
	fr := &fakeRunner{stats: map[string]*analyzer.RawReport{
		"2_good.py": fooStats("2_good.py"),
		"3_good.py": fooStats("3_good.py"),
	}}

	s := New(fr, artifact.NewWriter(out)).RunSelection(context.Background(), selector.Options{BaseDir: src})

	assert.Equal(t, []string{"1_bad.py", "2_good.py", "3_good.py"}, fr.calls)
	assert.Equal(t, 1, s.Failed())
	assert.Equal(t, 2, s.Completed())
	assert.Len(t, csvFiles(t, out), 2)
	for _, o := range s.Outcomes {
		assert.True(t, o.State.Terminal())
	}
}

func TestRun_WriteFailureIsIsolated(t *testing.T) {
	src := scripts(t, "a.py", "b.py")
	out := t.TempDir()
	fr := &fakeRunner{stats: map[string]*analyzer.RawReport{
		"a.py": fooStats("a.py"),
		"b.py": fooStats("b.py"),
	}}
	w := failingWriter{Writer: artifact.NewWriter(out), failStems: map[string]bool{"a": true}}

	s := New(fr, w).RunSelection(context.Background(), selector.Options{BaseDir: src})

	require.Len(t, s.Outcomes, 2)
	assert.Equal(t, StateWriting, s.Outcomes[0].FailedIn)
	assert.ErrorIs(t, s.Outcomes[0].Err, artifact.ErrWrite)
	assert.Equal(t, StateCompleted, s.Outcomes[1].State)
	assert.Equal(t, ExitPartialFailure, s.ExitCode())
}

func TestRun_AllFailed(t *testing.T) {
	src := scripts(t, "a.py", "b.py")
	s := New(&fakeRunner{}, artifact.NewWriter(t.TempDir())).
		RunSelection(context.Background(), selector.Options{BaseDir: src})

	assert.Equal(t, 2, s.Failed())
	assert.Equal(t, ExitAllFailed, s.ExitCode())
}

func TestRunSelection_Empty(t *testing.T) {
	src := scripts(t, "readme.md")
	var logs bytes.Buffer
	logger := zerolog.New(&logs).Level(zerolog.WarnLevel)

	fr := &fakeRunner{}
	s := New(fr, artifact.NewWriter(t.TempDir()), WithLogger(logger)).
		RunSelection(context.Background(), selector.Options{BaseDir: src})

	assert.ErrorIs(t, s.SelectionErr, selector.ErrSelectionEmpty)
	assert.Empty(t, s.Outcomes)
	assert.Empty(t, fr.calls)
	assert.Equal(t, ExitSelectionEmpty, s.ExitCode())
	// batch-fatal conditions are reported even when not verbose
	assert.Contains(t, logs.String(), "Nothing to profile")
}

func TestRunSelection_TargetNotFound(t *testing.T) {
	src := scripts(t, "a.py")
	fr := &fakeRunner{}
	s := New(fr, artifact.NewWriter(t.TempDir())).
		RunSelection(context.Background(), selector.Options{BaseDir: src, File: "missing.py"})

	require.Len(t, s.Outcomes, 1)
	assert.ErrorIs(t, s.Outcomes[0].Err, selector.ErrTargetNotFound)
	assert.Equal(t, StateSelected, s.Outcomes[0].FailedIn)
	assert.Empty(t, fr.calls)
	assert.Equal(t, ExitAllFailed, s.ExitCode())
}

func TestRun_NotVerboseIsQuiet(t *testing.T) {
	src := scripts(t, "a.py", "b.py")
	var logs bytes.Buffer
	logger := zerolog.New(&logs).Level(zerolog.TraceLevel)

	fr := &fakeRunner{stats: map[string]*analyzer.RawReport{"a.py": fooStats("a.py")}}
	s := New(fr, artifact.NewWriter(t.TempDir()), WithLogger(logger)).
		RunSelection(context.Background(), selector.Options{BaseDir: src})

	assert.Equal(t, 1, s.Failed())
	assert.Empty(t, logs.String())
}

func TestRun_Pprof(t *testing.T) {
	src := scripts(t, "a.py")
	out := t.TempDir()
	fr := &fakeRunner{stats: map[string]*analyzer.RawReport{"a.py": fooStats("a.py")}}

	s := New(fr, artifact.NewWriter(out), WithPprof(true)).
		RunSelection(context.Background(), selector.Options{BaseDir: src})

	require.Equal(t, ExitSuccess, s.ExitCode())
	o := s.Outcomes[0]
	assert.FileExists(t, o.PprofPath)
	assert.Equal(t, strings.TrimSuffix(o.Artifact.Path, ".csv")+".pb.gz", o.PprofPath)
}

func TestRun_PprofFailureRemovesCSV(t *testing.T) {
	src := scripts(t, "a.py")
	out := t.TempDir()
	fr := &fakeRunner{stats: map[string]*analyzer.RawReport{"a.py": fooStats("a.py")}}

	s := New(fr, pprofFailingWriter{Writer: artifact.NewWriter(out)}, WithPprof(true)).
		RunSelection(context.Background(), selector.Options{BaseDir: src})

	require.Len(t, s.Outcomes, 1)
	o := s.Outcomes[0]
	assert.Equal(t, StateFailed, o.State)
	assert.Equal(t, StateWriting, o.FailedIn)
	assert.ErrorIs(t, o.Err, artifact.ErrWrite)
	assert.Empty(t, o.Artifact.Path)
	assert.Empty(t, o.PprofPath)
	assert.Empty(t, csvFiles(t, out))
	assert.Equal(t, ExitAllFailed, s.ExitCode())
}

func TestRun_CancelledContextFailsRemainingTargets(t *testing.T) {
	src := scripts(t, "a.py", "b.py", "c.py")
	ctx, cancel := context.WithCancel(context.Background())
	fr := &fakeRunner{
		stats: map[string]*analyzer.RawReport{"a.py": fooStats("a.py"), "b.py": fooStats("b.py"), "c.py": fooStats("c.py")},
		hook:  func(string) { cancel() },
	}

	s := New(fr, artifact.NewWriter(t.TempDir())).RunSelection(ctx, selector.Options{BaseDir: src})

	require.Len(t, s.Outcomes, 3)
	assert.Equal(t, StateCompleted, s.Outcomes[0].State)
	for _, o := range s.Outcomes[1:] {
		assert.Equal(t, StateFailed, o.State)
		assert.True(t, errors.Is(o.Err, context.Canceled) || strings.Contains(o.Err.Error(), "canceled"))
	}
	assert.Equal(t, []string{"a.py"}, fr.calls)
}

func TestRun_NoTargets(t *testing.T) {
	s := New(&fakeRunner{}, artifact.NewWriter(t.TempDir())).Run(context.Background(), nil)
	assert.Equal(t, ExitSelectionEmpty, s.ExitCode())
}

func TestSummaryFormat(t *testing.T) {
	src := scripts(t, "a.py", "b.py")
	fr := &fakeRunner{stats: map[string]*analyzer.RawReport{"a.py": fooStats("a.py")}}
	s := New(fr, artifact.NewWriter(t.TempDir())).
		RunSelection(context.Background(), selector.Options{BaseDir: src})

	text, err := s.Format("text")
	require.NoError(t, err)
	assert.Contains(t, text, "1 completed, 1 failed (exit 3)")
	assert.Contains(t, text, "COMPLETED a.py")
	assert.Contains(t, text, "FAILED    b.py (in profiling)")

	md, err := s.Format("markdown")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(md, "```text\n"))

	js, err := s.Format("json")
	require.NoError(t, err)
	var parsed SummaryResult
	require.NoError(t, json.Unmarshal([]byte(js), &parsed))
	assert.Equal(t, 3, parsed.ExitCode)
	require.Len(t, parsed.Targets, 2)
	assert.Equal(t, "completed", parsed.Targets[0].State)
	assert.Equal(t, 3, parsed.Targets[0].Rows)
	assert.Contains(t, parsed.Targets[1].Error, "ZeroDivisionError")

	_, err = s.Format("yaml")
	assert.Error(t, err)
}

func TestSummaryExitCode(t *testing.T) {
	done := Outcome{State: StateCompleted}
	failed := Outcome{State: StateFailed}

	assert.Equal(t, ExitSelectionEmpty, Summary{}.ExitCode())
	assert.Equal(t, ExitSelectionEmpty, Summary{SelectionErr: selector.ErrSelectionEmpty}.ExitCode())
	assert.Equal(t, ExitSuccess, Summary{Outcomes: []Outcome{done, done}}.ExitCode())
	assert.Equal(t, ExitAllFailed, Summary{Outcomes: []Outcome{failed}}.ExitCode())
	assert.Equal(t, ExitPartialFailure, Summary{Outcomes: []Outcome{done, failed}}.ExitCode())
}
