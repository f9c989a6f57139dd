// Package runner executes scripts under the interpreter's deterministic
// profiler and hands back the raw per-function statistics.
package runner

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZephyrDeng/cprofcsv/analyzer"
)

// ErrProfiling marks a script that raised, crashed, exited non-zero, or could
// not be started under the profiler.
var ErrProfiling = errors.New("profiling failure")

// DefaultPython is the interpreter used when none is configured.
const DefaultPython = "python3"

// stderrTail is how much of the script's stderr is kept for error messages.
const stderrTail = 4 << 10

//go:embed cprofile_driver.py
var driverSource string

// Runner produces the raw call statistics of one script run.
type Runner interface {
	Run(ctx context.Context, script string) (*analyzer.RawReport, error)
}

// CProfile runs `python -c <driver> <stats.json> <script>`. The driver wraps
// the script in cProfile and dumps the stats table as JSON.
// The call blocks until the script exits; there is no timeout.
type CProfile struct {
	python string
	stdout io.Writer
	stderr io.Writer
	logger zerolog.Logger
}

// Option configures a CProfile runner.
type Option func(*CProfile)

// WithOutput forwards the script's stdout and stderr. By default stdout is
// discarded and stderr is only kept for error messages.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(c *CProfile) {
		c.stdout = stdout
		c.stderr = stderr
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *CProfile) { c.logger = logger }
}

// NewCProfile returns a runner for the given interpreter (name or path).
func NewCProfile(python string, opts ...Option) *CProfile {
	if python == "" {
		python = DefaultPython
	}
	c := &CProfile{python: python, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Python returns the configured interpreter.
func (c *CProfile) Python() string { return c.python }

// Run profiles script. The working directory of the child is the script's
// own directory.
func (c *CProfile) Run(ctx context.Context, script string) (*analyzer.RawReport, error) {
	python, err := exec.LookPath(c.python)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: interpreter %q not found: %v", ErrProfiling, script, c.python, err)
	}

	statsFile, err := os.CreateTemp("", "cprofcsv-*.json")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: failed to create stats file: %v", ErrProfiling, script, err)
	}
	statsPath := statsFile.Name()
	_ = statsFile.Close()
	defer func() {
		if err := os.Remove(statsPath); err != nil && !os.IsNotExist(err) {
			c.logger.Warn().Err(err).Str("path", statsPath).Msg("Failed to remove stats file")
		}
	}()

	tail := &tailBuffer{limit: stderrTail}
	cmd := exec.CommandContext(ctx, python, "-c", driverSource, statsPath, script)
	cmd.Dir = filepath.Dir(script)
	cmd.Stdout = c.stdout
	cmd.Stderr = tail
	if c.stderr != nil {
		cmd.Stderr = io.MultiWriter(tail, c.stderr)
	}

	c.logger.Debug().Str("script", script).Str("python", python).Msg("Starting profiled run")
	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %s: interrupted: %v", ErrProfiling, script, ctxErr)
		}
		if last := lastLine(tail.String()); last != "" {
			return nil, fmt.Errorf("%w: %s: %v: %s", ErrProfiling, script, err, last)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrProfiling, script, err)
	}
	c.logger.Debug().Str("script", script).Dur("elapsed", time.Since(start)).Msg("Profiled run finished")

	raw, err := readStats(statsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProfiling, script, err)
	}
	return raw, nil
}

// driverOutput is the JSON document written by cprofile_driver.py. The short
// field names follow pstats: cc primitive calls, nc calls, tt own time, ct
// cumulative time.
type driverOutput struct {
	WallSeconds float64 `json:"wall_seconds"`
	Functions   []struct {
		File string  `json:"file"`
		Line int     `json:"line"`
		Name string  `json:"name"`
		CC   int64   `json:"cc"`
		NC   int64   `json:"nc"`
		TT   float64 `json:"tt"`
		CT   float64 `json:"ct"`
	} `json:"functions"`
}

func readStats(path string) (*analyzer.RawReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("profiler wrote no stats")
	}
	var out driverOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}

	raw := &analyzer.RawReport{
		Stats:       make(map[analyzer.FuncKey]analyzer.RawStat, len(out.Functions)),
		WallSeconds: out.WallSeconds,
	}
	for _, fn := range out.Functions {
		key := analyzer.FuncKey{File: fn.File, Line: fn.Line, Name: fn.Name}
		raw.Stats[key] = analyzer.RawStat{
			PrimitiveCalls: fn.CC,
			Calls:          fn.NC,
			TotTime:        fn.TT,
			CumTime:        fn.CT,
		}
	}
	return raw, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }

func lastLine(s string) string {
	s = strings.TrimRight(s, "\r\n\t ")
	if i := strings.LastIndexAny(s, "\r\n"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
