// Package batch drives selection, profiling, transformation and writing for
// every selected script, isolating failures per script.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ZephyrDeng/cprofcsv/analyzer"
	"github.com/ZephyrDeng/cprofcsv/artifact"
	"github.com/ZephyrDeng/cprofcsv/runner"
	"github.com/ZephyrDeng/cprofcsv/selector"
)

// ArtifactWriter persists one report. *artifact.Writer implements it.
type ArtifactWriter interface {
	Write(report *analyzer.ProfileReport) (artifact.Artifact, error)
	WritePprof(report *analyzer.ProfileReport, csvArtifact artifact.Artifact) (string, error)
}

// Orchestrator runs targets one at a time. Profiling instruments the
// interpreter of each run, so runs are never overlapped.
type Orchestrator struct {
	runner  runner.Runner
	writer  ArtifactWriter
	logger  zerolog.Logger
	verbose bool
	pprof   bool
	now     func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithVerbose enables per-target progress narration.
func WithVerbose(verbose bool) Option {
	return func(o *Orchestrator) { o.verbose = verbose }
}

// WithPprof writes a pprof companion after every CSV.
func WithPprof(enabled bool) Option {
	return func(o *Orchestrator) { o.pprof = enabled }
}

// New returns an Orchestrator.
func New(r runner.Runner, w ArtifactWriter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runner: r,
		writer: w,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunSelection selects targets and runs them. A missing explicit file
// becomes a single Failed outcome; an empty selection is batch-fatal and
// reported through Summary.SelectionErr.
func (o *Orchestrator) RunSelection(ctx context.Context, opts selector.Options) Summary {
	targets, err := selector.Select(opts)
	switch {
	case errors.Is(err, selector.ErrTargetNotFound):
		s := o.newSummary()
		s.Outcomes = []Outcome{{
			Target:   selector.Target{Path: opts.File, Rel: opts.File},
			State:    StateFailed,
			FailedIn: StateSelected,
			Err:      err,
		}}
		o.logger.Error().Err(err).Str("run_id", s.RunID).Msg("Target not found")
		return s
	case err != nil:
		s := o.newSummary()
		s.SelectionErr = err
		o.logger.Error().Err(err).Str("run_id", s.RunID).Msg("Nothing to profile")
		return s
	}

	o.narrate(zerolog.InfoLevel).
		Str("mode", opts.Mode().String()).
		Int("targets", len(targets)).
		Msg("Selected scripts")
	return o.Run(ctx, targets)
}

// Run profiles every target in order. It returns once each target has
// reached a terminal state.
func (o *Orchestrator) Run(ctx context.Context, targets []selector.Target) Summary {
	s := o.newSummary()
	start := o.now()
	if len(targets) == 0 {
		s.SelectionErr = selector.ErrSelectionEmpty
		o.logger.Error().Str("run_id", s.RunID).Msg("Nothing to profile")
		return s
	}

	for i, t := range targets {
		o.narrate(zerolog.InfoLevel).
			Str("run_id", s.RunID).
			Str("script", t.Rel).
			Int("index", i+1).
			Int("total", len(targets)).
			Msg("Processing file")
		outcome := o.process(ctx, t)
		s.Outcomes = append(s.Outcomes, outcome)

		if outcome.Failed() {
			o.narrate(zerolog.ErrorLevel).
				Str("run_id", s.RunID).
				Str("script", t.Rel).
				Str("failed_in", string(outcome.FailedIn)).
				Err(outcome.Err).
				Msg("Target failed")
			continue
		}
		o.narrate(zerolog.InfoLevel).
			Str("run_id", s.RunID).
			Str("script", t.Rel).
			Str("csv", outcome.Artifact.Path).
			Int("rows", outcome.Artifact.Rows).
			Dur("elapsed", outcome.Duration).
			Msg("Rows written")
	}

	s.Elapsed = o.now().Sub(start)
	o.narrate(zerolog.InfoLevel).
		Str("run_id", s.RunID).
		Int("completed", s.Completed()).
		Int("failed", s.Failed()).
		Dur("elapsed", s.Elapsed).
		Msg("Batch finished")
	return s
}

// process moves one target through its states. Every error is captured on
// the outcome, never returned.
func (o *Orchestrator) process(ctx context.Context, t selector.Target) Outcome {
	out := Outcome{Target: t, State: StateSelected}
	start := o.now()
	fail := func(err error) Outcome {
		out.FailedIn = out.State
		out.State = StateFailed
		out.Err = err
		out.Duration = o.now().Sub(start)
		return out
	}

	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("%w: %s: %v", runner.ErrProfiling, t.Path, err))
	}

	out.State = StateProfiling
	raw, err := o.runner.Run(ctx, t.Path)
	if err != nil {
		return fail(err)
	}

	out.State = StateTransforming
	report := analyzer.Transform(t.Path, raw)

	out.State = StateWriting
	art, err := o.writer.Write(report)
	if err != nil {
		return fail(err)
	}
	out.Artifact = art
	if o.pprof {
		path, err := o.writer.WritePprof(report, art)
		if err != nil {
			// a failed target leaves no CSV behind
			if rmErr := os.Remove(art.Path); rmErr != nil && !os.IsNotExist(rmErr) {
				o.logger.Warn().Err(rmErr).Str("path", art.Path).Msg("Failed to remove CSV after pprof write failure")
			}
			out.Artifact = artifact.Artifact{}
			return fail(err)
		}
		out.PprofPath = path
	}

	out.State = StateCompleted
	out.Duration = o.now().Sub(start)
	return out
}

func (o *Orchestrator) newSummary() Summary {
	return Summary{RunID: uuid.NewString()}
}

// narrate returns a log event only in verbose mode. zerolog treats a nil
// *Event as a no-op, so callers chain fields unconditionally.
func (o *Orchestrator) narrate(level zerolog.Level) *zerolog.Event {
	if !o.verbose {
		return nil
	}
	return o.logger.WithLevel(level)
}
