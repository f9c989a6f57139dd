package batch

import (
	"time"

	"github.com/ZephyrDeng/cprofcsv/artifact"
	"github.com/ZephyrDeng/cprofcsv/selector"
)

// State is a target's position in Selected -> Profiling -> Transforming ->
// Writing -> Completed | Failed.
type State string

const (
	StateSelected     State = "selected"
	StateProfiling    State = "profiling"
	StateTransforming State = "transforming"
	StateWriting      State = "writing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Outcome is the terminal record of one target.
type Outcome struct {
	Target selector.Target
	State  State
	// FailedIn is the state the target was in when it failed.
	FailedIn  State
	Err       error
	Artifact  artifact.Artifact
	PprofPath string
	Duration  time.Duration
}

// Failed reports whether the target ended in StateFailed.
func (o Outcome) Failed() bool { return o.State == StateFailed }

// Exit codes reported by Summary.ExitCode.
const (
	ExitSuccess        = 0
	ExitAllFailed      = 1
	ExitSelectionEmpty = 2
	ExitPartialFailure = 3
	ExitConfigError    = 4
)

// Summary is the result of one batch.
type Summary struct {
	RunID    string
	Outcomes []Outcome
	// SelectionErr is set when selection produced no targets at all.
	SelectionErr error
	Elapsed      time.Duration
}

// Completed counts targets that produced their artifacts.
func (s Summary) Completed() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.State == StateCompleted {
			n++
		}
	}
	return n
}

// Failed counts targets that ended in StateFailed.
func (s Summary) Failed() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Failed() {
			n++
		}
	}
	return n
}

// ExitCode maps the batch result to a process exit status:
// 0 all completed, 1 all failed, 2 nothing selected, 3 partial failure.
func (s Summary) ExitCode() int {
	switch {
	case s.SelectionErr != nil || len(s.Outcomes) == 0:
		return ExitSelectionEmpty
	case s.Failed() == 0:
		return ExitSuccess
	case s.Completed() == 0:
		return ExitAllFailed
	default:
		return ExitPartialFailure
	}
}
