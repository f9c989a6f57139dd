package batch

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OutcomeResult is the JSON form of one Outcome.
type OutcomeResult struct {
	Script    string `json:"script"`
	State     string `json:"state"`
	FailedIn  string `json:"failedIn,omitempty"`
	Error     string `json:"error,omitempty"`
	CSV       string `json:"csv,omitempty"`
	Pprof     string `json:"pprof,omitempty"`
	Rows      int    `json:"rows"`
	ElapsedMs int64  `json:"elapsedMs"`
}

// SummaryResult is the JSON form of a Summary.
type SummaryResult struct {
	RunID     string          `json:"runId"`
	ExitCode  int             `json:"exitCode"`
	Completed int             `json:"completed"`
	Failed    int             `json:"failed"`
	Selection string          `json:"selectionError,omitempty"`
	Targets   []OutcomeResult `json:"targets"`
}

// Result converts the summary to its JSON form.
func (s Summary) Result() SummaryResult {
	res := SummaryResult{
		RunID:     s.RunID,
		ExitCode:  s.ExitCode(),
		Completed: s.Completed(),
		Failed:    s.Failed(),
		Targets:   make([]OutcomeResult, 0, len(s.Outcomes)),
	}
	if s.SelectionErr != nil {
		res.Selection = s.SelectionErr.Error()
	}
	for _, o := range s.Outcomes {
		r := OutcomeResult{
			Script:    o.Target.Rel,
			State:     string(o.State),
			CSV:       o.Artifact.Path,
			Pprof:     o.PprofPath,
			Rows:      o.Artifact.Rows,
			ElapsedMs: o.Duration.Milliseconds(),
		}
		if o.Failed() {
			r.FailedIn = string(o.FailedIn)
			r.Error = o.Err.Error()
		}
		res.Targets = append(res.Targets, r)
	}
	return res
}

// Format renders the summary as text, markdown or json.
func (s Summary) Format(format string) (string, error) {
	switch format {
	case "text", "markdown":
		var b strings.Builder
		if format == "markdown" {
			b.WriteString("```text\n")
		}
		b.WriteString(fmt.Sprintf("Batch %s: %d completed, %d failed (exit %d)\n",
			s.RunID, s.Completed(), s.Failed(), s.ExitCode()))
		if s.SelectionErr != nil {
			b.WriteString(fmt.Sprintf("Selection: %v\n", s.SelectionErr))
		}
		for _, o := range s.Outcomes {
			if o.Failed() {
				b.WriteString(fmt.Sprintf("FAILED    %s (in %s): %v\n", o.Target.Rel, o.FailedIn, o.Err))
				continue
			}
			b.WriteString(fmt.Sprintf("COMPLETED %s -> %s (%d rows)\n", o.Target.Rel, o.Artifact.Path, o.Artifact.Rows))
			if o.PprofPath != "" {
				b.WriteString(fmt.Sprintf("          pprof: %s\n", o.PprofPath))
			}
		}
		if format == "markdown" {
			b.WriteString("```\n")
		}
		return b.String(), nil

	case "json":
		jsonBytes, err := json.MarshalIndent(s.Result(), "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal batch summary: %w", err)
		}
		return string(jsonBytes), nil

	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}
