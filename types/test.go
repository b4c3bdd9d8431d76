package types

import (
	"time"

	"al.essio.dev/pkg/shellescape"
)

// RunStatus is the classification of a single execution attempt
type RunStatus string

const (
	RunStatusPass    RunStatus = "pass"
	RunStatusFail    RunStatus = "fail"
	RunStatusTimeout RunStatus = "timeout"
	RunStatusSkip    RunStatus = "skip"
	RunStatusError   RunStatus = "error"
)

// SkipMarker is printed by a test that declares itself inapplicable under the
// base configuration.
const SkipMarker = "SKIPPING EXECUTION"

// TestUnit is one external test program. It is immutable once discovered.
type TestUnit struct {
	Name        string        `json:"name"`
	Command     []string      `json:"command"`
	Dir         string        `json:"dir,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	LongRunning bool          `json:"long_running,omitempty"`
}

// CommandLine renders the command as a shell would accept it. It is what
// progress lines and run records show.
func (u TestUnit) CommandLine() string {
	return shellescape.QuoteCommand(u.Command)
}

// RunRecord captures one execution attempt of a TestUnit. Records are created
// by the executor and never mutated afterwards.
type RunRecord struct {
	ID          string        `json:"id"`
	Test        string        `json:"test"`
	Command     string        `json:"command"`
	Config      string        `json:"config"`
	Attempt     int           `json:"attempt"`
	Overlay     Overlay       `json:"overlay,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	ExitStatus  int           `json:"exit_status"`
	Passed      bool          `json:"passed"`
	TimedOut    bool          `json:"timed_out"`
	Output      string        `json:"output"`
	Stderr      string        `json:"stderr,omitempty"`
	Truncated   bool          `json:"truncated,omitempty"`
	Markers     []string      `json:"markers,omitempty"`
	LaunchError string        `json:"launch_error,omitempty"`
	Methods     []MethodEvent `json:"methods,omitempty"`
	// Incomplete marks the record synthesized for a test the engine could
	// not drive to a sealed state. It fails the whole test.
	Incomplete bool `json:"incomplete,omitempty"`
}

// HasMarker reports whether the marker was seen anywhere in the run's stdout.
func (r RunRecord) HasMarker(marker string) bool {
	for _, m := range r.Markers {
		if m == marker {
			return true
		}
	}
	return false
}

// Skipped reports whether the test declared itself inapplicable in this run.
func (r RunRecord) Skipped() bool {
	return r.HasMarker(SkipMarker)
}

// Status classifies the record for reporting and metrics.
func (r RunRecord) Status() RunStatus {
	switch {
	case r.LaunchError != "":
		return RunStatusError
	case r.TimedOut:
		return RunStatusTimeout
	case r.Skipped():
		return RunStatusSkip
	case r.Passed:
		return RunStatusPass
	default:
		return RunStatusFail
	}
}
