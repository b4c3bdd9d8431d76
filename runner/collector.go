package runner

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/jit-stress/types"
)

// Summary counts tests by verdict and records by partition.
type Summary struct {
	Tests   int
	Passed  int
	Failed  int
	Flaky   int
	Skipped int

	Runs        int
	PassedRuns  int
	FailedRuns  int
	SkippedRuns int
	TimedOut    int
}

// RunResult is the aggregated result of one engine run or cache replay.
type RunResult struct {
	RunID    string
	Outcomes []types.TestOutcome
	Passed   []types.RunRecord
	Failed   []types.RunRecord
	Skipped  []types.RunRecord
	Summary  Summary
	Duration time.Duration

	records []types.RunRecord
}

// Records returns every record of the run in outcome order. This is what
// the result cache persists.
func (r *RunResult) Records() []types.RunRecord {
	out := make([]types.RunRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Retained returns the passed and failed partitions, the sample set handed
// to downstream consumers. Failed attempts of passing tests are not in it.
func (r *RunResult) Retained() []types.RunRecord {
	out := make([]types.RunRecord, 0, len(r.Passed)+len(r.Failed))
	out = append(out, r.Passed...)
	return append(out, r.Failed...)
}

// HasFailures reports whether any test ended with a failed verdict.
func (r *RunResult) HasFailures() bool {
	return r.Summary.Failed > 0
}

func (r *RunResult) String() string {
	return fmt.Sprintf("%d tests: %d passed, %d flaky, %d failed, %d skipped (%d runs, %d timed out)",
		r.Summary.Tests, r.Summary.Passed, r.Summary.Flaky, r.Summary.Failed, r.Summary.Skipped,
		r.Summary.Runs, r.Summary.TimedOut)
}

// Aggregate partitions the retained records of sealed outcomes. A test with
// at least one passing record contributes its passes; a test with none
// contributes its failures. A test that did not complete gets a synthesized
// incomplete record describing why and is failed with every attempt it made,
// even when some of them passed.
func Aggregate(outcomes []types.TestOutcome) *RunResult {
	result := &RunResult{Outcomes: make([]types.TestOutcome, len(outcomes))}
	copy(result.Outcomes, outcomes)

	for i, outcome := range result.Outcomes {
		if (outcome.Err != nil || len(outcome.Records) == 0) && !hasIncomplete(outcome.Records) {
			records := make([]types.RunRecord, 0, len(outcome.Records)+1)
			records = append(records, outcome.Records...)
			outcome.Records = append(records, crashRecord(outcome))
			outcome.Verdict = types.DetermineVerdict(outcome.Records)
			result.Outcomes[i] = outcome
		}
		result.add(outcome)
	}
	return result
}

// AggregateRecords rebuilds a result from a flat record list, such as one
// loaded from the cache. Records are grouped by test in order of first
// appearance, so replaying Records() of a result yields the same partition.
func AggregateRecords(records []types.RunRecord) *RunResult {
	var order []string
	grouped := make(map[string][]types.RunRecord)
	units := make(map[string]types.TestUnit)

	for _, r := range records {
		if _, ok := grouped[r.Test]; !ok {
			order = append(order, r.Test)
			units[r.Test] = types.TestUnit{Name: r.Test, Command: []string{r.Command}}
		}
		grouped[r.Test] = append(grouped[r.Test], r)
	}

	outcomes := make([]types.TestOutcome, 0, len(order))
	for _, name := range order {
		outcomes = append(outcomes, types.NewTestOutcome(units[name], grouped[name]))
	}
	return Aggregate(outcomes)
}

func (r *RunResult) add(outcome types.TestOutcome) {
	r.Summary.Tests++
	switch outcome.Verdict {
	case types.VerdictPassed:
		r.Summary.Passed++
	case types.VerdictFlaky:
		r.Summary.Flaky++
	case types.VerdictSkipped:
		r.Summary.Skipped++
	default:
		r.Summary.Failed++
	}

	r.records = append(r.records, outcome.Records...)
	r.Summary.Runs += len(outcome.Records)
	for _, rec := range outcome.Records {
		if rec.TimedOut {
			r.Summary.TimedOut++
		}
	}

	skipped := outcome.SkippedRecords()
	r.Skipped = append(r.Skipped, skipped...)
	r.Summary.SkippedRuns += len(skipped)

	retained := outcome.Retained()
	if outcome.Verdict == types.VerdictPassed || outcome.Verdict == types.VerdictFlaky {
		r.Passed = append(r.Passed, retained...)
		r.Summary.PassedRuns += len(retained)
	} else {
		r.Failed = append(r.Failed, retained...)
		r.Summary.FailedRuns += len(retained)
	}
}

func crashRecord(outcome types.TestOutcome) types.RunRecord {
	reason := "no runs recorded"
	if outcome.Err != nil {
		reason = outcome.Err.Error()
	}
	return types.RunRecord{
		ID:          uuid.New().String(),
		Test:        outcome.Unit.Name,
		Command:     outcome.Unit.CommandLine(),
		Config:      types.ConfigTieredOn,
		ExitStatus:  -1,
		LaunchError: reason,
		Incomplete:  true,
	}
}

func hasIncomplete(records []types.RunRecord) bool {
	for _, r := range records {
		if r.Incomplete {
			return true
		}
	}
	return false
}
