package types

// Verdict is the final classification of a test after the retry policy sealed it.
type Verdict string

const (
	VerdictPassed  Verdict = "passed"
	VerdictFailed  Verdict = "failed"
	VerdictFlaky   Verdict = "flaky"
	VerdictSkipped Verdict = "skipped"
)

// TestOutcome is the sealed record list of one test together with the
// verdict derived from it.
type TestOutcome struct {
	Unit           TestUnit    `json:"unit"`
	Records        []RunRecord `json:"records"`
	Verdict        Verdict     `json:"verdict"`
	Configurations []string    `json:"configurations"`
	Err            error       `json:"-"`
}

// NewTestOutcome seals records into an outcome. The verdict and the list of
// exercised configurations are derived from the records alone.
func NewTestOutcome(unit TestUnit, records []RunRecord) TestOutcome {
	sealed := make([]RunRecord, len(records))
	copy(sealed, records)

	var configs []string
	seen := make(map[string]bool)
	for _, r := range sealed {
		if !seen[r.Config] {
			seen[r.Config] = true
			configs = append(configs, r.Config)
		}
	}

	return TestOutcome{
		Unit:           unit,
		Records:        sealed,
		Verdict:        DetermineVerdict(sealed),
		Configurations: configs,
	}
}

// DetermineVerdict classifies a record list. Records carrying the skip marker
// do not count towards pass or fail; a list with nothing else is skipped and
// an empty list is failed. An incomplete record fails the test regardless of
// earlier passes.
func DetermineVerdict(records []RunRecord) Verdict {
	if len(records) == 0 || incomplete(records) {
		return VerdictFailed
	}

	var passed, failed int
	for _, r := range records {
		switch {
		case r.Skipped():
		case r.Passed:
			passed++
		default:
			failed++
		}
	}

	switch {
	case passed == 0 && failed == 0:
		return VerdictSkipped
	case failed == 0:
		return VerdictPassed
	case passed == 0:
		return VerdictFailed
	default:
		return VerdictFlaky
	}
}

// Retained returns the sample set kept for downstream consumers: the passed
// records when there is at least one, otherwise every failed record so the
// failure stays diagnosable. An incomplete test retains all of its non-skip
// records.
func (o TestOutcome) Retained() []RunRecord {
	var passed, failed, all []RunRecord
	for _, r := range o.Records {
		switch {
		case r.Skipped():
			continue
		case r.Passed:
			passed = append(passed, r)
		default:
			failed = append(failed, r)
		}
		all = append(all, r)
	}
	if incomplete(o.Records) {
		return all
	}
	if len(passed) > 0 {
		return passed
	}
	return failed
}

func incomplete(records []RunRecord) bool {
	for _, r := range records {
		if r.Incomplete {
			return true
		}
	}
	return false
}

// SkippedRecords returns the records in which the test declared itself inapplicable.
func (o TestOutcome) SkippedRecords() []RunRecord {
	var skipped []RunRecord
	for _, r := range o.Records {
		if r.Skipped() {
			skipped = append(skipped, r)
		}
	}
	return skipped
}

// Failed reports whether the outcome counts as a failed test.
func (o TestOutcome) Failed() bool {
	return o.Verdict == VerdictFailed
}
