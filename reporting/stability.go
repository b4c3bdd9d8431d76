package reporting

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/ethereum-optimism/infra/jit-stress/types"
)

// Recommendations attached to every stability entry.
const (
	RecommendationStable   = "STABLE"
	RecommendationUnstable = "UNSTABLE"
	RecommendationFailing  = "FAILING"
	RecommendationSkipped  = "SKIPPED"
)

const (
	maxFailureLogs = 5

	// durations are tracked in milliseconds up to an hour
	histogramMax     = int64(time.Hour / time.Millisecond)
	histogramSigFigs = 2
)

// StabilityResult aggregates the runs of one test under one configuration.
type StabilityResult struct {
	TestName       string        `json:"test_name"`
	Config         string        `json:"config"`
	TotalRuns      int           `json:"total_runs"`
	Passes         int           `json:"passes"`
	Failures       int           `json:"failures"`
	Skipped        int           `json:"skipped"`
	TimedOut       int           `json:"timed_out"`
	PassRate       float64       `json:"pass_rate"`
	AvgDuration    time.Duration `json:"avg_duration"`
	MinDuration    time.Duration `json:"min_duration"`
	MaxDuration    time.Duration `json:"max_duration"`
	P50Duration    time.Duration `json:"p50_duration"`
	P99Duration    time.Duration `json:"p99_duration"`
	MinOptsMethods int           `json:"minopts_methods,omitempty"`
	TieredMethods  int           `json:"tiered_methods,omitempty"`
	FailureLogs    []string      `json:"failure_logs,omitempty"`
	Recommendation string        `json:"recommendation"`
}

// StabilityReport is the per test, per configuration analysis of a run.
type StabilityReport struct {
	Date        string            `json:"date"`
	RunID       string            `json:"run_id"`
	TotalRuns   int               `json:"total_runs"`
	Tests       []StabilityResult `json:"tests"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// Unstable returns the entries that are not STABLE or SKIPPED.
func (r *StabilityReport) Unstable() []StabilityResult {
	var out []StabilityResult
	for _, t := range r.Tests {
		if t.Recommendation == RecommendationUnstable || t.Recommendation == RecommendationFailing {
			out = append(out, t)
		}
	}
	return out
}

type stabilityKey struct {
	test   string
	config string
}

// BuildStabilityReport groups every record by test and configuration.
// Entries are sorted by test name, then by the order configurations first
// appeared.
func BuildStabilityReport(runID string, records []types.RunRecord) *StabilityReport {
	now := time.Now()
	report := &StabilityReport{
		Date:        now.Format("2006-01-02"),
		RunID:       runID,
		GeneratedAt: now,
	}

	var keys []stabilityKey
	configOrder := make(map[string]int)
	grouped := make(map[stabilityKey][]types.RunRecord)
	for _, r := range records {
		k := stabilityKey{test: r.Test, config: r.Config}
		if _, ok := grouped[k]; !ok {
			keys = append(keys, k)
		}
		if _, ok := configOrder[r.Config]; !ok {
			configOrder[r.Config] = len(configOrder)
		}
		grouped[k] = append(grouped[k], r)
	}

	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].test != keys[j].test {
			return keys[i].test < keys[j].test
		}
		return configOrder[keys[i].config] < configOrder[keys[j].config]
	})

	for _, k := range keys {
		result := buildResult(k, grouped[k])
		report.Tests = append(report.Tests, result)
		report.TotalRuns += result.TotalRuns
	}
	return report
}

func buildResult(k stabilityKey, records []types.RunRecord) StabilityResult {
	result := StabilityResult{
		TestName:  k.test,
		Config:    k.config,
		TotalRuns: len(records),
	}

	hist := hdrhistogram.New(1, histogramMax, histogramSigFigs)
	var total time.Duration
	for i, r := range records {
		switch r.Status() {
		case types.RunStatusPass:
			result.Passes++
		case types.RunStatusSkip:
			result.Skipped++
		case types.RunStatusTimeout:
			result.TimedOut++
			result.Failures++
		default:
			result.Failures++
			if len(result.FailureLogs) < maxFailureLogs {
				result.FailureLogs = append(result.FailureLogs, failureLog(r))
			}
		}

		for _, m := range r.Methods {
			if m.Tier == types.TierMinOpts {
				result.MinOptsMethods++
			} else {
				result.TieredMethods++
			}
		}

		total += r.Duration
		if i == 0 || r.Duration < result.MinDuration {
			result.MinDuration = r.Duration
		}
		if r.Duration > result.MaxDuration {
			result.MaxDuration = r.Duration
		}
		ms := r.Duration.Milliseconds()
		ms = max(ms, hist.LowestTrackableValue())
		ms = min(ms, hist.HighestTrackableValue())
		_ = hist.RecordValue(ms)
	}

	if result.TotalRuns > 0 {
		result.AvgDuration = total / time.Duration(result.TotalRuns)
		result.P50Duration = time.Duration(hist.ValueAtQuantile(50)) * time.Millisecond
		result.P99Duration = time.Duration(hist.ValueAtQuantile(99)) * time.Millisecond
	}

	judged := result.Passes + result.Failures
	if judged > 0 {
		result.PassRate = float64(result.Passes) / float64(judged) * 100
	}

	switch {
	case judged == 0:
		result.Recommendation = RecommendationSkipped
	case result.Failures == 0:
		result.Recommendation = RecommendationStable
	case result.Passes == 0:
		result.Recommendation = RecommendationFailing
	default:
		result.Recommendation = RecommendationUnstable
	}
	return result
}

func failureLog(r types.RunRecord) string {
	if r.LaunchError != "" {
		return r.LaunchError
	}
	log := fmt.Sprintf("attempt %d exited with %d", r.Attempt, r.ExitStatus)
	if r.Output != "" {
		log += "\n" + r.Output
	}
	if r.Stderr != "" {
		log += "\n" + r.Stderr
	}
	return log
}

// SaveStabilityReport writes the report as JSON and HTML into outputDir and
// returns the files written.
func SaveStabilityReport(report *StabilityReport, outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	var savedFiles []string
	var errs []error

	jsonFilename := filepath.Join(outputDir, "stability-report.json")
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to marshal JSON: %w", err))
	} else if err := os.WriteFile(jsonFilename, data, 0644); err != nil {
		errs = append(errs, fmt.Errorf("failed to write JSON file: %w", err))
	} else {
		savedFiles = append(savedFiles, jsonFilename)
	}

	htmlFilename := filepath.Join(outputDir, "stability-report.html")
	if err := saveHTMLReport(report, htmlFilename); err != nil {
		errs = append(errs, fmt.Errorf("failed to save HTML report: %w", err))
	} else {
		savedFiles = append(savedFiles, htmlFilename)
	}

	return savedFiles, errors.Join(errs...)
}
