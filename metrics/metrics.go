package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/jit-stress/types"
)

const (
	MetricsNamespace = "jit_stress"
)

var (
	Debug                bool = true
	validStatuses             = []types.RunStatus{types.RunStatusPass, types.RunStatusFail, types.RunStatusTimeout, types.RunStatusSkip, types.RunStatusError}
	validVerdicts             = []types.Verdict{types.VerdictPassed, types.VerdictFailed, types.VerdictFlaky, types.VerdictSkipped}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_total",
		Help:      "Count of test process runs",
	}, []string{
		"config",
		"status",
	})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Wall clock duration of test process runs",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 600},
	}, []string{
		"config",
	})

	testsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "tests_total",
		Help:      "Count of sealed tests by verdict",
	}, []string{
		"verdict",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Number of tests per verdict in a run",
	}, []string{
		"run_id",
		"verdict",
	})

	runTotalDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration",
		Help:      "Duration of a complete run",
	}, []string{
		"run_id",
	})

	sinkRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "sink_rows_total",
		Help:      "Rows flushed to the result sink",
	}, []string{
		"table",
		"result",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordRun counts one completed attempt.
func RecordRun(config string, status types.RunStatus, duration time.Duration) {
	if !slices.Contains(validStatuses, status) {
		log.Error("RecordRun - invalid status", "status", status)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "runs_total",
			"config", config,
			"status", status)
	}
	runsTotal.WithLabelValues(config, string(status)).Inc()
	runDuration.WithLabelValues(config).Observe(duration.Seconds())
}

// RecordOutcome counts one sealed test.
func RecordOutcome(verdict types.Verdict) {
	if !slices.Contains(validVerdicts, verdict) {
		log.Error("RecordOutcome - invalid verdict", "verdict", verdict)
		return
	}
	testsTotal.WithLabelValues(string(verdict)).Inc()
}

func RecordRunSummary(runID string, total, passed, failed, flaky, skipped int, duration time.Duration) {
	runResults.WithLabelValues(runID, "total").Set(float64(total))
	runResults.WithLabelValues(runID, string(types.VerdictPassed)).Set(float64(passed))
	runResults.WithLabelValues(runID, string(types.VerdictFailed)).Set(float64(failed))
	runResults.WithLabelValues(runID, string(types.VerdictFlaky)).Set(float64(flaky))
	runResults.WithLabelValues(runID, string(types.VerdictSkipped)).Set(float64(skipped))
	runTotalDuration.WithLabelValues(runID).Set(duration.Seconds())
}

// RecordFlush counts rows written to, or rejected by, a sink.
func RecordFlush(table string, rows int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		RecordErrorDetails("sink flush", err)
	}
	sinkRowsTotal.WithLabelValues(table, result).Add(float64(rows))
}
