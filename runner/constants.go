package runner

import "time"

// Test execution constants
const (
	// DefaultTestTimeout is the default timeout for individual test runs
	DefaultTestTimeout = 10 * time.Minute

	// DefaultGracePeriod is how long a timed out process group gets between
	// SIGTERM and SIGKILL
	DefaultGracePeriod = 5 * time.Second

	// MaxAttemptsPerConfig bounds each repetition loop of the retry policy
	MaxAttemptsPerConfig = 10

	// LongRunningThreshold seals a test after its first run when exceeded
	LongRunningThreshold = 10 * time.Second

	// MaxReasonableConcurrency caps auto-determined concurrency to avoid resource exhaustion
	MaxReasonableConcurrency = 32
)

// DefaultLongRunningPatterns name tests that are accepted on a single run.
var DefaultLongRunningPatterns = []string{"tracing", "GC"}
