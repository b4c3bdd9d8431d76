package runner

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/jit-stress/types"
)

// ProgressIndicator interface for UI updates
type ProgressIndicator interface {
	Start(totalTests int)
	StartTest(testName string)
	// RunCompleted is called after every attempt. index is the 1-based
	// position of the test in the run.
	RunCompleted(index, total int, record types.RunRecord)
	CompleteTest(testName string, verdict types.Verdict)
	Complete()
}

// noOpProgressIndicator provides a no-op implementation of ProgressIndicator
type noOpProgressIndicator struct{}

// NewNoOpProgressIndicator creates a progress indicator that does nothing
func NewNoOpProgressIndicator() ProgressIndicator {
	return &noOpProgressIndicator{}
}

func (n *noOpProgressIndicator) Start(totalTests int)                                  {}
func (n *noOpProgressIndicator) StartTest(testName string)                             {}
func (n *noOpProgressIndicator) RunCompleted(index, total int, record types.RunRecord) {}
func (n *noOpProgressIndicator) CompleteTest(testName string, verdict types.Verdict)   {}
func (n *noOpProgressIndicator) Complete()                                             {}

// FormatRunLine renders the per-run progress line.
func FormatRunLine(index, total int, record types.RunRecord) string {
	if record.TimedOut {
		return fmt.Sprintf("[%d/%d] (%.2fs) - TIMEOUT - %s", index, total, record.Duration.Seconds(), record.Command)
	}
	return fmt.Sprintf("[%d/%d] (%.2fs) - %s", index, total, record.Duration.Seconds(), record.Command)
}

// consoleProgressIndicator prints a line per completed run when verbose and
// logs a periodic summary of the tests still running.
type consoleProgressIndicator struct {
	logger  log.Logger
	out     io.Writer
	verbose bool
	ticker  *time.Ticker
	stopCh  chan struct{}
	stop    sync.Once

	mu             sync.RWMutex
	outMu          sync.Mutex
	completedTests int
	totalTests     int
	runs           int
	startTime      time.Time

	// Track currently running tests
	runningTests map[string]time.Time // test name -> start time
}

// NewConsoleProgressIndicator creates a progress indicator that shows updates in the console
func NewConsoleProgressIndicator(logger log.Logger, out io.Writer, verbose bool, updateInterval time.Duration) ProgressIndicator {
	if updateInterval == 0 {
		updateInterval = 30 * time.Second // Default to 30 seconds
	}

	indicator := &consoleProgressIndicator{
		logger:       logger,
		out:          out,
		verbose:      verbose,
		ticker:       time.NewTicker(updateInterval),
		stopCh:       make(chan struct{}),
		runningTests: make(map[string]time.Time),
	}

	go indicator.progressReporter()

	return indicator
}

func (c *consoleProgressIndicator) Start(totalTests int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalTests = totalTests
	c.completedTests = 0
	c.runs = 0
	c.startTime = time.Now()
	c.runningTests = make(map[string]time.Time)

	c.logger.Info("Starting test run", "totalTests", totalTests)
}

// StartTest tracks when a test starts running
func (c *consoleProgressIndicator) StartTest(testName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runningTests[testName] = time.Now()
	c.logger.Debug("Test started", "test", testName, "runningTests", len(c.runningTests))
}

func (c *consoleProgressIndicator) RunCompleted(index, total int, record types.RunRecord) {
	c.mu.Lock()
	c.runs++
	c.mu.Unlock()

	if !c.verbose || c.out == nil {
		return
	}

	// Lines from concurrent tests must not interleave mid-line.
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintln(c.out, FormatRunLine(index, total, record))
	if !record.Passed && !record.TimedOut && record.Output != "" {
		fmt.Fprintln(c.out, strings.TrimRight(record.Output, "\n"))
	}
}

func (c *consoleProgressIndicator) CompleteTest(testName string, verdict types.Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.runningTests, testName)
	c.completedTests++

	c.logger.Debug("Test completed", "test", testName, "verdict", verdict, "completed", c.completedTests, "total", c.totalTests, "runningTests", len(c.runningTests))
}

func (c *consoleProgressIndicator) Complete() {
	c.mu.RLock()
	duration := time.Since(c.startTime).Truncate(time.Second)
	c.logger.Info("Completed test run", "totalTests", c.totalTests, "completed", c.completedTests, "runs", c.runs, "duration", duration)
	c.mu.RUnlock()

	c.stop.Do(func() {
		c.ticker.Stop()
		close(c.stopCh)
	})
}

// progressReporter runs in a goroutine and periodically reports progress
func (c *consoleProgressIndicator) progressReporter() {
	for {
		select {
		case <-c.ticker.C:
			c.reportProgress()
		case <-c.stopCh:
			return
		}
	}
}

func (c *consoleProgressIndicator) reportProgress() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var percentComplete float64
	if c.totalTests > 0 {
		percentComplete = float64(c.completedTests) * 100.0 / float64(c.totalTests)
	}

	c.logger.Info("Progress update",
		"completed", c.completedTests,
		"total", c.totalTests,
		"runs", c.runs,
		"percent", fmt.Sprintf("%.1f%%", percentComplete),
		"numRunning", len(c.runningTests),
		"longestRunning", formatRunningTests(c.runningTests, 3),
	)
}

// formatRunningTests formats the longest running tests into a display string
func formatRunningTests(runningTests map[string]time.Time, maxShow int) string {
	if len(runningTests) == 0 {
		return ""
	}

	type runningTest struct {
		name     string
		duration time.Duration
	}

	var running []runningTest
	now := time.Now()
	for testName, startTime := range runningTests {
		running = append(running, runningTest{
			name:     testName,
			duration: now.Sub(startTime),
		})
	}

	sort.Slice(running, func(i, j int) bool {
		return running[i].duration > running[j].duration
	})

	var runningStrs []string
	for i, test := range running {
		if i >= maxShow {
			break
		}
		runningStrs = append(runningStrs, fmt.Sprintf("%s (%v)", test.name, test.duration.Truncate(time.Second)))
	}

	if len(running) > maxShow {
		runningStrs = append(runningStrs, fmt.Sprintf("+%d more", len(running)-maxShow))
	}

	return strings.Join(runningStrs, ", ")
}
