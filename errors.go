package jitstress

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/jit-stress/cache"
	"github.com/ethereum-optimism/infra/jit-stress/exitcodes"
	"github.com/ethereum-optimism/infra/jit-stress/runner"
	"github.com/ethereum-optimism/infra/jit-stress/sink"
)

// RuntimeError means the run produced no trustworthy verdict: bad
// configuration, an exhausted host, an unreadable cache or a failed upload.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError reports whether err is a RuntimeError or one of the
// infrastructure errors of the engine, sink and cache, wrapped or not.
func IsRuntimeError(err error) bool {
	if err == nil {
		return false
	}
	var runtimeErr *RuntimeError
	var flushErr *sink.FlushError
	return errors.As(err, &runtimeErr) ||
		errors.As(err, &flushErr) ||
		errors.Is(err, runner.ErrResourceExhausted) ||
		errors.Is(err, cache.ErrNotFound)
}

// TestFailureError reports a completed run in which at least one test failed.
type TestFailureError struct {
	Failed int
	Flaky  int
	Tests  int
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %d of %d tests failed (%d flaky)", e.Failed, e.Tests, e.Flaky)
}

// NewTestFailureError builds the error from a run summary.
func NewTestFailureError(s runner.Summary) *TestFailureError {
	return &TestFailureError{Failed: s.Failed, Flaky: s.Flaky, Tests: s.Tests}
}

func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}

// ExitCode maps the outcome of a run to the process exit status. Runtime
// errors win over test failures, and anything unclassified counts as a
// test failure.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return exitcodes.Success
	case IsRuntimeError(err):
		return exitcodes.RuntimeErr
	default:
		return exitcodes.TestFailure
	}
}
