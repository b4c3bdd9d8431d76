// Package exitcodes defines the exit codes used by jit-stress.
//
// * Success (0): every test passed, was flaky, or skipped itself
// * TestFailure (1): one or more tests failed
// * RuntimeErr (2): configuration, resource or sink errors
package exitcodes

const (
	Success     = 0 // No failed tests
	TestFailure = 1 // Test failures
	RuntimeErr  = 2 // Runtime errors
)
