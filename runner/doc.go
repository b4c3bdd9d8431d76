// Package runner executes external test programs with bounded concurrency and
// decides, per test, how often and under which configurations to run it.
//
// The main components are:
//   - Executor: launches one process with a private environment, enforces the timeout
//     and captures bounded, decoded output as a RunRecord
//   - Policy: the retry state machine choosing the next configuration and attempt
//   - Scheduler: a permit pool keeping at most N tests in flight
//   - Aggregate: partitions sealed outcomes into passed, failed and skipped records
//   - Engine: wires the above together, with tracing, metrics and progress reporting
//
// Attempts of a single test always run sequentially; different tests run
// concurrently and never share environment state.
package runner
