package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/jit-stress/metrics"
	"github.com/ethereum-optimism/infra/jit-stress/types"
)

// Config holds the engine configuration
type Config struct {
	Log log.Logger
	// Executor runs single attempts. Required.
	Executor Executor
	// Policy decides the attempts per test. Defaults to NewPolicy(PolicyConfig{}).
	Policy *Policy
	// Workers is the maximum number of tests in flight, 0 to auto-determine.
	Workers int
	// Progress receives run events. Defaults to a no-op indicator.
	Progress ProgressIndicator
	// RunID identifies the run in logs, metrics and uploads. Generated when empty.
	RunID string
}

// Engine runs a population of tests through the retry policy with bounded
// concurrency and aggregates the outcomes.
type Engine struct {
	log       log.Logger
	executor  Executor
	policy    *Policy
	scheduler *Scheduler
	progress  ProgressIndicator
	runID     string
	tracer    trace.Tracer
}

// NewEngine creates a new engine
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Policy == nil {
		cfg.Policy = NewPolicy(PolicyConfig{})
	}
	if cfg.Progress == nil {
		cfg.Progress = NewNoOpProgressIndicator()
	}
	if cfg.RunID == "" {
		cfg.RunID = NewRunID()
	}

	scheduler, err := NewScheduler(cfg.Workers, cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Engine{
		log:       cfg.Log.New("component", "engine", "run_id", cfg.RunID),
		executor:  cfg.Executor,
		policy:    cfg.Policy,
		scheduler: scheduler,
		progress:  cfg.Progress,
		runID:     cfg.RunID,
		tracer:    otel.Tracer("test engine"),
	}, nil
}

// NewRunID returns a lexically sortable run identifier.
func NewRunID() string {
	return ulid.Make().String()
}

// RunID returns the identifier of this engine's run.
func (e *Engine) RunID() string {
	return e.runID
}

// Run executes every test and returns the aggregated result. Failures of
// individual tests never abort the run; the only error returned is
// ErrResourceExhausted, alongside the partial result.
func (e *Engine) Run(ctx context.Context, tests []types.TestUnit) (*RunResult, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "run")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", e.runID), attribute.Int("tests", len(tests)))

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	e.log.Info("Running tests", "tests", len(tests))
	e.progress.Start(len(tests))

	outcomes := make([]types.TestOutcome, len(tests))
	errs := e.scheduler.Run(runCtx, len(tests), func(ctx context.Context, index int) error {
		outcome, err := e.runTest(ctx, index, len(tests), tests[index])
		outcomes[index] = outcome
		if errors.Is(err, ErrResourceExhausted) {
			cancel(err)
		}
		return err
	})

	for i, err := range errs {
		if err == nil {
			continue
		}
		if outcomes[i].Unit.Name == "" {
			outcomes[i].Unit = tests[i]
		}
		outcomes[i].Err = err
		e.log.Error("Test did not complete", "test", tests[i].Name, "err", err)
		metrics.RecordErrorDetails("test incomplete", err)
	}

	result := Aggregate(outcomes)
	result.RunID = e.runID
	result.Duration = time.Since(start)
	e.progress.Complete()

	metrics.RecordRunSummary(e.runID, result.Summary.Tests, result.Summary.Passed, result.Summary.Failed,
		result.Summary.Flaky, result.Summary.Skipped, result.Duration)
	e.log.Info("Test run completed", "result", result.String(), "duration", result.Duration)

	if cause := context.Cause(runCtx); errors.Is(cause, ErrResourceExhausted) {
		span.SetStatus(codes.Error, cause.Error())
		return result, cause
	}
	return result, nil
}

// runTest drives the policy for one test.
func (e *Engine) runTest(ctx context.Context, index, total int, unit types.TestUnit) (types.TestOutcome, error) {
	ctx, span := e.tracer.Start(ctx, fmt.Sprintf("test %s", unit.Name))
	defer span.End()

	e.progress.StartTest(unit.Name)
	outcome, err := e.policy.Execute(ctx, unit, e.executor, func(record types.RunRecord) {
		metrics.RecordRun(record.Config, record.Status(), record.Duration)
		e.progress.RunCompleted(index+1, total, record)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("verdict", string(outcome.Verdict)),
		attribute.Int("runs", len(outcome.Records)),
	)
	metrics.RecordOutcome(outcome.Verdict)
	e.progress.CompleteTest(unit.Name, outcome.Verdict)
	return outcome, err
}
