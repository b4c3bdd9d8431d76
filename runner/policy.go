package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/jit-stress/types"
)

// State is a node of the retry policy state machine.
type State string

const (
	StateInitial        State = "initial"
	StateProbeTieredOn  State = "probe-tiered-on"
	StateProbeMinOpts   State = "probe-minopts"
	StateProbeTieredOff State = "probe-tiered-off"
	StateSealed         State = "sealed"
)

// Step is the policy's decision given the records accumulated so far: either
// the next attempt to run or Sealed.
type Step struct {
	State   State
	Config  string
	Attempt int
}

// Sealed reports whether the test needs no further runs.
func (s Step) Sealed() bool {
	return s.State == StateSealed
}

func (s Step) String() string {
	if s.Sealed() {
		return string(s.State)
	}
	return fmt.Sprintf("%s(%s#%d)", s.State, s.Config, s.Attempt)
}

var sealed = Step{State: StateSealed}

// PolicyConfig tunes the retry policy. Zero values select the defaults.
type PolicyConfig struct {
	Configurations       types.Configurations
	MaxAttempts          int
	LongRunningPatterns  []string
	LongRunningThreshold time.Duration
}

// Policy decides how many times, and under which configurations, a test is
// executed before its result is trusted.
//
// A test first runs once under the base configuration. A run that prints the
// skip marker gets exactly one confirmatory run with tiered compilation
// disabled. A failing first run, a long running test, or a test named like
// one, is sealed right away. Everything else is repeated up to MaxAttempts
// times per configuration: tiered-on (the first run counts as attempt 0),
// then minopts, then tiered-off. A failure under tiered-on seals the test; a
// failure under minopts or tiered-off ends that loop early.
type Policy struct {
	cfg    PolicyConfig
	tracer trace.Tracer
}

// NewPolicy creates a policy, filling in defaults.
func NewPolicy(cfg PolicyConfig) *Policy {
	if cfg.Configurations == nil {
		cfg.Configurations = types.DefaultConfigurations()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = MaxAttemptsPerConfig
	}
	if cfg.LongRunningPatterns == nil {
		cfg.LongRunningPatterns = DefaultLongRunningPatterns
	}
	if cfg.LongRunningThreshold <= 0 {
		cfg.LongRunningThreshold = LongRunningThreshold
	}
	return &Policy{
		cfg:    cfg,
		tracer: otel.Tracer("retry policy"),
	}
}

// MaxRecords is the largest number of records a single test can accumulate.
func (p *Policy) MaxRecords() int {
	return 3 * p.cfg.MaxAttempts
}

// Next is the transition function. It depends only on the unit and the
// records produced so far, so the same history always yields the same step.
func (p *Policy) Next(unit types.TestUnit, records []types.RunRecord) Step {
	if len(records) == 0 {
		return Step{State: StateInitial, Config: types.ConfigTieredOn}
	}

	first := records[0]
	if first.Skipped() {
		if len(records) == 1 {
			return Step{State: StateProbeTieredOff, Config: types.ConfigTieredOff}
		}
		return sealed
	}
	if !first.Passed || p.longRunning(unit, first) {
		return sealed
	}

	last := records[len(records)-1]
	more := last.Passed && last.Attempt+1 < p.cfg.MaxAttempts

	switch last.Config {
	case types.ConfigTieredOn:
		if !last.Passed {
			return sealed
		}
		if more {
			return Step{State: StateProbeTieredOn, Config: types.ConfigTieredOn, Attempt: last.Attempt + 1}
		}
		return Step{State: StateProbeMinOpts, Config: types.ConfigMinOpts}
	case types.ConfigMinOpts:
		if more {
			return Step{State: StateProbeMinOpts, Config: types.ConfigMinOpts, Attempt: last.Attempt + 1}
		}
		return Step{State: StateProbeTieredOff, Config: types.ConfigTieredOff}
	case types.ConfigTieredOff:
		if more {
			return Step{State: StateProbeTieredOff, Config: types.ConfigTieredOff, Attempt: last.Attempt + 1}
		}
		return sealed
	default:
		return sealed
	}
}

func (p *Policy) longRunning(unit types.TestUnit, first types.RunRecord) bool {
	if unit.LongRunning || first.Duration > p.cfg.LongRunningThreshold {
		return true
	}
	for _, pattern := range p.cfg.LongRunningPatterns {
		if strings.Contains(unit.Name, pattern) || strings.Contains(unit.CommandLine(), pattern) {
			return true
		}
	}
	return false
}

// Execute drives the state machine for one test, running attempts strictly
// in sequence, and returns the sealed outcome. observe, when not nil, is
// called after every completed attempt. An executor error stops the test;
// the outcome then carries the records gathered so far and the error.
func (p *Policy) Execute(ctx context.Context, unit types.TestUnit, executor Executor, observe func(types.RunRecord)) (types.TestOutcome, error) {
	var records []types.RunRecord

	for step := p.Next(unit, records); !step.Sealed(); step = p.Next(unit, records) {
		if len(records) >= p.MaxRecords() {
			return types.TestOutcome{}, fmt.Errorf("policy for %s did not seal after %d records", unit.Name, len(records))
		}

		attemptCtx, span := p.tracer.Start(ctx, fmt.Sprintf("attempt %s", step))
		span.SetAttributes(
			attribute.String("test", unit.Name),
			attribute.String("config", step.Config),
			attribute.Int("attempt", step.Attempt),
		)
		record, err := executor.Run(attemptCtx, RunRequest{
			Unit:    unit,
			Config:  step.Config,
			Attempt: step.Attempt,
			Overlay: p.cfg.Configurations.Overlay(step.Config),
		})
		if err != nil {
			span.RecordError(err)
			span.End()
			outcome := types.NewTestOutcome(unit, records)
			outcome.Err = err
			return outcome, err
		}
		span.SetAttributes(attribute.String("status", string(record.Status())))
		span.End()

		records = append(records, record)
		if observe != nil {
			observe(record)
		}
	}

	return types.NewTestOutcome(unit, records), nil
}
