package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/jit-stress/types"
)

// fakeExecutor answers runs from a callback and records every request.
type fakeExecutor struct {
	mu       sync.Mutex
	requests []RunRequest
	respond  func(req RunRequest) (types.RunRecord, error)
}

func (f *fakeExecutor) Run(ctx context.Context, req RunRequest) (types.RunRecord, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	record := types.RunRecord{
		ID:      fmt.Sprintf("%s-%s-%d", req.Unit.Name, req.Config, req.Attempt),
		Test:    req.Unit.Name,
		Command: req.Unit.CommandLine(),
		Config:  req.Config,
		Attempt: req.Attempt,
		Overlay: req.Overlay,
		Passed:  true,
	}
	if f.respond == nil {
		return record, nil
	}
	custom, err := f.respond(req)
	if err != nil {
		return types.RunRecord{}, err
	}
	custom.ID = record.ID
	custom.Test = record.Test
	custom.Command = record.Command
	custom.Config = record.Config
	custom.Attempt = record.Attempt
	custom.Overlay = record.Overlay
	return custom, nil
}

func (f *fakeExecutor) configs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.requests {
		out = append(out, r.Config)
	}
	return out
}

func pass() types.RunRecord { return types.RunRecord{Passed: true} }
func fail() types.RunRecord { return types.RunRecord{Passed: false, ExitStatus: 1} }

func countConfigs(records []types.RunRecord) map[string]int {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.Config]++
	}
	return counts
}

func TestPolicyAlwaysPassing(t *testing.T) {
	policy := NewPolicy(PolicyConfig{})
	exec := &fakeExecutor{}

	outcome, err := policy.Execute(context.Background(), types.TestUnit{Name: "JIT/Methodical/add", Command: []string{"add.sh"}}, exec, nil)
	require.NoError(t, err)

	assert.Equal(t, types.VerdictPassed, outcome.Verdict)
	assert.Len(t, outcome.Records, 30)
	assert.Len(t, outcome.Retained(), 30)
	assert.Equal(t, map[string]int{types.ConfigTieredOn: 10, types.ConfigMinOpts: 10, types.ConfigTieredOff: 10}, countConfigs(outcome.Records))
	assert.Equal(t, []string{types.ConfigTieredOn, types.ConfigMinOpts, types.ConfigTieredOff}, outcome.Configurations)

	// at most one record per (configuration, attempt)
	seen := make(map[string]bool)
	for _, r := range outcome.Records {
		key := fmt.Sprintf("%s/%d", r.Config, r.Attempt)
		assert.False(t, seen[key], "duplicate record %s", key)
		seen[key] = true
	}
}

func TestPolicyFirstRunFails(t *testing.T) {
	policy := NewPolicy(PolicyConfig{})
	exec := &fakeExecutor{respond: func(req RunRequest) (types.RunRecord, error) { return fail(), nil }}

	outcome, err := policy.Execute(context.Background(), types.TestUnit{Name: "broken", Command: []string{"broken.sh"}}, exec, nil)
	require.NoError(t, err)

	assert.Equal(t, types.VerdictFailed, outcome.Verdict)
	require.Len(t, outcome.Records, 1)
	require.Len(t, outcome.Retained(), 1)
	assert.False(t, outcome.Retained()[0].Passed)
	assert.Equal(t, []string{types.ConfigTieredOn}, exec.configs())
}

func TestPolicyTieredOnFailureSeals(t *testing.T) {
	policy := NewPolicy(PolicyConfig{})
	exec := &fakeExecutor{respond: func(req RunRequest) (types.RunRecord, error) {
		if req.Attempt == 4 {
			return fail(), nil
		}
		return pass(), nil
	}}

	outcome, err := policy.Execute(context.Background(), types.TestUnit{Name: "flaky", Command: []string{"flaky.sh"}}, exec, nil)
	require.NoError(t, err)

	assert.Equal(t, types.VerdictFlaky, outcome.Verdict)
	assert.Len(t, outcome.Records, 5)
	assert.Len(t, outcome.Retained(), 4)
	assert.NotContains(t, exec.configs(), types.ConfigMinOpts)
}

func TestPolicyMinOptsFailureAdvances(t *testing.T) {
	policy := NewPolicy(PolicyConfig{})
	exec := &fakeExecutor{respond: func(req RunRequest) (types.RunRecord, error) {
		if req.Config == types.ConfigMinOpts && req.Attempt == 2 {
			return fail(), nil
		}
		return pass(), nil
	}}

	outcome, err := policy.Execute(context.Background(), types.TestUnit{Name: "minopts-bug", Command: []string{"m.sh"}}, exec, nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{types.ConfigTieredOn: 10, types.ConfigMinOpts: 3, types.ConfigTieredOff: 10}, countConfigs(outcome.Records))
	assert.Equal(t, types.VerdictFlaky, outcome.Verdict)
	assert.Len(t, outcome.Retained(), 22)
}

func TestPolicySkipMarker(t *testing.T) {
	policy := NewPolicy(PolicyConfig{})
	exec := &fakeExecutor{respond: func(req RunRequest) (types.RunRecord, error) {
		if req.Config == types.ConfigTieredOn {
			return types.RunRecord{Passed: true, Markers: []string{types.SkipMarker}}, nil
		}
		return pass(), nil
	}}

	outcome, err := policy.Execute(context.Background(), types.TestUnit{Name: "needs-tc-off", Command: []string{"s.sh"}}, exec, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{types.ConfigTieredOn, types.ConfigTieredOff}, exec.configs())
	assert.Equal(t, types.VerdictPassed, outcome.Verdict)
	require.Len(t, outcome.Retained(), 1)
	assert.Equal(t, types.ConfigTieredOff, outcome.Retained()[0].Config)
	assert.Equal(t, types.Overlay{types.EnvTieredCompilation: "0"}, exec.requests[1].Overlay)
}

func TestPolicyLongRunning(t *testing.T) {
	tests := []struct {
		name     string
		unit     types.TestUnit
		duration time.Duration
	}{
		{
			name: "name matches a pattern",
			unit: types.TestUnit{Name: "GC/Stress/alloc", Command: []string{"alloc.sh"}},
		},
		{
			name: "command matches a pattern",
			unit: types.TestUnit{Name: "x", Command: []string{"/tests/tracing/eventpipe/x.sh"}},
		},
		{
			name: "declared long running",
			unit: types.TestUnit{Name: "big", Command: []string{"big.sh"}, LongRunning: true},
		},
		{
			name:     "first run exceeds the threshold",
			unit:     types.TestUnit{Name: "slow", Command: []string{"slow.sh"}},
			duration: 11 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{respond: func(req RunRequest) (types.RunRecord, error) {
				return types.RunRecord{Passed: true, Duration: tt.duration}, nil
			}}
			outcome, err := NewPolicy(PolicyConfig{}).Execute(context.Background(), tt.unit, exec, nil)
			require.NoError(t, err)
			assert.Len(t, outcome.Records, 1)
			assert.Equal(t, types.VerdictPassed, outcome.Verdict)
		})
	}
}

func TestPolicyTimeoutIsNotRetried(t *testing.T) {
	exec := &fakeExecutor{respond: func(req RunRequest) (types.RunRecord, error) {
		return types.RunRecord{TimedOut: true, ExitStatus: -1}, nil
	}}
	outcome, err := NewPolicy(PolicyConfig{}).Execute(context.Background(), types.TestUnit{Name: "hang", Command: []string{"hang.sh"}}, exec, nil)
	require.NoError(t, err)
	assert.Len(t, outcome.Records, 1)
	assert.Equal(t, types.VerdictFailed, outcome.Verdict)
}

func TestPolicyExecutorError(t *testing.T) {
	boom := errors.New("interrupted")
	exec := &fakeExecutor{respond: func(req RunRequest) (types.RunRecord, error) {
		if req.Attempt == 2 {
			return types.RunRecord{}, boom
		}
		return pass(), nil
	}}
	outcome, err := NewPolicy(PolicyConfig{}).Execute(context.Background(), types.TestUnit{Name: "t", Command: []string{"t.sh"}}, exec, nil)
	require.ErrorIs(t, err, boom)
	assert.ErrorIs(t, outcome.Err, boom)
	assert.Len(t, outcome.Records, 2)
}

func TestPolicyNextIsPure(t *testing.T) {
	policy := NewPolicy(PolicyConfig{MaxAttempts: 2})
	unit := types.TestUnit{Name: "t", Command: []string{"t.sh"}}

	history := []types.RunRecord{
		{Config: types.ConfigTieredOn, Attempt: 0, Passed: true},
		{Config: types.ConfigTieredOn, Attempt: 1, Passed: true},
		{Config: types.ConfigMinOpts, Attempt: 0, Passed: false},
	}

	expected := []Step{
		{State: StateInitial, Config: types.ConfigTieredOn},
		{State: StateProbeTieredOn, Config: types.ConfigTieredOn, Attempt: 1},
		{State: StateProbeMinOpts, Config: types.ConfigMinOpts},
		{State: StateProbeTieredOff, Config: types.ConfigTieredOff},
	}
	for i := range expected {
		assert.Equal(t, expected[i], policy.Next(unit, history[:i]), "after %d records", i)
		assert.Equal(t, expected[i], policy.Next(unit, history[:i]), "repeated call after %d records", i)
	}

	done := append(history, types.RunRecord{Config: types.ConfigTieredOff, Attempt: 0, Passed: true},
		types.RunRecord{Config: types.ConfigTieredOff, Attempt: 1, Passed: true})
	assert.True(t, policy.Next(unit, done).Sealed())
}

func TestPolicyObserve(t *testing.T) {
	var observed []string
	_, err := NewPolicy(PolicyConfig{MaxAttempts: 1}).Execute(context.Background(),
		types.TestUnit{Name: "t", Command: []string{"t.sh"}}, &fakeExecutor{},
		func(r types.RunRecord) { observed = append(observed, r.Config) })
	require.NoError(t, err)
	assert.Equal(t, []string{types.ConfigTieredOn, types.ConfigMinOpts, types.ConfigTieredOff}, observed)
}
