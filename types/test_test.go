package types

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(config string, attempt int, passed bool, markers ...string) RunRecord {
	return RunRecord{Test: "t", Config: config, Attempt: attempt, Passed: passed, Markers: markers}
}

func TestDetermineVerdict(t *testing.T) {
	tests := []struct {
		name     string
		records  []RunRecord
		expected Verdict
	}{
		{
			name:     "no records is a failure",
			records:  nil,
			expected: VerdictFailed,
		},
		{
			name:     "all passing",
			records:  []RunRecord{record(ConfigTieredOn, 0, true), record(ConfigTieredOn, 1, true)},
			expected: VerdictPassed,
		},
		{
			name:     "single failure",
			records:  []RunRecord{record(ConfigTieredOn, 0, false)},
			expected: VerdictFailed,
		},
		{
			name:     "pass then fail is flaky",
			records:  []RunRecord{record(ConfigTieredOn, 0, true), record(ConfigTieredOn, 1, false)},
			expected: VerdictFlaky,
		},
		{
			name:     "skip marker followed by a pass",
			records:  []RunRecord{record(ConfigTieredOn, 0, true, SkipMarker), record(ConfigTieredOff, 0, true)},
			expected: VerdictPassed,
		},
		{
			name: "incomplete after a pass",
			records: []RunRecord{
				record(ConfigTieredOn, 0, true),
				{Test: "t", Config: ConfigTieredOn, ExitStatus: -1, LaunchError: "interrupted", Incomplete: true},
			},
			expected: VerdictFailed,
		},
		{
			name:     "skip marker in every run",
			records:  []RunRecord{record(ConfigTieredOn, 0, true, SkipMarker), record(ConfigTieredOff, 0, true, SkipMarker)},
			expected: VerdictSkipped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetermineVerdict(tt.records))
		})
	}
}

func TestOutcomeRetained(t *testing.T) {
	t.Run("keeps only passes when any passed", func(t *testing.T) {
		o := NewTestOutcome(TestUnit{Name: "t"}, []RunRecord{
			record(ConfigTieredOn, 0, true),
			record(ConfigTieredOn, 1, true),
			record(ConfigMinOpts, 0, false),
		})
		assert.Equal(t, VerdictFlaky, o.Verdict)
		assert.Len(t, o.Retained(), 2)
		assert.Equal(t, []string{ConfigTieredOn, ConfigMinOpts}, o.Configurations)
	})

	t.Run("keeps failures when nothing passed", func(t *testing.T) {
		o := NewTestOutcome(TestUnit{Name: "t"}, []RunRecord{record(ConfigTieredOn, 0, false)})
		retained := o.Retained()
		require.Len(t, retained, 1)
		assert.False(t, retained[0].Passed)
		assert.True(t, o.Failed())
	})

	t.Run("keeps every attempt of an incomplete test", func(t *testing.T) {
		o := NewTestOutcome(TestUnit{Name: "t"}, []RunRecord{
			record(ConfigTieredOn, 0, true, SkipMarker),
			record(ConfigTieredOff, 0, true),
			{Test: "t", Config: ConfigTieredOff, Attempt: 1, ExitStatus: -1, Incomplete: true},
		})
		assert.True(t, o.Failed())
		retained := o.Retained()
		require.Len(t, retained, 2)
		assert.True(t, retained[0].Passed)
		assert.True(t, retained[1].Incomplete)
	})

	t.Run("sealed records are a copy", func(t *testing.T) {
		records := []RunRecord{record(ConfigTieredOn, 0, true)}
		o := NewTestOutcome(TestUnit{Name: "t"}, records)
		records[0].Passed = false
		assert.True(t, o.Records[0].Passed)
	})
}

func TestRunRecordStatus(t *testing.T) {
	assert.Equal(t, RunStatusPass, RunRecord{Passed: true}.Status())
	assert.Equal(t, RunStatusFail, RunRecord{}.Status())
	assert.Equal(t, RunStatusTimeout, RunRecord{TimedOut: true, ExitStatus: -1}.Status())
	assert.Equal(t, RunStatusError, RunRecord{LaunchError: "no such file"}.Status())
	assert.Equal(t, RunStatusSkip, RunRecord{Passed: true, Markers: []string{SkipMarker}}.Status())
}

func TestOverlay(t *testing.T) {
	t.Run("merge does not modify either side", func(t *testing.T) {
		a := Overlay{"A": "1"}
		b := Overlay{"B": "2"}
		merged := a.Merge(b)
		assert.Equal(t, Overlay{"A": "1", "B": "2"}, merged)
		assert.Equal(t, Overlay{"A": "1"}, a)
		assert.Equal(t, Overlay{"B": "2"}, b)
	})

	t.Run("apply replaces inherited values", func(t *testing.T) {
		base := []string{"PATH=/bin", "A=0", "KEEP=yes"}
		env := Overlay{"A": "1", "NEW": "x"}.Apply(base)
		assert.Equal(t, []string{"PATH=/bin", "KEEP=yes", "A=1", "NEW=x"}, env)
		assert.Equal(t, []string{"PATH=/bin", "A=0", "KEEP=yes"}, base)
	})
}

func TestLoadOverlayFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "env.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"name": "COMPlus_TieredCompilation", "value": "0"}, {"name": "X", "value": ""}]`), 0644))
	overlay, err := LoadOverlayFile(path)
	require.NoError(t, err)
	assert.Equal(t, Overlay{EnvTieredCompilation: "0", "X": ""}, overlay)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"value": "0"}]`), 0644))
	_, err = LoadOverlayFile(bad)
	assert.Error(t, err)

	_, err = LoadOverlayFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	dotenv := filepath.Join(dir, "stress.env")
	require.NoError(t, os.WriteFile(dotenv, []byte("# comment\nCORE_ROOT=/opt/core\nexport COMPlus_JitOrder=1\nQUOTED=\"a b\"\n"), 0644))
	overlay, err = LoadOverlayFile(dotenv)
	require.NoError(t, err)
	assert.Equal(t, Overlay{EnvCoreRoot: "/opt/core", EnvJitOrder: "1", "QUOTED": "a b"}, overlay)
}

func TestConfigurations(t *testing.T) {
	defaults := DefaultConfigurations()
	assert.Equal(t, Overlay{EnvMinOpts: "1"}, defaults.Overlay(ConfigMinOpts))
	assert.Equal(t, Overlay{}, defaults.Overlay("unknown"))

	custom := defaults.With(Configurations{ConfigTieredOff: {EnvTieredCompilation: "0", "EXTRA": "1"}})
	assert.Equal(t, Overlay{EnvTieredCompilation: "0", "EXTRA": "1"}, custom.Overlay(ConfigTieredOff))
	assert.Equal(t, Overlay{EnvTieredCompilation: "0"}, defaults.Overlay(ConfigTieredOff))
}

func TestCommandLine(t *testing.T) {
	unit := TestUnit{Command: []string{"bash", "/tests/JIT/add/add.sh"}}
	assert.Equal(t, "bash /tests/JIT/add/add.sh", unit.CommandLine())

	unit = TestUnit{Command: []string{"sh", "-c", "echo it's done"}}
	assert.Equal(t, `sh -c 'echo it'"'"'s done'`, unit.CommandLine())
}
