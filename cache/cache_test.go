package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/jit-stress/runner"
	"github.com/ethereum-optimism/infra/jit-stress/types"
)

func fixture() []types.RunRecord {
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	skip := types.RunRecord{ID: "s0", Test: "skipper", Command: "bash s.sh", Config: types.ConfigTieredOn, StartedAt: at, Passed: true, Markers: []string{types.SkipMarker}}
	return []types.RunRecord{
		{ID: "a0", Test: "add", Command: "bash add.sh", Config: types.ConfigTieredOn, StartedAt: at, Duration: time.Second, Passed: true},
		{ID: "a1", Test: "add", Command: "bash add.sh", Config: types.ConfigTieredOn, Attempt: 1, StartedAt: at, ExitStatus: 134, Output: "Assert failure\n"},
		{ID: "b0", Test: "broken", Command: "bash broken.sh", Config: types.ConfigTieredOn, StartedAt: at, TimedOut: true, ExitStatus: -1},
		skip,
		{ID: "s1", Test: "skipper", Command: "bash s.sh", Config: types.ConfigTieredOff, StartedAt: at, Passed: true,
			Overlay: types.Overlay{types.EnvTieredCompilation: "0"},
			Methods: []types.MethodEvent{{MethodID: "0001", MethodName: "Program:Main()", Tier: types.TierOptimized, AssertionPropCount: 1, CSECount: 2}}},
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "results.json")
	records := fixture()

	require.NoError(t, Save(path, records))
	assert.True(t, Exists(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, records, loaded)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file %s left behind", e.Name())
	}
}

func TestReplayYieldsIdenticalPartition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")

	original := runner.AggregateRecords(fixture())
	require.NoError(t, Save(path, original.Records()))

	loaded, err := Load(path)
	require.NoError(t, err)
	replayed := runner.AggregateRecords(loaded)

	assert.Equal(t, original.Passed, replayed.Passed)
	assert.Equal(t, original.Failed, replayed.Failed)
	assert.Equal(t, original.Skipped, replayed.Skipped)
	assert.Equal(t, original.Summary, replayed.Summary)
	assert.Equal(t, 1, replayed.Summary.Flaky)
	assert.Equal(t, 1, replayed.Summary.Failed)
}

func TestSaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, Save(path, fixture()))
	require.NoError(t, Save(path, nil))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestLoadMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, Exists(path))
	assert.False(t, Exists(t.TempDir()), "a directory is not a cache")
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse cache")
}

func TestLoadSharesLockWithReaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, Save(path, fixture()))

	reader := flock.New(path + ".lock")
	require.NoError(t, reader.RLock())
	defer func() { _ = reader.Unlock() }()

	start := time.Now()
	records, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, records, len(fixture()))
	assert.Less(t, time.Since(start), time.Second, "a held read lock must not block another reader")
}
