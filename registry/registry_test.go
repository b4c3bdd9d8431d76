package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/jit-stress/types"
)

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

// writeTree lays out tests as <root>/<name>/<base>.sh.
func writeTree(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		dir := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		script := filepath.Join(dir, filepath.Base(dir)+".sh")
		require.NoError(t, os.WriteFile(script, []byte("#!/bin/bash\nexit 0\n"), 0o755))
	}
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func names(units []types.TestUnit) []string {
	var out []string
	for _, u := range units {
		out = append(out, u.Name)
	}
	return out
}

func TestDiscoverDefaultExcludes(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"JIT/Methodical/add",
		"JIT/Methodical/sub",
		"JIT/Regression/b1",
		"GC/Stress/alloc",
		"tracing/eventpipe/ep",
	)
	writeFile(t, filepath.Join(root, "JIT", "helpers", "README.txt"), "not a test")
	writeFile(t, filepath.Join(root, "JIT", "misnamed", "other.sh"), "#!/bin/bash\n")

	reg, err := NewRegistry(Config{Log: testLogger(), Roots: []string{root}, DefaultTimeout: time.Minute})
	require.NoError(t, err)

	tests := reg.Tests()
	assert.Equal(t, []string{"JIT/Methodical/add", "JIT/Methodical/sub", "JIT/Regression/b1"}, names(tests))

	add := tests[0]
	assert.Equal(t, []string{DefaultLauncher, filepath.Join(root, "JIT", "Methodical", "add", "add.sh")}, add.Command)
	assert.Equal(t, filepath.Join(root, "JIT", "Methodical", "add"), add.Dir)
	assert.Equal(t, time.Minute, add.Timeout)
}

func TestDiscoverFilterAndExtraExcludes(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "JIT/Methodical/add", "JIT/Methodical/sub", "JIT/Regression/b1")

	reg, err := NewRegistry(Config{
		Log:      testLogger(),
		Roots:    []string{root},
		Launcher: "sh",
		Excludes: []string{"sub"},
		Filter:   []string{"JIT/Methodical/*"},
	})
	require.NoError(t, err)

	tests := reg.Tests()
	assert.Equal(t, []string{"JIT/Methodical/add"}, names(tests))
	assert.Equal(t, "sh", tests[0].Command[0])
}

func TestManifestYAML(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, filepath.Join(dir, "tests"), "JIT/add", "GC/alloc")
	writeFile(t, filepath.Join(dir, "env.json"), `[{"name": "CORE_ROOT", "value": "/from/file"}, {"name": "A", "value": "file"}]`)
	manifest := writeFile(t, filepath.Join(dir, "stress.yaml"), `
timeout: 2m
exclude: []
env_file: env.json
env:
  A: manifest
  COMPlus_JitStress: "2"
discover:
  - root: tests
    launcher: sh
tests:
  - name: custom/long
    command: ["./long.sh", "--iterations", "10"]
    dir: custom
    timeout: 30m
    long_running: true
configurations:
  tiered-off:
    COMPlus_TieredCompilation: "0"
    COMPlus_TC_QuickJitForLoops: "0"
`)

	reg, err := NewRegistry(Config{
		Log:          testLogger(),
		ManifestPath: manifest,
		Overlay:      types.Overlay{types.EnvJitOrder: "1"},
	})
	require.NoError(t, err)

	tests := reg.Tests()
	// an explicit empty exclude list disables the defaults
	assert.Equal(t, []string{"GC/alloc", "JIT/add", "custom/long"}, names(tests))

	custom := tests[2]
	assert.Equal(t, []string{"./long.sh", "--iterations", "10"}, custom.Command)
	assert.Equal(t, filepath.Join(dir, "custom"), custom.Dir)
	assert.Equal(t, 30*time.Minute, custom.Timeout)
	assert.True(t, custom.LongRunning)
	assert.Equal(t, 2*time.Minute, tests[0].Timeout)
	assert.Equal(t, "sh", tests[0].Command[0])

	assert.Equal(t, types.Overlay{
		types.EnvCoreRoot:   "/from/file",
		"A":                 "manifest",
		"COMPlus_JitStress": "2",
		types.EnvJitOrder:   "1",
	}, reg.BaseOverlay())

	configs := reg.Configurations()
	assert.Equal(t, types.Overlay{types.EnvTieredCompilation: "0", "COMPlus_TC_QuickJitForLoops": "0"}, configs.Overlay(types.ConfigTieredOff))
	assert.Equal(t, types.Overlay{types.EnvMinOpts: "1"}, configs.Overlay(types.ConfigMinOpts))
}

func TestManifestTOML(t *testing.T) {
	dir := t.TempDir()
	manifest := writeFile(t, filepath.Join(dir, "stress.toml"), `
exclude = ["slow"]

[env]
CORE_ROOT = "/opt/core"

[[tests]]
name = "JIT/add"
command = ["bash", "add.sh"]
timeout = "90s"

[[tests]]
name = "JIT/slow"
command = ["bash", "slow.sh"]
`)

	reg, err := NewRegistry(Config{Log: testLogger(), ManifestPath: manifest})
	require.NoError(t, err)

	tests := reg.Tests()
	require.Len(t, tests, 1)
	assert.Equal(t, "JIT/add", tests[0].Name)
	assert.Equal(t, 90*time.Second, tests[0].Timeout)
	assert.Equal(t, types.Overlay{types.EnvCoreRoot: "/opt/core"}, reg.BaseOverlay())
}

func TestRegistryErrors(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, filepath.Join(dir, "tests"), "JIT/add")

	tests := []struct {
		name     string
		manifest string
		cfg      Config
		errMsg   string
	}{
		{
			name:   "nothing to load",
			cfg:    Config{},
			errMsg: "a manifest or a test directory is required",
		},
		{
			name:   "missing root",
			cfg:    Config{Roots: []string{filepath.Join(dir, "nope")}},
			errMsg: "test root",
		},
		{
			name:     "duplicate names",
			manifest: "tests:\n  - name: JIT/add\n    command: [bash, x.sh]\ndiscover:\n  - root: tests\n",
			errMsg:   "duplicate test name",
		},
		{
			name:     "test without command",
			manifest: "tests:\n  - name: lonely\n",
			errMsg:   "has no command",
		},
		{
			name:     "unknown configuration",
			manifest: "configurations:\n  jitstress:\n    COMPlus_JitStress: \"2\"\n",
			errMsg:   "unknown configuration",
		},
		{
			name:     "missing env file",
			manifest: "env_file: missing.json\n",
			errMsg:   "reading env file",
		},
		{
			name:     "invalid yaml",
			manifest: "tests: [\n",
			errMsg:   "parsing manifest",
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.Log = testLogger()
			// manifests sit next to the test tree
			if tt.manifest != "" {
				cfg.ManifestPath = writeFile(t, filepath.Join(dir, string(rune('a'+i))+".yaml"), tt.manifest)
			}
			_, err := NewRegistry(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestMatches(t *testing.T) {
	unit := types.TestUnit{Name: "JIT/Methodical/add"}
	assert.True(t, matches(unit, nil))
	assert.True(t, matches(unit, []string{"JIT/*/add"}))
	assert.True(t, matches(unit, []string{"Methodical"}))
	assert.False(t, matches(unit, []string{"Regression", "JIT/*/sub"}))
}
