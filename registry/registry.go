package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/jit-stress/types"
)

// DefaultExcludes are dropped from discovery unless the manifest sets its own
// exclusions: these suites are too slow for stress runs.
var DefaultExcludes = []string{"GC", "tracing"}

// Registry holds the tests of a run together with the environment they run
// in.
type Registry struct {
	config         Config
	tests          []types.TestUnit
	baseOverlay    types.Overlay
	configurations types.Configurations
	mu             sync.RWMutex
}

// Config contains registry configuration
type Config struct {
	Log log.Logger
	// ManifestPath is an optional YAML or TOML manifest.
	ManifestPath string
	// Roots are discovered in addition to the manifest's discover entries.
	Roots    []string
	Launcher string
	// Excludes are added to the manifest's exclusions.
	Excludes []string
	// Filter selects tests by glob or substring of their name.
	Filter []string
	// EnvFile is loaded after the manifest's env file and env entries.
	EnvFile string
	// Overlay is applied last to the base overlay.
	Overlay        types.Overlay
	DefaultTimeout time.Duration
}

// NewRegistry loads the manifest, discovers the tests and resolves the base
// overlay.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.ManifestPath == "" && len(cfg.Roots) == 0 {
		return nil, fmt.Errorf("a manifest or a test directory is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	r := &Registry{config: cfg}
	if err := r.load(); err != nil {
		return nil, fmt.Errorf("failed to load tests: %w", err)
	}

	cfg.Log.Debug("Registry loaded", "tests", len(r.tests), "overlay", len(r.baseOverlay))
	return r, nil
}

func (r *Registry) load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	manifest := &Manifest{}
	if r.config.ManifestPath != "" {
		m, err := loadManifest(r.config.ManifestPath)
		if err != nil {
			return err
		}
		manifest = m
	}

	overlay, err := r.resolveOverlay(manifest)
	if err != nil {
		return err
	}
	r.baseOverlay = overlay

	r.configurations = types.DefaultConfigurations()
	for name := range manifest.Configurations {
		if _, ok := r.configurations[name]; !ok {
			return fmt.Errorf("unknown configuration %q in manifest", name)
		}
	}
	r.configurations = r.configurations.With(toConfigurations(manifest.Configurations))

	tests, err := r.collectTests(manifest)
	if err != nil {
		return err
	}
	r.tests = tests
	return nil
}

// resolveOverlay layers the manifest env file, the manifest env entries, the
// configured env file and the configured overlay, later layers winning.
func (r *Registry) resolveOverlay(m *Manifest) (types.Overlay, error) {
	overlay := types.Overlay{}
	if m.EnvFile != "" {
		fromFile, err := types.LoadOverlayFile(m.EnvFile)
		if err != nil {
			return nil, err
		}
		overlay = overlay.Merge(fromFile)
	}
	overlay = overlay.Merge(m.Env)
	if r.config.EnvFile != "" {
		fromFile, err := types.LoadOverlayFile(r.config.EnvFile)
		if err != nil {
			return nil, err
		}
		overlay = overlay.Merge(fromFile)
	}
	return overlay.Merge(r.config.Overlay), nil
}

func (r *Registry) collectTests(m *Manifest) ([]types.TestUnit, error) {
	timeout := m.Timeout
	if timeout == 0 {
		timeout = r.config.DefaultTimeout
	}

	var units []types.TestUnit
	for _, tc := range m.Tests {
		if tc.Name == "" {
			return nil, fmt.Errorf("manifest test without a name")
		}
		if len(tc.Command) == 0 {
			return nil, fmt.Errorf("test %s has no command", tc.Name)
		}
		unit := types.TestUnit{
			Name:        tc.Name,
			Command:     tc.Command,
			Dir:         tc.Dir,
			Timeout:     timeout,
			LongRunning: tc.LongRunning,
		}
		if tc.Timeout != nil {
			unit.Timeout = *tc.Timeout
		}
		units = append(units, unit)
	}

	launcher := r.config.Launcher
	roots := make([]DiscoverConfig, 0, len(m.Discover)+len(r.config.Roots))
	roots = append(roots, m.Discover...)
	for _, root := range r.config.Roots {
		roots = append(roots, DiscoverConfig{Root: root, Launcher: launcher})
	}
	for _, d := range roots {
		l := d.Launcher
		if l == "" {
			l = launcher
		}
		found, err := discover(d.Root, l)
		if err != nil {
			return nil, err
		}
		for i := range found {
			found[i].Timeout = timeout
		}
		r.config.Log.Debug("Discovered tests", "root", d.Root, "tests", len(found))
		units = append(units, found...)
	}

	excludes := m.Exclude
	if excludes == nil {
		excludes = DefaultExcludes
	}
	excludes = append(append([]string{}, excludes...), r.config.Excludes...)

	seen := make(map[string]bool, len(units))
	selected := make([]types.TestUnit, 0, len(units))
	for _, u := range units {
		if seen[u.Name] {
			return nil, fmt.Errorf("duplicate test name %q", u.Name)
		}
		seen[u.Name] = true
		if excluded(u, excludes) {
			r.config.Log.Debug("Excluding test", "test", u.Name)
			continue
		}
		if !matches(u, r.config.Filter) {
			continue
		}
		selected = append(selected, u)
	}

	sort.SliceStable(selected, func(i, j int) bool { return selected[i].Name < selected[j].Name })
	return selected, nil
}

// Tests returns the selected tests sorted by name.
func (r *Registry) Tests() []types.TestUnit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.TestUnit, len(r.tests))
	copy(out, r.tests)
	return out
}

// BaseOverlay returns the environment applied to every run.
func (r *Registry) BaseOverlay() types.Overlay {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.baseOverlay.Clone()
}

// Configurations returns the configuration presets after manifest overrides.
func (r *Registry) Configurations() types.Configurations {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.configurations.With(nil)
}

// GetConfig returns the registry configuration
func (r *Registry) GetConfig() Config {
	return r.config
}

func toConfigurations(in map[string]map[string]string) types.Configurations {
	out := make(types.Configurations, len(in))
	for name, env := range in {
		out[name] = types.Overlay(env)
	}
	return out
}
