package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"
)

// Manifest lists tests explicitly and/or the directories to discover them in.
type Manifest struct {
	Tests    []TestConfig     `yaml:"tests" toml:"tests"`
	Discover []DiscoverConfig `yaml:"discover" toml:"discover"`
	// Exclude holds substrings; a test whose name or script contains one is
	// dropped. When nil, DefaultExcludes applies.
	Exclude []string          `yaml:"exclude" toml:"exclude"`
	Env     map[string]string `yaml:"env" toml:"env"`
	// EnvFile is resolved relative to the manifest.
	EnvFile        string                       `yaml:"env_file" toml:"env_file"`
	Configurations map[string]map[string]string `yaml:"configurations" toml:"configurations"`
	Timeout        time.Duration                `yaml:"timeout" toml:"timeout"`
}

// TestConfig declares one test program.
type TestConfig struct {
	Name        string         `yaml:"name" toml:"name"`
	Command     []string       `yaml:"command" toml:"command"`
	Dir         string         `yaml:"dir" toml:"dir"`
	Timeout     *time.Duration `yaml:"timeout" toml:"timeout"`
	LongRunning bool           `yaml:"long_running" toml:"long_running"`
}

// DiscoverConfig is a directory of tests laid out as <root>/<name>/<base>.sh
// where <base> is the last element of <name>.
type DiscoverConfig struct {
	Root     string `yaml:"root" toml:"root"`
	Launcher string `yaml:"launcher" toml:"launcher"`
}

// loadManifest reads a YAML or TOML manifest, chosen by file extension.
// Relative paths inside it are resolved against its directory.
func loadManifest(path string) (*Manifest, error) {
	log.Debug("Reading manifest", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &m); err != nil {
			return nil, fmt.Errorf("parsing manifest: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing manifest: %w", err)
		}
	}

	base := filepath.Dir(path)
	for i := range m.Discover {
		m.Discover[i].Root = resolve(base, m.Discover[i].Root)
	}
	for i := range m.Tests {
		if m.Tests[i].Dir != "" {
			m.Tests[i].Dir = resolve(base, m.Tests[i].Dir)
		}
	}
	if m.EnvFile != "" {
		m.EnvFile = resolve(base, m.EnvFile)
	}
	return &m, nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
