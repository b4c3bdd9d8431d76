package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// Overlay is a set of environment variable overrides applied to a single
// process launch. Overlays are values: Merge and Apply never modify their
// receivers.
type Overlay map[string]string

// Merge returns a new overlay with other applied on top of o.
func (o Overlay) Merge(other Overlay) Overlay {
	merged := make(Overlay, len(o)+len(other))
	for k, v := range o {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

// Clone returns an independent copy.
func (o Overlay) Clone() Overlay {
	if o == nil {
		return nil
	}
	return o.Merge(nil)
}

// Keys returns the variable names in sorted order.
func (o Overlay) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Apply returns a fresh environment slice made of base with the overlay
// applied. Entries of base that the overlay redefines are replaced.
func (o Overlay) Apply(base []string) []string {
	env := make([]string, 0, len(base)+len(o))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, overridden := o[name]; overridden {
			continue
		}
		env = append(env, kv)
	}
	for _, k := range o.Keys() {
		env = append(env, k+"="+o[k])
	}
	return env
}

// envEntry is one element of an environment file.
type envEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// LoadOverlayFile reads an environment file. A JSON array of the form
// [{"name": "COMPlus_TieredCompilation", "value": "0"}, ...] is accepted, and
// anything else is parsed as dotenv KEY=value lines.
func LoadOverlayFile(path string) (Overlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading env file: %w", err)
	}

	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
		env, err := godotenv.Parse(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parsing env file %s: %w", path, err)
		}
		return Overlay(env), nil
	}

	var entries []envEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing env file %s: %w", path, err)
	}

	overlay := make(Overlay, len(entries))
	for i, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("env file %s: entry %d has no name", path, i)
		}
		overlay[e.Name] = e.Value
	}
	return overlay, nil
}
