package registry

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ethereum-optimism/infra/jit-stress/types"
)

const (
	DefaultLauncher = "bash"
	scriptExt       = ".sh"
)

// discover walks root and returns a test for every directory d holding the
// script d/<base(d)>.sh. Test names are the slash separated path of d below
// root.
func discover(root, launcher string) ([]types.TestUnit, error) {
	if launcher == "" {
		launcher = DefaultLauncher
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("test root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("test root %s is not a directory", root)
	}

	var units []types.TestUnit
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || p == root {
			return nil
		}

		script := filepath.Join(p, d.Name()+scriptExt)
		if st, err := os.Stat(script); err != nil || st.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		units = append(units, types.TestUnit{
			Name:    filepath.ToSlash(rel),
			Command: []string{launcher, script},
			Dir:     p,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discovering tests in %s: %w", root, err)
	}
	return units, nil
}

// excluded reports whether any pattern is a substring of the test's name.
func excluded(unit types.TestUnit, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(unit.Name, p) {
			return true
		}
	}
	return false
}

// matches reports whether the test is selected by filter. Each filter entry
// is a path glob matched against the name, or a plain substring.
func matches(unit types.TestUnit, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if ok, err := path.Match(f, unit.Name); err == nil && ok {
			return true
		}
		if strings.Contains(unit.Name, f) {
			return true
		}
	}
	return false
}
