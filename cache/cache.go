// Package cache persists the records of a run so a later invocation can
// replay them without executing any test.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/ethereum-optimism/infra/jit-stress/types"
)

const lockTimeout = 30 * time.Second

// ErrNotFound is returned by Load when no cache file exists.
var ErrNotFound = errors.New("cache file not found")

// Save writes records as a JSON array. The file is replaced atomically, and
// concurrent writers of the same path are serialized with a lock file.
func Save(path string, records []types.RunRecord) error {
	if records == nil {
		records = []types.RunRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	unlock, err := lock(path, false)
	if err != nil {
		return err
	}
	defer unlock()

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close cache: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace cache: %w", err)
	}
	return nil
}

// Load reads records written by Save. Readers share the lock, so concurrent
// replays do not wait for each other, only for a writer.
func Load(path string) ([]types.RunRecord, error) {
	if !Exists(path) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	unlock, err := lock(path, true)
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}

	var records []types.RunRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse cache %s: %w", path, err)
	}
	return records, nil
}

// Exists reports whether a cache file is present at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func lock(path string, shared bool) (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	fl := flock.New(path + ".lock")
	try := fl.TryLockContext
	if shared {
		try = fl.TryRLockContext
	}
	ok, err := try(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to lock cache %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("cache %s is locked", path)
	}
	return func() { _ = fl.Unlock() }, nil
}
