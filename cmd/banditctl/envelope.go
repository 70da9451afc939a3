package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fractal-lba/bayesbandit/internal/snapshotstore"
	"github.com/fractal-lba/bayesbandit/pkg/bandit"
)

// readEnvelope loads and verifies a snapshot envelope file
func readEnvelope(path string, key []byte) (*snapshotstore.Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	env, err := snapshotstore.DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	if err := env.Verify(key); err != nil {
		return nil, err
	}
	return env, nil
}

// writeEnvelope seals snap and renames a synced temp file over path
func writeEnvelope(path, name string, snap *bandit.Snapshot, key []byte) (*snapshotstore.Envelope, error) {
	env, err := snapshotstore.Seal(name, snap, key)
	if err != nil {
		return nil, err
	}
	data, err := env.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to fsync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("failed to install snapshot: %w", err)
	}
	return env, nil
}
