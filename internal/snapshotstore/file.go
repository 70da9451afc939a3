package snapshotstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fractal-lba/bayesbandit/pkg/bandit"
)

// FileStore keeps one envelope file per bandit name in a directory.
// Writes go to a temporary file that is fsynced and renamed into place, so a
// crash leaves either the old or the new snapshot.
type FileStore struct {
	mu    sync.Mutex
	dir   string
	codec codec
}

// NewFileStore creates dir if needed
func NewFileStore(dir string, key []byte) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	return &FileStore{dir: dir, codec: codec{key: key}}, nil
}

// Path returns the file that holds name's snapshot
func (f *FileStore) Path(name string) string {
	return filepath.Join(f.dir, name+".json")
}

func (f *FileStore) Load(ctx context.Context, name string) (*bandit.Snapshot, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	f.mu.Lock()
	data, err := os.ReadFile(f.Path(name))
	f.mu.Unlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	return f.codec.decode(data)
}

func (f *FileStore) Save(ctx context.Context, name string, snap *bandit.Snapshot) error {
	data, err := f.codec.encode(name, snap)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to fsync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.Path(name)); err != nil {
		return fmt.Errorf("failed to install snapshot: %w", err)
	}
	return nil
}

func (f *FileStore) Close() error {
	return nil
}

// MemoryStore keeps envelopes in memory
type MemoryStore struct {
	mu    sync.RWMutex
	store map[string][]byte
	codec codec
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(key []byte) *MemoryStore {
	return &MemoryStore{
		store: make(map[string][]byte),
		codec: codec{key: key},
	}
}

func (m *MemoryStore) Load(ctx context.Context, name string) (*bandit.Snapshot, error) {
	m.mu.RLock()
	data, ok := m.store[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return m.codec.decode(data)
}

func (m *MemoryStore) Save(ctx context.Context, name string, snap *bandit.Snapshot) error {
	data, err := m.codec.encode(name, snap)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[name] = data
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
