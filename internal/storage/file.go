package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type fileStore struct {
	mu   sync.Mutex
	path string
}

func NewFile(path string) (SnapshotStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("file storage needs a path")
	}
	return &fileStore{path: path}, nil
}

func (s *fileStore) Load(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return Snapshot{}, ErrNoSnapshot
	}
	return decodeSnapshot(data)
}

// Save writes to a temp file in the same directory and renames it over the
// target.
func (s *fileStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *fileStore) Close() error {
	return nil
}
