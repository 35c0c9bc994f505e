package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore is a MemoryStore persisted to a JSON file.
//
// The whole key space is rewritten after every mutation, which suits the
// small local fallback it is meant for. Expired keys are dropped on load.
type FileStore struct {
	mu   sync.Mutex
	path string
	mem  *MemoryStore
}

// OpenFileStore loads the store at path, creating it on first write.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path: path,
		mem:  NewMemoryStore(),
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("failed to load kv file %s: %w", path, err)
		}
	}

	return s, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Set stores value under key and persists.
func (s *FileStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.commit(func() (bool, error) {
		return true, s.mem.Set(ctx, key, value, ttl)
	})
	return err
}

// SetNX stores value if key is absent and persists.
func (s *FileStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.commit(func() (bool, error) {
		return s.mem.SetNX(ctx, key, value, ttl)
	})
}

// Get returns the value for key.
func (s *FileStore) Get(ctx context.Context, key string) (string, bool, error) {
	return s.mem.Get(ctx, key)
}

// Delete removes key and persists.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.commit(func() (bool, error) {
		return true, s.mem.Delete(ctx, key)
	})
	return err
}

// Exists reports whether key is present.
func (s *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.mem.Exists(ctx, key)
}

// Expire updates the ttl of key and persists.
func (s *FileStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.commit(func() (bool, error) {
		return s.mem.Expire(ctx, key, ttl)
	})
}

// commit applies change to the memory store and persists the result. When
// the write fails the previous key space is restored, so memory never holds
// a mutation the file does not. Callers hold s.mu.
func (s *FileStore) commit(change func() (bool, error)) (bool, error) {
	s.mem.mu.Lock()
	before := s.mem.snapshot()
	s.mem.mu.Unlock()

	changed, err := change()
	if err != nil || !changed {
		return changed, err
	}

	if err := s.save(); err != nil {
		s.mem.mu.Lock()
		s.mem.entries = before
		s.mem.mu.Unlock()
		return false, err
	}
	return true, nil
}

// save writes the current key space to disk. Callers hold s.mu.
func (s *FileStore) save() error {
	s.mem.mu.Lock()
	snapshot := s.mem.snapshot()
	s.mem.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create kv directory: %w", err)
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal kv file: %w", err)
	}

	// Replace via rename so readers never see a partial file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write kv file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace kv file: %w", err)
	}
	return nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	entries := make(map[string]entry)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			return err
		}
	}

	now := s.mem.now()
	for key, e := range entries {
		if e.expired(now) {
			delete(entries, key)
		}
	}

	s.mem.mu.Lock()
	s.mem.entries = entries
	s.mem.mu.Unlock()
	return nil
}
