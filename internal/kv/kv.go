// Package kv is the local key-value cache kept between runs of a session:
// the last registered username, the language preference and the id of the
// most recent conversation.
package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Keys persisted by the session.
const (
	KeyUsername       = "username"
	KeyLanguage       = "selectedLanguage"
	KeyConversationID = "conversationId"
)

// Store is a string key-value cache.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// MemoryStore keeps values for the lifetime of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// FileStore keeps values in a JSON object on disk. Reads are served from
// memory; every Set rewrites the file atomically.
type FileStore struct {
	path string

	mu     sync.RWMutex
	values map[string]string
}

// OpenFileStore loads path if it exists. A missing file is an empty store.
func OpenFileStore(path string) (*FileStore, error) {
	f := &FileStore{path: path, values: make(map[string]string)}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return f, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if len(b) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(b, &f.values); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	return f, nil
}

func (f *FileStore) Get(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[key]
	return v, ok
}

func (f *FileStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, had := f.values[key]
	f.values[key] = value
	if err := f.flushLocked(); err != nil {
		if had {
			f.values[key] = prev
		} else {
			delete(f.values, key)
		}
		return err
	}
	return nil
}

func (f *FileStore) flushLocked() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	b, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
