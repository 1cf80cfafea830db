// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package permissions mutates the game server's permission file. The file is
// owned by the server mod framework; records carry fields this service does
// not know about, and those are preserved verbatim on every rewrite.
package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/lo"
)

// ErrNotFound is returned when the game identity has no record at all.
var ErrNotFound = errors.New("permission record not found")

// Record is one game identity's entry in the permission file. Perms and
// Groups are the fields this service reads and writes; Extra holds everything
// else the owning system stores and is round-tripped untouched.
type Record struct {
	Perms  []string
	Groups []string
	Extra  map[string]json.RawMessage
}

// MarshalJSON emits the known fields alongside the preserved ones.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+2)
	for k, v := range r.Extra {
		out[k] = v
	}
	perms := r.Perms
	if perms == nil {
		perms = []string{}
	}
	groups := r.Groups
	if groups == nil {
		groups = []string{}
	}
	out["perms"] = perms
	out["groups"] = groups
	return json.Marshal(out)
}

// UnmarshalJSON splits the record into known fields and pass-through data.
func (r *Record) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["perms"]; ok {
		if err := json.Unmarshal(v, &r.Perms); err != nil {
			return fmt.Errorf("invalid perms field: %w", err)
		}
		delete(raw, "perms")
	}
	if v, ok := raw["groups"]; ok {
		if err := json.Unmarshal(v, &r.Groups); err != nil {
			return fmt.Errorf("invalid groups field: %w", err)
		}
		delete(raw, "groups")
	}
	r.Extra = raw
	return nil
}

// FileStore reads and writes the JSON permission file. A process-wide mutex
// serializes every read-modify-write cycle, and writes go through a temp file
// plus rename so readers never observe a partial file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store backed by the permission file at path. The
// file may not exist yet; the first grant creates it.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Grant adds the permission to the game identity, creating the record if
// absent. It reports whether the permission was already present.
func (s *FileStore) Grant(ctx context.Context, gameID, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return false, err
	}

	record, ok := records[gameID]
	if !ok {
		record = Record{Perms: []string{}, Groups: []string{}}
	}
	if lo.Contains(record.Perms, name) {
		return true, nil
	}

	record.Perms = append(record.Perms, name)
	records[gameID] = record

	if err := s.save(records); err != nil {
		return false, err
	}
	return false, nil
}

// Revoke removes the permission from the game identity. Revoking a
// permission the record never had succeeds silently; a missing record is
// ErrNotFound.
func (s *FileStore) Revoke(ctx context.Context, gameID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}

	record, ok := records[gameID]
	if !ok {
		return ErrNotFound
	}
	if !lo.Contains(record.Perms, name) {
		return nil
	}

	record.Perms = lo.Filter(record.Perms, func(p string, _ int) bool {
		return p != name
	})
	records[gameID] = record

	return s.save(records)
}

// Has reports whether the game identity currently holds the permission.
func (s *FileStore) Has(ctx context.Context, gameID, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return false, err
	}
	record, ok := records[gameID]
	if !ok {
		return false, nil
	}
	return lo.Contains(record.Perms, name), nil
}

// load reads the whole permission file. An absent file is an empty store.
func (s *FileStore) load() (map[string]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]Record), nil
		}
		return nil, fmt.Errorf("failed to read permission file: %w", err)
	}
	if len(data) == 0 {
		return make(map[string]Record), nil
	}

	records := make(map[string]Record)
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse permission file: %w", err)
	}
	return records, nil
}

// save writes the whole permission file atomically.
func (s *FileStore) save(records map[string]Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode permission file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".permissions-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write permission file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace permission file: %w", err)
	}
	return nil
}
