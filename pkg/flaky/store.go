package flaky

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Store persists handler state as a JSON file so CI runs accumulate history.
type Store struct {
	fs   afero.Fs
	path string
}

// NewStore creates a store for path on fs.
func NewStore(fs afero.Fs, path string) *Store {
	return &Store{fs: fs, path: path}
}

// Path returns the history file path.
func (s *Store) Path() string { return s.path }

// Load reads the saved state. A missing file yields an empty state.
func (s *Store) Load() (State, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{History: map[string]History{}, Quarantine: map[string]QuarantineInfo{}}, nil
		}
		return State{}, fmt.Errorf("read flaky history: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parse flaky history %s: %w", s.path, err)
	}
	if st.History == nil {
		st.History = map[string]History{}
	}
	if st.Quarantine == nil {
		st.Quarantine = map[string]QuarantineInfo{}
	}
	return st, nil
}

// Save writes st, replacing the file atomically.
func (s *Store) Save(st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode flaky history: %w", err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write flaky history: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("write flaky history: %w", err)
	}
	return nil
}

// LoadInto restores h from the store.
func (s *Store) LoadInto(h *Handler) error {
	st, err := s.Load()
	if err != nil {
		return err
	}
	h.Restore(st)
	return nil
}

// SaveFrom persists h's current state.
func (s *Store) SaveFrom(h *Handler) error {
	return s.Save(h.Snapshot())
}
