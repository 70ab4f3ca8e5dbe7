package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when no persisted project exists yet.
var ErrNotFound = errors.New("project: state not found")

// Store persists project snapshots. The pipeline state machine writes
// through this interface on every transition.
type Store interface {
	Load() (*Project, error)
	Save(*Project) error
}

// FileStore stores the project aggregate as JSON inside the .forge tree.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the given file path
// (normally Config.ProjectStatePath()).
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the persisted project if present.
func (s *FileStore) Load() (*Project, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("project: read state: %w", err)
	}
	var proj Project
	if err := json.Unmarshal(data, &proj); err != nil {
		return nil, fmt.Errorf("project: parse state: %w", err)
	}
	if err := proj.Validate(); err != nil {
		return nil, err
	}
	return &proj, nil
}

// Save writes the project to disk. The write goes through a temp file and
// rename so a crash mid-write cannot leave a truncated state file.
func (s *FileStore) Save(proj *Project) error {
	if proj == nil {
		return fmt.Errorf("project: nothing to save")
	}
	if err := proj.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("project: ensure state dir: %w", err)
	}
	encoded, err := json.MarshalIndent(proj, "", "  ")
	if err != nil {
		return fmt.Errorf("project: encode state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("project: write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("project: replace state: %w", err)
	}
	return nil
}

// LoadOrCreate returns the persisted project, or creates and persists a
// fresh one when none exists yet.
func LoadOrCreate(store Store, name, dir string) (*Project, error) {
	proj, err := store.Load()
	if err == nil {
		return proj, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	proj = New(name, dir)
	if err := store.Save(proj); err != nil {
		return nil, err
	}
	return proj, nil
}
