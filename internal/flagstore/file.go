package flagstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// fileState is the on-disk document.
type fileState struct {
	LiveUpdatesDisabled bool      `yaml:"live_updates_disabled"`
	UpdatedAt           time.Time `yaml:"updated_at"`
}

// FileStore keeps the flag in a YAML file. A missing file means not disabled.
type FileStore struct {
	path string

	mu sync.Mutex
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Disabled reads the flag.
func (s *FileStore) Disabled(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read flag file: %w", err)
	}

	var st fileState
	if err := yaml.Unmarshal(data, &st); err != nil {
		return false, fmt.Errorf("parse flag file: %w", err)
	}
	return st.LiveUpdatesDisabled, nil
}

// SetDisabled writes the flag. The file is replaced atomically.
func (s *FileStore) SetDisabled(ctx context.Context, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(fileState{
		LiveUpdatesDisabled: disabled,
		UpdatedAt:           time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode flag file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create flag dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".livesync-flags-*")
	if err != nil {
		return fmt.Errorf("create temp flag file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write flag file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close flag file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace flag file: %w", err)
	}
	return nil
}
