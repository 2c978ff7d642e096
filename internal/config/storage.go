package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"harbor-bridge/pkg/logging"
)

const (
	dirMode  os.FileMode = 0700
	fileMode os.FileMode = 0600
)

// Storage reads and writes whole files in the state directory.
//
// Writes go to a temp file in the same directory which is then renamed over
// the target, so a crash never leaves a partially written file. Files are
// owner read/write only and the directory is owner only.
type Storage struct {
	mu  sync.Mutex
	dir string
}

// NewStorage creates a Storage rooted at dir. The directory is created lazily.
func NewStorage(dir string) *Storage {
	return &Storage{dir: dir}
}

// Dir returns the storage directory.
func (s *Storage) Dir() string {
	return s.dir
}

// Path returns the absolute path for name.
func (s *Storage) Path(name string) string {
	return filepath.Join(s.dir, s.sanitizeFilename(name))
}

// Save atomically replaces the file name with data.
func (s *Storage) Save(name string, data []byte) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, dirMode); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", s.dir, err)
	}
	// MkdirAll leaves an existing directory's mode alone.
	if err := os.Chmod(s.dir, dirMode); err != nil {
		return fmt.Errorf("failed to restrict directory %s: %w", s.dir, err)
	}

	target := s.Path(name)
	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", target, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace %s: %w", target, err)
	}
	if err := os.Chmod(target, fileMode); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", target, err)
	}

	logging.Debug("Storage", "Saved %s (%d bytes)", target, len(data))
	return nil
}

// Load returns the content of name. A missing file yields an error matching
// os.ErrNotExist.
func (s *Storage) Load(name string) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("name cannot be empty")
	}

	target := s.Path(name)
	// #nosec G304 -- name is one of the fixed state file names
	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read file %s: %w", target, err)
	}
	return data, nil
}

// sanitizeFilename strips path separators so callers cannot escape the directory.
func (s *Storage) sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	if name == "." || name == ".." {
		return "_"
	}
	return name
}
