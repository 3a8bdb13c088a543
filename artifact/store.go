package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store manages task-scoped working directories. Every artifact a task
// produces lives under its own directory, so releasing a task can never
// touch another task's files.
type Store struct {
	root string
}

// NewStore creates the root working directory if needed. An empty root
// falls back to a process-scoped temp directory.
func NewStore(root string) (*Store, error) {
	if root == "" {
		dir, err := os.MkdirTemp("", "videoflow_")
		if err != nil {
			return nil, fmt.Errorf("could not create work directory: %w", err)
		}
		root = dir
	} else {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("could not create work directory %s: %w", root, err)
		}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Store{root: abs}, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string {
	return s.root
}

// Dir returns the working directory path for a task. Task IDs are unique,
// so the path is collision-free by construction.
func (s *Store) Dir(taskID string) string {
	return filepath.Join(s.root, filepath.Base(taskID))
}

// Allocate creates the task's working directory and returns its path.
func (s *Store) Allocate(taskID string) (string, error) {
	dir := s.Dir(taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("could not allocate working directory for task %s: %w", taskID, err)
	}
	return dir, nil
}

// Write stores content as a named artifact in the task's working directory
// and returns the artifact path.
func (s *Store) Write(taskID, name string, r io.Reader) (string, error) {
	if filepath.Base(name) != name {
		return "", fmt.Errorf("invalid artifact name: %s", name)
	}
	dir, err := s.Allocate(taskID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("could not write artifact %s: %w", name, err)
	}
	return path, nil
}

// Open returns a reader for an artifact path. Paths outside the store
// root are rejected to prevent traversal.
func (s *Store) Open(path string) (io.ReadCloser, error) {
	if !s.Owns(path) {
		return nil, fmt.Errorf("artifact path outside store: %s", path)
	}
	return os.Open(path)
}

// Owns reports whether a path lives under the store root.
func (s *Store) Owns(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return strings.HasPrefix(abs, s.root+string(os.PathSeparator))
}

// Release removes a task's working directory and everything under it.
// Calling it twice is a no-op, not an error.
func (s *Store) Release(taskID string) error {
	dir := s.Dir(taskID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	return os.RemoveAll(dir)
}
