package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/taskmaster/taskpad/internal/ports"
)

var namespacePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// FileStore writes one JSON file per namespace under a data directory.
// Writes go to a temp file first and are renamed into place.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates the data directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

var _ ports.BlobStore = (*FileStore)(nil)

func (s *FileStore) path(namespace string) (string, error) {
	if !namespacePattern.MatchString(namespace) {
		return "", fmt.Errorf("invalid namespace %q", namespace)
	}
	return filepath.Join(s.dir, namespace+".json"), nil
}

func (s *FileStore) Load(_ context.Context, namespace string) ([]byte, bool, error) {
	p, err := s.path(namespace)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", namespace, err)
	}
	return b, true, nil
}

func (s *FileStore) Save(_ context.Context, namespace string, blob []byte) error {
	p, err := s.path(namespace)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, namespace+".*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", namespace, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", namespace, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", namespace, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("write %s: %w", namespace, err)
	}
	return nil
}
