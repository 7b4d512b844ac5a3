// Package store persists named byte blobs for tables and models.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
)

// ErrNotExist is returned when a named blob is missing.
var ErrNotExist = errors.New("store: blob does not exist")

// Store is a flat namespace of byte blobs addressed by slash-separated names.
type Store interface {
	Write(name string, data []byte) error
	Read(name string) ([]byte, error)
	Exists(name string) (bool, error)
	Close() error
}

// FileStore keeps each blob in its own file under Folder.
type FileStore struct {
	Folder   string
	Compress bool // snappy-encode blobs on disk
}

// NewFileStore creates a FileStore rooted at folder.
func NewFileStore(folder string, compress bool) (*FileStore, error) {
	if err := os.MkdirAll(folder, 0755); err != nil {
		return nil, fmt.Errorf("create store folder: %w", err)
	}
	return &FileStore{Folder: folder, Compress: compress}, nil
}

func (s *FileStore) path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("store: invalid blob name %q", name)
	}
	return filepath.Join(s.Folder, clean), nil
}

// Write replaces the blob name with data.
func (s *FileStore) Write(name string, data []byte) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	if s.Compress {
		data = snappy.Encode(nil, data)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

// Read returns the contents of blob name.
func (s *FileStore) Read(name string) ([]byte, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	if err != nil {
		return nil, err
	}
	if s.Compress {
		data, err = snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
	}
	return data, nil
}

// Exists reports whether blob name is present.
func (s *FileStore) Exists(name string) (bool, error) {
	p, err := s.path(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Close is a no-op for FileStore.
func (s *FileStore) Close() error {
	return nil
}
