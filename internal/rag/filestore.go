package rag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists the index as a single binary artifact on the local
// filesystem. It is the default ArtifactStore backend.
type FileStore struct {
	// path is the artifact location on disk.
	path string
}

// NewFileStore constructs a FileStore for the given artifact path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("rag: %w: index path must not be empty", ErrInvalidConfiguration)
	}
	return &FileStore{path: path}, nil
}

// Location returns the artifact path.
func (s *FileStore) Location() string { return s.path }

// Exists reports whether an artifact is present at the path without reading it.
func (s *FileStore) Exists(ctx context.Context) (bool, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("rag: stat index %q: %w", s.path, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("rag: %w: index path %q is a directory", ErrInvalidConfiguration, s.path)
	}
	return true, nil
}

// Load reads and decodes the whole artifact. Unreadable or inconsistent
// content fails with ErrCorruptIndex; a missing file is a plain error since
// callers are expected to check Exists first.
func (s *FileStore) Load(ctx context.Context) (*Index, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("rag: read index %q: %w", s.path, err)
	}
	ix, err := UnmarshalIndex(data)
	if err != nil {
		return nil, fmt.Errorf("rag: load index %q: %w", s.path, err)
	}
	return ix, nil
}

// Persist writes the index to a temporary file in the target directory and
// renames it into place, so a concurrent Load never observes a partial
// artifact. Any prior content at the path is replaced.
func (s *FileStore) Persist(ctx context.Context, ix *Index) error {
	if ix == nil {
		return fmt.Errorf("rag: persist: index must not be nil")
	}

	data, err := ix.MarshalBinary()
	if err != nil {
		return fmt.Errorf("rag: encode index: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("rag: create index directory %q: %w", dir, err)
	}

	// The temp file must live in the same directory as the final path so the
	// rename stays within one filesystem and remains atomic.
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("rag: create temp index file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("rag: write temp index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rag: close temp index file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rag: rename index into place: %w", err)
	}
	return nil
}

// Drop removes the persisted artifact. Missing artifacts are not an error.
func (s *FileStore) Drop(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rag: remove index %q: %w", s.path, err)
	}
	return nil
}
