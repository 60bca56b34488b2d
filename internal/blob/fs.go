package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/auditkit/guideline-rag/internal/apperr"
)

// FSStore stores blobs as files under a root directory. Writes go
// through a temp file and rename so readers never observe a partial
// object.
type FSStore struct {
	root string
}

var _ Store = (*FSStore)(nil)

// NewFSStore creates a filesystem-backed store rooted at dir.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		return nil, apperr.Config("blob.fs", "root directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Internal("blob.fs", fmt.Errorf("create root: %w", err))
	}
	return &FSStore{root: dir}, nil
}

func (s *FSStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", apperr.Invalid("blob.fs", fmt.Sprintf("invalid key %q", key))
	}
	return filepath.Join(s.root, clean), nil
}

// Exists reports whether the key is present.
func (s *FSStore) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, apperr.Unavailable("blob.exists", err)
	}
	return !info.IsDir(), nil
}

// Get returns the object bytes.
func (s *FSStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.NotFound("blob.get", fmt.Sprintf("key %q not found", key))
		}
		return nil, apperr.Unavailable("blob.get", err)
	}
	return data, nil
}

// Put writes the object atomically.
func (s *FSStore) Put(_ context.Context, key string, data []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return apperr.Unavailable("blob.put", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return apperr.Unavailable("blob.put", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return apperr.Unavailable("blob.put", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return apperr.Unavailable("blob.put", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return apperr.Unavailable("blob.put", err)
	}
	return nil
}

// Delete removes the object. Absent keys are not an error.
func (s *FSStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return apperr.Unavailable("blob.delete", err)
	}
	return nil
}
