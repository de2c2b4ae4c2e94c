package bundle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrBlobNotFound is returned when a storage ref has no stored content.
var ErrBlobNotFound = errors.New("bundle blob not found")

// BlobStore is the content-addressed store that holds compiled bundle
// artifacts. Refs are of the form <org>/<hash>.tar.gz.
type BlobStore interface {
	Put(ctx context.Context, ref string, data []byte) error
	Get(ctx context.Context, ref string) ([]byte, error)
}

// MemoryBlobStore keeps blobs in process memory; used in tests.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore creates an empty MemoryBlobStore.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

// Put implements BlobStore.
func (s *MemoryBlobStore) Put(_ context.Context, ref string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[ref] = cp
	return nil
}

// Get implements BlobStore.
func (s *MemoryBlobStore) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[ref]
	if !ok {
		return nil, ErrBlobNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// FileBlobStore persists blobs under a root directory on the local
// filesystem, one file per ref.
type FileBlobStore struct {
	root string
}

// NewFileBlobStore creates a FileBlobStore rooted at dir.
func NewFileBlobStore(dir string) *FileBlobStore {
	return &FileBlobStore{root: dir}
}

// Put implements BlobStore.
func (s *FileBlobStore) Put(_ context.Context, ref string, data []byte) error {
	path, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	return nil
}

// Get implements BlobStore.
func (s *FileBlobStore) Get(_ context.Context, ref string) ([]byte, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// path resolves a ref inside the root, rejecting traversal attempts.
func (s *FileBlobStore) path(ref string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(ref))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid blob ref %q", ref)
	}
	return filepath.Join(s.root, clean), nil
}
