package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// FileTree is an Archive storing each blob as one file under a sharded
// directory tree. Writes go through a temp file plus rename so readers
// never observe a partial blob.
type FileTree struct {
	root string
}

// NewFileTree creates a file-tree archive rooted at dir, creating the
// directory if needed.
func NewFileTree(dir string) (*FileTree, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive root: %w", err)
	}
	return &FileTree{root: dir}, nil
}

// Put stores blob under key, overwriting any previous blob.
func (f *FileTree) Put(_ context.Context, key string, blob []byte) error {
	path := f.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("put %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("put %q: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// Get returns the blob stored under key, or ok=false if absent.
func (f *FileTree) Get(_ context.Context, key string) ([]byte, bool, error) {
	blob, err := os.ReadFile(f.pathFor(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return blob, true, nil
}

// Close is a no-op; files are flushed per Put.
func (f *FileTree) Close() error { return nil }

// pathFor maps a key to root/<aa>/<bb>/<digest>.blob where aa/bb are the
// leading bytes of the key digest. Hashing the key keeps arbitrary key
// strings filesystem-safe and spreads entries across shards.
func (f *FileTree) pathFor(key string) string {
	sum := sha256.Sum256([]byte(key))
	digest := hex.EncodeToString(sum[:])
	return filepath.Join(f.root, digest[:2], digest[2:4], digest+".blob")
}
