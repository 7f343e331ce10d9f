package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"go.uber.org/multierr"
)

// ErrNotFound is returned when the requested trace artifact does not exist.
var ErrNotFound = errors.New("trace file not found")

// Reader fetches raw bytes for a path.
type Reader interface {
	Read(path string) ([]byte, error)
}

// Registry is a Reader that also tracks temporary artifacts for later cleanup.
type Registry interface {
	Reader
	RegisterTemp(path string)
}

// tempFiles is the append-only cleanup list shared by both cache flavours.
type tempFiles struct {
	mu    sync.Mutex
	paths []string
}

// RegisterTemp records a path to delete on Cleanup. Safe for concurrent use.
func (t *tempFiles) RegisterTemp(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paths = append(t.paths, path)
}

// TempFiles returns a snapshot of the registered artifacts.
func (t *tempFiles) TempFiles() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.paths))
	copy(out, t.paths)
	return out
}

// Cleanup removes every registered artifact, combining all removal failures.
func (t *tempFiles) Cleanup() error {
	t.mu.Lock()
	paths := t.paths
	t.paths = nil
	t.mu.Unlock()

	var err error
	for _, p := range paths {
		if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			err = multierr.Append(err, fmt.Errorf("failed to remove %s: %w", p, rmErr))
		}
	}
	return err
}

// FileCache reads trace artifacts from the local file system.
type FileCache struct {
	tempFiles
}

// NewFileCache creates an empty FileCache.
func NewFileCache() *FileCache {
	return &FileCache{}
}

func (c *FileCache) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// MemCache serves bytes held in memory, falling back to the file system for
// paths it does not know (such as repaired temp artifacts).
type MemCache struct {
	tempFiles
	filesMu sync.RWMutex
	files   map[string][]byte
}

// NewMemCache creates a MemCache preloaded with files.
func NewMemCache(files map[string][]byte) *MemCache {
	c := &MemCache{files: make(map[string][]byte, len(files))}
	for k, v := range files {
		c.files[k] = v
	}
	return c
}

// Put stores bytes under path.
func (c *MemCache) Put(path string, data []byte) {
	c.filesMu.Lock()
	defer c.filesMu.Unlock()
	c.files[path] = data
}

func (c *MemCache) Read(path string) ([]byte, error) {
	c.filesMu.RLock()
	data, ok := c.files[path]
	c.filesMu.RUnlock()
	if ok {
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return data, nil
}
