package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCacheRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "w.pt.trace.json")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o644))

	c := NewFileCache()
	data, err := c.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	_, err = c.Read(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterTempConcurrentAndCleanup(t *testing.T) {
	dir := t.TempDir()
	c := NewFileCache()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := filepath.Join(dir, fmt.Sprintf("tmp%d.json.gz", i))
			if err := os.WriteFile(p, []byte("x"), 0o644); err == nil {
				c.RegisterTemp(p)
			}
		}(i)
	}
	wg.Wait()

	temps := c.TempFiles()
	assert.Len(t, temps, 16)

	require.NoError(t, c.Cleanup())
	for _, p := range temps {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "expected %s removed", p)
	}
	assert.Empty(t, c.TempFiles())
}

func TestCleanupIgnoresAlreadyRemoved(t *testing.T) {
	c := NewFileCache()
	c.RegisterTemp(filepath.Join(t.TempDir(), "gone.json.gz"))
	assert.NoError(t, c.Cleanup())
}

func TestMemCache(t *testing.T) {
	c := NewMemCache(map[string][]byte{"a": []byte("1")})
	data, err := c.Read("a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(data))

	c.Put("b", []byte("2"))
	data, err = c.Read("b")
	require.NoError(t, err)
	assert.Equal(t, "2", string(data))

	_, err = c.Read(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, ErrNotFound)
}
