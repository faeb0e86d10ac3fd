package filestore

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

func newTestCollection(t *testing.T) (*Collection[string, record], string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.json")
	return NewCollection[string, record](CollectionConfig{FilePath: path, Name: "records"}), path
}

func TestCollectionPutGetDelete(t *testing.T) {
	c, _ := newTestCollection(t)

	require.NoError(t, c.Put("a", record{Status: "running", Count: 1}))
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, record{Status: "running", Count: 1}, got)
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Delete("a"))
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestCollectionRoundTripsThroughFile(t *testing.T) {
	c, path := newTestCollection(t)
	require.NoError(t, c.Put("a", record{Status: "succeeded", Count: 2}))
	require.NoError(t, c.Put("b", record{Status: "failed"}))

	reopened := NewCollection[string, record](CollectionConfig{FilePath: path})
	require.NoError(t, reopened.Load())

	assert.Equal(t, c.Items(), reopened.Items())
}

func TestCollectionLoadMissingFileIsEmpty(t *testing.T) {
	c, _ := newTestCollection(t)
	require.NoError(t, c.Load())
	assert.Zero(t, c.Len())
}

func TestCollectionLoadRejectsNewerVersion(t *testing.T) {
	c, path := newTestCollection(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"version":99,"items":{}}`), 0o600))

	err := c.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version")
}

func TestCollectionMutateRollsBackOnError(t *testing.T) {
	c, path := newTestCollection(t)
	require.NoError(t, c.Put("keep", record{Count: 1}))

	boom := errors.New("boom")
	err := c.Mutate(func(items map[string]record) error {
		delete(items, "keep")
		items["new"] = record{Count: 2}
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, map[string]record{"keep": {Count: 1}}, c.Items())
	reopened := NewCollection[string, record](CollectionConfig{FilePath: path})
	require.NoError(t, reopened.Load())
	assert.Equal(t, c.Items(), reopened.Items())
}

func TestCollectionItemsIsACopy(t *testing.T) {
	c, _ := newTestCollection(t)
	require.NoError(t, c.Put("x", record{Count: 10}))

	items := c.Items()
	items["x"] = record{Count: 99}

	got, _ := c.Get("x")
	assert.Equal(t, 10, got.Count)
}

func TestCollectionInMemoryOnly(t *testing.T) {
	c := NewCollection[string, int](CollectionConfig{})
	require.NoError(t, c.Put("a", 1))
	require.NoError(t, c.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCollectionConcurrentWriters(t *testing.T) {
	c, path := newTestCollection(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, c.Put(string(rune('a'+n)), record{Count: n}))
		}(i)
	}
	wg.Wait()

	reopened := NewCollection[string, record](CollectionConfig{FilePath: path})
	require.NoError(t, reopened.Load())
	assert.Equal(t, 20, reopened.Len())
}
