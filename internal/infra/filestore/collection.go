package filestore

import (
	"fmt"
	"maps"
	"os"
	"sync"

	jsonx "agentgraph/internal/shared/json"
)

// documentVersion is written into every collection file.
const documentVersion = 1

// CollectionConfig configures a Collection.
type CollectionConfig struct {
	FilePath string      // empty keeps the collection in memory
	Perm     os.FileMode // defaults to 0o600
	Name     string      // used in error messages
}

// document is the on-disk envelope of a collection.
type document[K comparable, V any] struct {
	Version int     `json:"version"`
	Items   map[K]V `json:"items"`
}

// Collection is a mutex-guarded map persisted as one JSON document. Every
// successful write rewrites the whole file atomically.
type Collection[K comparable, V any] struct {
	mu       sync.RWMutex
	items    map[K]V
	filePath string
	perm     os.FileMode
	name     string
}

// NewCollection creates an empty collection. Call Load to read the file.
func NewCollection[K comparable, V any](cfg CollectionConfig) *Collection[K, V] {
	perm := cfg.Perm
	if perm == 0 {
		perm = 0o600
	}
	name := cfg.Name
	if name == "" {
		name = "collection"
	}
	return &Collection[K, V]{
		items:    make(map[K]V),
		filePath: cfg.FilePath,
		perm:     perm,
		name:     name,
	}
}

// Load replaces the in-memory items with the file's content. A missing file
// leaves the collection empty.
func (c *Collection[K, V]) Load() error {
	if c.filePath == "" {
		return nil
	}
	data, err := ReadFileOrEmpty(c.filePath)
	if err != nil {
		return fmt.Errorf("%s: read %s: %w", c.name, c.filePath, err)
	}
	if len(data) == 0 {
		return nil
	}

	var doc document[K, V]
	if err := jsonx.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%s: decode %s: %w", c.name, c.filePath, err)
	}
	if doc.Version > documentVersion {
		return fmt.Errorf("%s: %s has unsupported version %d", c.name, c.filePath, doc.Version)
	}
	if doc.Items == nil {
		doc.Items = make(map[K]V)
	}

	c.mu.Lock()
	c.items = doc.Items
	c.mu.Unlock()
	return nil
}

// Get returns the value stored under key.
func (c *Collection[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

// Put stores value under key and persists.
func (c *Collection[K, V]) Put(key K, value V) error {
	return c.Mutate(func(items map[K]V) error {
		items[key] = value
		return nil
	})
}

// Delete removes key and persists.
func (c *Collection[K, V]) Delete(key K) error {
	return c.Mutate(func(items map[K]V) error {
		delete(items, key)
		return nil
	})
}

// Len returns the number of items.
func (c *Collection[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Items returns a shallow copy of the map.
func (c *Collection[K, V]) Items() map[K]V {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.items)
}

// Mutate runs fn with exclusive access to the live map and persists the
// result. When fn or the write fails the map is restored to its prior state.
func (c *Collection[K, V]) Mutate(fn func(items map[K]V) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := maps.Clone(c.items)
	if err := fn(c.items); err != nil {
		c.items = before
		return err
	}
	if err := c.persistLocked(); err != nil {
		c.items = before
		return err
	}
	return nil
}

func (c *Collection[K, V]) persistLocked() error {
	if c.filePath == "" {
		return nil
	}
	data, err := MarshalJSONIndent(document[K, V]{Version: documentVersion, Items: c.items})
	if err != nil {
		return fmt.Errorf("%s: encode: %w", c.name, err)
	}
	if err := AtomicWrite(c.filePath, data, c.perm); err != nil {
		return fmt.Errorf("%s: write %s: %w", c.name, c.filePath, err)
	}
	return nil
}
