package pipeline

import (
	"maps"
	"slices"
	"sync"
)

// Context is the accumulated state of one job. Keys are only ever added or
// overwritten.
type Context struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewContext builds a context seeded with a copy of seed.
func NewContext(seed map[string]any) *Context {
	return &Context{values: cloneMap(seed)}
}

// Snapshot returns an immutable copy of the current values.
func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{values: cloneMap(c.values)}
}

// Apply merges patch into the context. Later values overwrite earlier ones.
func (c *Context) Apply(patch *Patch) {
	if patch == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = map[string]any{}
	}
	for _, key := range patch.keys {
		c.values[key] = cloneValue(patch.values[key])
	}
}

// Clone returns an independent copy of the context.
func (c *Context) Clone() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Context{values: cloneMap(c.values)}
}

// Len reports the number of keys.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}

// Snapshot is a read-only view of a Context at one point in time.
type Snapshot struct {
	values map[string]any
}

// SnapshotOf builds a snapshot from a plain map, mostly for tests and templates.
func SnapshotOf(values map[string]any) Snapshot {
	return Snapshot{values: cloneMap(values)}
}

// Get returns a copy of the value stored under key.
func (s Snapshot) Get(key string) (any, bool) {
	v, ok := s.values[key]
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// Has reports whether key exists.
func (s Snapshot) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// String returns the string stored under key.
func (s Snapshot) String(key string) (string, bool) {
	return asString(s.values[key])
}

// StringOr returns the string stored under key or fallback.
func (s Snapshot) StringOr(key, fallback string) string {
	if v, ok := s.String(key); ok {
		return v
	}
	return fallback
}

// Int returns an integral number stored under key.
func (s Snapshot) Int(key string) (int64, bool) {
	return asInt64(s.values[key])
}

// Float returns a number stored under key.
func (s Snapshot) Float(key string) (float64, bool) {
	return asFloat64(s.values[key])
}

// Bool returns the boolean stored under key.
func (s Snapshot) Bool(key string) (bool, bool) {
	b, ok := s.values[key].(bool)
	return b, ok
}

// Strings returns a copy of the string list stored under key.
func (s Snapshot) Strings(key string) ([]string, bool) {
	return asStrings(s.values[key])
}

// Map returns a copy of the nested map stored under key.
func (s Snapshot) Map(key string) (map[string]any, bool) {
	m, ok := s.values[key].(map[string]any)
	if !ok {
		return nil, false
	}
	return cloneMap(m), true
}

// Keys returns the sorted key set.
func (s Snapshot) Keys() []string {
	return slices.Sorted(maps.Keys(s.values))
}

// Len reports the number of keys.
func (s Snapshot) Len() int {
	return len(s.values)
}

// ToMap returns a deep copy of all values.
func (s Snapshot) ToMap() map[string]any {
	return cloneMap(s.values)
}
