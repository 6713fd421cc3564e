package pipeline

import "time"

// Patch is the ordered set of keys a step produced or changed. A nil *Patch is
// a valid empty patch.
type Patch struct {
	keys   []string
	values map[string]any
}

// NewPatch returns an empty patch.
func NewPatch() *Patch {
	return &Patch{values: map[string]any{}}
}

// Set records key. Overwriting a key keeps its original position.
func (p *Patch) Set(key string, value any) *Patch {
	if p.values == nil {
		p.values = map[string]any{}
	}
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = cloneValue(value)
	return p
}

// SetString records a string value.
func (p *Patch) SetString(key, value string) *Patch { return p.Set(key, value) }

// SetInt records an integer value.
func (p *Patch) SetInt(key string, value int64) *Patch { return p.Set(key, value) }

// SetFloat records a float value.
func (p *Patch) SetFloat(key string, value float64) *Patch { return p.Set(key, value) }

// SetBool records a boolean value.
func (p *Patch) SetBool(key string, value bool) *Patch { return p.Set(key, value) }

// SetStrings records a copy of a string list.
func (p *Patch) SetStrings(key string, value []string) *Patch { return p.Set(key, value) }

// SetMap records a deep copy of a map value.
func (p *Patch) SetMap(key string, value map[string]any) *Patch { return p.Set(key, value) }

// SetTime stores value as an RFC3339Nano UTC string.
func (p *Patch) SetTime(key string, value time.Time) *Patch {
	return p.Set(key, value.UTC().Format(time.RFC3339Nano))
}

// Get returns the value recorded for key.
func (p *Patch) Get(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.values[key]
	return v, ok
}

// Keys returns keys in insertion order.
func (p *Patch) Keys() []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.keys...)
}

// Len reports the number of keys in the patch.
func (p *Patch) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Merge copies other's keys into p in other's order.
func (p *Patch) Merge(other *Patch) *Patch {
	if other == nil {
		return p
	}
	for _, key := range other.keys {
		p.Set(key, other.values[key])
	}
	return p
}
