// Package mapping provides an insertion-ordered key/value table with unique
// keys, used for the persisted lookup tables of the ledger.
package mapping

import "encoding/json"

// Entry is one key/value pair.
type Entry[K comparable, V any] struct {
	Key   K `json:"key"`
	Value V `json:"value"`
}

// Mapping is an insertion-ordered map. The zero value is empty and ready to use.
type Mapping[K comparable, V any] struct {
	entries []Entry[K, V]
	index   map[K]int
}

// New creates an empty mapping.
func New[K comparable, V any]() Mapping[K, V] {
	return Mapping[K, V]{}
}

// Get returns the value for key.
func (m *Mapping[K, V]) Get(key K) (V, bool) {
	if i, ok := m.index[key]; ok {
		return m.entries[i].Value, true
	}
	var zero V
	return zero, false
}

// GetOr returns the value for key or def.
func (m *Mapping[K, V]) GetOr(key K, def V) V {
	if v, ok := m.Get(key); ok {
		return v
	}
	return def
}

// Contains reports whether key is present.
func (m *Mapping[K, V]) Contains(key K) bool {
	_, ok := m.index[key]
	return ok
}

// Set inserts or replaces the value for key. Replacement keeps the original position.
func (m *Mapping[K, V]) Set(key K, value V) {
	if i, ok := m.index[key]; ok {
		m.entries[i].Value = value
		return
	}
	if m.index == nil {
		m.index = make(map[K]int)
	}
	m.index[key] = len(m.entries)
	m.entries = append(m.entries, Entry[K, V]{Key: key, Value: value})
}

// SetIfAbsent inserts value only when key is missing and reports whether it did.
func (m *Mapping[K, V]) SetIfAbsent(key K, value V) bool {
	if m.Contains(key) {
		return false
	}
	m.Set(key, value)
	return true
}

// Len returns the number of entries.
func (m *Mapping[K, V]) Len() int {
	return len(m.entries)
}

// Entries returns a copy of the entries in insertion order.
func (m *Mapping[K, V]) Entries() []Entry[K, V] {
	out := make([]Entry[K, V], len(m.entries))
	copy(out, m.entries)
	return out
}

// Clone returns an independent copy. Values are copied shallowly.
func (m *Mapping[K, V]) Clone() Mapping[K, V] {
	var out Mapping[K, V]
	for _, e := range m.entries {
		out.Set(e.Key, e.Value)
	}
	return out
}

// MarshalJSON encodes the mapping as an ordered array of entries.
func (m Mapping[K, V]) MarshalJSON() ([]byte, error) {
	if m.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m.entries)
}

// UnmarshalJSON decodes an array of entries. Later duplicates replace earlier ones.
func (m *Mapping[K, V]) UnmarshalJSON(data []byte) error {
	var entries []Entry[K, V]
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*m = Mapping[K, V]{}
	for _, e := range entries {
		m.Set(e.Key, e.Value)
	}
	return nil
}
