// Package orderedmap implements a small insertion-ordered map with O(1)
// lookup, used for the resource directory tree and version string tables
// where on-disk byte order must match the order the caller inserted keys in.
package orderedmap

// Map is an insertion-ordered map. The zero value is not usable; use New.
type Map[K comparable, V any] struct {
	index map[K]int
	keys  []K
	vals  []V
}

// New returns an empty ordered map.
func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{index: make(map[K]int)}
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	return len(m.keys)
}

// Get returns the value for key and whether it was present.
func (m *Map[K, V]) Get(key K) (V, bool) {
	if i, ok := m.index[key]; ok {
		return m.vals[i], true
	}
	var zero V
	return zero, false
}

// Set inserts or updates the value for key. New keys are appended to the
// insertion order; existing keys keep their original position.
func (m *Map[K, V]) Set(key K, val V) {
	if i, ok := m.index[key]; ok {
		m.vals[i] = val
		return
	}
	m.index[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.vals = append(m.vals, val)
}

// Delete removes key, if present, and shifts the insertion order of every
// key after it down by one so iteration order stays contiguous.
func (m *Map[K, V]) Delete(key K) bool {
	i, ok := m.index[key]
	if !ok {
		return false
	}
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.vals = append(m.vals[:i], m.vals[i+1:]...)
	delete(m.index, key)
	for k, idx := range m.index {
		if idx > i {
			m.index[k] = idx - 1
		}
	}
	return true
}

// Keys returns the keys in insertion order. The returned slice must not be
// mutated.
func (m *Map[K, V]) Keys() []K {
	return m.keys
}

// Values returns the values in the same order as Keys.
func (m *Map[K, V]) Values() []V {
	return m.vals
}

// Each calls fn for every entry in insertion order.
func (m *Map[K, V]) Each(fn func(K, V)) {
	for i, k := range m.keys {
		fn(k, m.vals[i])
	}
}

// Clone returns a shallow copy with the same insertion order.
func (m *Map[K, V]) Clone() *Map[K, V] {
	c := &Map[K, V]{
		index: make(map[K]int, len(m.index)),
		keys:  append([]K(nil), m.keys...),
		vals:  append([]V(nil), m.vals...),
	}
	for k, v := range m.index {
		c.index[k] = v
	}
	return c
}
