package storemap

import (
	"github.com/forestrie/go-storemap/kvstore"
)

// indexedEntry is the arena-resident half of an IndexedMap entry. The key is
// stored alongside the value so iteration over the arena alone can yield
// both without touching the index map.
type indexedEntry[K any, V any] struct {
	Key   K
	Value V
}

// IndexedMap is a map with stable per-entry indices and safe iteration:
// a flat Map from key to SlotIndex, plus a FreeList holding (key, value)
// pairs.
//
// The two halves form a bijection: indices.Get(k) == i exactly when
// entries.Get(i) holds key k. Every mutation path below updates both sides
// or neither; breaking the bijection is the highest-risk correctness hazard
// in this package, and iteration treats a dangling index as
// ErrInconsistentState rather than skipping it.
//
// Replacing the value of an existing key keeps its index, so external
// references to "entry i" survive value updates.
type IndexedMap[K any, V any] struct {
	indices *Map[K, SlotIndex]
	entries *FreeList[indexedEntry[K, V]]
}

func NewIndexedMap[K any, V any](store kvstore.Store, prefix []byte, opts ...Option) (*IndexedMap[K, V], error) {
	o, err := resolveOptions(SchemeIdentity, opts...)
	if err != nil {
		return nil, err
	}
	indices, err := NewMap[K, SlotIndex](store, subPrefix(prefix, subMapIndices),
		WithCodec(o.codec), WithKeyScheme(o.scheme))
	if err != nil {
		return nil, err
	}
	entries, err := NewFreeList[indexedEntry[K, V]](store, subPrefix(prefix, subMapEntries),
		WithCodec(o.codec))
	if err != nil {
		return nil, err
	}
	return &IndexedMap[K, V]{indices: indices, entries: entries}, nil
}

// Len returns the number of entries.
func (m *IndexedMap[K, V]) Len() (uint32, error) {
	return m.entries.Len()
}

// Get returns the value for key, if present.
func (m *IndexedMap[K, V]) Get(key K) (V, bool, error) {
	var zero V
	i, ok, err := m.indices.Get(key)
	if err != nil || !ok {
		return zero, false, err
	}
	entry, ok, err := m.entries.Get(i)
	if err != nil {
		return zero, false, err
	}
	if !ok {
		return zero, false, ErrInconsistentState
	}
	return entry.Value, true, nil
}

// Contains reports whether key is present, without decoding its value.
func (m *IndexedMap[K, V]) Contains(key K) (bool, error) {
	return m.indices.Contains(key)
}

// Index returns the stable index for key, if present. The index stays valid
// until the key is removed.
func (m *IndexedMap[K, V]) Index(key K) (SlotIndex, bool, error) {
	return m.indices.Get(key)
}

// GetAt returns the entry at a stable index.
func (m *IndexedMap[K, V]) GetAt(i SlotIndex) (K, V, bool, error) {
	var zeroK K
	var zeroV V
	entry, ok, err := m.entries.Get(i)
	if err != nil || !ok {
		return zeroK, zeroV, false, err
	}
	return entry.Key, entry.Value, true, nil
}

// Insert writes key to value. If key is already present the value is
// replaced in place at its existing index and the previous value returned;
// otherwise a fresh slot is allocated and recorded in the index map.
func (m *IndexedMap[K, V]) Insert(key K, value V) (V, bool, error) {
	var zero V
	i, ok, err := m.indices.Get(key)
	if err != nil {
		return zero, false, err
	}
	if ok {
		prev, ok2, err := m.entries.Replace(i, indexedEntry[K, V]{Key: key, Value: value})
		if err != nil {
			return zero, false, err
		}
		if !ok2 {
			return zero, false, ErrInconsistentState
		}
		return prev.Value, true, nil
	}
	i, err = m.entries.Insert(indexedEntry[K, V]{Key: key, Value: value})
	if err != nil {
		return zero, false, err
	}
	if err = m.indices.Set(key, i); err != nil {
		return zero, false, err
	}
	return zero, false, nil
}

// Remove deletes key, freeing its slot, and returns the previous value.
func (m *IndexedMap[K, V]) Remove(key K) (V, bool, error) {
	var zero V
	i, ok, err := m.indices.Remove(key)
	if err != nil || !ok {
		return zero, false, err
	}
	entry, ok, err := m.entries.Remove(i)
	if err != nil {
		return zero, false, err
	}
	if !ok {
		return zero, false, ErrInconsistentState
	}
	return entry.Value, true, nil
}

// Clear removes every entry from both halves.
func (m *IndexedMap[K, V]) Clear() error {
	it := m.entries.Iter()
	for it.Next() {
		if err := m.indices.Delete(it.Value().Key); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	return m.entries.Clear()
}

// Flush writes back both halves.
func (m *IndexedMap[K, V]) Flush() error {
	if err := m.entries.Flush(); err != nil {
		return err
	}
	return m.indices.Flush()
}

// Iter returns a forward cursor over (key, value) entries. Order is
// arena order: insertion-adjacent but unspecified once slots have been
// recycled.
func (m *IndexedMap[K, V]) Iter() *IndexedMapIter[K, V] {
	return &IndexedMapIter[K, V]{inner: m.entries.Iter()}
}

// Backward returns the reverse cursor.
func (m *IndexedMap[K, V]) Backward() *IndexedMapIter[K, V] {
	return &IndexedMapIter[K, V]{inner: m.entries.Backward()}
}

// IndexedMapIter is a cursor over IndexedMap entries. It stays valid if
// entries other than the currently yielded one are removed mid-iteration.
type IndexedMapIter[K any, V any] struct {
	inner *FreeListIter[indexedEntry[K, V]]
}

func (it *IndexedMapIter[K, V]) Next() bool      { return it.inner.Next() }
func (it *IndexedMapIter[K, V]) Index() SlotIndex { return it.inner.Index() }
func (it *IndexedMapIter[K, V]) Key() K          { return it.inner.Value().Key }
func (it *IndexedMapIter[K, V]) Value() V        { return it.inner.Value().Value }
func (it *IndexedMapIter[K, V]) Err() error      { return it.inner.Err() }
