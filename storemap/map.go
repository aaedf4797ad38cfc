package storemap

import (
	"github.com/datatrails/go-datatrails-common/cbor"

	"github.com/forestrie/go-storemap/kvstore"
)

// Map is the flat map: logical key to value, no iteration. Each instance
// owns its cache table; instances are never shared or cloned while
// referencing the same prefix.
//
// Mutations are write-back: nothing reaches storage until Flush. The blind
// paths (Set, Delete) never read the previous value from storage, so a pure
// overwrite costs zero physical reads.
type Map[K any, V any] struct {
	store  kvstore.Store
	codec  *cbor.CBORCodec
	scheme KeyScheme
	prefix []byte
	cache  map[string]*cacheEntry[V]
}

// NewMap creates a map over store under the given prefix. The caller is
// responsible for prefix uniqueness across all containers sharing the store.
func NewMap[K any, V any](store kvstore.Store, prefix []byte, opts ...Option) (*Map[K, V], error) {
	o, err := resolveOptions(SchemeIdentity, opts...)
	if err != nil {
		return nil, err
	}
	return &Map[K, V]{
		store:  store,
		codec:  o.codec,
		scheme: o.scheme,
		prefix: append([]byte{}, prefix...),
		cache:  make(map[string]*cacheEntry[V]),
	}, nil
}

func (m *Map[K, V]) storageKey(key K) ([]byte, error) {
	encoded, err := m.codec.MarshalCBOR(key)
	if err != nil {
		return nil, err
	}
	return m.scheme.StorageKey(m.prefix, encoded), nil
}

// entryFor returns the cache entry for skey, loading it from storage on
// first touch.
func (m *Map[K, V]) entryFor(skey []byte) (*cacheEntry[V], error) {
	if entry, ok := m.cache[string(skey)]; ok {
		return entry, nil
	}
	raw, present, err := m.store.Read(skey)
	if err != nil {
		return nil, err
	}
	var value *V
	if present {
		value = new(V)
		if err = m.codec.UnmarshalInto(raw, value); err != nil {
			return nil, decodeErr(err)
		}
	}
	entry := newCached(value)
	m.cache[string(skey)] = entry
	return entry, nil
}

// Get returns the value for key and whether it is present.
func (m *Map[K, V]) Get(key K) (V, bool, error) {
	var zero V
	skey, err := m.storageKey(key)
	if err != nil {
		return zero, false, err
	}
	entry, err := m.entryFor(skey)
	if err != nil {
		return zero, false, err
	}
	v := entry.get()
	if v == nil {
		return zero, false, nil
	}
	return *v, true, nil
}

// Set writes key to value without reading any previous value.
func (m *Map[K, V]) Set(key K, value V) error {
	skey, err := m.storageKey(key)
	if err != nil {
		return err
	}
	if entry, ok := m.cache[string(skey)]; ok {
		entry.set(&value)
		return nil
	}
	m.cache[string(skey)] = newModified(&value)
	return nil
}

// Insert writes key to value and returns the previous value, if any. Unlike
// Set this loads the slot first.
func (m *Map[K, V]) Insert(key K, value V) (V, bool, error) {
	var zero V
	skey, err := m.storageKey(key)
	if err != nil {
		return zero, false, err
	}
	entry, err := m.entryFor(skey)
	if err != nil {
		return zero, false, err
	}
	prev := entry.replace(&value)
	if prev == nil {
		return zero, false, nil
	}
	return *prev, true, nil
}

// Delete marks key absent without reading any previous value.
func (m *Map[K, V]) Delete(key K) error {
	skey, err := m.storageKey(key)
	if err != nil {
		return err
	}
	if entry, ok := m.cache[string(skey)]; ok {
		entry.set(nil)
		return nil
	}
	m.cache[string(skey)] = newModified[V](nil)
	return nil
}

// Remove deletes key and returns the previous value, if any.
func (m *Map[K, V]) Remove(key K) (V, bool, error) {
	var zero V
	skey, err := m.storageKey(key)
	if err != nil {
		return zero, false, err
	}
	entry, err := m.entryFor(skey)
	if err != nil {
		return zero, false, err
	}
	prev := entry.replace(nil)
	if prev == nil {
		return zero, false, nil
	}
	return *prev, true, nil
}

// Contains reports whether key is present. When the slot is not yet cached
// this asks the store directly (Has), avoiding the value read and decode a
// Get would pay for a boolean answer.
func (m *Map[K, V]) Contains(key K) (bool, error) {
	skey, err := m.storageKey(key)
	if err != nil {
		return false, err
	}
	if entry, ok := m.cache[string(skey)]; ok {
		return entry.get() != nil, nil
	}
	has, err := m.store.Has(skey)
	if err != nil {
		return false, err
	}
	if !has {
		// Cache the definitive absence; presence is not cached because the
		// value itself is still unknown.
		m.cache[string(skey)] = newCached[V](nil)
	}
	return has, nil
}

// Flush writes every modified cache entry back to storage in one batch.
// Cached values stay resident, marked clean.
func (m *Map[K, V]) Flush() error {
	for skey, entry := range m.cache {
		if !entry.isModified() {
			continue
		}
		if v := entry.get(); v != nil {
			raw, err := m.codec.MarshalCBOR(v)
			if err != nil {
				return err
			}
			if err = m.store.Write([]byte(skey), raw); err != nil {
				return err
			}
		} else {
			if err := m.store.Remove([]byte(skey)); err != nil {
				return err
			}
		}
		entry.markFlushed()
	}
	return nil
}
