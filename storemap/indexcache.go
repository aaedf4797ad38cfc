package storemap

import (
	"encoding/binary"

	"github.com/datatrails/go-datatrails-common/cbor"

	"github.com/forestrie/go-storemap/kvstore"
)

// indexCache is the u32-indexed slot layer shared by Vector and, through it,
// FreeList. Slot i lives at prefix || le32(i); each touched slot is cached
// exactly once and written back at flush. It has no length of its own, the
// owning container bounds the indices it uses.
type indexCache[T any] struct {
	store  kvstore.Store
	codec  *cbor.CBORCodec
	prefix []byte
	cache  map[uint32]*cacheEntry[T]
}

func newIndexCache[T any](store kvstore.Store, codec *cbor.CBORCodec, prefix []byte) indexCache[T] {
	return indexCache[T]{
		store:  store,
		codec:  codec,
		prefix: prefix,
		cache:  make(map[uint32]*cacheEntry[T]),
	}
}

func (c *indexCache[T]) slotKey(i uint32) []byte {
	key := make([]byte, len(c.prefix)+4)
	copy(key, c.prefix)
	binary.LittleEndian.PutUint32(key[len(c.prefix):], i)
	return key
}

func (c *indexCache[T]) entry(i uint32) (*cacheEntry[T], error) {
	if entry, ok := c.cache[i]; ok {
		return entry, nil
	}
	raw, present, err := c.store.Read(c.slotKey(i))
	if err != nil {
		return nil, err
	}
	var value *T
	if present {
		value = new(T)
		if err = c.codec.UnmarshalInto(raw, value); err != nil {
			return nil, decodeErr(err)
		}
	}
	entry := newCached(value)
	c.cache[i] = entry
	return entry, nil
}

// get returns the cached value pointer for slot i, nil when the slot is
// unoccupied. The pointer aliases the cache; callers that mutate through it
// must go through replace instead.
func (c *indexCache[T]) get(i uint32) (*T, error) {
	entry, err := c.entry(i)
	if err != nil {
		return nil, err
	}
	return entry.get(), nil
}

// set blindly installs v (nil clears the slot) without loading it first.
func (c *indexCache[T]) set(i uint32, v *T) {
	if entry, ok := c.cache[i]; ok {
		entry.set(v)
		return
	}
	c.cache[i] = newModified(v)
}

// replace installs v and returns the previous slot value, loading on first
// touch.
func (c *indexCache[T]) replace(i uint32, v *T) (*T, error) {
	entry, err := c.entry(i)
	if err != nil {
		return nil, err
	}
	return entry.replace(v), nil
}

// swap exchanges the contents of slots a and b.
func (c *indexCache[T]) swap(a, b uint32) error {
	if a == b {
		return nil
	}
	ea, err := c.entry(a)
	if err != nil {
		return err
	}
	eb, err := c.entry(b)
	if err != nil {
		return err
	}
	va := ea.replace(eb.get())
	eb.replace(va)
	return nil
}

func (c *indexCache[T]) flush() error {
	for i, entry := range c.cache {
		if !entry.isModified() {
			continue
		}
		if v := entry.get(); v != nil {
			raw, err := c.codec.MarshalCBOR(v)
			if err != nil {
				return err
			}
			if err = c.store.Write(c.slotKey(i), raw); err != nil {
				return err
			}
		} else {
			if err := c.store.Remove(c.slotKey(i)); err != nil {
				return err
			}
		}
		entry.markFlushed()
	}
	return nil
}
