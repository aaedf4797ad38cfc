package storemap

import (
	"github.com/forestrie/go-storemap/kvstore"
)

// IndexedSet is the set form of IndexedMap: membership plus stable indices
// and iteration, storing only the keys in the arena. The same bijection
// invariant applies between the index map and the arena.
type IndexedSet[K any] struct {
	indices *Map[K, SlotIndex]
	elems   *FreeList[K]
}

func NewIndexedSet[K any](store kvstore.Store, prefix []byte, opts ...Option) (*IndexedSet[K], error) {
	o, err := resolveOptions(SchemeIdentity, opts...)
	if err != nil {
		return nil, err
	}
	indices, err := NewMap[K, SlotIndex](store, subPrefix(prefix, subMapIndices),
		WithCodec(o.codec), WithKeyScheme(o.scheme))
	if err != nil {
		return nil, err
	}
	elems, err := NewFreeList[K](store, subPrefix(prefix, subMapEntries), WithCodec(o.codec))
	if err != nil {
		return nil, err
	}
	return &IndexedSet[K]{indices: indices, elems: elems}, nil
}

// Len returns the number of members.
func (s *IndexedSet[K]) Len() (uint32, error) {
	return s.elems.Len()
}

// Contains reports membership without decoding anything beyond the index.
func (s *IndexedSet[K]) Contains(key K) (bool, error) {
	return s.indices.Contains(key)
}

// Insert adds key and reports whether it was newly added.
func (s *IndexedSet[K]) Insert(key K) (bool, error) {
	_, ok, err := s.indices.Get(key)
	if err != nil || ok {
		return false, err
	}
	i, err := s.elems.Insert(key)
	if err != nil {
		return false, err
	}
	if err = s.indices.Set(key, i); err != nil {
		return false, err
	}
	return true, nil
}

// Remove deletes key and reports whether it was present.
func (s *IndexedSet[K]) Remove(key K) (bool, error) {
	i, ok, err := s.indices.Remove(key)
	if err != nil || !ok {
		return false, err
	}
	_, ok, err = s.elems.Remove(i)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrInconsistentState
	}
	return true, nil
}

// Clear removes every member.
func (s *IndexedSet[K]) Clear() error {
	it := s.elems.Iter()
	for it.Next() {
		if err := s.indices.Delete(it.Value()); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	return s.elems.Clear()
}

// Flush writes back both halves.
func (s *IndexedSet[K]) Flush() error {
	if err := s.elems.Flush(); err != nil {
		return err
	}
	return s.indices.Flush()
}

// Iter returns a forward cursor over the members.
func (s *IndexedSet[K]) Iter() *FreeListIter[K] {
	return s.elems.Iter()
}

// Backward returns the reverse cursor.
func (s *IndexedSet[K]) Backward() *FreeListIter[K] {
	return s.elems.Backward()
}
