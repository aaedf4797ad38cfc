package storemap

import (
	"github.com/forestrie/go-storemap/kvstore"
)

// Set is the flat set: membership only, no iteration. It is Map with an
// empty value type; the storage slot under each derived key is a bare
// presence marker. For a set that can be iterated, use IndexedSet.
type Set[K any] struct {
	inner *Map[K, struct{}]
}

func NewSet[K any](store kvstore.Store, prefix []byte, opts ...Option) (*Set[K], error) {
	inner, err := NewMap[K, struct{}](store, prefix, opts...)
	if err != nil {
		return nil, err
	}
	return &Set[K]{inner: inner}, nil
}

// Contains reports membership.
func (s *Set[K]) Contains(key K) (bool, error) {
	return s.inner.Contains(key)
}

// Put adds key without reporting whether it was already a member, so it
// never reads the previous state.
func (s *Set[K]) Put(key K) error {
	return s.inner.Set(key, struct{}{})
}

// Insert adds key and reports whether it was newly added.
func (s *Set[K]) Insert(key K) (bool, error) {
	had, err := s.inner.Contains(key)
	if err != nil || had {
		return false, err
	}
	if err = s.inner.Set(key, struct{}{}); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes key without reporting whether it was a member.
func (s *Set[K]) Delete(key K) error {
	return s.inner.Delete(key)
}

// Remove removes key and reports whether it was a member.
func (s *Set[K]) Remove(key K) (bool, error) {
	_, had, err := s.inner.Remove(key)
	return had, err
}

// Flush writes the pending membership changes back in one batch.
func (s *Set[K]) Flush() error {
	return s.inner.Flush()
}
