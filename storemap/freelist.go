package storemap

import (
	"github.com/datatrails/go-datatrails-common/cbor"

	"github.com/forestrie/go-storemap/kvstore"
)

// SlotIndex is a stable handle into a FreeList: it keeps referring to the
// same logical element until that element is removed, regardless of any
// other insertions or removals.
type SlotIndex uint32

// slotRecord is the stored form of one arena slot. Value non-nil means the
// slot is occupied. A vacant slot carries the next link of the free list,
// nil at the tail.
type slotRecord[T any] struct {
	Value    *T
	NextFree *SlotIndex
}

// freeHeader is the persisted arena header: the free-list head and the
// occupied count.
type freeHeader struct {
	FirstFree *SlotIndex
	Occupied  uint32
}

// FreeList is the stable-index layer: a growable slot arena where removal
// vacates a slot onto a free list instead of moving elements around.
// Insertion pops the free-list head when one exists, else appends; both
// paths are O(1) storage round trips. Iteration skips vacant slots.
//
// Removing an index other than the one a cursor is currently positioned on
// is safe during iteration. Removing the currently yielded index is not
// defended against.
type FreeList[T any] struct {
	store   kvstore.Store
	codec   *cbor.CBORCodec
	headKey []byte
	slots   *Vector[slotRecord[T]]

	head       freeHeader
	headLoaded bool
	headDirty  bool
}

func NewFreeList[T any](store kvstore.Store, prefix []byte, opts ...Option) (*FreeList[T], error) {
	o, err := resolveOptions(SchemeIdentity, opts...)
	if err != nil {
		return nil, err
	}
	slots, err := NewVector[slotRecord[T]](store, subPrefix(prefix, subFreeListSlots), WithCodec(o.codec))
	if err != nil {
		return nil, err
	}
	return &FreeList[T]{
		store:   store,
		codec:   o.codec,
		headKey: subPrefix(prefix, subFreeListHead),
		slots:   slots,
	}, nil
}

func (f *FreeList[T]) loadHead() (freeHeader, error) {
	if f.headLoaded {
		return f.head, nil
	}
	raw, present, err := f.store.Read(f.headKey)
	if err != nil {
		return freeHeader{}, err
	}
	if present {
		if err = f.codec.UnmarshalInto(raw, &f.head); err != nil {
			return freeHeader{}, decodeErr(err)
		}
	}
	f.headLoaded = true
	return f.head, nil
}

func (f *FreeList[T]) setHead(h freeHeader) {
	f.head = h
	f.headLoaded = true
	f.headDirty = true
}

// Len returns the number of occupied slots.
func (f *FreeList[T]) Len() (uint32, error) {
	h, err := f.loadHead()
	return h.Occupied, err
}

// Insert stores value in a vacant slot if one exists, else appends, and
// returns the slot's stable index.
func (f *FreeList[T]) Insert(value T) (SlotIndex, error) {
	h, err := f.loadHead()
	if err != nil {
		return 0, err
	}
	var at SlotIndex
	if h.FirstFree != nil {
		at = *h.FirstFree
		prev, err := f.slots.Replace(uint32(at), slotRecord[T]{Value: &value})
		if err != nil {
			return 0, err
		}
		if prev.Value != nil {
			// The free list pointed at an occupied slot.
			return 0, ErrInconsistentState
		}
		h.FirstFree = prev.NextFree
	} else {
		l, err := f.slots.Len()
		if err != nil {
			return 0, err
		}
		if err = f.slots.Push(slotRecord[T]{Value: &value}); err != nil {
			return 0, err
		}
		at = SlotIndex(l)
	}
	h.Occupied++
	f.setHead(h)
	return at, nil
}

// Get returns the value at index i, false when i is out of range or vacant.
func (f *FreeList[T]) Get(i SlotIndex) (T, bool, error) {
	var zero T
	rec, ok, err := f.slots.Get(uint32(i))
	if err != nil || !ok {
		return zero, false, err
	}
	if rec.Value == nil {
		return zero, false, nil
	}
	return *rec.Value, true, nil
}

// Replace overwrites the value at an occupied slot in place, returning the
// previous value. The index remains stable across the update. Vacant or out
// of range slots are left untouched and reported false.
func (f *FreeList[T]) Replace(i SlotIndex, value T) (T, bool, error) {
	var zero T
	rec, ok, err := f.slots.Get(uint32(i))
	if err != nil || !ok {
		return zero, false, err
	}
	if rec.Value == nil {
		return zero, false, nil
	}
	prev := *rec.Value
	if err = f.slots.Set(uint32(i), slotRecord[T]{Value: &value}); err != nil {
		return zero, false, err
	}
	return prev, true, nil
}

// Remove vacates the slot at index i and returns the removed value. The
// slot becomes the new free-list head.
func (f *FreeList[T]) Remove(i SlotIndex) (T, bool, error) {
	var zero T
	rec, ok, err := f.slots.Get(uint32(i))
	if err != nil || !ok {
		return zero, false, err
	}
	if rec.Value == nil {
		// Already vacant.
		return zero, false, nil
	}
	h, err := f.loadHead()
	if err != nil {
		return zero, false, err
	}
	next := h.FirstFree
	if err = f.slots.Set(uint32(i), slotRecord[T]{NextFree: next}); err != nil {
		return zero, false, err
	}
	idx := i
	h.FirstFree = &idx
	h.Occupied--
	f.setHead(h)
	return *rec.Value, true, nil
}

// Clear removes every slot, occupied and vacant, and resets the free list.
func (f *FreeList[T]) Clear() error {
	if err := f.slots.Clear(); err != nil {
		return err
	}
	f.setHead(freeHeader{})
	return nil
}

// Flush writes modified slots and, if changed, the arena header.
func (f *FreeList[T]) Flush() error {
	if err := f.slots.Flush(); err != nil {
		return err
	}
	if !f.headDirty {
		return nil
	}
	raw, err := f.codec.MarshalCBOR(f.head)
	if err != nil {
		return err
	}
	if err = f.store.Write(f.headKey, raw); err != nil {
		return err
	}
	f.headDirty = false
	return nil
}

// Iter returns a forward cursor over occupied slots, yielding stable index
// and value. Re-invoking Iter always restarts.
func (f *FreeList[T]) Iter() *FreeListIter[T] {
	return &FreeListIter[T]{f: f, forward: true}
}

// Backward returns a cursor over occupied slots from highest index to
// lowest.
func (f *FreeList[T]) Backward() *FreeListIter[T] {
	return &FreeListIter[T]{f: f}
}

// FreeListIter is a cursor over the occupied slots of a FreeList.
type FreeListIter[T any] struct {
	f       *FreeList[T]
	forward bool
	started bool
	pos     uint32
	limit   uint32
	idx     SlotIndex
	val     T
	err     error
	done    bool
}

func (it *FreeListIter[T]) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	if !it.started {
		it.limit, it.err = it.f.slots.Len()
		if it.err != nil || it.limit == 0 {
			it.done = true
			return false
		}
		if it.forward {
			it.pos = 0
		} else {
			it.pos = it.limit - 1
		}
		it.started = true
	} else if !it.advance() {
		return false
	}
	for {
		rec, ok, err := it.f.slots.Get(it.pos)
		if err != nil {
			it.err = err
			it.done = true
			return false
		}
		if !ok {
			it.done = true
			return false
		}
		if rec.Value != nil {
			it.idx = SlotIndex(it.pos)
			it.val = *rec.Value
			return true
		}
		// vacant, keep scanning
		if !it.advance() {
			return false
		}
	}
}

func (it *FreeListIter[T]) advance() bool {
	if it.forward {
		it.pos++
		if it.pos >= it.limit {
			it.done = true
			return false
		}
		return true
	}
	if it.pos == 0 {
		it.done = true
		return false
	}
	it.pos--
	return true
}

func (it *FreeListIter[T]) Index() SlotIndex { return it.idx }
func (it *FreeListIter[T]) Value() T         { return it.val }
func (it *FreeListIter[T]) Err() error       { return it.err }
