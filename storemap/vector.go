package storemap

import (
	"math"

	"github.com/datatrails/go-datatrails-common/cbor"

	"github.com/forestrie/go-storemap/kvstore"
)

// Sub-prefix bytes appended by composite containers. Each sub-component
// extends the caller's prefix with its own distinguishing byte, so element
// keys and metadata keys live under disjoint prefixes and can never collide.
const (
	subVectorValues  = 'v'
	subVectorLength  = 'l'
	subFreeListSlots = 's'
	subFreeListHead  = 'h'
	subMapIndices    = 'm'
	subMapEntries    = 'e'
	subTreeValues    = 'v'
	subTreeNodes     = 'n'
	subTreeRoot      = 'r'
)

func subPrefix(prefix []byte, sub byte) []byte {
	p := make([]byte, 0, len(prefix)+1)
	p = append(p, prefix...)
	return append(p, sub)
}

// Vector is an index addressed growable sequence: one storage slot per
// element plus one metadata slot holding the length. Indices 0..Len are
// always materialized in storage or present in cache.
//
// SwapRemove relocates the last element into the removed slot, so callers
// must not assume index stability across removal.
type Vector[T any] struct {
	store  kvstore.Store
	codec  *cbor.CBORCodec
	lenKey []byte
	values indexCache[T]

	length    uint32
	lenLoaded bool
	lenDirty  bool
}

func NewVector[T any](store kvstore.Store, prefix []byte, opts ...Option) (*Vector[T], error) {
	o, err := resolveOptions(SchemeIdentity, opts...)
	if err != nil {
		return nil, err
	}
	return &Vector[T]{
		store:  store,
		codec:  o.codec,
		lenKey: subPrefix(prefix, subVectorLength),
		values: newIndexCache[T](store, o.codec, subPrefix(prefix, subVectorValues)),
	}, nil
}

func (v *Vector[T]) loadLen() (uint32, error) {
	if v.lenLoaded {
		return v.length, nil
	}
	raw, present, err := v.store.Read(v.lenKey)
	if err != nil {
		return 0, err
	}
	if present {
		if err = v.codec.UnmarshalInto(raw, &v.length); err != nil {
			return 0, decodeErr(err)
		}
	}
	v.lenLoaded = true
	return v.length, nil
}

func (v *Vector[T]) setLen(l uint32) {
	v.length = l
	v.lenLoaded = true
	v.lenDirty = true
}

// Len returns the current element count.
func (v *Vector[T]) Len() (uint32, error) {
	return v.loadLen()
}

// IsEmpty reports whether the vector holds no elements.
func (v *Vector[T]) IsEmpty() (bool, error) {
	l, err := v.loadLen()
	return l == 0, err
}

// Push appends value.
func (v *Vector[T]) Push(value T) error {
	l, err := v.loadLen()
	if err != nil {
		return err
	}
	if l == math.MaxUint32 {
		return ErrLengthOverflow
	}
	v.values.set(l, &value)
	v.setLen(l + 1)
	return nil
}

// Pop removes and returns the last element.
func (v *Vector[T]) Pop() (T, bool, error) {
	var zero T
	l, err := v.loadLen()
	if err != nil || l == 0 {
		return zero, false, err
	}
	prev, err := v.values.replace(l-1, nil)
	if err != nil {
		return zero, false, err
	}
	if prev == nil {
		return zero, false, ErrInconsistentState
	}
	v.setLen(l - 1)
	return *prev, true, nil
}

// Get returns the element at index i; the bool is false when i is out of
// bounds. An in-bounds slot with no stored value means the container state
// is corrupt.
func (v *Vector[T]) Get(i uint32) (T, bool, error) {
	var zero T
	l, err := v.loadLen()
	if err != nil || i >= l {
		return zero, false, err
	}
	val, err := v.values.get(i)
	if err != nil {
		return zero, false, err
	}
	if val == nil {
		return zero, false, ErrInconsistentState
	}
	return *val, true, nil
}

// Set overwrites the element at index i without reading the previous value.
func (v *Vector[T]) Set(i uint32, value T) error {
	l, err := v.loadLen()
	if err != nil {
		return err
	}
	if i >= l {
		return ErrIndexOutOfBounds
	}
	v.values.set(i, &value)
	return nil
}

// Replace overwrites the element at index i and returns the previous value.
func (v *Vector[T]) Replace(i uint32, value T) (T, error) {
	var zero T
	l, err := v.loadLen()
	if err != nil {
		return zero, err
	}
	if i >= l {
		return zero, ErrIndexOutOfBounds
	}
	prev, err := v.values.replace(i, &value)
	if err != nil {
		return zero, err
	}
	if prev == nil {
		return zero, ErrInconsistentState
	}
	return *prev, nil
}

// Swap exchanges the elements at indices a and b.
func (v *Vector[T]) Swap(a, b uint32) error {
	l, err := v.loadLen()
	if err != nil {
		return err
	}
	if a >= l || b >= l {
		return ErrIndexOutOfBounds
	}
	return v.values.swap(a, b)
}

// SwapRemove removes the element at index i in O(1) by moving the last
// element into its slot, and returns the removed element.
func (v *Vector[T]) SwapRemove(i uint32) (T, error) {
	var zero T
	l, err := v.loadLen()
	if err != nil {
		return zero, err
	}
	if i >= l {
		return zero, ErrIndexOutOfBounds
	}
	if err = v.values.swap(i, l-1); err != nil {
		return zero, err
	}
	val, ok, err := v.Pop()
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, ErrInconsistentState
	}
	return val, nil
}

// Clear resets the length to zero. The occupied slots are marked removed in
// cache; the physical removes happen as one batch at Flush, not eagerly.
func (v *Vector[T]) Clear() error {
	l, err := v.loadLen()
	if err != nil {
		return err
	}
	for i := uint32(0); i < l; i++ {
		v.values.set(i, nil)
	}
	v.setLen(0)
	return nil
}

// Flush writes all modified slots and, if changed, the length metadata.
func (v *Vector[T]) Flush() error {
	if err := v.values.flush(); err != nil {
		return err
	}
	if !v.lenDirty {
		return nil
	}
	raw, err := v.codec.MarshalCBOR(v.length)
	if err != nil {
		return err
	}
	if err = v.store.Write(v.lenKey, raw); err != nil {
		return err
	}
	v.lenDirty = false
	return nil
}

// Iter returns a forward cursor over the elements. Re-invoking Iter always
// starts a fresh traversal.
func (v *Vector[T]) Iter() *VectorIter[T] {
	return &VectorIter[T]{v: v, forward: true}
}

// Backward returns a cursor from the last element to the first.
func (v *Vector[T]) Backward() *VectorIter[T] {
	return &VectorIter[T]{v: v}
}

// VectorIter is a cursor over vector elements.
//
//	it := vec.Iter()
//	for it.Next() {
//	    use(it.Index(), it.Value())
//	}
//	if it.Err() != nil { ... }
type VectorIter[T any] struct {
	v       *Vector[T]
	forward bool
	started bool
	pos     uint32
	limit   uint32
	val     T
	err     error
	done    bool
}

func (it *VectorIter[T]) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	if !it.started {
		it.limit, it.err = it.v.loadLen()
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
	} else {
		if it.forward {
			it.pos++
		} else {
			if it.pos == 0 {
				it.done = true
				return false
			}
			it.pos--
		}
	}
	if it.forward && it.pos >= it.limit {
		it.done = true
		return false
	}
	val, ok, err := it.v.Get(it.pos)
	if err != nil {
		it.err = err
		it.done = true
		return false
	}
	if !ok {
		it.err = ErrInconsistentState
		it.done = true
		return false
	}
	it.val = val
	return true
}

func (it *VectorIter[T]) Index() uint32 { return it.pos }
func (it *VectorIter[T]) Value() T      { return it.val }
func (it *VectorIter[T]) Err() error    { return it.err }

// Drain removes the range [start, end) and returns a cursor over the
// removed elements. When the cursor is closed the vacated slots are
// backfilled from the tail, so nothing shifts and the cost is bounded by
// the range size; draining a suffix is pure truncation.
func (v *Vector[T]) Drain(start, end uint32) (*VectorDrain[T], error) {
	l, err := v.loadLen()
	if err != nil {
		return nil, err
	}
	if start > end {
		return nil, ErrBadDrainRange
	}
	if end > l {
		end = l
	}
	return &VectorDrain[T]{v: v, start: start, end: end, pos: start, length: l}, nil
}

// VectorDrain consumes a range of the vector. The removal is completed by
// Close, which must be called whether or not the cursor was exhausted.
type VectorDrain[T any] struct {
	v      *Vector[T]
	start  uint32
	end    uint32
	pos    uint32
	length uint32
	val    T
	err    error
	closed bool
}

func (d *VectorDrain[T]) Next() bool {
	if d.closed || d.err != nil || d.pos >= d.end {
		return false
	}
	val, ok, err := d.v.Get(d.pos)
	if err != nil {
		d.err = err
		return false
	}
	if !ok {
		d.err = ErrInconsistentState
		return false
	}
	d.val = val
	d.pos++
	return true
}

func (d *VectorDrain[T]) Value() T   { return d.val }
func (d *VectorDrain[T]) Err() error { return d.err }

// Close completes the removal: tail elements are moved into the drained
// slots and the length is reduced by the range size.
func (d *VectorDrain[T]) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	n := d.end - d.start
	if n == 0 {
		return nil
	}
	newLen := d.length - n

	// Backfill the gap from the tail; the sources are exactly [end, length).
	src := d.length
	for i := d.start; i < newLen && i < d.end; i++ {
		src--
		moved, err := d.v.values.replace(src, nil)
		if err != nil {
			return err
		}
		if moved == nil {
			return ErrInconsistentState
		}
		d.v.values.set(i, moved)
	}
	// Anything left above the new length is part of the drained range and
	// just gets cleared.
	for i := max(d.start, newLen); i < d.end; i++ {
		d.v.values.set(i, nil)
	}
	d.v.setLen(newLen)
	return nil
}
