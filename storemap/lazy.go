package storemap

import (
	"github.com/datatrails/go-datatrails-common/cbor"

	"github.com/forestrie/go-storemap/kvstore"
)

// lazyCell is the shared machinery of Lazy and LazyOption: one value under
// one fixed storage key, loaded on first access, written back at most once
// per flush and only when modified.
type lazyCell[T any] struct {
	store kvstore.Store
	codec *cbor.CBORCodec
	key   []byte
	entry *cacheEntry[T]
}

func newLazyCell[T any](store kvstore.Store, prefix []byte, opts ...Option) (lazyCell[T], error) {
	o, err := resolveOptions(SchemeIdentity, opts...)
	if err != nil {
		return lazyCell[T]{}, err
	}
	return lazyCell[T]{
		store: store,
		codec: o.codec,
		key:   append([]byte{}, prefix...),
	}, nil
}

func (c *lazyCell[T]) load() (*cacheEntry[T], error) {
	if c.entry != nil {
		return c.entry, nil
	}
	raw, present, err := c.store.Read(c.key)
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
	c.entry = newCached(value)
	return c.entry, nil
}

func (c *lazyCell[T]) set(v *T) {
	if c.entry != nil {
		c.entry.set(v)
		return
	}
	c.entry = newModified(v)
}

func (c *lazyCell[T]) flush() error {
	if c.entry == nil || !c.entry.isModified() {
		return nil
	}
	if v := c.entry.get(); v != nil {
		raw, err := c.codec.MarshalCBOR(v)
		if err != nil {
			return err
		}
		if err = c.store.Write(c.key, raw); err != nil {
			return err
		}
	} else {
		if err := c.store.Remove(c.key); err != nil {
			return err
		}
	}
	c.entry.markFlushed()
	return nil
}

// Lazy is a deferred single-value cell whose value is required to exist.
// Construction touches nothing; the first Get costs exactly one read, and
// Flush costs exactly one write when the value was set.
type Lazy[T any] struct {
	cell lazyCell[T]
	def  *T
}

func NewLazy[T any](store kvstore.Store, prefix []byte, opts ...Option) (*Lazy[T], error) {
	cell, err := newLazyCell[T](store, prefix, opts...)
	if err != nil {
		return nil, err
	}
	return &Lazy[T]{cell: cell}, nil
}

// NewLazyWith is NewLazy with an initial value for the never-written case.
// The initial value is only consulted when the first load finds nothing
// stored; it never overwrites an existing value, and once adopted it is
// persisted by the next Flush.
func NewLazyWith[T any](store kvstore.Store, prefix []byte, initial T, opts ...Option) (*Lazy[T], error) {
	l, err := NewLazy[T](store, prefix, opts...)
	if err != nil {
		return nil, err
	}
	l.def = &initial
	return l, nil
}

// Get returns the value, loading it on first access. A missing key is
// ErrValueNotPresent unless the cell was constructed with an initial value.
func (l *Lazy[T]) Get() (T, error) {
	var zero T
	entry, err := l.cell.load()
	if err != nil {
		return zero, err
	}
	v := entry.get()
	if v == nil {
		if l.def == nil {
			return zero, ErrValueNotPresent
		}
		d := *l.def
		entry.set(&d)
		return d, nil
	}
	return *v, nil
}

// Set replaces the value without reading the previous one.
func (l *Lazy[T]) Set(value T) {
	l.cell.set(&value)
}

// Flush writes the value through to storage if it was modified, else does
// nothing.
func (l *Lazy[T]) Flush() error {
	return l.cell.flush()
}

// LazyOption is a deferred cell whose value may be absent. Absence is
// always "key not present" in storage; bytes that fail to decode are
// ErrInconsistentState, never treated as absent.
type LazyOption[T any] struct {
	cell lazyCell[T]
}

func NewLazyOption[T any](store kvstore.Store, prefix []byte, opts ...Option) (*LazyOption[T], error) {
	cell, err := newLazyCell[T](store, prefix, opts...)
	if err != nil {
		return nil, err
	}
	return &LazyOption[T]{cell: cell}, nil
}

// Get returns the value and whether it is present, loading on first access.
func (l *LazyOption[T]) Get() (T, bool, error) {
	var zero T
	entry, err := l.cell.load()
	if err != nil {
		return zero, false, err
	}
	v := entry.get()
	if v == nil {
		return zero, false, nil
	}
	return *v, true, nil
}

// Has reports presence. When nothing is cached yet this asks the store
// directly, avoiding the value read a Get would pay.
func (l *LazyOption[T]) Has() (bool, error) {
	if l.cell.entry != nil {
		return l.cell.entry.get() != nil, nil
	}
	return l.cell.store.Has(l.cell.key)
}

// Set replaces the value without reading the previous one.
func (l *LazyOption[T]) Set(value T) {
	l.cell.set(&value)
}

// Clear marks the cell empty without reading the previous value.
func (l *LazyOption[T]) Clear() {
	l.cell.set(nil)
}

// Take returns the current value, leaving the cell empty.
func (l *LazyOption[T]) Take() (T, bool, error) {
	var zero T
	entry, err := l.cell.load()
	if err != nil {
		return zero, false, err
	}
	prev := entry.replace(nil)
	if prev == nil {
		return zero, false, nil
	}
	return *prev, true, nil
}

// Flush writes the value (or its removal) through to storage if modified.
func (l *LazyOption[T]) Flush() error {
	return l.cell.flush()
}
