package storemap

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/forestrie/go-storemap/kvstore"
)

type lazyState struct {
	Counter uint64
	Label   string
}

func TestLazyAbsent(t *testing.T) {
	store := kvstore.NewMemStore()
	l, err := NewLazy[lazyState](store, testPrefix(t))
	assert.NilError(t, err)

	_, err = l.Get()
	assert.ErrorIs(t, err, ErrValueNotPresent)
}

func TestLazyWithInitialValue(t *testing.T) {
	store := kvstore.NewMemStore()
	prefix := testPrefix(t)

	l, err := NewLazyWith(store, prefix, lazyState{Counter: 1, Label: "init"})
	assert.NilError(t, err)

	// Nothing stored: the initial value is adopted and persisted at flush.
	got, err := l.Get()
	assert.NilError(t, err)
	assert.Equal(t, "init", got.Label)
	assert.NilError(t, l.Flush())
	assert.Equal(t, 1, store.Ops.Writes)

	// Something stored: the initial value is ignored.
	l2, err := NewLazyWith(store, prefix, lazyState{Label: "other"})
	assert.NilError(t, err)
	got, err = l2.Get()
	assert.NilError(t, err)
	assert.Equal(t, "init", got.Label)
}

func TestLazySetFlushGet(t *testing.T) {
	store := kvstore.NewMemStore()
	prefix := testPrefix(t)

	l, err := NewLazy[lazyState](store, prefix)
	assert.NilError(t, err)
	l.Set(lazyState{Counter: 3, Label: "x"})

	// Set touches nothing physical until Flush.
	assert.Equal(t, 0, store.Ops.Total())
	assert.NilError(t, l.Flush())
	assert.Equal(t, 1, store.Ops.Writes)

	// An unmodified cell flushes to nothing.
	store.ResetOps()
	assert.NilError(t, l.Flush())
	assert.Equal(t, 0, store.Ops.Total())

	l2, err := NewLazy[lazyState](store, prefix)
	assert.NilError(t, err)
	store.ResetOps()
	for i := 0; i < 3; i++ {
		got, err := l2.Get()
		assert.NilError(t, err)
		assert.Equal(t, uint64(3), got.Counter)
	}
	// The value is loaded exactly once.
	assert.Equal(t, 1, store.Ops.Reads)
}

func TestLazyOptionLifecycle(t *testing.T) {
	store := kvstore.NewMemStore()
	prefix := testPrefix(t)

	l, err := NewLazyOption[string](store, prefix)
	assert.NilError(t, err)

	_, ok, err := l.Get()
	assert.NilError(t, err)
	assert.Assert(t, !ok)

	l.Set("hello")
	got, ok, err := l.Get()
	assert.NilError(t, err)
	assert.Assert(t, ok)
	assert.Equal(t, "hello", got)
	assert.NilError(t, l.Flush())

	// Take empties the cell and the removal reaches storage on flush.
	l2, err := NewLazyOption[string](store, prefix)
	assert.NilError(t, err)
	got, ok, err = l2.Take()
	assert.NilError(t, err)
	assert.Assert(t, ok)
	assert.Equal(t, "hello", got)

	_, ok, err = l2.Get()
	assert.NilError(t, err)
	assert.Assert(t, !ok)

	store.ResetOps()
	assert.NilError(t, l2.Flush())
	assert.Equal(t, 1, store.Ops.Removes)
	assert.Equal(t, 0, store.Len())
}

func TestLazyOptionHasFastPath(t *testing.T) {
	store := kvstore.NewMemStore()
	prefix := testPrefix(t)

	l, err := NewLazyOption[lazyState](store, prefix)
	assert.NilError(t, err)
	l.Set(lazyState{Counter: 1})
	assert.NilError(t, l.Flush())

	l2, err := NewLazyOption[lazyState](store, prefix)
	assert.NilError(t, err)
	store.ResetOps()

	// Presence checks on a cold cell go through Has, not Read.
	ok, err := l2.Has()
	assert.NilError(t, err)
	assert.Assert(t, ok)
	assert.Equal(t, 1, store.Ops.Has)
	assert.Equal(t, 0, store.Ops.Reads)
}

func TestLazyOptionClear(t *testing.T) {
	store := kvstore.NewMemStore()
	l, err := NewLazyOption[string](store, testPrefix(t))
	assert.NilError(t, err)

	l.Set("v")
	l.Clear()
	_, ok, err := l.Get()
	assert.NilError(t, err)
	assert.Assert(t, !ok)
}
