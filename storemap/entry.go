package storemap

// entryState tracks whether a cached slot still matches storage.
type entryState uint8

const (
	entryCached entryState = iota
	entryModified
)

// cacheEntry is one cached storage slot: the decoded value (nil when the key
// is logically absent) and a clean/dirty flag. A container never re-reads a
// storage key it already holds an entry for; all subsequent access within
// the call is served from here.
type cacheEntry[V any] struct {
	value *V
	state entryState
}

func newCached[V any](v *V) *cacheEntry[V] {
	return &cacheEntry[V]{value: v, state: entryCached}
}

func newModified[V any](v *V) *cacheEntry[V] {
	return &cacheEntry[V]{value: v, state: entryModified}
}

func (e *cacheEntry[V]) isModified() bool {
	return e.state == entryModified
}

// get returns the cached value without affecting the dirty state.
func (e *cacheEntry[V]) get() *V {
	return e.value
}

// set unconditionally installs v and marks the entry modified. Used by the
// blind-write paths (Set/Delete) that never load the previous value.
func (e *cacheEntry[V]) set(v *V) {
	e.value = v
	e.state = entryModified
}

// replace swaps in v and returns the previous value. The entry becomes
// modified if either the old or new value is present; replacing absent with
// absent is not a modification.
func (e *cacheEntry[V]) replace(v *V) *V {
	old := e.value
	e.value = v
	if old != nil || v != nil {
		e.state = entryModified
	}
	return old
}

// markFlushed records that the current value has reached storage.
func (e *cacheEntry[V]) markFlushed() {
	e.state = entryCached
}
