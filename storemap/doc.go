// Package storemap provides typed container types over a point key-value
// store (the kvstore.Store contract): flat maps, iterable maps and sets,
// an ordered map, a growable vector, and deferred single-value cells.
//
/*

# Storemap containers

The backing store supports only read/write/remove/has on flat byte keys, and
charges real resource cost per call. The containers therefore obey three
rules everywhere:

 1. every logical key is derived into a storage key deterministically
    (see KeyScheme), namespaced by a caller-chosen byte prefix
 2. every storage slot touched within one logical call is cached, so repeated
    access costs one physical read, and mutations are written back in a
    single batch at Flush
 3. removal from the iterable containers goes through a stable-index layer
    (FreeList) so indices held by live cursors stay valid

## Container taxonomy

  - Map: flat key to value, no iteration. The cheapest map; everything else
    composes it.
  - Set: flat membership, no iteration; Map with an empty value type.
  - Vector: index addressed sequence, one storage slot per element plus one
    length slot.
  - FreeList: append-only slot arena with a free list threaded through
    vacated slots. Insertion returns a SlotIndex that stays valid until that
    slot is removed.
  - IndexedMap / IndexedSet: Map plus FreeList, giving map/set semantics
    with forward and backward iteration. The two halves are a bijection;
    see the invariant remarks on IndexedMap.
  - TreeMap: ordered map over an AVL tree whose nodes live in a FreeList and
    whose child links are slot indices, never pointers. Min/max, floor and
    ceiling, and ordered iteration in O(log n) storage round trips per step.
  - Lazy / LazyOption: one value under one fixed key, loaded on first access
    and written back at most once per flush.

## Prefixes

Callers own prefix uniqueness. Two containers constructed over the same
store with colliding prefixes silently corrupt each other; nothing in this
package detects that. Composite containers suffix the prefix they are given
with a single distinguishing byte per sub-component, so a caller only ever
reserves one prefix per container.

## Flush discipline

Mutations only touch the in-memory cache until Flush. If a logical call is
abandoned without flushing, storage is untouched; there are no partial
writes. Flush is not implicit: callers that want scope-guaranteed flushing
defer it.

*/
package storemap
