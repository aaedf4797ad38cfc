package storemap

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forestrie/go-storemap/kvstore"
)

// requireBalanced walks the whole tree checking the structural invariants:
// stored heights are correct, every node balance is within one, the in-order
// key sequence is strictly increasing, the node count matches Len and every
// tree key has a value behind it. It returns the in-order keys.
func requireBalanced(t *testing.T, tm *TreeMap[int, int]) []int {
	t.Helper()

	root, err := tm.loadRoot()
	require.NoError(t, err)

	var keys []int
	var walk func(id SlotIndex) uint32
	walk = func(id SlotIndex) uint32 {
		n, err := tm.node(id)
		require.NoError(t, err)
		var lht, rht uint32
		if n.Lft != nil {
			lht = walk(*n.Lft)
		}
		keys = append(keys, n.Key)
		if n.Rgt != nil {
			rht = walk(*n.Rgt)
		}
		require.Equal(t, 1+max(lht, rht), n.Ht, "stale height at key %d", n.Key)
		bal := int64(lht) - int64(rht)
		require.LessOrEqual(t, bal, int64(1), "left heavy at key %d", n.Key)
		require.GreaterOrEqual(t, bal, int64(-1), "right heavy at key %d", n.Key)
		ok, err := tm.Contains(n.Key)
		require.NoError(t, err)
		require.True(t, ok, "tree key %d has no value", n.Key)
		return n.Ht
	}
	if root != nil {
		walk(*root)
	}

	for i := 1; i < len(keys); i++ {
		require.Less(t, keys[i-1], keys[i])
	}
	l, err := tm.Len()
	require.NoError(t, err)
	require.Equal(t, uint32(len(keys)), l)
	return keys
}

func collectTree(t *testing.T, it *TreeMapIter[int, int]) ([]int, []int) {
	t.Helper()
	var keys, vals []int
	for it.Next() {
		keys = append(keys, it.Key())
		vals = append(vals, it.Value())
	}
	require.NoError(t, it.Err())
	return keys, vals
}

func TestTreeMapInsertOrdering(t *testing.T) {
	store := kvstore.NewMemStore()
	tm, err := NewTreeMap[int, int](store, testPrefix(t))
	require.NoError(t, err)

	for i, k := range []int{5, 1, 4, 1, 5, 9, 2, 6} {
		_, _, err = tm.Insert(k, i)
		require.NoError(t, err)
		requireBalanced(t, tm)
	}

	keys, vals := collectTree(t, tm.Iter())
	assert.Equal(t, []int{1, 2, 4, 5, 6, 9}, keys)
	// Re-inserting overwrote: 1 last got index 3, 5 last got index 4.
	assert.Equal(t, []int{3, 6, 2, 4, 7, 5}, vals)

	keys, _ = collectTree(t, tm.Backward())
	assert.Equal(t, []int{9, 6, 5, 4, 2, 1}, keys)
}

func TestTreeMapAscendingInsertStaysShallow(t *testing.T) {
	store := kvstore.NewMemStore()
	tm, err := NewTreeMap[int, int](store, testPrefix(t))
	require.NoError(t, err)

	for k := 1; k <= 100; k++ {
		_, _, err = tm.Insert(k, k)
		require.NoError(t, err)
	}
	requireBalanced(t, tm)

	root, err := tm.loadRoot()
	require.NoError(t, err)
	require.NotNil(t, root)
	n, err := tm.node(*root)
	require.NoError(t, err)
	// A degenerate chain would be 100 deep; AVL keeps 100 keys within 10.
	assert.LessOrEqual(t, n.Ht, uint32(10))
}

func TestTreeMapRemoveShapes(t *testing.T) {
	store := kvstore.NewMemStore()
	tm, err := NewTreeMap[int, int](store, testPrefix(t))
	require.NoError(t, err)

	for _, k := range []int{8, 4, 12, 2, 6, 10, 14, 1} {
		_, _, err = tm.Insert(k, k*10)
		require.NoError(t, err)
	}

	// Leaf.
	prev, had, err := tm.Remove(1)
	require.NoError(t, err)
	require.True(t, had)
	assert.Equal(t, 10, prev)
	requireBalanced(t, tm)

	// Interior node with children.
	_, had, err = tm.Remove(4)
	require.NoError(t, err)
	require.True(t, had)
	requireBalanced(t, tm)

	// Root.
	_, had, err = tm.Remove(8)
	require.NoError(t, err)
	require.True(t, had)
	keys := requireBalanced(t, tm)
	assert.Equal(t, []int{2, 6, 10, 12, 14}, keys)

	// Absent key: no change, no error.
	_, had, err = tm.Remove(99)
	require.NoError(t, err)
	assert.False(t, had)

	// Down to empty and back.
	for _, k := range []int{2, 6, 10, 12, 14} {
		_, had, err = tm.Remove(k)
		require.NoError(t, err)
		require.True(t, had)
		requireBalanced(t, tm)
	}
	_, ok, err := tm.Min()
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = tm.Insert(7, 70)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, requireBalanced(t, tm))
}

func TestTreeMapRemoveRebalancesPivot(t *testing.T) {
	store := kvstore.NewMemStore()

	// Removing the only left leaf leaves the old root right heavy by two;
	// the backtrack must rotate at the removed leaf's parent itself.
	tm, err := NewTreeMap[int, int](store, testPrefix(t))
	require.NoError(t, err)
	for _, k := range []int{10, 5, 20, 15} {
		_, _, err = tm.Insert(k, k)
		require.NoError(t, err)
	}
	_, had, err := tm.Remove(5)
	require.NoError(t, err)
	require.True(t, had)
	assert.Equal(t, []int{10, 15, 20}, requireBalanced(t, tm))

	// Mirror shape, needing the double rotation.
	tm, err = NewTreeMap[int, int](store, testPrefix(t))
	require.NoError(t, err)
	for _, k := range []int{10, 5, 20, 8} {
		_, _, err = tm.Insert(k, k)
		require.NoError(t, err)
	}
	_, had, err = tm.Remove(20)
	require.NoError(t, err)
	require.True(t, had)
	assert.Equal(t, []int{5, 8, 10}, requireBalanced(t, tm))
}

func TestTreeMapChurn(t *testing.T) {
	store := kvstore.NewMemStore()
	prefix := testPrefix(t)

	tm, err := NewTreeMap[int, int](store, prefix)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	mirror := map[int]int{}
	for i := 0; i < 600; i++ {
		k := rng.Intn(120)
		if rng.Intn(3) == 0 {
			delete(mirror, k)
			_, _, err = tm.Remove(k)
			require.NoError(t, err)
		} else {
			mirror[k] = i
			_, _, err = tm.Insert(k, i)
			require.NoError(t, err)
		}
	}
	require.NoError(t, tm.Flush())

	var want []int
	for k := range mirror {
		want = append(want, k)
	}
	sort.Ints(want)

	// Fresh instance over the flushed state matches the mirror exactly.
	tm2, err := NewTreeMap[int, int](store, prefix)
	require.NoError(t, err)
	keys, vals := collectTree(t, tm2.Iter())
	require.Equal(t, want, keys)
	for i, k := range keys {
		require.Equal(t, mirror[k], vals[i])
	}
	requireBalanced(t, tm2)
}

func TestTreeMapNeighbours(t *testing.T) {
	store := kvstore.NewMemStore()
	tm, err := NewTreeMap[int, int](store, testPrefix(t))
	require.NoError(t, err)

	for _, k := range []int{10, 20, 30, 40} {
		_, _, err = tm.Insert(k, k)
		require.NoError(t, err)
	}

	k, ok, err := tm.Min()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10, k)

	k, ok, err = tm.Max()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 40, k)

	k, ok, err = tm.Higher(10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 20, k)

	_, ok, err = tm.Higher(40)
	require.NoError(t, err)
	assert.False(t, ok)

	k, ok, err = tm.Lower(40)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 30, k)

	_, ok, err = tm.Lower(10)
	require.NoError(t, err)
	assert.False(t, ok)

	// Floor and Ceiling admit equality, Higher and Lower do not.
	k, ok, err = tm.Floor(20)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 20, k)

	k, ok, err = tm.Floor(25)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 20, k)

	k, ok, err = tm.Ceiling(25)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 30, k)

	_, ok, err = tm.Ceiling(45)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = tm.Floor(5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTreeMapRange(t *testing.T) {
	store := kvstore.NewMemStore()
	tm, err := NewTreeMap[int, int](store, testPrefix(t))
	require.NoError(t, err)

	for k := 1; k <= 10; k++ {
		_, _, err = tm.Insert(k, k)
		require.NoError(t, err)
	}

	keys, _ := collectTree(t, tm.Range(3, 7))
	assert.Equal(t, []int{3, 4, 5, 6}, keys)

	keys, _ = collectTree(t, tm.RangeBackward(3, 7))
	assert.Equal(t, []int{6, 5, 4, 3}, keys)

	// Bounds need not be members.
	keys, _ = collectTree(t, tm.Range(0, 100))
	assert.Len(t, keys, 10)

	keys, _ = collectTree(t, tm.Range(11, 100))
	assert.Empty(t, keys)

	keys, _ = collectTree(t, tm.Range(7, 7))
	assert.Empty(t, keys)
}

func TestTreeMapGetIsFlat(t *testing.T) {
	store := kvstore.NewMemStore()
	prefix := testPrefix(t)

	tm, err := NewTreeMap[int, int](store, prefix)
	require.NoError(t, err)
	for k := 1; k <= 50; k++ {
		_, _, err = tm.Insert(k, k)
		require.NoError(t, err)
	}
	require.NoError(t, tm.Flush())

	// Point lookups never touch the node arena.
	tm2, err := NewTreeMap[int, int](store, prefix)
	require.NoError(t, err)
	store.ResetOps()
	got, ok, err := tm2.Get(25)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 25, got)
	assert.Equal(t, 1, store.Ops.Reads)
}

func TestTreeMapClear(t *testing.T) {
	store := kvstore.NewMemStore()
	prefix := testPrefix(t)

	tm, err := NewTreeMap[int, int](store, prefix)
	require.NoError(t, err)
	for k := 1; k <= 20; k++ {
		_, _, err = tm.Insert(k, k)
		require.NoError(t, err)
	}
	require.NoError(t, tm.Flush())

	require.NoError(t, tm.Clear())
	require.NoError(t, tm.Flush())

	l, err := tm.Len()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), l)

	tm2, err := NewTreeMap[int, int](store, prefix)
	require.NoError(t, err)
	keys, _ := collectTree(t, tm2.Iter())
	assert.Empty(t, keys)
	ok, err := tm2.Contains(7)
	require.NoError(t, err)
	assert.False(t, ok)
}
