package storemap

import (
	"cmp"

	"github.com/datatrails/go-datatrails-common/cbor"

	"github.com/forestrie/go-storemap/kvstore"
)

// treeNode is one node of the balance tree: the key plus child links and
// height. Values live in the flat value map, not in the node, so rebalancing
// never rewrites a value.
type treeNode[K cmp.Ordered] struct {
	Key K
	Lft *SlotIndex
	Rgt *SlotIndex
	Ht  uint32
}

func newTreeNode[K cmp.Ordered](key K) treeNode[K] {
	return treeNode[K]{Key: key, Ht: 1}
}

// treeRootRecord is the persisted root pointer, nil when the tree is empty.
type treeRootRecord struct {
	Root *SlotIndex
}

// nodeRef pairs a node with its slot index for traversal bookkeeping.
type nodeRef[K cmp.Ordered] struct {
	id   SlotIndex
	node treeNode[K]
}

type treeEdge uint8

const (
	edgeLeft treeEdge = iota
	edgeRight
)

// TreeMap is the ordered map: an AVL tree of keys layered over a flat value
// map. Lookups cost the same as Map lookups; ordered operations (min, max,
// neighbours, range iteration) cost O(log n) storage round trips through the
// node arena, and the per-container cache means each node is read at most
// once per logical operation batch.
//
// Nodes live in a FreeList so tree surgery reuses slots, and the root index
// is persisted separately so an empty tree stores nothing but its metadata.
type TreeMap[K cmp.Ordered, V any] struct {
	store   kvstore.Store
	codec   *cbor.CBORCodec
	rootKey []byte
	values  *Map[K, V]
	nodes   *FreeList[treeNode[K]]

	root       *SlotIndex
	rootLoaded bool
	rootDirty  bool
}

func NewTreeMap[K cmp.Ordered, V any](store kvstore.Store, prefix []byte, opts ...Option) (*TreeMap[K, V], error) {
	o, err := resolveOptions(SchemeSHA256, opts...)
	if err != nil {
		return nil, err
	}
	values, err := NewMap[K, V](store, subPrefix(prefix, subTreeValues),
		WithCodec(o.codec), WithKeyScheme(o.scheme))
	if err != nil {
		return nil, err
	}
	nodes, err := NewFreeList[treeNode[K]](store, subPrefix(prefix, subTreeNodes), WithCodec(o.codec))
	if err != nil {
		return nil, err
	}
	return &TreeMap[K, V]{
		store:   store,
		codec:   o.codec,
		rootKey: subPrefix(prefix, subTreeRoot),
		values:  values,
		nodes:   nodes,
	}, nil
}

func (t *TreeMap[K, V]) loadRoot() (*SlotIndex, error) {
	if t.rootLoaded {
		return t.root, nil
	}
	raw, present, err := t.store.Read(t.rootKey)
	if err != nil {
		return nil, err
	}
	if present {
		var rec treeRootRecord
		if err = t.codec.UnmarshalInto(raw, &rec); err != nil {
			return nil, decodeErr(err)
		}
		t.root = rec.Root
	}
	t.rootLoaded = true
	return t.root, nil
}

func (t *TreeMap[K, V]) setRoot(r *SlotIndex) {
	t.root = r
	t.rootLoaded = true
	t.rootDirty = true
}

// node loads a node that must exist; a dangling link is corrupt state.
func (t *TreeMap[K, V]) node(id SlotIndex) (treeNode[K], error) {
	n, ok, err := t.nodes.Get(id)
	if err != nil {
		return n, err
	}
	if !ok {
		return n, ErrInconsistentState
	}
	return n, nil
}

func (t *TreeMap[K, V]) writeNode(id SlotIndex, n treeNode[K]) error {
	_, ok, err := t.nodes.Replace(id, n)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInconsistentState
	}
	return nil
}

func (t *TreeMap[K, V]) height(id *SlotIndex) (uint32, error) {
	if id == nil {
		return 0, nil
	}
	n, ok, err := t.nodes.Get(*id)
	if err != nil || !ok {
		return 0, err
	}
	return n.Ht, nil
}

// updateHeight recomputes n's height from its children and writes it back.
func (t *TreeMap[K, V]) updateHeight(n *treeNode[K], id SlotIndex) error {
	lht, err := t.height(n.Lft)
	if err != nil {
		return err
	}
	rht, err := t.height(n.Rgt)
	if err != nil {
		return err
	}
	n.Ht = 1 + max(lht, rht)
	return t.writeNode(id, *n)
}

// balanceOf is left height minus right height; positive means left-heavy.
func (t *TreeMap[K, V]) balanceOf(n *treeNode[K]) (int64, error) {
	lht, err := t.height(n.Lft)
	if err != nil {
		return 0, err
	}
	rht, err := t.height(n.Rgt)
	if err != nil {
		return 0, err
	}
	return int64(lht) - int64(rht), nil
}

// rotateLeft promotes n's left child to take n's place, returning the new
// subtree root.
func (t *TreeMap[K, V]) rotateLeft(n *treeNode[K], id SlotIndex) (SlotIndex, error) {
	lftID := *n.Lft
	lft, err := t.node(lftID)
	if err != nil {
		return 0, err
	}
	n.Lft = lft.Rgt
	lft.Rgt = &id
	if err = t.updateHeight(n, id); err != nil {
		return 0, err
	}
	if err = t.updateHeight(&lft, lftID); err != nil {
		return 0, err
	}
	return lftID, nil
}

// rotateRight promotes n's right child to take n's place.
func (t *TreeMap[K, V]) rotateRight(n *treeNode[K], id SlotIndex) (SlotIndex, error) {
	rgtID := *n.Rgt
	rgt, err := t.node(rgtID)
	if err != nil {
		return 0, err
	}
	n.Rgt = rgt.Lft
	rgt.Lft = &id
	if err = t.updateHeight(n, id); err != nil {
		return 0, err
	}
	if err = t.updateHeight(&rgt, rgtID); err != nil {
		return 0, err
	}
	return rgtID, nil
}

// rebalance restores the AVL invariant at n, performing at most two
// rotations, and returns the index now rooting the subtree. n must have an
// up to date height.
func (t *TreeMap[K, V]) rebalance(n *treeNode[K], id SlotIndex) (SlotIndex, error) {
	b, err := t.balanceOf(n)
	if err != nil {
		return 0, err
	}
	switch {
	case b > 1:
		lftID := *n.Lft
		lft, err := t.node(lftID)
		if err != nil {
			return 0, err
		}
		lb, err := t.balanceOf(&lft)
		if err != nil {
			return 0, err
		}
		if lb < 0 {
			rotated, err := t.rotateRight(&lft, lftID)
			if err != nil {
				return 0, err
			}
			n.Lft = &rotated
		}
		return t.rotateLeft(n, id)
	case b < -1:
		rgtID := *n.Rgt
		rgt, err := t.node(rgtID)
		if err != nil {
			return 0, err
		}
		rb, err := t.balanceOf(&rgt)
		if err != nil {
			return 0, err
		}
		if rb > 0 {
			rotated, err := t.rotateLeft(&rgt, rgtID)
			if err != nil {
				return 0, err
			}
			n.Rgt = &rotated
		}
		return t.rotateRight(n, id)
	default:
		return id, nil
	}
}

// insertAt descends to the insertion point for key and rebalances on the way
// back up, returning the index now rooting this subtree. The caller
// guarantees key is not already in the tree.
func (t *TreeMap[K, V]) insertAt(n treeNode[K], id SlotIndex, key K) (SlotIndex, error) {
	if key == n.Key {
		return id, nil
	}
	if key < n.Key {
		if n.Lft != nil {
			child, err := t.node(*n.Lft)
			if err != nil {
				return 0, err
			}
			idx, err := t.insertAt(child, *n.Lft, key)
			if err != nil {
				return 0, err
			}
			n.Lft = &idx
		} else {
			idx, err := t.nodes.Insert(newTreeNode(key))
			if err != nil {
				return 0, err
			}
			n.Lft = &idx
		}
	} else {
		if n.Rgt != nil {
			child, err := t.node(*n.Rgt)
			if err != nil {
				return 0, err
			}
			idx, err := t.insertAt(child, *n.Rgt, key)
			if err != nil {
				return 0, err
			}
			n.Rgt = &idx
		} else {
			idx, err := t.nodes.Insert(newTreeNode(key))
			if err != nil {
				return 0, err
			}
			n.Rgt = &idx
		}
	}
	if err := t.updateHeight(&n, id); err != nil {
		return 0, err
	}
	return t.rebalance(&n, id)
}

// checkBalance re-walks the path from at towards key, refreshing heights and
// rebalancing bottom-up after a removal disturbed the subtree containing key.
func (t *TreeMap[K, V]) checkBalance(at SlotIndex, key K) (SlotIndex, error) {
	n, ok, err := t.nodes.Get(at)
	if err != nil {
		return 0, err
	}
	if !ok {
		return at, nil
	}
	// Key equality ends the descent but the pivot node itself still gets
	// its height refreshed and its balance enforced; after a removal it is
	// the node most likely to need the rotation.
	if key != n.Key {
		if key < n.Key {
			if n.Lft != nil {
				id, err := t.checkBalance(*n.Lft, key)
				if err != nil {
					return 0, err
				}
				n.Lft = &id
			}
		} else {
			if n.Rgt != nil {
				id, err := t.checkBalance(*n.Rgt, key)
				if err != nil {
					return 0, err
				}
				n.Rgt = &id
			}
		}
	}
	if err = t.updateHeight(&n, at); err != nil {
		return 0, err
	}
	return t.rebalance(&n, at)
}

// maxAt walks to the rightmost node of the subtree at, returning it and its
// parent within the subtree (nil when the subtree root is the maximum).
func (t *TreeMap[K, V]) maxAt(at SlotIndex) (nodeRef[K], *nodeRef[K], error) {
	var parent *nodeRef[K]
	for {
		n, err := t.node(at)
		if err != nil {
			return nodeRef[K]{}, nil, err
		}
		if n.Rgt == nil {
			return nodeRef[K]{id: at, node: n}, parent, nil
		}
		parent = &nodeRef[K]{id: at, node: n}
		at = *n.Rgt
	}
}

// minAt is the mirror of maxAt.
func (t *TreeMap[K, V]) minAt(at SlotIndex) (nodeRef[K], *nodeRef[K], error) {
	var parent *nodeRef[K]
	for {
		n, err := t.node(at)
		if err != nil {
			return nodeRef[K]{}, nil, err
		}
		if n.Lft == nil {
			return nodeRef[K]{id: at, node: n}, parent, nil
		}
		parent = &nodeRef[K]{id: at, node: n}
		at = *n.Lft
	}
}

// lookupAt finds the node holding key under root, along with its parent and
// which edge of the parent it hangs from.
func (t *TreeMap[K, V]) lookupAt(root SlotIndex, key K) (nodeRef[K], *nodeRef[K], treeEdge, bool, error) {
	at := root
	var parent *nodeRef[K]
	var edge treeEdge
	for {
		n, ok, err := t.nodes.Get(at)
		if err != nil {
			return nodeRef[K]{}, nil, 0, false, err
		}
		if !ok {
			return nodeRef[K]{}, nil, 0, false, nil
		}
		if key == n.Key {
			return nodeRef[K]{id: at, node: n}, parent, edge, true, nil
		}
		if key < n.Key {
			if n.Lft == nil {
				return nodeRef[K]{}, nil, 0, false, nil
			}
			parent = &nodeRef[K]{id: at, node: n}
			edge = edgeLeft
			at = *n.Lft
		} else {
			if n.Rgt == nil {
				return nodeRef[K]{}, nil, 0, false, nil
			}
			parent = &nodeRef[K]{id: at, node: n}
			edge = edgeRight
			at = *n.Rgt
		}
	}
}

func (t *TreeMap[K, V]) insertKey(key K) error {
	root, err := t.loadRoot()
	if err != nil {
		return err
	}
	if root == nil {
		id, err := t.nodes.Insert(newTreeNode(key))
		if err != nil {
			return err
		}
		t.setRoot(&id)
		return nil
	}
	n, err := t.node(*root)
	if err != nil {
		return err
	}
	newRoot, err := t.insertAt(n, *root, key)
	if err != nil {
		return err
	}
	t.setRoot(&newRoot)
	return nil
}

// removeKey detaches key from the tree. Leaf nodes are unlinked directly;
// interior nodes take the key of their in-order neighbour on the heavier
// side, and that neighbour's node is the one physically removed.
func (t *TreeMap[K, V]) removeKey(key K) error {
	root, err := t.loadRoot()
	if err != nil || root == nil {
		return err
	}
	target, parent, edge, found, err := t.lookupAt(*root, key)
	if err != nil || !found {
		return err
	}

	if target.node.Lft == nil && target.node.Rgt == nil {
		if parent != nil {
			if edge == edgeRight {
				parent.node.Rgt = nil
			} else {
				parent.node.Lft = nil
			}
			if err = t.updateHeight(&parent.node, parent.id); err != nil {
				return err
			}
			newRoot, err := t.checkBalance(*root, parent.node.Key)
			if err != nil {
				return err
			}
			t.setRoot(&newRoot)
		}
		if _, _, err = t.nodes.Remove(target.id); err != nil {
			return err
		}
		if r, err := t.loadRoot(); err != nil {
			return err
		} else if r != nil && *r == target.id {
			t.setRoot(nil)
		}
		return nil
	}

	b, err := t.balanceOf(&target.node)
	if err != nil {
		return err
	}
	var pivot K
	if b >= 0 {
		// Substitute the max of the left subtree. It has no right child, so
		// its left child is reattached where it hung.
		sub, sparent, err := t.maxAt(*target.node.Lft)
		if err != nil {
			return err
		}
		removed, ok, err := t.nodes.Remove(sub.id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInconsistentState
		}
		target.node.Key = removed.Key
		if sparent != nil {
			sparent.node.Rgt = removed.Lft
			if err = t.updateHeight(&sparent.node, sparent.id); err != nil {
				return err
			}
			if err = t.writeNode(target.id, target.node); err != nil {
				return err
			}
			pivot = sparent.node.Key
		} else {
			target.node.Lft = removed.Lft
			if err = t.updateHeight(&target.node, target.id); err != nil {
				return err
			}
			pivot = target.node.Key
		}
	} else {
		// Mirror case: substitute the min of the right subtree.
		sub, sparent, err := t.minAt(*target.node.Rgt)
		if err != nil {
			return err
		}
		removed, ok, err := t.nodes.Remove(sub.id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInconsistentState
		}
		target.node.Key = removed.Key
		if sparent != nil {
			sparent.node.Lft = removed.Rgt
			if err = t.updateHeight(&sparent.node, sparent.id); err != nil {
				return err
			}
			if err = t.writeNode(target.id, target.node); err != nil {
				return err
			}
			pivot = sparent.node.Key
		} else {
			target.node.Rgt = removed.Rgt
			if err = t.updateHeight(&target.node, target.id); err != nil {
				return err
			}
			pivot = target.node.Key
		}
	}
	newRoot, err := t.checkBalance(*root, pivot)
	if err != nil {
		return err
	}
	t.setRoot(&newRoot)
	return nil
}

// Len returns the number of keys.
func (t *TreeMap[K, V]) Len() (uint32, error) {
	return t.nodes.Len()
}

// Get returns the value for key, if present. Ordering machinery is not
// touched; this is a flat map lookup.
func (t *TreeMap[K, V]) Get(key K) (V, bool, error) {
	return t.values.Get(key)
}

// Contains reports whether key is present without decoding its value.
func (t *TreeMap[K, V]) Contains(key K) (bool, error) {
	return t.values.Contains(key)
}

// Insert writes key to value and returns the previous value, if any. The
// tree is only touched when the key is new.
func (t *TreeMap[K, V]) Insert(key K, value V) (V, bool, error) {
	var zero V
	had, err := t.values.Contains(key)
	if err != nil {
		return zero, false, err
	}
	if !had {
		if err = t.insertKey(key); err != nil {
			return zero, false, err
		}
	}
	return t.values.Insert(key, value)
}

// Remove deletes key and returns the previous value, if any.
func (t *TreeMap[K, V]) Remove(key K) (V, bool, error) {
	var zero V
	prev, had, err := t.values.Remove(key)
	if err != nil || !had {
		return zero, false, err
	}
	if err = t.removeKey(key); err != nil {
		return zero, false, err
	}
	return prev, true, nil
}

// Min returns the smallest key.
func (t *TreeMap[K, V]) Min() (K, bool, error) {
	var zero K
	root, err := t.loadRoot()
	if err != nil || root == nil {
		return zero, false, err
	}
	ref, _, err := t.minAt(*root)
	if err != nil {
		return zero, false, err
	}
	return ref.node.Key, true, nil
}

// Max returns the largest key.
func (t *TreeMap[K, V]) Max() (K, bool, error) {
	var zero K
	root, err := t.loadRoot()
	if err != nil || root == nil {
		return zero, false, err
	}
	ref, _, err := t.maxAt(*root)
	if err != nil {
		return zero, false, err
	}
	return ref.node.Key, true, nil
}

// Higher returns the smallest key strictly greater than key.
func (t *TreeMap[K, V]) Higher(key K) (K, bool, error) {
	var zero K
	root, err := t.loadRoot()
	if err != nil || root == nil {
		return zero, false, err
	}
	var seen *K
	at := root
	for at != nil {
		n, err := t.node(*at)
		if err != nil {
			return zero, false, err
		}
		if key < n.Key {
			k := n.Key
			seen = &k
			at = n.Lft
		} else {
			at = n.Rgt
		}
	}
	if seen == nil {
		return zero, false, nil
	}
	return *seen, true, nil
}

// Lower returns the largest key strictly less than key.
func (t *TreeMap[K, V]) Lower(key K) (K, bool, error) {
	var zero K
	root, err := t.loadRoot()
	if err != nil || root == nil {
		return zero, false, err
	}
	var seen *K
	at := root
	for at != nil {
		n, err := t.node(*at)
		if err != nil {
			return zero, false, err
		}
		if key > n.Key {
			k := n.Key
			seen = &k
			at = n.Rgt
		} else {
			at = n.Lft
		}
	}
	if seen == nil {
		return zero, false, nil
	}
	return *seen, true, nil
}

// Floor returns the largest key less than or equal to key.
func (t *TreeMap[K, V]) Floor(key K) (K, bool, error) {
	var zero K
	has, err := t.Contains(key)
	if err != nil {
		return zero, false, err
	}
	if has {
		return key, true, nil
	}
	return t.Lower(key)
}

// Ceiling returns the smallest key greater than or equal to key.
func (t *TreeMap[K, V]) Ceiling(key K) (K, bool, error) {
	var zero K
	has, err := t.Contains(key)
	if err != nil {
		return zero, false, err
	}
	if has {
		return key, true, nil
	}
	return t.Higher(key)
}

// Clear removes every entry: values, nodes and the root pointer.
func (t *TreeMap[K, V]) Clear() error {
	it := t.nodes.Iter()
	for it.Next() {
		if err := t.values.Delete(it.Value().Key); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	if err := t.nodes.Clear(); err != nil {
		return err
	}
	t.setRoot(nil)
	return nil
}

// Flush writes back values, nodes and, if changed, the root pointer.
func (t *TreeMap[K, V]) Flush() error {
	if err := t.values.Flush(); err != nil {
		return err
	}
	if err := t.nodes.Flush(); err != nil {
		return err
	}
	if !t.rootDirty {
		return nil
	}
	raw, err := t.codec.MarshalCBOR(treeRootRecord{Root: t.root})
	if err != nil {
		return err
	}
	if err = t.store.Write(t.rootKey, raw); err != nil {
		return err
	}
	t.rootDirty = false
	return nil
}

// Iter returns a forward (ascending) cursor over all entries.
func (t *TreeMap[K, V]) Iter() *TreeMapIter[K, V] {
	return &TreeMapIter[K, V]{t: t, forward: true}
}

// Backward returns a descending cursor over all entries.
func (t *TreeMap[K, V]) Backward() *TreeMapIter[K, V] {
	return &TreeMapIter[K, V]{t: t}
}

// Range returns an ascending cursor over keys in the half-open interval
// [lo, hi).
func (t *TreeMap[K, V]) Range(lo, hi K) *TreeMapIter[K, V] {
	return &TreeMapIter[K, V]{t: t, forward: true, lo: &lo, hi: &hi}
}

// RangeBackward returns a descending cursor over [lo, hi).
func (t *TreeMap[K, V]) RangeBackward(lo, hi K) *TreeMapIter[K, V] {
	return &TreeMapIter[K, V]{t: t, lo: &lo, hi: &hi}
}

// TreeMapIter is an in-order cursor over TreeMap entries. It holds an
// explicit descent stack so a full traversal reads each node once.
//
// Mutating the tree while a cursor is live invalidates the cursor.
type TreeMapIter[K cmp.Ordered, V any] struct {
	t       *TreeMap[K, V]
	forward bool
	lo, hi  *K
	started bool
	stack   []nodeRef[K]
	key     K
	val     V
	err     error
	done    bool
}

// push descends the spine of the subtree at, pruning subtrees that fall
// wholly outside the bounds.
func (it *TreeMapIter[K, V]) push(at SlotIndex) error {
	for {
		n, err := it.t.node(at)
		if err != nil {
			return err
		}
		if it.forward {
			if it.lo != nil && n.Key < *it.lo {
				if n.Rgt == nil {
					return nil
				}
				at = *n.Rgt
				continue
			}
			it.stack = append(it.stack, nodeRef[K]{id: at, node: n})
			if n.Lft == nil {
				return nil
			}
			at = *n.Lft
		} else {
			if it.hi != nil && n.Key >= *it.hi {
				if n.Lft == nil {
					return nil
				}
				at = *n.Lft
				continue
			}
			it.stack = append(it.stack, nodeRef[K]{id: at, node: n})
			if n.Rgt == nil {
				return nil
			}
			at = *n.Rgt
		}
	}
}

func (it *TreeMapIter[K, V]) fail(err error) bool {
	it.err = err
	it.done = true
	return false
}

func (it *TreeMapIter[K, V]) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	if !it.started {
		it.started = true
		root, err := it.t.loadRoot()
		if err != nil {
			return it.fail(err)
		}
		if root != nil {
			if err = it.push(*root); err != nil {
				return it.fail(err)
			}
		}
	}
	if len(it.stack) == 0 {
		it.done = true
		return false
	}
	top := it.stack[len(it.stack)-1]
	it.stack = it.stack[:len(it.stack)-1]
	if it.forward {
		if top.node.Rgt != nil {
			if err := it.push(*top.node.Rgt); err != nil {
				return it.fail(err)
			}
		}
		if it.hi != nil && top.node.Key >= *it.hi {
			it.done = true
			return false
		}
	} else {
		if top.node.Lft != nil {
			if err := it.push(*top.node.Lft); err != nil {
				return it.fail(err)
			}
		}
		if it.lo != nil && top.node.Key < *it.lo {
			it.done = true
			return false
		}
	}
	val, ok, err := it.t.values.Get(top.node.Key)
	if err != nil {
		return it.fail(err)
	}
	if !ok {
		// A tree key with no value behind it.
		return it.fail(ErrInconsistentState)
	}
	it.key = top.node.Key
	it.val = val
	return true
}

func (it *TreeMapIter[K, V]) Key() K     { return it.key }
func (it *TreeMapIter[K, V]) Value() V   { return it.val }
func (it *TreeMapIter[K, V]) Err() error { return it.err }
