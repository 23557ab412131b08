package hashmap

import (
	"sync/atomic"

	"lockfreemap/pkg/ebr"
)

// find locates the first node at or after a given sort key, starting from
// head (which may be the global head sentinel or a bucket's dummy, to keep
// traversal scoped to one bucket's run). It returns a pointer to the
// next-field slot that references the result, so callers can CAS a new
// node into place or unlink the result without a second traversal.
//
// Any logically marked node encountered along the way is physically
// unlinked and retired via the reclamation core as a side effect. A failed
// unlink CAS means another thread changed the same link first, so the
// whole traversal restarts from head rather than trying to patch up
// locally — mirroring the Harris algorithm's restart-on-contention rule.
//
// find must be called from within an EBR critical section: it dereferences
// nodes reachable from head, which EBR's Enter/Exit pair is what makes safe.
func find(mgr *ebr.Manager, slot int, head *node, soKey uint64) (*atomic.Pointer[node], *node) {
restart:
	prev := &head.next
	curr := prev.Load()
	for curr != nil {
		next := curr.next.Load()
		if curr.marked.Load() {
			if !prev.CompareAndSwap(curr, next) {
				goto restart
			}
			mgr.Retire(slot, curr)
			curr = next
			continue
		}
		if curr.soKey >= soKey {
			return prev, curr
		}
		prev = &curr.next
		curr = next
	}
	return prev, nil
}

// listInsertDummy inserts a bucket sentinel after head, or returns the
// sentinel another thread already installed at the same sort key. Losing
// the race is benign: both contenders wanted the same logical dummy.
func listInsertDummy(mgr *ebr.Manager, slot int, head *node, soKey uint64) *node {
	dummy := newDummyNode(soKey)
	for {
		prev, curr := find(mgr, slot, head, soKey)
		if curr != nil && curr.soKey == soKey && curr.isDummy {
			return curr
		}
		dummy.next.Store(curr)
		if prev.CompareAndSwap(curr, dummy) {
			return dummy
		}
	}
}

// listInsertOrUpdate inserts a new regular node for (key, soKey), or, if a
// node with the same key already exists, atomically swaps in the new
// value and returns the value it replaced. inserted reports which case
// happened so callers can decide whether to bump the element count.
//
// Distinct keys can collide on soKey (vanishingly rare, but possible once
// the low bit is forced). find only guarantees the first node at or after
// soKey, so an exact-key match requires scanning forward through the run
// of nodes sharing that sort key rather than checking just the first —
// stopping at one mismatch would silently miss a real duplicate. A node
// already marked for deletion is skipped as if absent: a concurrent
// remove may have marked it without yet unlinking it, and swapping a new
// value into a node on its way out would hand the caller a successful
// Put whose value vanishes the moment EBR reclaims the node.
func listInsertOrUpdate(mgr *ebr.Manager, slot int, head *node, key, soKey uint64, v any) (prior any, inserted bool) {
	box := &valueBox{v: v}
	for {
		prev, curr := find(mgr, slot, head, soKey)

		scan := curr
		for scan != nil && scan.soKey == soKey {
			if !scan.isDummy && scan.key == key && !scan.marked.Load() {
				old := scan.value.Swap(box)
				return old.v, false
			}
			scan = scan.next.Load()
		}

		newNode := newRegularNode(key, soKey, v)
		newNode.value.Store(box)
		newNode.next.Store(curr)
		if prev.CompareAndSwap(curr, newNode) {
			return nil, true
		}
	}
}

// listGet scans the soKey run starting at head for an exact key match,
// returning its current value. It never mutates the list.
func listGet(mgr *ebr.Manager, slot int, head *node, key, soKey uint64) (any, bool) {
	_, curr := find(mgr, slot, head, soKey)
	for curr != nil && curr.soKey == soKey {
		if !curr.isDummy && curr.key == key && !curr.marked.Load() {
			return curr.value.Load().v, true
		}
		curr = curr.next.Load()
	}
	return nil, false
}

// listDelete logically then (best-effort) physically removes the regular
// node matching (key, soKey), returning the value it held. If another
// thread wins the race to mark the same node first, this call reports the
// key as already absent rather than retrying — the net effect on the map
// is the same as if this call had simply lost the race entirely.
func listDelete(mgr *ebr.Manager, slot int, head *node, key, soKey uint64) (any, bool) {
	prev, curr := find(mgr, slot, head, soKey)
	for curr != nil && curr.soKey == soKey {
		if !curr.isDummy && curr.key == key {
			if curr.marked.Load() {
				return nil, false
			}
			if !curr.marked.CompareAndSwap(false, true) {
				return nil, false
			}
			val := curr.value.Load().v
			next := curr.next.Load()
			if prev.CompareAndSwap(curr, next) {
				mgr.Retire(slot, curr)
			} // else: a future find() will notice the mark and finish the unlink
			return val, true
		}
		prev = &curr.next
		curr = curr.next.Load()
	}
	return nil, false
}
