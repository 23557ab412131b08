package hashmap

import "sync/atomic"

// node is a single element of the global split-ordered list — either a
// bucket sentinel ("dummy") or a regular key-bearing entry. Every node is
// heap-allocated, singly owned by the map once linked, and handed to the
// reclamation core for delayed free upon unlink.
//
// The reference C/C++ design for this structure tags the low bit of next
// to mean "logically deleted" (a Harris marked pointer). Go's garbage
// collector scans pointer-typed fields and does not tolerate a stray tag
// bit living in what looks like a *node — doing that here would hand the
// GC an address that was never actually allocated. So next stays an
// honest pointer, and the mark lives in its own atomic field. A reader
// that observes marked == true is obligated to treat the node as absent
// and may help physically unlink it; that's the same contract the tagged
// design gives, just split across two fields instead of packed into one
// word.
type node struct {
	key     uint64
	soKey   uint64
	isDummy bool

	marked atomic.Bool
	value  atomic.Pointer[valueBox]
	next   atomic.Pointer[node]
}

// valueBox wraps the opaque value handle so it can be swapped atomically
// as a single pointer. atomic.Value refuses to Store a different concrete
// type than it saw first, which an opaque `any` handle can't promise, so
// nodes box the value instead.
type valueBox struct {
	v any
}

func newRegularNode(key uint64, soKey uint64, v any) *node {
	n := &node{key: key, soKey: soKey}
	n.value.Store(&valueBox{v: v})
	return n
}

func newDummyNode(soKey uint64) *node {
	return &node{soKey: soKey, isDummy: true}
}
