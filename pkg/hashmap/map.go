// Package hashmap implements a concurrent associative container from
// 64-bit integer keys to opaque value handles. Lookup, insertion, update,
// and removal are all lock-free: readers and writers alike only ever
// progress via compare-and-swap, never a mutex, on the operation's fast
// path.
//
// Internally it is a single split-ordered linked list (Shalev & Shavit)
// threaded with lazily-initialized bucket sentinels, using Harris-style
// logical-then-physical deletion for unlinking. Memory safety for
// concurrent traversal of a list that other threads are mutating comes
// from the epoch-based reclamation core in lockfreemap/pkg/ebr: every
// unlinked node is retired rather than freed outright, and only reclaimed
// once no registered thread could still be reading it.
//
// Callers must register a Handle before calling Put/Get/Remove and
// unregister it when done — registration stands in for the thread-local
// slot the original design keeps implicitly; Go goroutines migrate
// between OS threads, so an explicit handle is the idiomatic substitute.
package hashmap

import (
	"errors"
	"sync/atomic"

	"lockfreemap/pkg/ebr"
)

// ErrTooManyThreads is returned by Register when the map's fixed thread
// table is already full.
var ErrTooManyThreads = errors.New("hashmap: thread table full, cannot register")

// ErrClosed is returned by Close when called more than once on the same
// Map.
var ErrClosed = errors.New("hashmap: map already closed")

// Map is a lock-free mapping from non-zero uint64 keys to non-nil opaque
// value handles. The zero Map is not usable; construct one with New.
type Map struct {
	head    *node
	buckets atomic.Pointer[bucketArray]
	count   int64 // atomic; relaxed, gates resize only
	ebr     *ebr.Manager
	closed  int32 // atomic

	stats Stats
}

// Stats is a best-effort snapshot of reclamation activity, exposed for
// diagnostics and tests; none of it is load-bearing for correctness.
type Stats struct {
	NodesFreed  int64
	ArraysFreed int64
}

// New creates an empty Map with an initial capacity of 16 buckets.
func New() *Map {
	mp := &Map{head: newDummyNode(0)}
	mp.buckets.Store(newBucketArray(initialCapacity, mp.head))
	mp.ebr = ebr.New(mp.onReclaim)
	return mp
}

func (mp *Map) onReclaim(ptr any) {
	switch v := ptr.(type) {
	case *node:
		// Drop references eagerly so a long retired chain doesn't keep
		// an unrelated part of the list alive through a stale next
		// pointer while it waits in Go's GC-managed heap.
		v.next.Store(nil)
		v.value.Store(nil)
		atomic.AddInt64(&mp.stats.NodesFreed, 1)
	case *bucketArray:
		atomic.AddInt64(&mp.stats.ArraysFreed, 1)
	}
}

// Handle is a registered thread's ticket to call Put/Get/Remove on a Map.
// It is not safe for concurrent use by more than one goroutine; register
// one Handle per goroutine that needs to touch the map.
type Handle struct {
	m    *Map
	slot int
}

// Register reserves a slot for the calling thread. The returned Handle
// must be released with Unregister when the thread is done with this map;
// a thread may hold handles on multiple different maps simultaneously,
// each independent of the others.
func (mp *Map) Register() (*Handle, error) {
	slot := mp.ebr.Register()
	if slot == ebr.InvalidSlot {
		return nil, ErrTooManyThreads
	}
	return &Handle{m: mp, slot: slot}, nil
}

// Unregister releases h's slot, draining any nodes it had retired but not
// yet reclaimed. h must not be used afterward.
func (h *Handle) Unregister() {
	h.m.ebr.Unregister(h.slot)
}

// Put inserts or updates key's value, returning the previous value or nil
// if key was not already present. Key 0 and a nil value are both reserved
// and rejected: Put is a silent no-op returning nil for either.
func (h *Handle) Put(key uint64, value any) any {
	if key == 0 || value == nil {
		return nil
	}
	mp := h.m

	mp.ebr.Enter(h.slot)
	defer mp.ebr.Exit(h.slot)

	soKey := soKeyRegular(key)
	ba := mp.buckets.Load()
	bucket := bucketOf(key, ba.capacity)
	dummy := mp.ensureBucket(ba, bucket, h.slot)

	prior, inserted := listInsertOrUpdate(mp.ebr, h.slot, dummy, key, soKey, value)
	if inserted {
		atomic.AddInt64(&mp.count, 1)
		mp.maybeResize(h.slot)
	}
	return prior
}

// Get returns key's current value, or nil if absent. Key 0 always
// returns nil since it can never have been stored.
func (h *Handle) Get(key uint64) any {
	if key == 0 {
		return nil
	}
	mp := h.m

	mp.ebr.Enter(h.slot)
	defer mp.ebr.Exit(h.slot)

	soKey := soKeyRegular(key)
	ba := mp.buckets.Load()
	bucket := bucketOf(key, ba.capacity)
	dummy := mp.ensureBucket(ba, bucket, h.slot)

	v, _ := listGet(mp.ebr, h.slot, dummy, key, soKey)
	return v
}

// Remove deletes key, returning its value or nil if it was not present.
func (h *Handle) Remove(key uint64) any {
	if key == 0 {
		return nil
	}
	mp := h.m

	mp.ebr.Enter(h.slot)
	defer mp.ebr.Exit(h.slot)

	soKey := soKeyRegular(key)
	ba := mp.buckets.Load()
	bucket := bucketOf(key, ba.capacity)
	dummy := mp.ensureBucket(ba, bucket, h.slot)

	v, ok := listDelete(mp.ebr, h.slot, dummy, key, soKey)
	if !ok {
		return nil
	}
	atomic.AddInt64(&mp.count, -1)
	return v
}

// Count returns a best-effort, eventually-consistent snapshot of the
// number of keys currently stored. It is never consulted by Get/Put/Remove
// for correctness — only by the resize policy.
func (mp *Map) Count() int64 {
	return atomic.LoadInt64(&mp.count)
}

// Capacity returns the current bucket table size. It only ever grows.
func (mp *Map) Capacity() uint64 {
	return mp.buckets.Load().capacity
}

// Stats returns a snapshot of reclamation counters.
func (mp *Map) Stats() Stats {
	return Stats{
		NodesFreed:  atomic.LoadInt64(&mp.stats.NodesFreed),
		ArraysFreed: atomic.LoadInt64(&mp.stats.ArraysFreed),
	}
}

// Close tears the map down. It is not safe to call concurrently with any
// other operation on the same Map, including from another goroutine's
// in-flight Put/Get/Remove: callers must first ensure every Handle has
// been unregistered and no goroutine is still inside a map call. Close
// drains every thread's retire queues, walks the entire global list
// reclaiming each node, and reclaims the current bucket array.
func (mp *Map) Close() error {
	if !atomic.CompareAndSwapInt32(&mp.closed, 0, 1) {
		return ErrClosed
	}
	mp.ebr.DrainAll()

	for cur := mp.head; cur != nil; {
		next := cur.next.Load()
		mp.onReclaim(cur)
		cur = next
	}
	mp.onReclaim(mp.buckets.Load())
	return nil
}
