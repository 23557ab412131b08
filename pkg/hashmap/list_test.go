package hashmap

import (
	"testing"

	"github.com/stretchr/testify/require"
	"lockfreemap/pkg/ebr"
)

func TestFindSkipsMarkedNodes(t *testing.T) {
	mgr := ebr.New(nil)
	slot := mgr.Register()
	defer mgr.Unregister(slot)

	head := newDummyNode(0)
	a := newRegularNode(1, 10, "a")
	b := newRegularNode(2, 20, "b")
	c := newRegularNode(3, 30, "c")
	head.next.Store(a)
	a.next.Store(b)
	b.next.Store(c)

	b.marked.Store(true)

	prev, curr := find(mgr, slot, head, 30)
	require.Same(t, c, curr)
	require.Same(t, c, a.next.Load(), "marked node b should have been physically unlinked")
}

func TestInsertOrUpdateNewKey(t *testing.T) {
	mgr := ebr.New(nil)
	slot := mgr.Register()
	defer mgr.Unregister(slot)

	head := newDummyNode(0)
	prior, inserted := listInsertOrUpdate(mgr, slot, head, 5, soKeyRegular(5), "first")
	require.True(t, inserted)
	require.Nil(t, prior)

	v, ok := listGet(mgr, slot, head, 5, soKeyRegular(5))
	require.True(t, ok)
	require.Equal(t, "first", v)
}

func TestInsertOrUpdateExistingKey(t *testing.T) {
	mgr := ebr.New(nil)
	slot := mgr.Register()
	defer mgr.Unregister(slot)

	head := newDummyNode(0)
	soKey := soKeyRegular(5)
	listInsertOrUpdate(mgr, slot, head, 5, soKey, "first")

	prior, inserted := listInsertOrUpdate(mgr, slot, head, 5, soKey, "second")
	require.False(t, inserted)
	require.Equal(t, "first", prior)

	v, _ := listGet(mgr, slot, head, 5, soKey)
	require.Equal(t, "second", v)
}

func TestDeleteAbsentKey(t *testing.T) {
	mgr := ebr.New(nil)
	slot := mgr.Register()
	defer mgr.Unregister(slot)

	head := newDummyNode(0)
	v, ok := listDelete(mgr, slot, head, 1, soKeyRegular(1))
	require.False(t, ok)
	require.Nil(t, v)
}

// TestInsertOrUpdateSkipsMarkedNode reproduces a remove racing an update on
// the same key. find() only guarantees the node it directly returns was
// unmarked at the moment of the check; a node further along the same-soKey
// run reached by the scan loop's own traversal (list.go) is not re-checked
// by find, so a listDelete that has won its mark CAS but not yet completed
// its physical unlink can leave a marked node sitting in that run. Two
// nodes are spliced onto one soKey here, with the target key's node
// already marked, exactly that window. listInsertOrUpdate must treat it as
// absent and insert a fresh node rather than swapping a new value into one
// about to be retired and reclaimed out from under it.
func TestInsertOrUpdateSkipsMarkedNode(t *testing.T) {
	mgr := ebr.New(nil)
	slot := mgr.Register()
	defer mgr.Unregister(slot)

	head := newDummyNode(0)
	shared := soKeyRegular(5)

	other := newRegularNode(99, shared, "unrelated")
	target := newRegularNode(5, shared, "v1")
	target.marked.Store(true)
	other.next.Store(target)
	head.next.Store(other)

	prior, inserted := listInsertOrUpdate(mgr, slot, head, 5, shared, "v2")
	require.True(t, inserted, "a marked node must not be treated as an update target")
	require.Nil(t, prior)

	got, ok := listGet(mgr, slot, head, 5, shared)
	require.True(t, ok)
	require.Equal(t, "v2", got)
}

func TestDeleteThenReinsert(t *testing.T) {
	mgr := ebr.New(nil)
	slot := mgr.Register()
	defer mgr.Unregister(slot)

	head := newDummyNode(0)
	soKey := soKeyRegular(9)
	listInsertOrUpdate(mgr, slot, head, 9, soKey, "v1")

	v, ok := listDelete(mgr, slot, head, 9, soKey)
	require.True(t, ok)
	require.Equal(t, "v1", v)

	_, ok = listGet(mgr, slot, head, 9, soKey)
	require.False(t, ok)

	prior, inserted := listInsertOrUpdate(mgr, slot, head, 9, soKey, "v2")
	require.True(t, inserted)
	require.Nil(t, prior)
}

func TestListInsertDummyIdempotent(t *testing.T) {
	mgr := ebr.New(nil)
	slot := mgr.Register()
	defer mgr.Unregister(slot)

	head := newDummyNode(0)
	d1 := listInsertDummy(mgr, slot, head, soKeyDummy(4))
	d2 := listInsertDummy(mgr, slot, head, soKeyDummy(4))
	require.Same(t, d1, d2, "inserting the same bucket dummy twice must return the existing one")
}

func TestMixIsDeterministic(t *testing.T) {
	require.Equal(t, mix(42), mix(42))
	require.NotEqual(t, mix(42), mix(43))
}

func TestReverseBitsRoundTrip(t *testing.T) {
	for _, x := range []uint64{0, 1, 2, 0xdeadbeef, ^uint64(0)} {
		require.Equal(t, x, reverseBits(reverseBits(x)))
	}
}

func TestSoKeyLowBitInvariants(t *testing.T) {
	require.EqualValues(t, 1, soKeyRegular(123)&1)
	require.EqualValues(t, 0, soKeyDummy(5)&1)
}

func TestParentOf(t *testing.T) {
	cases := map[uint64]uint64{
		0:  0,
		1:  0,
		2:  0,
		3:  1,
		4:  0,
		5:  1,
		6:  2,
		7:  3,
		8:  0,
		12: 4,
	}
	for b, want := range cases {
		require.Equal(t, want, parentOf(b), "parentOf(%d)", b)
	}
}
