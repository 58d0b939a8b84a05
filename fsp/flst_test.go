package fsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeAddrIsNil(t *testing.T) {
	assert.True(t, NilAddr.IsNil())
	assert.True(t, NodeAddr{}.IsNil())
	assert.False(t, NodeAddr{Page: 1}.IsNil())
	assert.False(t, NodeAddr{Offset: 1}.IsNil())
}

func TestListBaseEncodeDecodeRoundTrip(t *testing.T) {
	b := ListBase{Length: 3, First: NodeAddr{Page: 1, Offset: 2}, Last: NodeAddr{Page: 9, Offset: 8}}
	buf := EncodeListBase(b)
	assert.Len(t, buf, ListBaseSize)
	assert.Equal(t, b, DecodeListBase(buf))
}

func TestListNodeEncodeDecodeRoundTrip(t *testing.T) {
	n := ListNode{Prev: NodeAddr{Page: 5, Offset: 6}, Next: NodeAddr{Page: 7, Offset: 8}}
	buf := EncodeListNode(n)
	assert.Len(t, buf, NodeSize)
	assert.Equal(t, n, DecodeListNode(buf))
}

func TestFlstInit(t *testing.T) {
	base := ListBase{Length: 5, First: NodeAddr{Page: 1}, Last: NodeAddr{Page: 2}}
	FlstInit(&base)
	assert.Equal(t, ListBase{}, base)
}

// TestFlstAddAndRemoveOnRealPages exercises FlstAddLast/FlstAddFirst/
// FlstRemove against the space-level FREE list that HeaderInit already
// builds, verifying the doubly linked list stays consistent.
func TestFlstAddAndRemoveOnRealPages(t *testing.T) {
	redo := &fakeRedoSink{}
	space, _ := newTestSpace(4*ExtentPages, DefaultPageSize, redo)

	// HeaderInit already populated space.Free with 3 extents (1,2,3 -- the
	// first whole extent past the header's own extent 0).
	assert.Equal(t, uint32(3), space.Free.Length)

	mtr := StartMTR(redo, LogNormal)
	mtr.XLockSpace(space)
	hdr, err := mtr.GetPage(space, 0, LatchX)
	assert.NoError(t, err)

	addr := space.Free.First
	next, err := FlstGetNext(mtr, space, addr)
	assert.NoError(t, err)
	assert.NotEqual(t, addr, next)

	assert.NoError(t, FlstRemove(mtr, space, &space.Free, hdr, fspFreeListOff, addr))
	assert.Equal(t, uint32(2), space.Free.Length)
	assert.Equal(t, next, space.Free.First)

	_, err = mtr.Commit()
	assert.NoError(t, err)
}
