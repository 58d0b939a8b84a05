package fsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXDESFreeBitRoundTrip(t *testing.T) {
	var x XDES
	for i := 0; i < ExtentPages; i++ {
		assert.False(t, x.GetFreeBit(i))
	}
	x.SetFreeBit(5, true)
	x.SetFreeBit(63, true)
	assert.True(t, x.GetFreeBit(5))
	assert.True(t, x.GetFreeBit(63))
	assert.False(t, x.GetFreeBit(6))

	x.SetFreeBit(5, false)
	assert.False(t, x.GetFreeBit(5))
}

func TestXDESCleanBitIndependentOfFreeBit(t *testing.T) {
	var x XDES
	x.SetFreeBit(10, true)
	x.SetCleanBit(10, true)
	assert.True(t, x.GetFreeBit(10))
	assert.True(t, x.GetCleanBit(10))

	x.SetFreeBit(10, false)
	assert.True(t, x.GetCleanBit(10), "clearing the free bit must not disturb the clean bit")
}

func TestXDESUsedCount(t *testing.T) {
	var x XDES
	for i := 0; i < ExtentPages; i++ {
		x.SetFreeBit(i, true)
	}
	assert.Equal(t, 0, x.UsedCount())
	x.SetFreeBit(0, false)
	x.SetFreeBit(1, false)
	assert.Equal(t, 2, x.UsedCount())
}

func TestXDESFindFreeBitFromWraps(t *testing.T) {
	var x XDES
	x.SetFreeBit(2, true)
	idx, ok := x.FindFreeBitFrom(60)
	assert.True(t, ok)
	assert.Equal(t, 2, idx, "search must wrap around the extent")
}

func TestXDESFindFreeBitFromNoneFree(t *testing.T) {
	var x XDES
	_, ok := x.FindFreeBitFrom(0)
	assert.False(t, ok)
}

func TestXDESEncodeDecodeRoundTrip(t *testing.T) {
	x := XDES{SegID: 99, State: XDESFSeg, Node: ListNode{Prev: NodeAddr{Page: 1, Offset: 2}, Next: NodeAddr{Page: 3, Offset: 4}}}
	x.SetFreeBit(7, true)
	x.SetCleanBit(7, true)

	buf := EncodeXDES(x)
	assert.Len(t, buf, XDESEntrySize)

	got := DecodeXDES(buf)
	assert.Equal(t, x.SegID, got.SegID)
	assert.Equal(t, x.State, got.State)
	assert.Equal(t, x.Node, got.Node)
	assert.True(t, got.GetFreeBit(7))
	assert.True(t, got.GetCleanBit(7))
}
