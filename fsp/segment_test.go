package fsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFsegCreateAllocatesInodeSlot(t *testing.T) {
	redo := &fakeRedoSink{}
	space, _ := newTestSpace(4*ExtentPages, DefaultPageSize, redo)

	mtr := StartMTR(redo, LogNormal)
	mtr.XLockSpace(space)
	pageNo, slot, err := FsegCreate(mtr, space)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, slot, 0)

	inode, _, _, err := readINode(mtr, space, pageNo, slot)
	assert.NoError(t, err)
	assert.NotEqual(t, uint64(0), inode.SegID)

	_, err = mtr.Commit()
	assert.NoError(t, err)
}

func TestFsegCreateTwiceYieldsDistinctSegments(t *testing.T) {
	redo := &fakeRedoSink{}
	space, _ := newTestSpace(4*ExtentPages, DefaultPageSize, redo)

	mtr := StartMTR(redo, LogNormal)
	mtr.XLockSpace(space)
	p1, s1, err := FsegCreate(mtr, space)
	assert.NoError(t, err)
	p2, s2, err := FsegCreate(mtr, space)
	assert.NoError(t, err)

	i1, _, _, err := readINode(mtr, space, p1, s1)
	assert.NoError(t, err)
	i2, _, _, err := readINode(mtr, space, p2, s2)
	assert.NoError(t, err)
	assert.NotEqual(t, i1.SegID, i2.SegID)

	_, err = mtr.Commit()
	assert.NoError(t, err)
}

func TestFsegAllocPageFragmentsThenGrowsExtent(t *testing.T) {
	redo := &fakeRedoSink{}
	space, _ := newTestSpace(6*ExtentPages, DefaultPageSize, redo)

	mtr := StartMTR(redo, LogNormal)
	mtr.XLockSpace(space)
	inodePage, slot, err := FsegCreate(mtr, space)
	assert.NoError(t, err)

	firstPage, err := FsegAllocPage(mtr, space, inodePage, slot, 0)
	assert.NoError(t, err)
	assert.NotEqual(t, uint32(0), firstPage)

	inode, _, _, err := readINode(mtr, space, inodePage, slot)
	assert.NoError(t, err)
	assert.Equal(t, uint32(1), inode.NotFullNUsed)

	_, err = mtr.Commit()
	assert.NoError(t, err)
}

func TestFsegFreePageReturnsExtentWhenEmptied(t *testing.T) {
	redo := &fakeRedoSink{}
	space, _ := newTestSpace(6*ExtentPages, DefaultPageSize, redo)

	mtr := StartMTR(redo, LogNormal)
	mtr.XLockSpace(space)
	inodePage, slot, err := FsegCreate(mtr, space)
	assert.NoError(t, err)
	pageNo, err := FsegAllocPage(mtr, space, inodePage, slot, 0)
	assert.NoError(t, err)

	assert.NoError(t, FsegFreePage(mtr, space, inodePage, slot, pageNo))

	inode, _, _, err := readINode(mtr, space, inodePage, slot)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0), inode.NotFullNUsed)

	_, err = mtr.Commit()
	assert.NoError(t, err)
}

func TestFsegFreeStepDrainsSegmentThenFreesInode(t *testing.T) {
	redo := &fakeRedoSink{}
	space, _ := newTestSpace(6*ExtentPages, DefaultPageSize, redo)

	mtr := StartMTR(redo, LogNormal)
	mtr.XLockSpace(space)
	inodePage, slot, err := FsegCreate(mtr, space)
	assert.NoError(t, err)
	_, err = FsegAllocPage(mtr, space, inodePage, slot, 0)
	assert.NoError(t, err)

	for {
		err := FsegFreeStep(mtr, space, inodePage, slot)
		if err == ErrSuccessLockedRec {
			continue
		}
		assert.NoError(t, err)
		break
	}

	inode, _, _, err := readINode(mtr, space, inodePage, slot)
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), inode.SegID, "final step must free the inode itself")

	_, err = mtr.Commit()
	assert.NoError(t, err)
}

func TestInodeSlotsPerPage(t *testing.T) {
	n := inodeSlotsPerPage(DefaultPageSize)
	assert.Greater(t, n, 0)
	used := HeaderSize + NodeSize + n*INodeSize
	assert.LessOrEqual(t, used, int(DefaultPageSize-TrailerSize))
}
