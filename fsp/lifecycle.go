package fsp

import (
	"github.com/zhukovaskychina/xbinlog-server/util"
)

// SystemSpaceGrowthMB is the whole-megabyte increment TryExtend rounds
// the system tablespace's new FSP_SIZE down to (spec §4.4).
const SystemSpaceGrowthMB = 64

// GeneralSpaceGrowthExtents is the fixed extent-count increment TryExtend
// applies to a non-system space.
const GeneralSpaceGrowthExtents = 4

// ShrinkLogBudgetBytes is the redo-volume ceiling a shrink MTR must stay
// under before commit_shrink runs (spec §4.4.6 step 5, "~2 MiB").
const ShrinkLogBudgetBytes = 2 * 1024 * 1024

// HeaderInit formats a brand-new tablespace: page 0's FSP header, its
// five list bases, SEG_ID_SEQ = 1, and an initial FREE list covering
// every whole extent in [1, sizePages) (extent 0 is reserved for the
// header/XDES/inode pages and never enters FREE).
func HeaderInit(space *Space, sizePages uint32, mtr *MTR) error {
	mtr.XLockSpace(space)
	hdr, err := mtr.GetPage(space, 0, LatchX)
	if err != nil {
		return err
	}
	hdr.SetType(PageTypeFSPHdr)
	mtr.Write(hdr, fspSpaceID, util.ConvertUInt4Bytes(space.ID), Forced)
	mtr.Write(hdr, fspSize, util.ConvertUInt4Bytes(sizePages), Forced)
	mtr.Write(hdr, fspFreeLimit, util.ConvertUInt4Bytes(0), Forced)
	mtr.Write(hdr, fspFragNUsed, util.ConvertUInt4Bytes(0), Forced)
	mtr.Write(hdr, fspSegIDSeq, util.ConvertUInt8Bytes(1), Forced)

	space.setSize(sizePages)
	space.setFreeLimit(0)
	space.setFragNUsed(0)
	space.mu.Lock()
	space.segIDSeq = 1
	space.mu.Unlock()

	FlstInit(&space.Free)
	FlstInit(&space.FreeFrag)
	FlstInit(&space.FullFrag)
	FlstInit(&space.SegInodeFree)
	FlstInit(&space.SegInodeFull)
	mtr.Write(hdr, fspFreeListOff, EncodeListBase(space.Free), Forced)
	mtr.Write(hdr, fspFreeFragListOff, EncodeListBase(space.FreeFrag), Forced)
	mtr.Write(hdr, fspFullFragListOff, EncodeListBase(space.FullFrag), Forced)
	mtr.Write(hdr, fspSegFreeListOff, EncodeListBase(space.SegInodeFree), Forced)
	mtr.Write(hdr, fspSegFullListOff, EncodeListBase(space.SegInodeFull), Forced)

	xdesPagesSeen := map[uint32]bool{0: true}
	for extentFirst := ExtentPages; extentFirst+ExtentPages <= sizePages; extentFirst += ExtentPages {
		xp, off := space.xdesPageAndOffset(extentFirst)
		if !xdesPagesSeen[xp] {
			xdesPage, err := mtr.GetPage(space, xp, LatchX)
			if err != nil {
				return err
			}
			xdesPage.SetType(PageTypeXDES)
			xdesPagesSeen[xp] = true
		}
		xdesPage, err := mtr.GetPage(space, xp, LatchX)
		if err != nil {
			return err
		}
		x := XDES{State: XDESFree}
		for b := 0; b < ExtentPages; b++ {
			x.SetFreeBit(b, true)
		}
		if xp >= extentFirst && xp < extentFirst+ExtentPages {
			// this extent carries its own descriptor page; it is already
			// occupied and must never be handed out as a data page
			// (spec §4.3.1 step 2).
			x.SetFreeBit(int(xp-extentFirst), false)
		}
		writeXDES(mtr, xdesPage, off, x, Forced)
		if err := FlstAddLast(mtr, space, &space.Free, hdr, fspFreeListOff, NodeAddr{Page: extentFirst}); err != nil {
			return err
		}
	}
	newLimit := (sizePages / ExtentPages) * ExtentPages
	space.setFreeLimit(newLimit)
	mtr.Write(hdr, fspFreeLimit, util.ConvertUInt4Bytes(newLimit), Forced)
	return nil
}

// TryExtend grows the physical datafile and FSP_SIZE by this space's
// growth policy (spec §4.4): the system space rounds its new size down
// to a whole megabyte, everything else grows by a fixed extent count.
// Returns false (no error) when the underlying file could not be grown
// at all, matching the "no change" guarantee spec.md's R1 requires.
func TryExtend(mtr *MTR, space *Space) (bool, error) {
	cur := space.Size()
	var newSize uint32
	switch space.Kind {
	case SpaceKindSystem:
		pagesPerMB := (1024 * 1024) / space.PageSize
		newSize = ((cur/pagesPerMB + SystemSpaceGrowthMB) * pagesPerMB)
	default:
		newSize = cur + GeneralSpaceGrowthExtents*ExtentPages
	}

	if ext, ok := space.bufferPoolExtender(); ok {
		if err := ext.ExtendTo(space.ID, newSize); err != nil {
			Logger.WithError(err).WithField("space", space.ID).Warn("fsp: datafile extend failed")
			return false, nil
		}
	}

	hdr, err := mtr.GetPage(space, 0, LatchX)
	if err != nil {
		return false, err
	}
	mtr.Write(hdr, fspSize, util.ConvertUInt4Bytes(newSize), Forced)
	space.setSize(newSize)
	return true, nil
}

func (s *Space) bufferPoolExtender() (FileExtender, bool) {
	ext, ok := s.bufferPool.(FileExtender)
	return ext, ok
}

// ShrinkSystemSpace runs the five-step truncation procedure of spec
// §4.4.6: find the high-water mark of actually used extents, run
// garbage collection over leaked undo segments, shadow-copy the XDES
// pages about to change, and either commit the shrink or abort if the
// redo volume would exceed ShrinkLogBudgetBytes.
//
// liveInodes is supplied by the (external) data dictionary collaborator
// per spec §1's "data dictionary" non-goal: it returns every segment id
// reachable from a B-tree root or active rollback segment.
func ShrinkSystemSpace(mtr *MTR, space *Space, liveInodes func() (map[uint64]bool, error)) error {
	threshold, err := highWaterExtent(mtr, space)
	if err != nil {
		return err
	}

	if err := GarbageCollect(mtr, space, liveInodes); err != nil {
		return err
	}

	shadow, err := shadowXDESPages(mtr, space, threshold)
	if err != nil {
		return err
	}

	hdr, err := mtr.GetPage(space, 0, LatchX)
	if err != nil {
		return err
	}
	mtr.Write(hdr, fspSize, util.ConvertUInt4Bytes(threshold), Forced)
	mtr.Write(hdr, fspFreeLimit, util.ConvertUInt4Bytes(threshold), Forced)

	free, freeFrag, _, _, _ := readHeaderLists(hdr)
	if err := truncateListAbove(mtr, space, hdr, &free, fspFreeListOff, threshold); err != nil {
		return err
	}
	if err := truncateListAbove(mtr, space, hdr, &freeFrag, fspFreeFragListOff, threshold); err != nil {
		return err
	}

	for xp := range shadow {
		p, err := mtr.GetPage(space, xp, LatchX)
		if err != nil {
			return err
		}
		zeroXDESBitmapTail(mtr, p, threshold)
	}

	if mtr.redoBytesBuffered() > ShrinkLogBudgetBytes {
		restoreShadowPages(space, shadow)
		mtr.Abort()
		return ErrShrinkAborted
	}
	return commitShrink(mtr, space, threshold)
}

// ShrinkTemp truncates a temp tablespace: no redo (LogNoRedo), physical
// truncate after commit, and clears the freed-ranges tracking above the
// threshold.
func ShrinkTemp(space *Space, redo RedoSink, threshold uint32) error {
	mtr := StartMTR(redo, LogNoRedo)
	mtr.XLockSpace(space)
	hdr, err := mtr.GetPage(space, 0, LatchX)
	if err != nil {
		mtr.Abort()
		return err
	}
	mtr.Write(hdr, fspSize, util.ConvertUInt4Bytes(threshold), Forced)
	mtr.Write(hdr, fspFreeLimit, util.ConvertUInt4Bytes(threshold), Forced)
	free, freeFrag, _, _, _ := readHeaderLists(hdr)
	if err := truncateListAbove(mtr, space, hdr, &free, fspFreeListOff, threshold); err != nil {
		mtr.Abort()
		return err
	}
	if err := truncateListAbove(mtr, space, hdr, &freeFrag, fspFreeFragListOff, threshold); err != nil {
		mtr.Abort()
		return err
	}
	if _, err := mtr.Commit(); err != nil {
		return err
	}
	space.setSize(threshold)
	space.setFreeLimit(threshold)
	if ext, ok := space.bufferPoolExtender(); ok {
		return ext.TruncateTo(space.ID, threshold)
	}
	return nil
}

// GarbageCollect frees every segment whose inode is on SEG_INODES_FULL
// or SEG_INODES_FREE but is absent from the live set the data-dictionary
// collaborator returns, reclaiming leaked (crash-orphaned) undo segments.
func GarbageCollect(mtr *MTR, space *Space, liveInodes func() (map[uint64]bool, error)) error {
	live, err := liveInodes()
	if err != nil {
		return err
	}
	hdr, err := headerPage(mtr, space)
	if err != nil {
		return err
	}
	_, _, _, segFree, segFull := readHeaderLists(hdr)
	for _, list := range []ListBase{segFree, segFull} {
		addr := list.First
		for !addr.IsNil() {
			next, err := FlstGetNext(mtr, space, addr)
			if err != nil {
				return err
			}
			if err := reapDeadInodesOnPage(mtr, space, addr.Page, live); err != nil {
				return err
			}
			addr = next
		}
	}
	return nil
}

func reapDeadInodesOnPage(mtr *MTR, space *Space, pageNo uint32, live map[uint64]bool) error {
	p, err := mtr.GetPage(space, pageNo, LatchX)
	if err != nil {
		return err
	}
	total := inodeSlotsPerPage(space.PageSize)
	for i := 0; i < total; i++ {
		off := inodePageSlots0 + i*INodeSize
		n := DecodeINode(p.ReadAt(off, INodeSize))
		if n.SegID == 0 || live[n.SegID] {
			continue
		}
		for {
			err := FsegFreeStep(mtr, space, pageNo, i)
			if err == ErrSuccessLockedRec {
				continue
			}
			if err != nil {
				return err
			}
			break
		}
	}
	return nil
}

// highWaterExtent scans extents from the tail, returning the page number
// one past the last extent that is not XDES_FREE.
func highWaterExtent(mtr *MTR, space *Space) (uint32, error) {
	limit := space.FreeLimit()
	for extentFirst := limit; extentFirst > ExtentPages; extentFirst -= ExtentPages {
		xdes, _, _, err := readXDES(mtr, space, extentFirst-ExtentPages)
		if err != nil {
			return 0, err
		}
		if xdes.State != XDESFree {
			return extentFirst, nil
		}
	}
	return ExtentPages, nil
}

func shadowXDESPages(mtr *MTR, space *Space, threshold uint32) (map[uint32][]byte, error) {
	shadow := make(map[uint32][]byte)
	for extentFirst := threshold; extentFirst < space.FreeLimit(); extentFirst += ExtentPages {
		xp, _ := space.xdesPageAndOffset(extentFirst)
		if _, ok := shadow[xp]; ok {
			continue
		}
		p, err := mtr.GetPage(space, xp, LatchX)
		if err != nil {
			return nil, err
		}
		shadow[xp] = append([]byte(nil), p.Contents...)
	}
	return shadow, nil
}

func restoreShadowPages(space *Space, shadow map[uint32][]byte) {
	for xp, orig := range shadow {
		p, _, err := space.fetchPage(xp, LatchX)
		if err != nil {
			continue
		}
		copy(p.Contents, orig)
	}
}

func zeroXDESBitmapTail(mtr *MTR, xdesPage *Page, threshold uint32) {
	// Any extent wholly at or above threshold covered by this XDES page
	// has its bitmap cleared; partial-coverage entries are left to the
	// caller that already rewrote FREE/FREE_FRAG to exclude them.
	capacity := (len(xdesPage.Contents) - FSPHeaderSize - TrailerSize) / XDESEntrySize
	for i := 0; i < capacity; i++ {
		if xdesPage.ID.No+uint32(i)*ExtentPages < threshold {
			continue
		}
		off := FSPHeaderSize + i*XDESEntrySize
		mtr.Memset(xdesPage, off+12+NodeSize, 16, 0)
	}
}

func truncateListAbove(mtr *MTR, space *Space, hdr *Page, base *ListBase, baseOff int, threshold uint32) error {
	addr := base.First
	for !addr.IsNil() {
		next, err := FlstGetNext(mtr, space, addr)
		if err != nil {
			return err
		}
		if addr.Page >= threshold {
			if err := FlstRemove(mtr, space, base, hdr, baseOff, addr); err != nil {
				return err
			}
		}
		addr = next
	}
	return nil
}

func commitShrink(mtr *MTR, space *Space, threshold uint32) error {
	if _, err := mtr.Commit(); err != nil {
		return err
	}
	if ext, ok := space.bufferPoolExtender(); ok {
		return ext.TruncateTo(space.ID, threshold)
	}
	return nil
}
