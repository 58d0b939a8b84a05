package fsp

// inodePage offsets: each inode page holds a header ListNode (linking it
// on SEG_INODES_FREE/_FULL) followed by a fixed count of INode slots.
const (
	inodePageNodeOff = HeaderSize
	inodePageSlots0  = HeaderSize + NodeSize
)

// Byte offsets of an INode's three list bases, relative to the inode's
// own start offset within the page (see EncodeINode/DecodeINode).
const (
	inodeFreeOff    = 8 + 4
	inodeNotFullOff = inodeFreeOff + ListBaseSize
	inodeFullOff    = inodeNotFullOff + ListBaseSize
)

func inodeSlotsPerPage(pageSize uint32) int {
	return int(pageSize-HeaderSize-TrailerSize-NodeSize) / INodeSize
}

func readINode(m *MTR, space *Space, pageNo uint32, slot int) (INode, *Page, int, error) {
	p, err := m.GetPage(space, pageNo, LatchX)
	if err != nil {
		return INode{}, nil, 0, err
	}
	off := inodePageSlots0 + slot*INodeSize
	return DecodeINode(p.ReadAt(off, INodeSize)), p, off, nil
}

func writeINode(m *MTR, p *Page, off int, n INode) {
	m.Write(p, off, EncodeINode(n), Forced)
}

// FsegCreate allocates a fresh inode (on an existing inode page with a
// free slot, or a newly allocated inode page) and returns its location.
func FsegCreate(m *MTR, space *Space) (pageNo uint32, slot int, err error) {
	hdr, err := headerPage(m, space)
	if err != nil {
		return 0, 0, err
	}
	_, _, _, segFree, segFull := readHeaderLists(hdr)

	segID := space.NextSegID()

	if segFree.Length > 0 {
		pageNo = segFree.First.Page
	} else {
		pageNo, err = AllocFreePage(m, space, 0)
		if err != nil {
			return 0, 0, err
		}
		p, err := m.GetPage(space, pageNo, LatchX)
		if err != nil {
			return 0, 0, err
		}
		p.SetType(PageTypeInode)
		total := inodeSlotsPerPage(space.PageSize)
		for i := 0; i < total; i++ {
			writeINode(m, p, inodePageSlots0+i*INodeSize, INode{SegID: 0})
		}
		if err := FlstAddLast(m, space, &segFree, hdr, fspSegFreeListOff, NodeAddr{Page: pageNo}); err != nil {
			return 0, 0, err
		}
	}

	p, err := m.GetPage(space, pageNo, LatchX)
	if err != nil {
		return 0, 0, err
	}
	total := inodeSlotsPerPage(space.PageSize)
	slot = -1
	for i := 0; i < total; i++ {
		n := DecodeINode(p.ReadAt(inodePageSlots0+i*INodeSize, INodeSize))
		if n.SegID == 0 {
			slot = i
			break
		}
	}
	if slot < 0 {
		return 0, 0, corrupt(space, "fsp: inode page %d on SEG_INODES_FREE has no free slot", pageNo)
	}
	n := NewINode(segID)
	writeINode(m, p, inodePageSlots0+slot*INodeSize, *n)

	used := 0
	for i := 0; i < total; i++ {
		if ni := DecodeINode(p.ReadAt(inodePageSlots0+i*INodeSize, INodeSize)); ni.SegID != 0 {
			used++
		}
	}
	if used == total {
		if err := FlstRemove(m, space, &segFree, hdr, fspSegFreeListOff, NodeAddr{Page: pageNo}); err != nil {
			return 0, 0, err
		}
		if err := FlstAddLast(m, space, &segFull, hdr, fspSegFullListOff, NodeAddr{Page: pageNo}); err != nil {
			return 0, 0, err
		}
	}
	return pageNo, slot, nil
}

// FsegAllocPage implements the six-branch fragmentation-avoidance policy
// of spec §4.3.3.
func FsegAllocPage(m *MTR, space *Space, inodePage uint32, slot int, hint uint32) (uint32, error) {
	inode, ip, ioff, err := readINode(m, space, inodePage, slot)
	if err != nil {
		return 0, err
	}

	reserved := segmentReservedPages(&inode)
	used := segmentUsedPages(&inode)

	extentFirst := (hint / ExtentPages) * ExtentPages
	xdes, xp, xoff, xerr := readXDES(m, space, extentFirst)

	// Branch 1: hinted extent belongs to this segment with a free bit.
	if xerr == nil && xdes.State == XDESFSeg && xdes.SegID == inode.SegID {
		if bit, ok := xdes.FindFreeBitFrom(int(hint % ExtentPages)); ok {
			pageNo := extentFirst + uint32(bit)
			FsegMarkPageUsed(m, space, &inode, ip, ioff, &xdes, xp, xoff, extentFirst, bit)
			return pageNo, nil
		}
		// Branch 2: belongs to segment but not full -> any free bit already covered above.
	}

	extentsNeeded := reserved-used < maxU32(reserved/8, 4*ExtentPages)
	if used >= ExtentPages/2 && !extentsNeeded {
		// Branch 3: allocate a whole new extent to the segment.
		var newExtent uint32
		if xerr == nil && xdes.State == XDESFree {
			newExtent = extentFirst
			hdr, _ := headerPage(m, space)
			free, _, _, _, _ := readHeaderLists(hdr)
			if err := FlstRemove(m, space, &free, hdr, fspFreeListOff, NodeAddr{Page: newExtent}); err != nil {
				return 0, err
			}
		} else {
			newExtent, err = AllocFreeExtent(m, space, hint)
			if err != nil {
				return 0, err
			}
			xdes, xp, xoff, err = readXDES(m, space, newExtent)
			if err != nil {
				return 0, err
			}
		}
		xdes.State = XDESFSeg
		xdes.SegID = inode.SegID
		if err := FlstAddLast(m, space, &inode.Free, ip, ioff+inodeFreeOff, NodeAddr{Page: newExtent}); err != nil {
			return 0, err
		}
		writeXDES(m, xp, xoff, xdes, Forced)
		writeINode(m, ip, ioff, inode)
		pageNo := newExtent
		FsegMarkPageUsed(m, space, &inode, ip, ioff, &xdes, xp, xoff, newExtent, 0)
		return pageNo, nil
	}

	if reserved > used {
		// Branch 4: take from NOT_FULL (preferred) or FREE.
		addr := inode.NotFull.First
		if addr.IsNil() {
			addr = inode.Free.First
		}
		if !addr.IsNil() {
			xdes, xp, xoff, err = readXDES(m, space, addr.Page)
			if err != nil {
				return 0, err
			}
			if bit, ok := xdes.FindFreeBitFrom(0); ok {
				pageNo := addr.Page + uint32(bit)
				FsegMarkPageUsed(m, space, &inode, ip, ioff, &xdes, xp, xoff, addr.Page, bit)
				return pageNo, nil
			}
		}
	}

	if used < ExtentPages/2 {
		// Branch 5: fragment page via the space-level allocator.
		pageNo, err := AllocFreePage(m, space, hint)
		if err != nil {
			return 0, err
		}
		if s := inode.FirstFreeFragSlot(); s >= 0 {
			inode.FragArray[s] = pageNo
			writeINode(m, ip, ioff, inode)
		}
		return pageNo, nil
	}

	// Branch 6: allocate a new extent and take its first page.
	newExtent, err := AllocFreeExtent(m, space, hint)
	if err != nil {
		return 0, err
	}
	xdes, xp, xoff, err = readXDES(m, space, newExtent)
	if err != nil {
		return 0, err
	}
	xdes.State = XDESFSeg
	xdes.SegID = inode.SegID
	if err := FlstAddLast(m, space, &inode.Free, ip, ioff+inodeFreeOff, NodeAddr{Page: newExtent}); err != nil {
		return 0, err
	}
	writeINode(m, ip, ioff, inode)
	FsegMarkPageUsed(m, space, &inode, ip, ioff, &xdes, xp, xoff, newExtent, 0)
	return newExtent, nil
}

// FsegMarkPageUsed updates the bitmap, NOT_FULL_N_USED, and moves the
// extent between FREE / NOT_FULL / FULL as needed (spec §4.3.3 tail).
// extentFirst is the extent's own first page number (not the XDES
// descriptor page, which lives elsewhere).
func FsegMarkPageUsed(m *MTR, space *Space, inode *INode, ip *Page, ioff int, xdes *XDES, xp *Page, xoff int, extentFirst uint32, bit int) {
	xdes.SetFreeBit(bit, false)
	inode.NotFullNUsed++
	writeXDES(m, xp, xoff, *xdes, Forced)
	writeINode(m, ip, ioff, *inode)

	used := xdes.UsedCount()
	addr := NodeAddr{Page: extentFirst}
	switch {
	case used >= ExtentPages:
		_ = FlstRemove(m, space, &inode.NotFull, ip, ioff+inodeNotFullOff, addr)
		_ = FlstAddLast(m, space, &inode.Full, ip, ioff+inodeFullOff, addr)
	case used == 1:
		_ = FlstRemove(m, space, &inode.Free, ip, ioff+inodeFreeOff, addr)
		_ = FlstAddLast(m, space, &inode.NotFull, ip, ioff+inodeNotFullOff, addr)
	}
}

func segmentReservedPages(n *INode) uint32 {
	return (n.Free.Length + n.NotFull.Length + n.Full.Length) * ExtentPages
}

func segmentUsedPages(n *INode) uint32 {
	return n.NotFullNUsed
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// FsegFreePage implements spec §4.3.5: clears the bitmap bit, adjusts
// NOT_FULL_N_USED, moves the extent between lists, and returns an
// emptied segment-owned extent to the space FREE list.
func FsegFreePage(m *MTR, space *Space, inodePage uint32, slot int, pageNo uint32) error {
	inode, ip, ioff, err := readINode(m, space, inodePage, slot)
	if err != nil {
		return err
	}
	extentFirst := (pageNo / ExtentPages) * ExtentPages
	xdes, xp, xoff, err := readXDES(m, space, extentFirst)
	if err != nil {
		return err
	}
	if xdes.SegID != inode.SegID {
		return corrupt(space, "fsp: fseg_free_page segment id mismatch on extent %d", extentFirst)
	}
	bit := int(pageNo - extentFirst)
	wasFull := xdes.UsedCount() >= ExtentPages
	xdes.SetFreeBit(bit, true)
	inode.NotFullNUsed--
	writeXDES(m, xp, xoff, xdes, Forced)
	writeINode(m, ip, ioff, inode)

	addr := NodeAddr{Page: extentFirst}
	if wasFull {
		_ = FlstRemove(m, space, &inode.Full, ip, ioff+inodeFullOff, addr)
		_ = FlstAddLast(m, space, &inode.NotFull, ip, ioff+inodeNotFullOff, addr)
	}
	if xdes.UsedCount() == 0 {
		_ = FlstRemove(m, space, &inode.NotFull, ip, ioff+inodeNotFullOff, addr)
		xdes.State = XDESFree
		xdes.SegID = 0
		writeXDES(m, xp, xoff, xdes, Forced)
		hdr, err := headerPage(m, space)
		if err != nil {
			return err
		}
		free, _, _, _, _ := readHeaderLists(hdr)
		return FlstAddLast(m, space, &free, hdr, fspFreeListOff, addr)
	}
	return nil
}

// FsegFreeStep frees one extent of a segment, returning
// ErrSuccessLockedRec while more extents remain (spec §4.3.5).
func FsegFreeStep(m *MTR, space *Space, inodePage uint32, slot int) error {
	inode, ip, ioff, err := readINode(m, space, inodePage, slot)
	if err != nil {
		return err
	}
	var addr NodeAddr
	var base *ListBase
	var baseOff int
	switch {
	case inode.Free.Length > 0:
		addr, base, baseOff = inode.Free.First, &inode.Free, ioff+inodeFreeOff
	case inode.NotFull.Length > 0:
		addr, base, baseOff = inode.NotFull.First, &inode.NotFull, ioff+inodeNotFullOff
	case inode.Full.Length > 0:
		addr, base, baseOff = inode.Full.First, &inode.Full, ioff+inodeFullOff
	default:
		// No extents left: free the inode itself.
		inode.SegID = 0
		writeINode(m, ip, ioff, inode)
		hdr, err := headerPage(m, space)
		if err != nil {
			return err
		}
		_, _, _, segFull, _ := readHeaderLists(hdr)
		_ = FlstRemove(m, space, &segFull, hdr, fspSegFullListOff, NodeAddr{Page: inodePage})
		return nil
	}
	if err := FlstRemove(m, space, base, ip, baseOff, addr); err != nil {
		return err
	}
	xdes, xp, xoff, err := readXDES(m, space, addr.Page)
	if err != nil {
		return err
	}
	xdes.State = XDESFree
	xdes.SegID = 0
	writeXDES(m, xp, xoff, xdes, Forced)
	writeINode(m, ip, ioff, inode)
	hdr, err := headerPage(m, space)
	if err != nil {
		return err
	}
	free, _, _, _, _ := readHeaderLists(hdr)
	if err := FlstAddLast(m, space, &free, hdr, fspFreeListOff, addr); err != nil {
		return err
	}
	return ErrSuccessLockedRec
}

// FsegFreeStepNotHeader is FsegFreeStep but preserves the extent holding
// the segment's own inode page until the final step.
func FsegFreeStepNotHeader(m *MTR, space *Space, inodePage uint32, slot int) error {
	inode, _, _, err := readINode(m, space, inodePage, slot)
	if err != nil {
		return err
	}
	headerExtent := (inodePage / ExtentPages) * ExtentPages
	if inode.Free.Length+inode.NotFull.Length+inode.Full.Length <= 1 {
		if onlyExtent(&inode) == headerExtent {
			return nil
		}
	}
	return FsegFreeStep(m, space, inodePage, slot)
}

func onlyExtent(n *INode) uint32 {
	if n.Free.Length == 1 {
		return n.Free.First.Page
	}
	if n.NotFull.Length == 1 {
		return n.NotFull.First.Page
	}
	if n.Full.Length == 1 {
		return n.Full.First.Page
	}
	return 0
}
