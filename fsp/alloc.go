package fsp

import (
	"github.com/zhukovaskychina/xbinlog-server/util"
)

// AllocType selects the reservation policy of FspReserveFreeExtents
// (spec §4.3.4).
type AllocType int

const (
	AllocNormal AllocType = iota
	AllocUndo
	AllocCleaning
	AllocBlob
)

// FSPFreeAdd is the number of extents added to FSP_FREE at a time when
// growing the free-extent list past FSP_FREE_LIMIT (spec §4.3.2).
const FSPFreeAdd = 4

// headerPage fetches page 0 through mtr.
func headerPage(m *MTR, space *Space) (*Page, error) {
	return m.GetPage(space, 0, LatchX)
}

func readHeaderLists(p *Page) (free, freeFrag, fullFrag, segFree, segFull ListBase) {
	free = DecodeListBase(p.ReadAt(fspFreeListOff, ListBaseSize))
	freeFrag = DecodeListBase(p.ReadAt(fspFreeFragListOff, ListBaseSize))
	fullFrag = DecodeListBase(p.ReadAt(fspFullFragListOff, ListBaseSize))
	segFree = DecodeListBase(p.ReadAt(fspSegFreeListOff, ListBaseSize))
	segFull = DecodeListBase(p.ReadAt(fspSegFullListOff, ListBaseSize))
	return
}

// xdesPageAndOffset locates the XDES page and in-page byte offset for
// the extent covering pageNo. The descriptor array starts at
// FSPHeaderSize uniformly (see xdesPageInterval), so this never
// overlaps the FSP header fields that additionally occupy page 0.
func (s *Space) xdesPageAndOffset(pageNo uint32) (xdesPageNo uint32, entryOffset int) {
	interval := s.xdesPageInterval()
	extentsPerInterval := interval / ExtentPages
	xdesPageNo = (pageNo / interval) * interval
	extentIdxInPage := (pageNo / ExtentPages) % extentsPerInterval
	entryOffset = FSPHeaderSize + int(extentIdxInPage)*XDESEntrySize
	return
}

func readXDES(m *MTR, space *Space, extentFirstPage uint32) (XDES, *Page, int, error) {
	xdesPageNo, off := space.xdesPageAndOffset(extentFirstPage)
	p, err := m.GetPage(space, xdesPageNo, LatchX)
	if err != nil {
		return XDES{}, nil, 0, err
	}
	return DecodeXDES(p.ReadAt(off, XDESEntrySize)), p, off, nil
}

func writeXDES(m *MTR, p *Page, off int, x XDES, flags WriteFlags) {
	m.Write(p, off, EncodeXDES(x), flags)
}

// AllocFreePage implements spec §4.3.1: allocate a single free page,
// preferring the extent containing hint.
func AllocFreePage(m *MTR, space *Space, hint uint32) (uint32, error) {
	hdr, err := headerPage(m, space)
	if err != nil {
		return 0, err
	}
	free, freeFrag, fullFrag, _, _ := readHeaderLists(hdr)

	extentFirst := (hint / ExtentPages) * ExtentPages
	xdes, xp, xoff, err := readXDES(m, space, extentFirst)
	if err != nil {
		return 0, err
	}

	if xdes.State != XDESFreeFrag {
		// Step 2: pop head of FREE_FRAG, else pop one from FREE.
		if freeFrag.Length > 0 {
			extentFirst = freeFrag.First.Page
			xdes, xp, xoff, err = readXDES(m, space, extentFirst)
			if err != nil {
				return 0, err
			}
		} else if free.Length > 0 {
			addr := free.First
			if err := FlstRemove(m, space, &free, hdr, fspFreeListOff, addr); err != nil {
				return 0, err
			}
			extentFirst = addr.Page
			xdes, xp, xoff, err = readXDES(m, space, extentFirst)
			if err != nil {
				return 0, err
			}
			xdes.State = XDESFreeFrag
			if err := FlstAddLast(m, space, &freeFrag, hdr, fspFreeFragListOff, NodeAddr{Page: extentFirst}); err != nil {
				return 0, err
			}
		} else {
			if ok, err := TryExtend(m, space); err != nil || !ok {
				if err != nil {
					return 0, err
				}
				return 0, ErrOutOfFileSpace
			}
			return AllocFreePage(m, space, hint)
		}
	}

	pageInExtent, ok := xdes.FindFreeBitFrom(int(hint % ExtentPages))
	if !ok {
		return 0, corrupt(space, "fsp: xdes at extent %d reports FREE_FRAG but has no free bit", extentFirst)
	}
	xdes.SetFreeBit(pageInExtent, false)

	newFragNUsed := space.FragNUsed() + 1
	if xdes.UsedCount() >= ExtentPages {
		xdes.State = XDESFullFrag
		if err := FlstRemove(m, space, &freeFrag, hdr, fspFreeFragListOff, NodeAddr{Page: extentFirst}); err != nil {
			return 0, err
		}
		if err := FlstAddLast(m, space, &fullFrag, hdr, fspFullFragListOff, NodeAddr{Page: extentFirst}); err != nil {
			return 0, err
		}
		newFragNUsed -= ExtentPages
	}
	writeXDES(m, xp, xoff, xdes, Forced)
	space.setFragNUsed(newFragNUsed)
	m.Write(hdr, fspFragNUsed, util.ConvertUInt4Bytes(newFragNUsed), Forced)

	pageNo := extentFirst + uint32(pageInExtent)
	if pageNo >= space.Size() {
		if ok, err := TryExtend(m, space); err != nil || !ok {
			if err != nil {
				return 0, err
			}
		}
	}
	if _, err := m.GetPage(space, pageNo, LatchX); err != nil {
		return 0, err
	}
	return pageNo, nil
}

// AllocFreeExtent implements spec §4.3.2.
func AllocFreeExtent(m *MTR, space *Space, hint uint32) (uint32, error) {
	hdr, err := headerPage(m, space)
	if err != nil {
		return 0, err
	}
	free, _, _, _, _ := readHeaderLists(hdr)

	extentFirst := (hint / ExtentPages) * ExtentPages
	xdes, _, _, err := readXDES(m, space, extentFirst)
	if err == nil && xdes.State == XDESFree {
		if err := FlstRemove(m, space, &free, hdr, fspFreeListOff, NodeAddr{Page: extentFirst}); err != nil {
			return 0, err
		}
		return extentFirst, nil
	}

	if free.Length == 0 {
		if err := growFreeExtents(m, space, hdr); err != nil {
			return 0, err
		}
		free, _, _, _, _ = readHeaderLists(hdr)
		if free.Length == 0 {
			return 0, ErrOutOfFileSpace
		}
	}
	addr := free.First
	if err := FlstRemove(m, space, &free, hdr, fspFreeListOff, addr); err != nil {
		return 0, err
	}
	return addr.Page, nil
}

// growFreeExtents extends the FREE list past FREE_LIMIT by up to
// FSPFreeAdd extents, extending the datafile first if necessary.
func growFreeExtents(m *MTR, space *Space, hdr *Page) error {
	limit := space.FreeLimit()
	if limit+FSPFreeAdd*ExtentPages > space.Size() {
		if ok, err := TryExtend(m, space); err != nil {
			return err
		} else if !ok {
			return ErrOutOfFileSpace
		}
	}
	free, _, _, _, _ := readHeaderLists(hdr)
	for i := 0; i < FSPFreeAdd; i++ {
		extentFirst := limit + uint32(i)*ExtentPages
		if extentFirst >= space.Size() {
			break
		}
		xp, entryOff := space.xdesPageAndOffset(extentFirst)
		xdesPage, err := m.GetPage(space, xp, LatchX)
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
		writeXDES(m, xdesPage, entryOff, x, Forced)
		if err := FlstAddLast(m, space, &free, hdr, fspFreeListOff, NodeAddr{Page: extentFirst}); err != nil {
			return err
		}
	}
	newLimit := limit + FSPFreeAdd*ExtentPages
	if newLimit > space.Size() {
		newLimit = space.Size()
	}
	space.setFreeLimit(newLimit)
	m.Write(hdr, fspFreeLimit, util.ConvertUInt4Bytes(newLimit), Forced)
	return nil
}

// FspReserveFreeExtents implements spec §4.3.4's policy table.
func FspReserveFreeExtents(m *MTR, space *Space, n uint32, allocType AllocType) error {
	var need uint32
	switch allocType {
	case AllocNormal:
		need = 2 + (space.Size()/ExtentPages)/100 + n
	case AllocUndo:
		need = 1 + space.Size()/200
	case AllocCleaning, AllocBlob:
		need = 0
	}
	hdr, err := headerPage(m, space)
	if err != nil {
		return err
	}
	free, _, _, _, _ := readHeaderLists(hdr)
	if free.Length >= need {
		return nil
	}
	if err := growFreeExtents(m, space, hdr); err != nil {
		return err
	}
	free, _, _, _, _ = readHeaderLists(hdr)
	if free.Length >= need {
		return nil
	}
	return ErrOutOfFileSpace
}
