package fsp

import (
	"sync"
	"sync/atomic"

	"github.com/zhukovaskychina/xbinlog-server/server/innodb/basic"
)

// Space is the in-memory state of one tablespace: its geometry, the
// five space-level list bases (spec §3 "Tablespace header"), and the
// latch guarding allocator operations against concurrent callers.
//
// Page I/O is delegated to the (external) buffer pool collaborator
// (spec §1 Non-goal) via basic.IBufferPool, so fsp never owns page
// caching or eviction itself.
// SpaceKind selects the growth and shrink policy TryExtend/ShrinkSystemSpace
// apply to a tablespace (spec §4.4).
type SpaceKind int

const (
	SpaceKindGeneral SpaceKind = iota
	SpaceKindSystem
	SpaceKindTemp
	SpaceKindBinlog
)

// FileExtender is the optional capability a concrete IBufferPool
// implementation may offer to physically grow (or truncate) the
// datafile backing a space. Page I/O proper stays on basic.IBufferPool;
// this is kept separate so most collaborators never need to implement
// it at all.
type FileExtender interface {
	ExtendTo(spaceID uint32, pages uint32) error
	TruncateTo(spaceID uint32, pages uint32) error
}

type Space struct {
	ID         uint32
	PageSize   uint32
	Kind       SpaceKind
	bufferPool basic.IBufferPool
	latch      *Latch

	corrupted int32 // atomic bool

	mu        sync.Mutex
	size      uint32 // FSP_SIZE: total pages
	freeLimit uint32 // FSP_FREE_LIMIT
	fragNUsed uint32 // FRAG_N_USED
	segIDSeq  uint64 // next segment id to hand out

	Free         ListBase // space-level free extents
	FreeFrag     ListBase // partially-used extents
	FullFrag     ListBase // fully-used frag extents
	SegInodeFree ListBase // inode pages with a free slot
	SegInodeFull ListBase // fully-used inode pages
}

const ExtentPages = 64 // EXTENT_PAGES for the default 16 KiB page / 1 MiB extent

// NewSpace creates the in-memory handle for an existing or new tablespace.
func NewSpace(id uint32, pageSize uint32, kind SpaceKind, bp basic.IBufferPool) *Space {
	return &Space{ID: id, PageSize: pageSize, Kind: kind, bufferPool: bp, latch: NewLatch()}
}

func (s *Space) Size() uint32      { return atomic.LoadUint32(&s.size) }
func (s *Space) FreeLimit() uint32 { return atomic.LoadUint32(&s.freeLimit) }
func (s *Space) FragNUsed() uint32 { return atomic.LoadUint32(&s.fragNUsed) }

func (s *Space) setSize(v uint32)      { atomic.StoreUint32(&s.size, v) }
func (s *Space) setFreeLimit(v uint32) { atomic.StoreUint32(&s.freeLimit, v) }
func (s *Space) setFragNUsed(v uint32) { atomic.StoreUint32(&s.fragNUsed, v) }

func (s *Space) MarkCorrupted() { atomic.StoreInt32(&s.corrupted, 1) }
func (s *Space) IsCorrupted() bool { return atomic.LoadInt32(&s.corrupted) == 1 }

func (s *Space) NextSegID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.segIDSeq
	s.segIDSeq++
	return id
}

// fetchPage gets (creating if absent) a page from the buffer pool and
// returns an fsp.Page view plus the latch MTR should track.
func (s *Space) fetchPage(pageNo uint32, mode LatchMode) (*Page, *Latch, error) {
	ip, err := s.bufferPool.GetPage(s.ID, pageNo)
	if err != nil {
		ip, err = s.bufferPool.NewPage(s.ID, pageNo, 0)
		if err != nil {
			return nil, nil, err
		}
	}
	p := WrapPage(PageID{Space: s.ID, No: pageNo}, ip.GetData())
	return p, s.latch, nil
}

// boundsCheck validates a NodeAddr against spec §4.2's bounds rule.
func (s *Space) boundsCheck(addr NodeAddr) error {
	if addr.IsNil() {
		return nil
	}
	if addr.Offset < HeaderSize || uint32(addr.Offset) >= s.PageSize-TrailerSize {
		return corrupt(s, "fsp: node addr offset %d out of range", addr.Offset)
	}
	if addr.Page >= s.FreeLimit() {
		return corrupt(s, "fsp: node addr page %d >= free_limit %d", addr.Page, s.FreeLimit())
	}
	return nil
}

// xdesPageInterval is the page stride at which XDES pages recur: how
// many extent-descriptors fit on one XDES page (§3's "40-byte record
// for one extent", GLOSSARY), times EXTENT_PAGES. The descriptor array
// starts at FSPHeaderSize on every XDES page, not just page 0, so a
// page 0 fetch as an XDES page never collides with the tablespace
// header fields that also live there; later XDES-only pages simply
// leave that same leading span unused.
func (s *Space) xdesPageInterval() uint32 {
	capacity := (s.PageSize - FSPHeaderSize - TrailerSize) / XDESEntrySize
	return capacity * ExtentPages
}
