package fsp

import (
	"errors"
	"sync"

	"github.com/zhukovaskychina/xbinlog-server/server/innodb/basic"
)

var errMemPageNotFound = errors.New("fsp test: page not found")

// memPage is a minimal basic.IPage backed by a plain byte slice, grounded
// on the teacher's defaultPage shape (server/innodb/manager/page.go) but
// trimmed to what MTR/Space actually exercise.
type memPage struct {
	pageNo  uint32
	spaceID uint32
	size    uint32
	data    []byte
	dirty   bool
	lsn     uint64
	state   basic.PageState
}

func (p *memPage) GetPageID() uint32           { return p.pageNo }
func (p *memPage) GetPageNo() uint32           { return p.pageNo }
func (p *memPage) GetSpaceID() uint32          { return p.spaceID }
func (p *memPage) GetPageType() basic.PageType { return 0 }
func (p *memPage) GetSize() uint32             { return p.size }
func (p *memPage) GetData() []byte             { return p.data }
func (p *memPage) GetContent() []byte          { return p.data }
func (p *memPage) SetData(data []byte) error   { copy(p.data, data); p.dirty = true; return nil }
func (p *memPage) SetContent(content []byte)   { copy(p.data, content); p.dirty = true }
func (p *memPage) IsDirty() bool               { return p.dirty }
func (p *memPage) SetDirty(dirty bool)         { p.dirty = dirty }
func (p *memPage) MarkDirty()                  { p.dirty = true }
func (p *memPage) ClearDirty()                 { p.dirty = false }
func (p *memPage) GetState() basic.PageState   { return p.state }
func (p *memPage) SetState(state basic.PageState) { p.state = state }
func (p *memPage) GetLSN() uint64              { return p.lsn }
func (p *memPage) SetLSN(lsn uint64)           { p.lsn = lsn }
func (p *memPage) IsLeafPage() bool            { return false }
func (p *memPage) Init() error                 { return nil }
func (p *memPage) Release()                    {}
func (p *memPage) Pin()                        {}
func (p *memPage) Unpin()                      {}
func (p *memPage) Read() error                 { return nil }
func (p *memPage) Write() error                { return nil }

// memBufferPool is an in-memory basic.IBufferPool standing in for the
// external buffer pool collaborator (spec §1 Non-goal), plus Space's
// optional FileExtender capability so TryExtend/ShrinkSystemSpace have
// something to grow/truncate against.
type memBufferPool struct {
	mu       sync.Mutex
	pageSize uint32
	pages    map[uint32]*memPage // keyed by page number; single space per pool
	extents  uint32              // pages "on disk", i.e. ExtendTo/TruncateTo target
}

func newMemBufferPool(pageSize uint32) *memBufferPool {
	return &memBufferPool{pageSize: pageSize, pages: make(map[uint32]*memPage)}
}

func (bp *memBufferPool) GetPage(spaceID, pageNo uint32) (basic.IPage, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if p, ok := bp.pages[pageNo]; ok {
		return p, nil
	}
	return nil, errMemPageNotFound
}

func (bp *memBufferPool) NewPage(spaceID, pageNo uint32, pageType basic.PageType) (basic.IPage, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if p, ok := bp.pages[pageNo]; ok {
		return p, nil
	}
	p := &memPage{pageNo: pageNo, spaceID: spaceID, size: bp.pageSize, data: make([]byte, bp.pageSize)}
	bp.pages[pageNo] = p
	return p, nil
}

func (bp *memBufferPool) FreePage(spaceID, pageNo uint32) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	delete(bp.pages, pageNo)
	return nil
}

func (bp *memBufferPool) Flush() error { return nil }
func (bp *memBufferPool) Close() error { return nil }

func (bp *memBufferPool) ExtendTo(spaceID uint32, pages uint32) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for no := bp.extents; no < pages; no++ {
		if _, ok := bp.pages[no]; !ok {
			bp.pages[no] = &memPage{pageNo: no, spaceID: spaceID, size: bp.pageSize, data: make([]byte, bp.pageSize)}
		}
	}
	if pages > bp.extents {
		bp.extents = pages
	}
	return nil
}

func (bp *memBufferPool) TruncateTo(spaceID uint32, pages uint32) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for no := range bp.pages {
		if no >= pages {
			delete(bp.pages, no)
		}
	}
	bp.extents = pages
	return nil
}

// newTestSpace builds a Space backed by memBufferPool, pre-extended to
// sizePages and formatted via HeaderInit, ready for allocator calls.
func newTestSpace(sizePages uint32, pageSize uint32, redo RedoSink) (*Space, *memBufferPool) {
	bp := newMemBufferPool(pageSize)
	if err := bp.ExtendTo(1, sizePages); err != nil {
		panic(err)
	}
	space := NewSpace(1, pageSize, SpaceKindGeneral, bp)

	mtr := StartMTR(redo, LogNormal)
	if err := HeaderInit(space, sizePages, mtr); err != nil {
		panic(err)
	}
	if _, err := mtr.Commit(); err != nil {
		panic(err)
	}
	return space, bp
}
