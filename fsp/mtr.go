package fsp

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
)

// LogMode controls whether an MTR's writes are redo-logged.
type LogMode int

const (
	// LogNormal is the default: every Write is redo-logged.
	LogNormal LogMode = iota
	// LogNoRedo skips redo emission entirely (temp-tablespace shrink, §4.4.6).
	LogNoRedo
	// LogShortInsert is reserved for the (out-of-scope) B-tree short-insert
	// optimization; kept as a named mode because original_source refers to
	// it, but fsp never emits it itself.
	LogShortInsert
)

// WriteFlags controls redo-elision for a single Write call (spec §4.1).
type WriteFlags uint8

const (
	// Forced disables eliding a no-op write; recovery expects full
	// coverage for fields like FSP_SIZE.
	Forced WriteFlags = 1 << iota
	// MaybeNop permits (but never requires) eliding an identical write.
	MaybeNop
)

type opCode uint8

const (
	opWrite1 opCode = iota
	opWrite2
	opWrite4
	opWrite8
	opMemset
	opMemcpy
)

// redoOp is one buffered redo record within an MTR.
type redoOp struct {
	code    opCode
	space   uint32
	pageNo  uint32
	offset  uint32
	length  uint32
	payload []byte // WRITE_n value bytes, or MEMSET fill byte, or MEMCPY source
}

// RedoSink is the external redo-logger collaborator (spec §1 Non-goals:
// "the redo logger"). fsp.RedoLog satisfies it; production wiring
// supplies the real buffer-pool-backed redo logger instead.
type RedoSink interface {
	// Append buffers one MTR's worth of redo ops under a fresh LSN and
	// returns that commit LSN.
	Append(ops []byte) (lsn uint64, err error)
	FlushUpTo(lsn uint64) error
	GetFlushedLSN() uint64
}

// MTR (mini-transaction) is the only mechanism by which persistent
// pages change (spec §4.1). It batches page writes, buffers their redo
// records, and atomically assigns a commit LSN on Commit.
type MTR struct {
	mu       sync.Mutex
	logMode  LogMode
	redo     RedoSink
	ops      []redoOp
	latches  []heldLatch
	pages    map[PageID]*Page
	space    *Space
	done     bool
}

type heldLatch struct {
	l    *Latch
	mode LatchMode
}

// StartMTR begins a new mini-transaction against sink using logMode.
func StartMTR(sink RedoSink, logMode LogMode) *MTR {
	return &MTR{logMode: logMode, redo: sink, pages: make(map[PageID]*Page)}
}

// XLockSpace takes the tablespace-level SX latch required before any
// allocator call (spec §5 "Shared-resource policy").
func (m *MTR) XLockSpace(space *Space) {
	space.latch.LockMode(LatchSX)
	m.space = space
	m.latches = append(m.latches, heldLatch{l: space.latch, mode: LatchSX})
}

// GetPage fetches a page through the (external) buffer pool. Access is
// already protected by the tablespace-level SX latch XLockSpace took
// before any allocator call (spec §5 "Shared-resource policy"), so this
// does not take a separate per-page latch of its own; mode is kept for
// callers to document the access they intend, not to drive locking.
func (m *MTR) GetPage(space *Space, pageNo uint32, mode LatchMode) (*Page, error) {
	id := PageID{Space: space.ID, No: pageNo}
	if p, ok := m.pages[id]; ok {
		return p, nil
	}
	p, _, err := space.fetchPage(pageNo, mode)
	if err != nil {
		return nil, err
	}
	m.pages[id] = p
	return p, nil
}

// Write stages a logical change to p at offset, emitting a redo op for
// it unless elided per flags (spec §4.1).
func (m *MTR) Write(p *Page, offset int, value []byte, flags WriteFlags) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := append([]byte(nil), p.Contents[offset:offset+len(value)]...)
	unchanged := bytesEqual(existing, value)
	if unchanged && flags&Forced == 0 {
		// MAYBE_NOP or plain: eliding is permitted when nothing changed.
		return
	}

	copy(p.Contents[offset:], value)

	if m.logMode == LogNoRedo {
		return
	}

	var code opCode
	switch len(value) {
	case 1:
		code = opWrite1
	case 2:
		code = opWrite2
	case 4:
		code = opWrite4
	case 8:
		code = opWrite8
	default:
		code = opMemcpy
	}
	m.ops = append(m.ops, redoOp{
		code: code, space: p.SpaceID(), pageNo: p.PageNo(),
		offset: uint32(offset), length: uint32(len(value)), payload: value,
	})
}

// Memset stages a fill of n bytes starting at offset with fillByte.
func (m *MTR) Memset(p *Page, offset, n int, fillByte byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		p.Contents[offset+i] = fillByte
	}
	if m.logMode == LogNoRedo {
		return
	}
	m.ops = append(m.ops, redoOp{
		code: opMemset, space: p.SpaceID(), pageNo: p.PageNo(),
		offset: uint32(offset), length: uint32(n), payload: []byte{fillByte},
	})
}

// Memcpy stages a copy of src into p at offset.
func (m *MTR) Memcpy(p *Page, offset int, src []byte) {
	m.Write(p, offset, src, MaybeNop)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// redoBytesBuffered estimates the size of the redo group accumulated so
// far, used by shrink's ~2 MiB abort threshold (spec §4.4.6 step 5).
func (m *MTR) redoBytesBuffered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, op := range m.ops {
		n += 17 + len(op.payload)
	}
	return n
}

// encodeOps serializes the buffered redo ops for RedoSink.Append.
func (m *MTR) encodeOps() []byte {
	buf := make([]byte, 0, 32*len(m.ops))
	var hdr [17]byte
	for _, op := range m.ops {
		hdr[0] = byte(op.code)
		binary.BigEndian.PutUint32(hdr[1:5], op.space)
		binary.BigEndian.PutUint32(hdr[5:9], op.pageNo)
		binary.BigEndian.PutUint32(hdr[9:13], op.offset)
		binary.BigEndian.PutUint32(hdr[13:17], op.length)
		buf = append(buf, hdr[:]...)
		buf = append(buf, op.payload...)
	}
	return buf
}

// Commit atomically appends the redo group to the global redo stream,
// returns commit_lsn, and releases latches in reverse acquisition order.
func (m *MTR) Commit() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return 0, errors.New("fsp: mtr already committed")
	}
	m.done = true

	var lsn uint64
	var err error
	if m.logMode != LogNoRedo && len(m.ops) > 0 {
		lsn, err = m.redo.Append(m.encodeOps())
		if err != nil {
			return 0, errors.Wrap(err, "fsp: mtr commit redo append")
		}
		for _, p := range m.pages {
			p.SetLSN(lsn)
		}
	}
	for i := len(m.latches) - 1; i >= 0; i-- {
		m.latches[i].l.UnlockMode(m.latches[i].mode)
	}
	return lsn, nil
}

// Abort releases latches without committing redo; used on CORRUPTION.
func (m *MTR) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return
	}
	m.done = true
	for i := len(m.latches) - 1; i >= 0; i-- {
		m.latches[i].l.UnlockMode(m.latches[i].mode)
	}
}
