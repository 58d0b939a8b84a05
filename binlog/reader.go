package binlog

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xbinlog-server/fsp"
)

// ReadMode selects whether a Reader may observe writer-visible (not yet
// fsync'd) bytes or only bytes the pending-LSN FIFO has confirmed
// durable (spec §4.9).
type ReadMode int

const (
	ModeDirty ReadMode = iota
	ModeDurable
)

// CommitRecord is the fully reassembled transaction a reader emits:
// any OOB payloads in original append order, followed by the inline
// remainder carried directly in the COMMIT record.
type CommitRecord struct {
	OOBPayloads [][]byte
	Inline      []byte
	NextFile    uint64
	NextOffset  uint32
}

// Reader is a forward binlog reader (C9).
type Reader struct {
	mu   sync.Mutex
	dir  string
	w    *Writer
	fifo *PendingLSNFifo
	mode ReadMode

	fileNo      uint64
	offset      uint32
	skipPartial bool

	// filesMu guards files independently of mu (the cursor/position
	// lock): every cursor-holding method (NextEventGroup, InitLegacyPos,
	// InitGTIDPos) reads pages while already holding mu, and page reads
	// open files on demand via fileFor, so fileFor cannot itself take mu.
	filesMu sync.Mutex
	files   map[uint64]*tablespaceFile
}

func NewReader(dir string, w *Writer, fifo *PendingLSNFifo, mode ReadMode) *Reader {
	return &Reader{dir: dir, w: w, fifo: fifo, mode: mode, files: make(map[uint64]*tablespaceFile)}
}

// register lowers the writer's first-open-file floor to this reader's
// current file, so purge never deletes out from under it.
func (r *Reader) register() { r.w.SetFirstOpenFileNo(r.fileNo) }

func (r *Reader) usableBody() uint32 { return r.w.usableBodySize() }

// readPageBytes selects the page's source: the writer's in-memory
// active page when fileNo is currently active (the "buffer pool"
// path), otherwise the on-disk copy. A retry guards against the
// active file advancing between the check and the read (spec §4.9
// step 4: "detects active-file-no changes... and retries").
func (r *Reader) readPageBytes(fileNo uint64, pageNo uint32) ([]byte, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if fileNo == r.w.ActiveFileNo() {
			r.w.mu.Lock()
			if fileNo == r.w.activeFileNo.Load() && pageNo == r.w.curNo {
				buf := append([]byte(nil), r.w.curPage.Contents...)
				r.w.mu.Unlock()
				return buf, nil
			}
			r.w.mu.Unlock()
		}
		f, err := r.fileFor(fileNo)
		if err != nil {
			return nil, err
		}
		buf, err := f.readPage(pageNo)
		if err != nil {
			return nil, err
		}
		if fileNo == r.w.ActiveFileNo() && pageNo == r.w.curNo {
			// the page may have been mid-write on disk; retry via the
			// in-memory path instead of trusting a torn read.
			continue
		}
		return buf, nil
	}
	return nil, errors.New("binlog: could not obtain a stable page read")
}

func (r *Reader) fileFor(fileNo uint64) (*tablespaceFile, error) {
	r.filesMu.Lock()
	defer r.filesMu.Unlock()
	if f, ok := r.files[fileNo]; ok {
		return f, nil
	}
	f := newTablespaceFile(r.dir, fileNo, r.w.pageSize)
	if err := f.open(); err != nil {
		return nil, err
	}
	r.files[fileNo] = f
	return f, nil
}

// rawChunk is one physical chunk read off a page.
type rawChunk struct {
	typ     ChunkType
	cont    bool
	last    bool
	payload []byte
}

// nextRawChunk reads and advances past one chunk at the reader's
// current (fileNo, offset), skipping to the next page when the
// current one is exhausted.
func (r *Reader) nextRawChunk() (rawChunk, error) {
	body := r.usableBody()
	pageNo := r.offset / body
	pageOff := r.offset % body

	if r.mode == ModeDurable {
		durable := r.w.DurableOffset(r.fileNo)
		if uint64(r.offset) >= durable {
			return rawChunk{}, io.EOF
		}
	}

	for {
		page, err := r.readPageBytes(r.fileNo, pageNo)
		if err != nil {
			return rawChunk{}, err
		}
		pageBodyBuf := page[fsp.HeaderSize : fsp.HeaderSize+body]
		if int(pageOff)+ChunkHeaderSize > len(pageBodyBuf) {
			pageNo++
			pageOff = 0
			continue
		}
		typ, cont, last, length := DecodeChunkHeader(pageBodyBuf[pageOff:])
		if typ == ChunkFiller {
			pageNo++
			pageOff = 0
			continue
		}
		start := int(pageOff) + ChunkHeaderSize
		payload := append([]byte(nil), pageBodyBuf[start:start+length]...)
		r.offset = pageNo*body + uint32(start+length)
		return rawChunk{typ: typ, cont: cont, last: last, payload: payload}, nil
	}
}

// readRecordAt reassembles one complete chunk-linked record beginning
// exactly at (fileNo, offset); typ is the type of its first chunk.
func (r *Reader) readRecordAt(fileNo uint64, offset uint32) ([]byte, ChunkType, uint64, uint32, error) {
	save := r.fileNo
	saveOff := r.offset
	r.fileNo, r.offset = fileNo, offset

	var data []byte
	var typ ChunkType
	first := true
	for {
		c, err := r.nextRawChunk()
		if err != nil {
			r.fileNo, r.offset = save, saveOff
			return nil, 0, 0, 0, err
		}
		if first {
			typ = c.typ
			first = false
		}
		data = append(data, c.payload...)
		if c.last {
			break
		}
	}
	nf, no := r.fileNo, r.offset
	r.fileNo, r.offset = save, saveOff
	return data, typ, nf, no, nil
}

// SeekTo positions the reader at (fileNo, offset); skipPartial causes
// the next NEXT scan to drop chunks until a non-CONT boundary, used
// after landing mid-record from a seek.
func (r *Reader) SeekTo(fileNo uint64, offset uint32, skipPartial bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fileNo, r.offset, r.skipPartial = fileNo, offset, skipPartial
	r.register()
}

// NextEventGroup runs the NEXT → COMMIT → OOB state machine once,
// returning the next fully reassembled transaction.
func (r *Reader) NextEventGroup() (*CommitRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first rawChunk
	for {
		c, err := r.nextRawChunk()
		if err != nil {
			return nil, err
		}
		if r.skipPartial && c.cont {
			continue
		}
		r.skipPartial = false
		if c.typ != ChunkCommit || c.cont {
			continue
		}
		first = c
		break
	}

	body, nextFile, nextOff, err := r.readRecordAtCurrent(first)
	if err != nil {
		return nil, err
	}
	rec, err := r.parseCommitBody(body)
	if err != nil {
		return nil, err
	}
	rec.NextFile, rec.NextOffset = nextFile, nextOff
	return rec, nil
}

// readRecordAtCurrent assembles the remainder of a record whose first
// chunk, already consumed by NextEventGroup's scan loop, is passed in as
// first; r.fileNo/offset point just past that first chunk.
func (r *Reader) readRecordAtCurrent(first rawChunk) ([]byte, uint64, uint32, error) {
	data := append([]byte(nil), first.payload...)
	last := first.last
	for !last {
		c, err := r.nextRawChunk()
		if err != nil {
			return nil, 0, 0, err
		}
		data = append(data, c.payload...)
		last = c.last
	}
	return data, r.fileNo, r.offset, nil
}

// parseCommitBody decodes the COMMIT record header — oob_count plus
// first/last root refs for a primary and optional secondary forest,
// with a terminator varint when both are present (spec §6) — then
// walks the primary forest in post-order before returning the inline
// remainder.
func (r *Reader) parseCommitBody(body []byte) (*CommitRecord, error) {
	rec := &CommitRecord{}

	primaryCount, _, _, lastFile, lastOff, rest, err := decodeForestRefs(body)
	if err != nil {
		return nil, err
	}
	body = rest

	secondaryCount, _, _, _, _, rest, err := decodeForestRefs(body)
	if err != nil {
		return nil, err
	}
	body = rest

	if primaryCount > 0 && secondaryCount > 0 {
		_, n, err := GetVarint(body, 0)
		if err != nil {
			return nil, err
		}
		body = body[n:]
	}

	if primaryCount > 0 {
		payloads, err := r.traverseOOB(lastFile, lastOff)
		if err != nil {
			return nil, err
		}
		rec.OOBPayloads = payloads
	}
	// the secondary forest's refs are decoded only to skip past them;
	// its payloads (if any) are not traversed and not surfaced on the
	// returned CommitRecord.

	rec.Inline = body
	return rec, nil
}

// decodeForestRefs decodes one COMMIT-header forest block: oob_count,
// followed by (first_file, first_off, last_file, last_off) only when
// oob_count > 0 (spec §6). Returns the remainder of buf past the block.
func decodeForestRefs(buf []byte) (count, firstFile uint64, firstOff uint32, lastFile uint64, lastOff uint32, rest []byte, err error) {
	count, n, err := GetVarint(buf, 1<<32)
	if err != nil {
		return 0, 0, 0, 0, 0, nil, err
	}
	buf = buf[n:]
	if count == 0 {
		return 0, 0, 0, 0, 0, buf, nil
	}
	firstFile, n, err = GetVarint(buf, ^uint64(0))
	if err != nil {
		return 0, 0, 0, 0, 0, nil, err
	}
	buf = buf[n:]
	firstOff, n, err = GetVarintU32(buf)
	if err != nil {
		return 0, 0, 0, 0, 0, nil, err
	}
	buf = buf[n:]
	lastFile, n, err = GetVarint(buf, ^uint64(0))
	if err != nil {
		return 0, 0, 0, 0, 0, nil, err
	}
	buf = buf[n:]
	lastOff, n, err = GetVarintU32(buf)
	if err != nil {
		return 0, 0, 0, 0, 0, nil, err
	}
	buf = buf[n:]
	return count, firstFile, firstOff, lastFile, lastOff, buf, nil
}

// oobFrame is one stack entry of traverseOOB's explicit post-order walk.
type oobFrame struct {
	fileNo, offset      uint64
	leftFile, leftOff   uint64
	rightFile, rightOff uint64
	payload             []byte
	loaded, leftDone    bool
}

// traverseOOB performs a post-order walk (left, right, node) of the
// forest rooted at (fileNo, offset) using an explicit stack instead of
// recursion. The stack holds one frame per node on the current path;
// for the back-linked chain OOBContext.Append builds, that is one frame
// per node of the forest.
func (r *Reader) traverseOOB(fileNo uint64, offset uint32) ([][]byte, error) {
	var out [][]byte
	if fileNo == 0 && offset == 0 {
		return out, nil
	}
	stack := []*oobFrame{{fileNo: fileNo, offset: uint64(offset)}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if !top.loaded {
			data, _, _, _, err := r.readRecordAt(top.fileNo, uint32(top.offset))
			if err != nil {
				return nil, err
			}
			if len(data) < oobNodeHeaderSize {
				return nil, corrupt("binlog: truncated OOB node header")
			}
			top.leftFile = binary.LittleEndian.Uint64(data[8:16])
			top.leftOff = binary.LittleEndian.Uint64(data[16:24])
			top.rightFile = binary.LittleEndian.Uint64(data[24:32])
			top.rightOff = binary.LittleEndian.Uint64(data[32:40])
			top.payload = data[oobNodeHeaderSize:]
			top.loaded = true
		}
		if !top.leftDone {
			top.leftDone = true
			if top.leftFile != 0 || top.leftOff != 0 {
				stack = append(stack, &oobFrame{fileNo: top.leftFile, offset: top.leftOff})
				continue
			}
		}
		if top.rightFile != 0 || top.rightOff != 0 {
			rf, ro := top.rightFile, top.rightOff
			top.rightFile, top.rightOff = 0, 0
			stack = append(stack, &oobFrame{fileNo: rf, offset: ro})
			continue
		}
		out = append(out, top.payload)
		stack = stack[:len(stack)-1]
	}
	return out, nil
}

// InitLegacyPos seeks to a byte offset within fileNo, scanning forward
// chunk-by-chunk from the page boundary (spec §4.9).
func (r *Reader) InitLegacyPos(fileNo uint64, byteOffset uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := r.fileFor(fileNo)
	if err != nil {
		return err
	}
	sizePages, err := f.sizePages()
	if err != nil {
		return err
	}
	if uint64(byteOffset) >= uint64(sizePages)*uint64(r.w.pageSize) {
		return ErrOffsetTooLarge
	}
	body := r.usableBody()
	pageNo := byteOffset / body
	r.fileNo, r.offset, r.skipPartial = fileNo, pageNo*body, true
	r.register()
	for r.offset < byteOffset {
		if _, err := r.nextRawChunk(); err != nil {
			return err
		}
	}
	return nil
}

// InitGTIDPos seeks to the latest position whose reconstructed GTID
// state is still at or before target (spec §4.9): walk backwards over
// files to the newest whose page-1 full snapshot is still <= target,
// then within that file walk forward one diff_state_interval stride at
// a time (a linear scan, not a binary search), stopping before the
// first page whose cumulative state is no longer <= target.
func (r *Reader) InitGTIDPos(target *GTIDState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fileNos, err := listBinlogFileNos(r.dir)
	if err != nil {
		return err
	}
	if len(fileNos) == 0 {
		return ErrNoBinlogFiles
	}

	body := r.usableBody()

	chosen := fileNos[0]
	var chosenState *GTIDState
	for i := len(fileNos) - 1; i >= 0; i-- {
		fileNo := fileNos[i]
		snap, ok, err := r.gtidSnapshotAt(fileNo, 1*body, NewGTIDState())
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if snap.LessEq(target) {
			chosen, chosenState = fileNo, snap
			break
		}
	}
	if chosenState == nil {
		// target precedes every retained file's own start: fall back to
		// the oldest file's page-1 snapshot (possibly empty).
		snap, _, err := r.gtidSnapshotAt(chosen, 1*body, NewGTIDState())
		if err != nil {
			return err
		}
		chosenState = snap
	}

	limit, err := r.writtenLimit(chosen, body)
	if err != nil {
		return err
	}

	bestPage := uint32(1)
	cur := chosenState
	for pageNo := uint32(1) + r.w.diffIntervalPages; uint64(pageNo)*uint64(body) < limit; pageNo += r.w.diffIntervalPages {
		next, ok, err := r.gtidSnapshotAt(chosen, pageNo*body, cur.Clone())
		if err != nil {
			return err
		}
		if !ok || !next.LessEq(target) {
			break
		}
		cur = next
		bestPage = pageNo
	}

	r.fileNo, r.offset, r.skipPartial = chosen, bestPage*body, true
	r.register()
	return nil
}

// gtidSnapshotAt reads the GTID_STATE record expected at exactly
// (fileNo, offset) and merges it into base, returning the merged state
// and whether a GTID_STATE chunk was actually found there (false for
// unwritten space past a file's live end).
func (r *Reader) gtidSnapshotAt(fileNo uint64, offset uint32, base *GTIDState) (*GTIDState, bool, error) {
	data, typ, _, _, err := r.readRecordAt(fileNo, offset)
	if err != nil {
		return nil, false, err
	}
	if typ != ChunkGTIDState {
		return nil, false, nil
	}
	entries, err := DecodeGTIDEntries(data)
	if err != nil {
		return nil, false, err
	}
	base.ApplyEntries(entries)
	return base, true, nil
}

// writtenLimit bounds InitGTIDPos's page walk at fileNo's live end: the
// writer's in-flight end offset while fileNo is still active, or its
// full size once rotated past (a closed file is always written through
// to capacity).
func (r *Reader) writtenLimit(fileNo uint64, body uint32) (uint64, error) {
	if fileNo == r.w.ActiveFileNo() {
		return r.w.EndOffset(fileNo), nil
	}
	f, err := r.fileFor(fileNo)
	if err != nil {
		return 0, err
	}
	sizePages, err := f.sizePages()
	if err != nil {
		return 0, err
	}
	return uint64(sizePages) * uint64(body), nil
}

// WaitAvailable cooperates with the pending-LSN FIFO so a durable-mode
// reader blocks until its current position is confirmed durable.
func (r *Reader) WaitAvailable(deadline time.Time) error {
	if r.mode != ModeDurable {
		return nil
	}
	return r.fifo.WaitAvailable(r.fileNo, uint64(r.offset), deadline)
}
