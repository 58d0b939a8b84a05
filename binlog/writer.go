package binlog

import (
	"sync"

	"github.com/pkg/errors"
	uberatomic "go.uber.org/atomic"

	"github.com/zhukovaskychina/xbinlog-server/fsp"
)

// rotationSlots disambiguates cur_end/durable_offset during rotation:
// four slots keyed by file_no&3 so a reader that observes a slot
// mid-rotation never sees a stale value from two files ago (spec §4.5).
const rotationSlots = 4

// spaceIDForFile returns the alternating buffer-pool space id a file's
// pages are addressed under while the file is active (spec §3: "their
// space-ids alternate BINLOG0, BINLOG1 by file_no & 1").
func spaceIDForFile(fileNo uint64) uint32 { return uint32(fileNo & 1) }

// Writer is the chunked binlog record writer (C5). It owns the single
// "active file" cursor; concurrent callers serialize through mu.
type Writer struct {
	mu sync.Mutex

	dir               string
	pageSize          uint32
	filePages         uint32
	diffIntervalPages uint32
	redo              fsp.RedoSink

	activeFileNo      uberatomic.Uint64
	firstOpenFileNo   uint64
	lastCreatedFileNo uberatomic.Uint64

	curFile *tablespaceFile
	curPage *fsp.Page
	curNo   uint32 // page number within curFile
	curOff  uint32 // next write offset within the page's usable body

	curEndOffset     [rotationSlots]uberatomic.Uint64
	curDurableOffset [rotationSlots]uberatomic.Uint64

	globalState    *GTIDState
	fileStartState *GTIDState
	diffState      *GTIDState

	preallocReq  chan uint64
	preallocCond *sync.Cond
	preallocMu   sync.Mutex

	open map[uint64]*tablespaceFile

	oobRefs *fileRefCounts
}

// usableBodySize is the number of chunk bytes a page can hold.
func (w *Writer) usableBodySize() uint32 {
	return w.pageSize - fsp.HeaderSize - fsp.TrailerSize
}

// NewWriter creates a writer rooted at dir. filePages is the fixed file
// size in pages; diffIntervalBytes is innodb_binlog_state_interval.
func NewWriter(dir string, pageSize, filePages uint32, diffIntervalBytes uint64, redo fsp.RedoSink) *Writer {
	interval := uint32(diffIntervalBytes / uint64(pageSize))
	if interval == 0 {
		interval = 1
	}
	w := &Writer{
		dir:               dir,
		pageSize:          pageSize,
		filePages:         filePages,
		diffIntervalPages: interval,
		redo:              redo,
		globalState:       NewGTIDState(),
		fileStartState:    NewGTIDState(),
		diffState:         NewGTIDState(),
		preallocReq:       make(chan uint64, 4),
		open:              make(map[uint64]*tablespaceFile),
		// No reader has registered yet: leave purge_low's first-open-file
		// floor unconstrained rather than pinned at 0, which would
		// silently block all purging forever.
		firstOpenFileNo: ^uint64(0),
		oobRefs:         newFileRefCounts(),
	}
	w.preallocCond = sync.NewCond(&w.preallocMu)
	return w
}

// OOBRefs returns the shared reference-count table every OOBContext
// this writer constructs pins its first node's file_no in, so a
// caller wiring up Purger can pass it through as PurgeInfo.OOBRefs
// (spec §4.6 "increment a reference on that file_no", §4.11, I8).
func (w *Writer) OOBRefs() *fileRefCounts { return w.oobRefs }

func (w *Writer) slot(fileNo uint64) int { return int(fileNo % rotationSlots) }

// ensureActive lazily creates file 0 the first time the writer is
// used (tests and cmd/binlogtool call this implicitly via FspBinlogWriteRec).
func (w *Writer) ensureActive() error {
	if w.curFile != nil {
		return nil
	}
	return w.beginFile(0)
}

// beginFile creates (or reopens) fileNo as the active file, writes and
// syncs its header page, and resets the page cursor.
func (w *Writer) beginFile(fileNo uint64) error {
	f := newTablespaceFile(w.dir, fileNo, w.pageSize)
	if err := f.create(w.filePages); err != nil {
		return err
	}
	startLSN := w.redo.GetFlushedLSN()
	hdr := FileHeader{
		PageSizeShift: pageSizeShift(w.pageSize),
		VersionMajor:  FileVersionMajor,
		VersionMinor:  FileVersionMinor,
		FileNo:        fileNo,
		SizePages:     uint64(w.filePages),
		StartLSN:      startLSN,
		DiffInterval:  uint64(w.diffIntervalPages) * uint64(w.pageSize),
	}
	buf := EncodeFileHeader(hdr, w.pageSize)
	if err := f.writePage(0, buf); err != nil {
		return err
	}
	// Sentinel rule (spec §4.5): the header page must be durable before
	// the writer lets anything depend on this file existing.
	if err := f.sync(); err != nil {
		return err
	}

	w.curFile = f
	w.open[fileNo] = f
	w.activeFileNo.Store(fileNo)
	w.curNo = 1
	w.curOff = 0
	w.curPage = fsp.NewPage(fsp.PageID{Space: spaceIDForFile(fileNo), No: 1}, w.pageSize)
	w.curPage.SetType(fsp.PageTypeBinlog)
	w.fileStartState = w.globalState.Clone()
	w.diffState = NewGTIDState()
	return nil
}

// FspBinlogWriteRec writes one chunked logical record of typ, pulling
// payload from data in page-sized slices, and returns the position of
// its first chunk (spec §4.5).
func (w *Writer) FspBinlogWriteRec(data ChunkDataSource, typ ChunkType) (startFile uint64, startOffset uint32, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureActive(); err != nil {
		return 0, 0, err
	}

	buf := make([]byte, w.usableBodySize())
	cont := false
	for {
		if err := w.beforeChunkWrite(); err != nil {
			return 0, 0, err
		}

		remaining := w.usableBodySize() - w.curOff
		if remaining < ChunkHeaderSize+1 {
			if err := w.writeFillerAndAdvance(); err != nil {
				return 0, 0, err
			}
			continue
		}
		if !cont {
			// the record's first chunk lands here, after any GTID_STATE
			// prelude, filler or rotation above.
			startFile = w.activeFileNo.Load()
			startOffset = w.curNo*w.usableBodySize() + w.curOff
		}
		maxPayload := int(remaining) - ChunkHeaderSize
		n, last := data.CopyData(buf[:maxPayload])
		if err := w.emitChunk(typ, cont, last, buf[:n]); err != nil {
			return 0, 0, err
		}
		cont = true
		if last {
			break
		}
	}
	return startFile, startOffset, nil
}

// beforeChunkWrite implements the per-page prelude: emit a GTID_STATE
// snapshot at page 0/1 or every diff-interval page, and roll to the
// next file if the active file is full (spec §4.5 step 1).
func (w *Writer) beforeChunkWrite() error {
	if w.curNo >= w.filePages {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	if w.curOff == 0 && (w.curNo == 1 || w.curNo%w.diffIntervalPages == 0) {
		return w.writeGTIDStateLocked()
	}
	return nil
}

func (w *Writer) writeGTIDStateLocked() error {
	var entries []GTIDEntry
	if w.curNo == 1 {
		entries = w.globalState.Snapshot()
	} else {
		entries = w.globalState.DiffSince(w.fileStartState)
	}
	payload := EncodeGTIDEntries(entries)
	return w.emitChunk(ChunkGTIDState, false, true, payload)
}

// writeFillerAndAdvance pads the remainder of the current page with a
// FILLER chunk (used when fewer than 4 bytes remain, spec §4.5 step 1).
func (w *Writer) writeFillerAndAdvance() error {
	remaining := int(w.usableBodySize() - w.curOff)
	if remaining > 0 {
		mtr := fsp.StartMTR(w.redo, fsp.LogNormal)
		off := int(fsp.HeaderSize + w.curOff)
		if remaining >= ChunkHeaderSize {
			// a full FILLER header fits; zero-fill whatever trails it.
			hdr := EncodeChunkHeader(ChunkFiller, false, true, 0)
			mtr.Write(w.curPage, off, hdr[:], fsp.Forced)
			if remaining > ChunkHeaderSize {
				mtr.Memset(w.curPage, off+ChunkHeaderSize, remaining-ChunkHeaderSize, 0)
			}
		} else {
			// too little room even for a FILLER header: zero-fill the
			// tail outright. A reader that can't decode a full header
			// at this offset already advances to the next page.
			mtr.Memset(w.curPage, off, remaining, 0)
		}
		lsn, err := mtr.Commit()
		if err != nil {
			return err
		}
		w.curPage.SetLSN(lsn)
	}
	return w.flushCurrentPage()
}

// emitChunk writes one physical chunk (header + payload slice) under
// its own MTR, updates the end-offset cursor, and rolls the page
// over if it is now full (spec dataflow: "per-chunk MTR emits redo").
func (w *Writer) emitChunk(typ ChunkType, cont, last bool, payload []byte) error {
	hdr := EncodeChunkHeader(typ, cont, last, len(payload))
	mtr := fsp.StartMTR(w.redo, fsp.LogNormal)
	off := int(fsp.HeaderSize + w.curOff)
	mtr.Write(w.curPage, off, hdr[:], fsp.Forced)
	if len(payload) > 0 {
		mtr.Memcpy(w.curPage, off+ChunkHeaderSize, payload)
	}
	lsn, err := mtr.Commit()
	if err != nil {
		return err
	}
	w.curPage.SetLSN(lsn)

	w.curOff += uint32(ChunkHeaderSize + len(payload))
	endOffset := uint64(w.curNo)*uint64(w.usableBodySize()) + uint64(w.curOff)
	w.curEndOffset[w.slot(w.activeFileNo.Load())].Store(endOffset)

	if w.curOff >= w.usableBodySize() {
		return w.flushCurrentPage()
	}
	return nil
}

// flushCurrentPage stamps checksums, writes the page to its file, and
// advances the page cursor.
func (w *Writer) flushCurrentPage() error {
	w.curPage.StampHeaderChecksum()
	w.curPage.StampTrailerChecksum()
	if err := w.curFile.writePage(w.curNo, w.curPage.Contents); err != nil {
		return err
	}
	w.curNo++
	w.curOff = 0
	w.curPage = fsp.NewPage(fsp.PageID{Space: spaceIDForFile(w.activeFileNo.Load()), No: w.curNo}, w.pageSize)
	w.curPage.SetType(fsp.PageTypeBinlog)
	return nil
}

// rotate crosses to the next file: signal pre-allocation, wait for it,
// advance active_file_no, and reset the page cursor (spec §4.5 step 1).
func (w *Writer) rotate() error {
	closingFileNo := w.activeFileNo.Load()
	if err := w.curFile.sync(); err != nil {
		return err
	}

	nextFileNo := closingFileNo + 1
	select {
	case w.preallocReq <- nextFileNo:
	default:
	}
	w.preallocMu.Lock()
	for w.lastCreatedFileNo.Load() <= closingFileNo {
		w.preallocCond.Wait()
	}
	w.preallocMu.Unlock()

	nextFile, ok := w.open[nextFileNo]
	if !ok {
		return errors.Errorf("binlog: pre-allocated file %d missing", nextFileNo)
	}
	w.curFile = nextFile
	w.activeFileNo.Store(nextFileNo)
	w.curNo = 1
	w.curOff = 0
	w.curPage = fsp.NewPage(fsp.PageID{Space: spaceIDForFile(nextFileNo), No: 1}, w.pageSize)
	w.curPage.SetType(fsp.PageTypeBinlog)

	// rotate cur_end/durable_offset slot: the new slot starts counting
	// from this file's own byte positions.
	w.curEndOffset[w.slot(nextFileNo)].Store(0)
	w.curDurableOffset[w.slot(nextFileNo)].Store(0)

	w.fileStartState = w.globalState.Clone()
	w.diffState = NewGTIDState()
	return nil
}

// NotifyFileCreated is called by the pre-allocation loop (discovery.go)
// once fileNo's header page is durable on disk; it publishes the file
// and wakes any writer blocked in rotate().
func (w *Writer) NotifyFileCreated(fileNo uint64, f *tablespaceFile) {
	w.preallocMu.Lock()
	w.open[fileNo] = f
	if fileNo > w.lastCreatedFileNo.Load() {
		w.lastCreatedFileNo.Store(fileNo)
	}
	w.preallocCond.Broadcast()
	w.preallocMu.Unlock()
}

// PreallocRequests exposes the channel the pre-allocation loop reads
// from (discovery.go's PreallocLoop).
func (w *Writer) PreallocRequests() <-chan uint64 { return w.preallocReq }

// SetFirstOpenFileNo lowers the first-open-file floor purge_low must
// respect (spec §4.11: "never purge at or past the oldest file any
// reader might still be positioned in"). It only ever moves the floor
// down, matching a single tracked reader advancing or a new one opening
// further back; readers never need to raise it back up themselves.
func (w *Writer) SetFirstOpenFileNo(fileNo uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if fileNo < w.firstOpenFileNo {
		w.firstOpenFileNo = fileNo
	}
}

// ActiveFileNo returns the file currently being written.
func (w *Writer) ActiveFileNo() uint64 { return w.activeFileNo.Load() }

// EndOffset returns the writer-visible (not yet necessarily durable)
// end offset for fileNo's rotation slot (fileNo mod rotationSlots). For
// a file rotationSlots or more behind the active one the slot holds a
// newer file's offset.
func (w *Writer) EndOffset(fileNo uint64) uint64 { return w.curEndOffset[w.slot(fileNo)].Load() }

// DurableOffset returns the durable offset published by ProcessDurableLSN
// (binlog/pending_lsn.go) for fileNo's rotation slot.
func (w *Writer) DurableOffset(fileNo uint64) uint64 {
	return w.curDurableOffset[w.slot(fileNo)].Load()
}

// SetDurableOffset is called by the pending-LSN FIFO once a redo flush
// makes offset durable for fileNo.
func (w *Writer) SetDurableOffset(fileNo uint64, offset uint64) {
	slot := &w.curDurableOffset[w.slot(fileNo)]
	for {
		cur := slot.Load()
		if offset <= cur {
			return
		}
		if slot.CAS(cur, offset) {
			return
		}
	}
}

// oobForestHeader carries one OOB forest's persisted pointers within a
// COMMIT record header (spec §6): the node count plus first and last
// root references, letting purge/recovery reconstruct pinning state
// from the COMMIT record alone, without a full forest walk.
type oobForestHeader struct {
	Count     uint64
	FirstFile uint64
	FirstOff  uint32
	LastFile  uint64
	LastOff   uint32
}

func forestCount(f *oobForestHeader) uint64 {
	if f == nil {
		return 0
	}
	return f.Count
}

func appendForestRefs(buf []byte, f *oobForestHeader) []byte {
	if f == nil || f.Count == 0 {
		return buf
	}
	buf = PutVarint(buf, f.FirstFile)
	buf = PutVarint(buf, uint64(f.FirstOff))
	buf = PutVarint(buf, f.LastFile)
	buf = PutVarint(buf, uint64(f.LastOff))
	return buf
}

// EncodeCommitHeader builds a COMMIT record's varint-prefixed header
// (spec §6): `oob_count [first_file, first_off, last_file, last_off]?`
// for the primary forest, then the same shape for an optional
// secondary forest, then a terminating 0 varint when both forests are
// present — the one case where a reader couldn't otherwise tell the
// secondary block's fields apart from the record's inline payload.
func EncodeCommitHeader(primary, secondary *oobForestHeader) []byte {
	buf := PutVarint(nil, forestCount(primary))
	buf = appendForestRefs(buf, primary)

	buf = PutVarint(buf, forestCount(secondary))
	buf = appendForestRefs(buf, secondary)

	if forestCount(primary) > 0 && forestCount(secondary) > 0 {
		buf = PutVarint(buf, 0)
	}
	return buf
}

// WriteCommit emits a COMMIT record referencing oob's first and last
// roots (if any), followed by the inline GTID event + statement payload.
func (w *Writer) WriteCommit(oob *OOBContext, inline []byte) (fileNo uint64, offset uint32, err error) {
	var primary *oobForestHeader
	if oob != nil {
		if lastFile, lastOff, ok := oob.LastRoot(); ok {
			firstFile, firstOff, _ := oob.FirstNodeRef()
			primary = &oobForestHeader{
				Count:     oob.nextNodeIdx,
				FirstFile: firstFile,
				FirstOff:  firstOff,
				LastFile:  lastFile,
				LastOff:   lastOff,
			}
		}
	}
	header := EncodeCommitHeader(primary, nil)
	body := append(header, inline...)
	fileNo, offset, err = w.FspBinlogWriteRec(NewBufferSource(body), ChunkCommit)
	if err == nil && oob != nil {
		// the transaction this forest belonged to has ended; its first
		// OOB node no longer needs its own pin against purge (spec §4.6).
		oob.Release()
	}
	return fileNo, offset, err
}
