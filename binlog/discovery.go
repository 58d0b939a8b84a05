package binlog

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	uberatomic "go.uber.org/atomic"

	"github.com/zhukovaskychina/xbinlog-server/fsp"
)

// Discover scans dir at boot, matching spec §4.11's description of the
// find_pos_in_binlog algorithm: binary search for the first all-zero
// page, then scan the page before it (the last written one, or page 1)
// forward to find the write cursor.
func Discover(dir string, pageSize uint32) (fileNo uint64, pageNo uint32, pageOffset uint32, err error) {
	fileNos, err := listBinlogFileNos(dir)
	if err != nil {
		return 0, 0, 0, err
	}
	if len(fileNos) == 0 {
		return 0, 1, 0, nil
	}
	active := fileNos[len(fileNos)-1]

	f := newTablespaceFile(dir, active, pageSize)
	if err := f.open(); err != nil {
		return 0, 0, 0, err
	}
	defer f.close()

	size, err := f.sizePages()
	if err != nil {
		return 0, 0, 0, err
	}

	lo, hi := uint32(1), size
	for lo < hi {
		mid := lo + (hi-lo)/2
		buf, err := f.readPage(mid)
		if err != nil {
			return 0, 0, 0, err
		}
		if IsAllZero(buf) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	firstZero := lo

	writePage := firstZero
	if writePage > 1 {
		writePage--
	}
	buf, err := f.readPage(writePage)
	if err != nil {
		return 0, 0, 0, err
	}
	body := buf[fsp.HeaderSize : pageSize-fsp.TrailerSize]
	off := scanPageForCursor(body)
	return active, writePage, off, nil
}

// scanPageForCursor walks chunk headers from the start of a page's
// usable body until it finds one that looks like unwritten space
// (an EMPTY-typed, zero-length header), returning that byte offset.
func scanPageForCursor(body []byte) uint32 {
	off := 0
	for off+ChunkHeaderSize <= len(body) {
		typ, _, _, length := DecodeChunkHeader(body[off:])
		if typ == ChunkEmpty && length == 0 {
			return uint32(off)
		}
		off += ChunkHeaderSize + length
		if off > len(body) {
			return uint32(len(body))
		}
	}
	return uint32(off)
}

// PreallocFailures counts pre-allocation attempts that exhausted their
// retry budget (spec §9 OQ1: the spec leaves "what happens when the
// pre-allocation thread cannot create the next file" unspecified; this
// is the monitoring hook a production deployment polls instead of
// spinning forever).
var PreallocFailures uberatomic.Uint64

const (
	preallocMaxRetries  = 5
	preallocInitialWait = 20 * time.Millisecond
)

// PreallocLoop is the pre-allocation thread (spec §4.11): it maintains
// last_created = active + 1, creating the next file's header page and
// padding it to size whenever the writer signals a need for it, then
// publishing the result back to the writer. Transient failures (disk
// full, momentary I/O error) are retried with exponential backoff
// before falling through to the spec's fatal behavior.
func PreallocLoop(w *Writer, filePages uint32) {
	for fileNo := range w.PreallocRequests() {
		if !preallocateOne(w, fileNo, filePages) {
			PreallocFailures.Inc()
		}
	}
}

func preallocateOne(w *Writer, fileNo uint64, filePages uint32) bool {
	wait := preallocInitialWait
	for attempt := 0; attempt < preallocMaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(wait)
			wait *= 2
		}
		f := newTablespaceFile(w.dir, fileNo, w.pageSize)
		if err := f.create(filePages); err != nil {
			continue
		}
		startLSN := w.redo.GetFlushedLSN()
		hdr := FileHeader{
			PageSizeShift: pageSizeShift(w.pageSize),
			VersionMajor:  FileVersionMajor,
			VersionMinor:  FileVersionMinor,
			FileNo:        fileNo,
			SizePages:     uint64(filePages),
			StartLSN:      startLSN,
			DiffInterval:  uint64(w.diffIntervalPages) * uint64(w.pageSize),
		}
		buf := EncodeFileHeader(hdr, w.pageSize)
		if err := f.writePage(0, buf); err != nil {
			continue
		}
		if err := f.sync(); err != nil {
			continue
		}
		w.NotifyFileCreated(fileNo, f)
		return true
	}
	return false
}

// binlogFileExists is a small helper used by purge to check survival
// without opening the file for I/O.
func binlogFileExists(dir string, fileNo uint64) bool {
	_, err := os.Stat(filepath.Join(dir, FormatFileName(fileNo)))
	return err == nil
}

// listBinlogFileNos returns every retained binlog file_no in dir,
// ascending. A missing directory (nothing ever written) is not an
// error: it yields an empty slice.
func listBinlogFileNos(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var fileNos []uint64
	for _, e := range entries {
		if n, ok := ParseFileName(e.Name()); ok {
			fileNos = append(fileNos, n)
		}
	}
	sort.Slice(fileNos, func(i, j int) bool { return fileNos[i] < fileNos[j] })
	return fileNos, nil
}
