package binlog

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zhukovaskychina/xbinlog-server/fsp"
)

// Recovery replays redo records against the binlog files on disk
// (C10), reconstructing whatever pages were never flushed before the
// crash.
type Recovery struct {
	dir           string
	pageSize      uint32
	forceRecovery bool

	initialized bool
	startFileNo uint64
	startLSN    uint64

	curFileNo uint64
	curPageNo uint32
	curOffset uint32
	staging   []byte
	file      *tablespaceFile

	lastEndLSN uint64
	haveLast   bool
}

func NewRecovery(dir string, pageSize uint32, forceRecovery bool) *Recovery {
	return &Recovery{dir: dir, pageSize: pageSize, forceRecovery: forceRecovery}
}

// candidateFile is one discovered binlog-NNNNNN.ibb file.
type candidateFile struct {
	fileNo uint64
	hdr    FileHeader
	ok     bool
}

func (r *Recovery) listCandidates() ([]candidateFile, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []candidateFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fileNo, ok := ParseFileName(e.Name())
		if !ok {
			continue
		}
		buf, err := os.ReadFile(filepath.Join(r.dir, e.Name()))
		if err != nil || len(buf) < int(r.pageSize) {
			out = append(out, candidateFile{fileNo: fileNo})
			continue
		}
		hdr, hok := DecodeFileHeader(buf[:r.pageSize])
		out = append(out, candidateFile{fileNo: fileNo, hdr: hdr, ok: hok})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].fileNo < out[j].fileNo })
	return out, nil
}

// fileIsEmpty reports whether a candidate has a valid header but no
// data beyond page 1 (a pre-allocated file never written into).
func (r *Recovery) fileIsEmpty(c candidateFile) bool {
	if !c.ok {
		return true
	}
	f := newTablespaceFile(r.dir, c.fileNo, r.pageSize)
	if err := f.open(); err != nil {
		return true
	}
	defer f.close()
	size, err := f.sizePages()
	if err != nil {
		return true
	}
	for p := uint32(1); p < size; p++ {
		buf, err := f.readPage(p)
		if err != nil {
			return true
		}
		if !IsAllZero(buf) {
			return false
		}
	}
	return true
}

// init performs the C10 step-1 empty-tail cascade on the first record
// recovery ever sees.
func (r *Recovery) init(spaceIDBit uint32, recordStartLSN uint64, recordPageNo uint32, recordOffset uint32) error {
	candidates, err := r.listCandidates()
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		// Special case (spec §4.10.4): no files existed, yet redo
		// arrived — only reachable right after RESET MASTER.
		r.initialized = true
		r.startFileNo = 0
		r.startLSN = recordStartLSN
		r.resetStaging(0)
		return nil
	}

	emptyTail := 0
	for i := len(candidates) - 1; i >= 0 && emptyTail < 3; i-- {
		if r.fileIsEmpty(candidates[i]) {
			emptyTail++
		} else {
			break
		}
	}
	if emptyTail >= 3 && !r.forceRecovery {
		return ErrForceRecoveryOff
	}

	usable := candidates
	if emptyTail > 0 && emptyTail < len(candidates) {
		usable = candidates[:len(candidates)-emptyTail+1]
	}

	var chosen *candidateFile
	for i := range usable {
		c := &usable[i]
		if !c.ok {
			continue
		}
		if uint32(c.fileNo&1) != spaceIDBit {
			continue
		}
		if recordPageNo == 0 && recordOffset == 0 && recordStartLSN >= c.hdr.StartLSN {
			continue // tie-breaker: applies to the next file instead
		}
		if c.hdr.StartLSN <= recordStartLSN {
			if chosen == nil || c.fileNo > chosen.fileNo {
				chosen = c
			}
		}
	}
	if chosen == nil {
		chosen = &usable[len(usable)-1]
	}

	r.initialized = true
	r.startFileNo = chosen.fileNo
	r.startLSN = chosen.hdr.StartLSN
	r.resetStaging(chosen.fileNo)
	return nil
}

func (r *Recovery) resetStaging(fileNo uint64) {
	r.curFileNo = fileNo
	r.curPageNo = 1
	r.curOffset = 0
	r.staging = make([]byte, r.pageSize)
	r.file = nil
}

// ApplyRedo is the per-record recovery callback (spec §4.10 step 2).
func (r *Recovery) ApplyRedo(spaceIDBit uint32, pageNo uint32, offset uint32, startLSN, endLSN uint64, buf []byte) error {
	if !r.initialized {
		if err := r.init(spaceIDBit, startLSN, pageNo, offset); err != nil {
			return err
		}
	}

	if r.haveLast && endLSN == r.lastEndLSN {
		return nil // duplicate from overlapping recovery batches
	}

	if pageNo < r.curPageNo || (pageNo == r.curPageNo && offset < r.curOffset) {
		if !r.forceRecovery {
			return ErrRecoveryGap
		}
	} else if pageNo > r.curPageNo+1 {
		if !r.forceRecovery {
			return ErrRecoveryGap
		}
	}
	if startLSN < r.startLSN && !r.forceRecovery {
		return ErrRecoveryGap
	}

	if pageNo != r.curPageNo {
		if err := r.flushStagingPage(); err != nil {
			return err
		}
		r.curPageNo = pageNo
		r.curOffset = 0
		r.staging = make([]byte, r.pageSize)
	}

	end := int(offset) + len(buf)
	if end > len(r.staging) {
		if !r.forceRecovery {
			return corrupt("binlog: redo record overruns page bounds")
		}
		end = len(r.staging)
	}
	copy(r.staging[offset:end], buf)
	r.curOffset = uint32(end)
	r.lastEndLSN = endLSN
	r.haveLast = true
	return nil
}

func (r *Recovery) ensureFileOpen() error {
	if r.file != nil {
		return nil
	}
	f := newTablespaceFile(r.dir, r.curFileNo, r.pageSize)
	if err := f.open(); err != nil {
		return err
	}
	r.file = f
	return nil
}

func (r *Recovery) flushStagingPage() error {
	if r.staging == nil {
		return nil
	}
	if err := r.ensureFileOpen(); err != nil {
		return err
	}
	page := fsp.WrapPage(fsp.PageID{Space: spaceIDForFile(r.curFileNo), No: r.curPageNo}, r.staging)
	page.StampHeaderChecksum()
	page.StampTrailerChecksum()
	return r.file.writePage(r.curPageNo, page.Contents)
}

// Finish performs step 3: flush the last staging page, zero-fill the
// remainder of the current file, close it, and delete any files
// strictly after it that were pre-allocated but never reached.
func (r *Recovery) Finish() error {
	if !r.initialized {
		return nil
	}
	if err := r.flushStagingPage(); err != nil {
		return err
	}
	if err := r.ensureFileOpen(); err != nil {
		return err
	}
	size, err := r.file.sizePages()
	if err != nil {
		return err
	}
	blank := make([]byte, r.pageSize)
	for p := r.curPageNo + 1; p < size; p++ {
		if err := r.file.writePage(p, blank); err != nil {
			return err
		}
	}
	if err := r.file.sync(); err != nil {
		return err
	}
	if err := r.file.close(); err != nil {
		return err
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".ibb") {
			continue
		}
		fileNo, ok := ParseFileName(e.Name())
		if !ok || fileNo <= r.curFileNo {
			continue
		}
		_ = os.Remove(filepath.Join(r.dir, e.Name()))
	}
	return nil
}
