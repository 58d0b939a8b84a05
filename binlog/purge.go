package binlog

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zhukovaskychina/xbinlog-server/fsp"
)

// PurgeConfig bounds autopurge, a supplemented feature (spec §4.11
// mentions autopurge "by time/size limits" without specifying the
// policy fields; this mirrors the usual binlog-expiry knobs).
type PurgeConfig struct {
	MaxAgeSeconds int64
	MaxTotalBytes int64
}

// PurgeInfo is the caller-supplied context purge_low needs beyond the
// writer's own state: the limiting file_no a caller wants to stop at,
// and the reference trackers that can still pin a file open.
type PurgeInfo struct {
	EarliestFileNo uint64
	LimitFileNo    uint64
	OOBRefs        *fileRefCounts
	XARefs         *fileRefCounts
}

// Purger serializes purge_low calls behind purge_binlog_mutex (spec §5).
type Purger struct {
	mu     sync.Mutex
	dir    string
	writer *Writer
	redo   fsp.RedoSink
}

func NewPurger(dir string, w *Writer, redo fsp.RedoSink) *Purger {
	return &Purger{dir: dir, writer: w, redo: redo}
}

// PurgeLow deletes files in [info.EarliestFileNo, toFileNo) that are
// not protected by the active file, the first-open file, or any live
// OOB/XA reference (spec §4.11).
func (p *Purger) PurgeLow(info PurgeInfo, toFileNo uint64) (deleted []uint64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	limit := info.LimitFileNo
	if active := p.writer.ActiveFileNo(); active < limit {
		limit = active
	}
	if info.EarliestFileNo < limit {
		// first_open_file_no tracks the oldest file any reader might
		// still be positioned in; never purge at or past it either.
		if p.writer.firstOpenFileNo < limit {
			limit = p.writer.firstOpenFileNo
		}
	}
	if toFileNo < limit {
		limit = toFileNo
	}

	for fileNo := info.EarliestFileNo; fileNo < limit; fileNo++ {
		if !binlogFileExists(p.dir, fileNo) {
			continue
		}
		if info.OOBRefs != nil && info.OOBRefs.isReferenced(fileNo) {
			break
		}
		if info.XARefs != nil && info.XARefs.isReferenced(fileNo) {
			break
		}

		active := p.writer.ActiveFileNo()
		if active >= 2 && fileNo == active-2 {
			// keep at least one durably written header on disk: make
			// sure the active file's own header has actually landed
			// before removing the file two behind it.
			hf := newTablespaceFile(p.dir, active, p.writer.pageSize)
			if err := hf.open(); err != nil {
				return deleted, err
			}
			if err := hf.close(); err != nil { // close fsyncs first
				return deleted, err
			}
		}

		if err := os.Remove(filepath.Join(p.dir, FormatFileName(fileNo))); err != nil {
			return deleted, err
		}
		deleted = append(deleted, fileNo)
	}
	return deleted, nil
}

// AutoPurge runs one PurgeLow pass whose upper bound is lowered to the
// oldest file still within cfg.MaxAgeSeconds. Only the age limit is
// applied: cfg.MaxTotalBytes is not consulted. PreallocLoop does not
// call it; the caller decides when it runs.
func (p *Purger) AutoPurge(info PurgeInfo, cfg PurgeConfig, now time.Time) (deleted []uint64, err error) {
	toFileNo := info.LimitFileNo
	if cfg.MaxAgeSeconds > 0 {
		cutoff, ok := p.oldestFileWithinAge(info.EarliestFileNo, toFileNo, cfg.MaxAgeSeconds, now)
		if ok && cutoff < toFileNo {
			toFileNo = cutoff
		}
	}
	return p.PurgeLow(info, toFileNo)
}

// oldestFileWithinAge finds the first file_no whose file modification
// time is still within the age budget, used as an upper
// purge bound when MaxAgeSeconds is set.
func (p *Purger) oldestFileWithinAge(from, to uint64, maxAge int64, now time.Time) (uint64, bool) {
	for fileNo := from; fileNo < to; fileNo++ {
		info, err := os.Stat(filepath.Join(p.dir, FormatFileName(fileNo)))
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()).Seconds() <= float64(maxAge) {
			return fileNo, true
		}
	}
	return to, false
}
