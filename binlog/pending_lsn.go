package binlog

import (
	"sync"
	"time"

	"github.com/zhukovaskychina/xbinlog-server/fsp"
)

// lsnEntry is one "record committed at LSN" → "durable up to file
// offset" mapping (spec §4.7).
type lsnEntry struct {
	LSN    uint64
	FileNo uint64
	Offset uint64
}

// PendingLSNFifo is the ring buffer bridging commit_lsn values to the
// writer's per-file durable-offset cursors (C7).
type PendingLSNFifo struct {
	mu   sync.Mutex
	cond *sync.Cond

	entries []lsnEntry // ring buffer, head appends, tail pops
	head    int
	count   int
	cap     int

	curFileNo uint64
	flushing  bool

	writer *Writer
	redo   fsp.RedoSink
}

// NewPendingLSNFifo builds a fifo of the given power-of-two capacity.
func NewPendingLSNFifo(capacity int, w *Writer, redo fsp.RedoSink) *PendingLSNFifo {
	f := &PendingLSNFifo{entries: make([]lsnEntry, capacity), cap: capacity, writer: w, redo: redo}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Push inserts (lsn, fileNo, offset) once a commit MTR assigns commit_lsn
// = lsn. When full, the oldest entry is overwritten — a later flush
// subsumes older ones (spec §4.7).
func (f *PendingLSNFifo) Push(lsn uint64, fileNo uint64, offset uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := (f.head) % f.cap
	f.entries[idx] = lsnEntry{LSN: lsn, FileNo: fileNo, Offset: offset}
	f.head++
	if f.count < f.cap {
		f.count++
	}
}

// tailIndex returns the ring index of the oldest live entry.
func (f *PendingLSNFifo) tailIndex() int {
	return (f.head - f.count + f.cap) % f.cap
}

// ProcessDurableLSN pops every entry whose lsn ≤ durable, publishing
// monotonic durable offsets to the writer and rolling curFileNo forward
// when an entry crosses a file boundary (spec §4.7).
func (f *PendingLSNFifo) ProcessDurableLSN(durable uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.count > 0 {
		e := f.entries[f.tailIndex()]
		if e.LSN > durable {
			break
		}
		if e.FileNo != f.curFileNo && f.curFileNo != 0 {
			f.writer.SetDurableOffset(f.curFileNo, f.writer.EndOffset(f.curFileNo))
		}
		f.curFileNo = e.FileNo
		f.writer.SetDurableOffset(e.FileNo, e.Offset)
		f.count--
	}
	f.cond.Broadcast()
}

// peekLSNForLocked finds the smallest buffered lsn covering at least
// (fileNo, offset), used to pick a flush target.
func (f *PendingLSNFifo) peekLSNForLocked(fileNo uint64, offset uint64) (uint64, bool) {
	for i := 0; i < f.count; i++ {
		e := f.entries[(f.tailIndex()+i)%f.cap]
		if e.FileNo > fileNo || (e.FileNo == fileNo && e.Offset >= offset) {
			return e.LSN, true
		}
	}
	return 0, false
}

// WaitAvailable blocks until fileNo's durable offset has advanced past
// offset, or deadline passes. Exactly one waiter drives the actual redo
// flush at a time (flushing); others either wait (wake-one policy) or,
// if they are the only candidate, become the driver themselves.
func (f *PendingLSNFifo) WaitAvailable(fileNo uint64, offset uint64, deadline time.Time) error {
	for {
		if f.writer.DurableOffset(fileNo) >= offset {
			return nil
		}
		f.mu.Lock()
		if !f.flushing {
			target, ok := f.peekLSNForLocked(fileNo, offset)
			f.flushing = true
			f.mu.Unlock()

			if ok {
				if err := f.redo.FlushUpTo(target); err == nil {
					f.ProcessDurableLSN(f.redo.GetFlushedLSN())
				}
			}

			f.mu.Lock()
			f.flushing = false
			f.cond.Signal()
			f.mu.Unlock()
		} else {
			if time.Now().After(deadline) {
				f.mu.Unlock()
				return ErrWaitTimeout
			}
			waitWithDeadline(f.cond, deadline)
			f.mu.Unlock()
		}

		if time.Now().After(deadline) && f.writer.DurableOffset(fileNo) < offset {
			return ErrWaitTimeout
		}
	}
}

// waitWithDeadline wakes cond.Wait() no later than deadline by running
// the actual wait on a timer goroutine that broadcasts on expiry.
func waitWithDeadline(cond *sync.Cond, deadline time.Time) {
	d := time.Until(deadline)
	if d <= 0 {
		return
	}
	timer := time.AfterFunc(d, cond.Broadcast)
	defer timer.Stop()
	cond.Wait()
}
