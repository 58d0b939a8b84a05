package binlog

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeRedoSink is a minimal in-memory fsp.RedoSink for tests that don't
// need real durability, just a monotonic LSN counter and FlushUpTo.
type fakeRedoSink struct {
	mu      sync.Mutex
	nextLSN uint64
	flushed uint64
}

func (f *fakeRedoSink) Append(ops []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextLSN++
	return f.nextLSN, nil
}

func (f *fakeRedoSink) FlushUpTo(lsn uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lsn > f.flushed {
		f.flushed = lsn
	}
	return nil
}

func (f *fakeRedoSink) GetFlushedLSN() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushed
}

func newTestWriter(t *testing.T) (*Writer, *fakeRedoSink) {
	t.Helper()
	redo := &fakeRedoSink{}
	w := NewWriter(t.TempDir(), testPageSize, 8, testPageSize*4, redo)
	return w, redo
}

func TestPendingLSNFifoProcessDurable(t *testing.T) {
	w, redo := newTestWriter(t)
	fifo := NewPendingLSNFifo(8, w, redo)

	fifo.Push(1, 0, 100)
	fifo.Push(2, 0, 200)
	fifo.Push(3, 0, 300)

	fifo.ProcessDurableLSN(2)
	assert.Equal(t, uint64(200), w.DurableOffset(0))

	fifo.ProcessDurableLSN(3)
	assert.Equal(t, uint64(300), w.DurableOffset(0))
}

func TestPendingLSNFifoOverwriteWhenFull(t *testing.T) {
	w, redo := newTestWriter(t)
	fifo := NewPendingLSNFifo(2, w, redo)

	fifo.Push(1, 0, 10)
	fifo.Push(2, 0, 20)
	fifo.Push(3, 0, 30) // overwrites lsn=1's slot

	fifo.ProcessDurableLSN(3)
	assert.Equal(t, uint64(30), w.DurableOffset(0))
}

func TestPendingLSNFifoFileBoundary(t *testing.T) {
	w, redo := newTestWriter(t)
	fifo := NewPendingLSNFifo(8, w, redo)

	fifo.Push(1, 0, 500)
	fifo.Push(2, 1, 50)

	fifo.ProcessDurableLSN(2)
	assert.Equal(t, uint64(500), w.DurableOffset(0))
	assert.Equal(t, uint64(50), w.DurableOffset(1))
}

func TestPendingLSNFifoWaitAvailableAlreadySatisfied(t *testing.T) {
	w, redo := newTestWriter(t)
	fifo := NewPendingLSNFifo(8, w, redo)
	fifo.Push(1, 0, 100)
	fifo.ProcessDurableLSN(1)

	err := fifo.WaitAvailable(0, 50, time.Now().Add(time.Second))
	assert.NoError(t, err)
}

func TestPendingLSNFifoWaitAvailableDrivesFlush(t *testing.T) {
	w, redo := newTestWriter(t)
	fifo := NewPendingLSNFifo(8, w, redo)
	fifo.Push(1, 0, 100)
	redo.FlushUpTo(1) // simulate the redo log having already durable-flushed lsn 1

	err := fifo.WaitAvailable(0, 100, time.Now().Add(time.Second))
	assert.NoError(t, err)
	assert.Equal(t, uint64(100), w.DurableOffset(0))
}

// stuckRedoSink never actually becomes durable, simulating a flush that
// cannot make progress (e.g. a stalled disk), so WaitAvailable's deadline
// is what ends the wait.
type stuckRedoSink struct{ fakeRedoSink }

func (s *stuckRedoSink) FlushUpTo(lsn uint64) error { return errStuckFlush }

var errStuckFlush = errors.New("binlog test: flush stuck")

func TestPendingLSNFifoWaitAvailableTimesOut(t *testing.T) {
	redo := &stuckRedoSink{}
	w := NewWriter(t.TempDir(), testPageSize, 8, testPageSize*4, redo)
	fifo := NewPendingLSNFifo(8, w, redo)
	fifo.Push(1, 0, 100)

	err := fifo.WaitAvailable(0, 100, time.Now().Add(30*time.Millisecond))
	assert.ErrorIs(t, err, ErrWaitTimeout)
}
