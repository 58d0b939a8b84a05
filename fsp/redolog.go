package fsp

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// RedoLog is a file-backed RedoSink: it buffers MTR redo groups, assigns
// each an LSN under a mutex, and flushes to the append-only log file in
// FIFO order. Production callers may supply any other RedoSink (e.g. one
// backed by the buffer pool's own redo stream); RedoLog exists so this
// package is independently runnable against a plain file.
type RedoLog struct {
	mu            sync.Mutex
	logFile       *os.File
	nextLSN       uint64
	flushedLSN    uint64
	buffer        []redoGroup
	bufferedBytes int
	flushInterval time.Duration
	stop          chan struct{}
}

type redoGroup struct {
	lsn uint64
	ops []byte
}

// NewRedoLog opens (creating if absent) dir/redo.log and starts its
// background flush ticker.
func NewRedoLog(dir string, flushInterval time.Duration) (*RedoLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "fsp: redo log dir")
	}
	f, err := os.OpenFile(filepath.Join(dir, "redo.log"), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "fsp: redo log open")
	}
	r := &RedoLog{logFile: f, nextLSN: 1, flushInterval: flushInterval, stop: make(chan struct{})}
	go r.backgroundFlush()
	return r, nil
}

// Append assigns the next LSN to ops and buffers it for flush.
func (r *RedoLog) Append(ops []byte) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lsn := r.nextLSN
	r.nextLSN++
	r.buffer = append(r.buffer, redoGroup{lsn: lsn, ops: ops})
	r.bufferedBytes += len(ops)
	if r.bufferedBytes >= 64*1024 {
		if err := r.flushLocked(); err != nil {
			return 0, err
		}
	}
	return lsn, nil
}

// FlushUpTo blocks until every buffered group with lsn <= target is durable.
func (r *RedoLog) FlushUpTo(target uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flushedLSN >= target {
		return nil
	}
	return r.flushLocked()
}

func (r *RedoLog) GetFlushedLSN() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushedLSN
}

func (r *RedoLog) flushLocked() error {
	if len(r.buffer) == 0 {
		return nil
	}
	var hdr [12]byte
	for _, g := range r.buffer {
		binary.BigEndian.PutUint64(hdr[0:8], g.lsn)
		binary.BigEndian.PutUint32(hdr[8:12], uint32(len(g.ops)))
		if _, err := r.logFile.Write(hdr[:]); err != nil {
			return errors.Wrap(err, "fsp: redo log write header")
		}
		if _, err := r.logFile.Write(g.ops); err != nil {
			return errors.Wrap(err, "fsp: redo log write body")
		}
		r.flushedLSN = g.lsn
	}
	r.buffer = r.buffer[:0]
	r.bufferedBytes = 0
	return errors.Wrap(r.logFile.Sync(), "fsp: redo log fsync")
}

func (r *RedoLog) backgroundFlush() {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.mu.Lock()
			if err := r.flushLocked(); err != nil {
				Logger.WithError(err).Warn("fsp: redo log background flush failed")
			}
			r.mu.Unlock()
		case <-r.stop:
			return
		}
	}
}

// Recover replays every redo group in the log file from its start,
// invoking apply for each one in LSN order. Used by the crash-recovery
// path (spec §4.4/binlog §4.10) to rebuild in-memory state before the
// engine accepts new writes.
func (r *RedoLog) Recover(apply func(lsn uint64, ops []byte) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.logFile.Seek(0, 0); err != nil {
		return errors.Wrap(err, "fsp: redo log seek")
	}
	var hdr [12]byte
	for {
		if _, err := readFull(r.logFile, hdr[:]); err != nil {
			if err == errEOF {
				break
			}
			return err
		}
		lsn := binary.BigEndian.Uint64(hdr[0:8])
		n := binary.BigEndian.Uint32(hdr[8:12])
		ops := make([]byte, n)
		if _, err := readFull(r.logFile, ops); err != nil {
			return err
		}
		if err := apply(lsn, ops); err != nil {
			return err
		}
		if lsn >= r.nextLSN {
			r.nextLSN = lsn + 1
		}
		r.flushedLSN = lsn
	}
	return nil
}

// Close flushes remaining buffered groups and closes the underlying file.
func (r *RedoLog) Close() error {
	close(r.stop)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.flushLocked(); err != nil {
		return err
	}
	return r.logFile.Close()
}

var errEOF = errors.New("fsp: redo log eof")

func readFull(f *os.File, buf []byte) (int, error) {
	n, err := f.Read(buf)
	if n == len(buf) {
		return n, nil
	}
	if err != nil {
		return n, errEOF
	}
	rest, err := readFull(f, buf[n:])
	return n + rest, err
}
