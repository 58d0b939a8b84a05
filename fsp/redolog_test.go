package fsp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRedoLogAppendAssignsIncreasingLSNs(t *testing.T) {
	dir := t.TempDir()
	log, err := NewRedoLog(dir, time.Hour)
	assert.NoError(t, err)
	defer log.Close()

	a, err := log.Append([]byte("group-a"))
	assert.NoError(t, err)
	b, err := log.Append([]byte("group-b"))
	assert.NoError(t, err)
	assert.Equal(t, a+1, b)
}

func TestRedoLogFlushUpToMakesGroupsDurable(t *testing.T) {
	dir := t.TempDir()
	log, err := NewRedoLog(dir, time.Hour)
	assert.NoError(t, err)
	defer log.Close()

	lsn, err := log.Append([]byte("payload"))
	assert.NoError(t, err)
	assert.Less(t, log.GetFlushedLSN(), lsn)

	assert.NoError(t, log.FlushUpTo(lsn))
	assert.Equal(t, lsn, log.GetFlushedLSN())
}

func TestRedoLogRecoverReplaysInLSNOrder(t *testing.T) {
	dir := t.TempDir()
	log, err := NewRedoLog(dir, time.Hour)
	assert.NoError(t, err)

	lsn1, err := log.Append([]byte("first"))
	assert.NoError(t, err)
	lsn2, err := log.Append([]byte("second"))
	assert.NoError(t, err)
	assert.NoError(t, log.FlushUpTo(lsn2))
	assert.NoError(t, log.Close())

	reopened, err := NewRedoLog(dir, time.Hour)
	assert.NoError(t, err)
	defer reopened.Close()

	var seenLSNs []uint64
	var seenPayloads []string
	err = reopened.Recover(func(lsn uint64, ops []byte) error {
		seenLSNs = append(seenLSNs, lsn)
		seenPayloads = append(seenPayloads, string(ops))
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []uint64{lsn1, lsn2}, seenLSNs)
	assert.Equal(t, []string{"first", "second"}, seenPayloads)
	assert.Equal(t, lsn2, reopened.GetFlushedLSN())
}

func TestRedoLogAppendAutoFlushesPastBufferThreshold(t *testing.T) {
	dir := t.TempDir()
	log, err := NewRedoLog(dir, time.Hour)
	assert.NoError(t, err)
	defer log.Close()

	big := make([]byte, 70*1024)
	lsn, err := log.Append(big)
	assert.NoError(t, err)
	assert.Equal(t, lsn, log.GetFlushedLSN(), "buffer crossing 64KiB must flush immediately")
}

func TestRedoLogCloseSucceedsWithPendingGroups(t *testing.T) {
	dir := t.TempDir()
	log, err := NewRedoLog(dir, 50*time.Millisecond)
	assert.NoError(t, err)

	_, err = log.Append([]byte("x"))
	assert.NoError(t, err)
	assert.NoError(t, log.Close())
}
