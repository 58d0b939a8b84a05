package binlog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhukovaskychina/xbinlog-server/fsp"
)

func setupRecoveryFile(t *testing.T, dir string, fileNo uint64, filePages uint32) {
	t.Helper()
	f := newTablespaceFile(dir, fileNo, testPageSize)
	assert.NoError(t, f.create(filePages))
	hdr := FileHeader{
		PageSizeShift: pageSizeShift(testPageSize),
		VersionMajor:  FileVersionMajor,
		VersionMinor:  FileVersionMinor,
		FileNo:        fileNo,
		SizePages:     uint64(filePages),
		StartLSN:      0,
	}
	buf := EncodeFileHeader(hdr, testPageSize)
	assert.NoError(t, f.writePage(0, buf))
	assert.NoError(t, f.sync())
	assert.NoError(t, f.close())
}

func TestRecoveryAppliesRedoAndStampsChecksum(t *testing.T) {
	dir := t.TempDir()
	setupRecoveryFile(t, dir, 0, 4)

	rec := NewRecovery(dir, testPageSize, false)
	payload := []byte("recovered chunk body")

	assert.NoError(t, rec.ApplyRedo(0, 1, fsp.HeaderSize, 10, 10, payload))
	assert.NoError(t, rec.Finish())

	f := newTablespaceFile(dir, 0, testPageSize)
	assert.NoError(t, f.open())
	defer f.close()

	buf, err := f.readPage(1)
	assert.NoError(t, err)
	page := fsp.WrapPage(fsp.PageID{Space: 0, No: 1}, buf)
	assert.True(t, page.ValidateHeaderChecksum())
	assert.True(t, page.ValidateTrailerChecksum())
	assert.Equal(t, payload, buf[fsp.HeaderSize:fsp.HeaderSize+len(payload)])

	// pages beyond the last written one must be zero-filled.
	blank, err := f.readPage(2)
	assert.NoError(t, err)
	assert.True(t, IsAllZero(blank))
}

func TestRecoveryDeduplicatesOverlappingBatch(t *testing.T) {
	dir := t.TempDir()
	setupRecoveryFile(t, dir, 0, 4)

	rec := NewRecovery(dir, testPageSize, false)
	assert.NoError(t, rec.ApplyRedo(0, 1, 0, 10, 20, []byte("aaaa")))
	// same endLSN replayed again (overlapping recovery batch): must be a no-op,
	// not a second application that corrupts the offset cursor.
	assert.NoError(t, rec.ApplyRedo(0, 1, 0, 10, 20, []byte("aaaa")))
	assert.Equal(t, uint32(4), rec.curOffset)
}

func TestRecoveryRejectsGapWithoutForce(t *testing.T) {
	dir := t.TempDir()
	setupRecoveryFile(t, dir, 0, 4)

	rec := NewRecovery(dir, testPageSize, false)
	assert.NoError(t, rec.ApplyRedo(0, 1, 0, 10, 20, []byte("aaaa")))
	// pageNo jumps ahead by more than one page: a gap.
	err := rec.ApplyRedo(0, 3, 0, 30, 40, []byte("bbbb"))
	assert.ErrorIs(t, err, ErrRecoveryGap)
}

func TestRecoveryForceRecoveryToleratesGap(t *testing.T) {
	dir := t.TempDir()
	setupRecoveryFile(t, dir, 0, 4)

	rec := NewRecovery(dir, testPageSize, true)
	assert.NoError(t, rec.ApplyRedo(0, 1, 0, 10, 20, []byte("aaaa")))
	err := rec.ApplyRedo(0, 3, 0, 30, 40, []byte("bbbb"))
	assert.NoError(t, err)
}

func TestRecoveryDeletesLaterPreallocatedFiles(t *testing.T) {
	dir := t.TempDir()
	setupRecoveryFile(t, dir, 0, 4)
	setupRecoveryFile(t, dir, 1, 4) // pre-allocated but never reached by redo

	rec := NewRecovery(dir, testPageSize, false)
	assert.NoError(t, rec.ApplyRedo(0, 1, 0, 10, 10, []byte("x")))
	assert.NoError(t, rec.Finish())

	assert.False(t, binlogFileExists(dir, 1))
	assert.True(t, binlogFileExists(dir, 0))
}

func TestRecoveryNoFilesExistedYetRedoArrived(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecovery(dir, testPageSize, false)
	// RESET MASTER special case: directory doesn't exist / is empty.
	assert.NoError(t, rec.ApplyRedo(0, 1, 0, 5, 5, []byte("x")))
	assert.Equal(t, uint64(0), rec.startFileNo)
}
