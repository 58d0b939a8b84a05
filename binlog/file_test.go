package binlog

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatParseFileName(t *testing.T) {
	name := FormatFileName(42)
	assert.Equal(t, "binlog-000042.ibb", name)

	n, ok := ParseFileName(name)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), n)
}

func TestParseFileNameRejectsGarbage(t *testing.T) {
	cases := []string{"binlog-abcdef.ibb", "notbinlog-000001.ibb", "binlog-000001.txt", "binlog-.ibb"}
	for _, c := range cases {
		_, ok := ParseFileName(c)
		assert.False(t, ok, c)
	}
}

func TestTablespaceFileCreateReadWrite(t *testing.T) {
	dir := t.TempDir()
	f := newTablespaceFile(dir, 1, testPageSize)
	defer f.close()

	assert.NoError(t, f.create(4))

	size, err := f.sizePages()
	assert.NoError(t, err)
	assert.Equal(t, uint32(4), size)

	page := make([]byte, testPageSize)
	for i := range page {
		page[i] = byte(i)
	}
	assert.NoError(t, f.writePage(2, page))

	got, err := f.readPage(2)
	assert.NoError(t, err)
	assert.Equal(t, page, got)

	assert.NoError(t, f.sync())
}

func TestTablespaceFileCreateTwiceFails(t *testing.T) {
	dir := t.TempDir()
	f := newTablespaceFile(dir, 1, testPageSize)
	defer f.close()
	assert.NoError(t, f.create(1))
	assert.Error(t, f.create(1))
}

func TestTablespaceFileOpenExisting(t *testing.T) {
	dir := t.TempDir()
	f1 := newTablespaceFile(dir, 9, testPageSize)
	assert.NoError(t, f1.create(2))
	assert.NoError(t, f1.close())

	f2 := newTablespaceFile(dir, 9, testPageSize)
	assert.NoError(t, f2.open())
	defer f2.close()

	size, err := f2.sizePages()
	assert.NoError(t, err)
	assert.Equal(t, uint32(2), size)
}

func TestTablespaceFileTruncate(t *testing.T) {
	dir := t.TempDir()
	f := newTablespaceFile(dir, 1, testPageSize)
	defer f.close()
	assert.NoError(t, f.create(10))
	assert.NoError(t, f.truncate(3))

	info, err := os.Stat(f.path)
	assert.NoError(t, err)
	assert.Equal(t, int64(3*testPageSize), info.Size())
}
