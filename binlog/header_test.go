package binlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const testPageSize = 16 * 1024

func TestFileHeaderRoundTrip(t *testing.T) {
	h := FileHeader{
		PageSizeShift:   pageSizeShift(testPageSize),
		VersionMajor:    FileVersionMajor,
		VersionMinor:    FileVersionMinor,
		FileNo:          7,
		SizePages:       64,
		StartLSN:        1000,
		DiffInterval:    4 * testPageSize,
		EarliestOOBFile: 2,
		EarliestXAFile:  3,
	}
	buf := EncodeFileHeader(h, testPageSize)
	assert.Len(t, buf, testPageSize)

	got, ok := DecodeFileHeader(buf)
	assert.True(t, ok)
	assert.Equal(t, h, got)
}

func TestFileHeaderRejectsBadMagic(t *testing.T) {
	h := FileHeader{FileNo: 1}
	buf := EncodeFileHeader(h, testPageSize)
	buf[0] ^= 0xFF
	_, ok := DecodeFileHeader(buf)
	assert.False(t, ok)
}

func TestFileHeaderRejectsBadChecksum(t *testing.T) {
	h := FileHeader{FileNo: 1}
	buf := EncodeFileHeader(h, testPageSize)
	buf[len(buf)-1] ^= 0xFF
	_, ok := DecodeFileHeader(buf)
	assert.False(t, ok)
}

func TestFileHeaderAllZeroIsNotValid(t *testing.T) {
	buf := make([]byte, testPageSize)
	_, ok := DecodeFileHeader(buf)
	assert.False(t, ok)
	assert.True(t, IsAllZero(buf))
}

func TestPageSizeShift(t *testing.T) {
	assert.Equal(t, uint32(14), pageSizeShift(16*1024))
	assert.Equal(t, uint32(12), pageSizeShift(4*1024))
}
