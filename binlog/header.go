package binlog

import (
	"encoding/binary"
	"hash/crc32"
)

// IBBMagic identifies a binlog header page.
const IBBMagic uint32 = 0x49_42_42_30 // "IBB0"

// FileVersionMajor/Minor are the on-disk format version this writer emits.
const (
	FileVersionMajor = 1
	FileVersionMinor = 0
)

// Header page field offsets (spec §6), all little-endian.
const (
	hdrMagic         = 0
	hdrPageSizeShift = 4
	hdrVersionMajor  = 8
	hdrVersionMinor  = 12
	hdrFileNo        = 16
	hdrSizePages     = 24
	hdrStartLSN      = 32
	hdrDiffInterval  = 40
	hdrEarliestOOB   = 48
	hdrEarliestXA    = 56
)

// FileHeader is the decoded contents of page 0 of one binlog file.
type FileHeader struct {
	PageSizeShift   uint32
	VersionMajor    uint32
	VersionMinor    uint32
	FileNo          uint64
	SizePages       uint64
	StartLSN        uint64
	DiffInterval    uint64
	EarliestOOBFile uint64
	EarliestXAFile  uint64
}

// HeaderPageSize returns the checksum trailer's offset: the full page
// size the header occupies (same as the tablespace page size).
func headerPageSize(pageSize uint32) int { return int(pageSize) }

// EncodeFileHeader serializes h into a page-size buffer, stamping the
// trailing CRC32 over every preceding byte.
func EncodeFileHeader(h FileHeader, pageSize uint32) []byte {
	buf := make([]byte, pageSize)
	binary.LittleEndian.PutUint32(buf[hdrMagic:], IBBMagic)
	binary.LittleEndian.PutUint32(buf[hdrPageSizeShift:], h.PageSizeShift)
	binary.LittleEndian.PutUint32(buf[hdrVersionMajor:], h.VersionMajor)
	binary.LittleEndian.PutUint32(buf[hdrVersionMinor:], h.VersionMinor)
	binary.LittleEndian.PutUint64(buf[hdrFileNo:], h.FileNo)
	binary.LittleEndian.PutUint64(buf[hdrSizePages:], h.SizePages)
	binary.LittleEndian.PutUint64(buf[hdrStartLSN:], h.StartLSN)
	binary.LittleEndian.PutUint64(buf[hdrDiffInterval:], h.DiffInterval)
	binary.LittleEndian.PutUint64(buf[hdrEarliestOOB:], h.EarliestOOBFile)
	binary.LittleEndian.PutUint64(buf[hdrEarliestXA:], h.EarliestXAFile)
	n := headerPageSize(pageSize)
	sum := crc32.ChecksumIEEE(buf[:n-4])
	binary.LittleEndian.PutUint32(buf[n-4:], sum)
	return buf
}

// DecodeFileHeader parses and validates a header page. ok is false when
// the magic is wrong, the page is all-zero (an unwritten pre-allocated
// page), or the CRC does not match.
func DecodeFileHeader(buf []byte) (h FileHeader, ok bool) {
	n := len(buf)
	if n < 64 {
		return FileHeader{}, false
	}
	if binary.LittleEndian.Uint32(buf[hdrMagic:]) != IBBMagic {
		return FileHeader{}, false
	}
	want := binary.LittleEndian.Uint32(buf[n-4:])
	got := crc32.ChecksumIEEE(buf[:n-4])
	if want != got {
		return FileHeader{}, false
	}
	h = FileHeader{
		PageSizeShift:   binary.LittleEndian.Uint32(buf[hdrPageSizeShift:]),
		VersionMajor:    binary.LittleEndian.Uint32(buf[hdrVersionMajor:]),
		VersionMinor:    binary.LittleEndian.Uint32(buf[hdrVersionMinor:]),
		FileNo:          binary.LittleEndian.Uint64(buf[hdrFileNo:]),
		SizePages:       binary.LittleEndian.Uint64(buf[hdrSizePages:]),
		StartLSN:        binary.LittleEndian.Uint64(buf[hdrStartLSN:]),
		DiffInterval:    binary.LittleEndian.Uint64(buf[hdrDiffInterval:]),
		EarliestOOBFile: binary.LittleEndian.Uint64(buf[hdrEarliestOOB:]),
		EarliestXAFile:  binary.LittleEndian.Uint64(buf[hdrEarliestXA:]),
	}
	return h, true
}

// IsAllZero reports whether a page has never been written (the
// pre-allocation state), used by discovery's binary search (spec §4.11).
func IsAllZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

// pageSizeShift returns log2(pageSize), assuming a power-of-two page size.
func pageSizeShift(pageSize uint32) uint32 {
	shift := uint32(0)
	for v := pageSize; v > 1; v >>= 1 {
		shift++
	}
	return shift
}
