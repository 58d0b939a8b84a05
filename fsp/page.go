package fsp

import (
	"encoding/binary"
	"hash/crc32"
)

// Page geometry. physical_size is fixed per tablespace at creation time;
// 16 KiB is the default the allocator policy tables (4.3.4) assume.
const (
	DefaultPageSize = 16 * 1024

	// FileHeaderSize is the common 38-byte page header (spec §3).
	FileHeaderSize = 38
	// FileTrailerSize is the 8-byte page trailer (checksum + low LSN).
	FileTrailerSize = 8

	HeaderSize  = FileHeaderSize
	TrailerSize = FileTrailerSize
)

// Page header field offsets, mirroring the teacher's
// storage/store/pages/page.go FileHeader layout, extended to the full
// 38 bytes this spec requires.
const (
	offPageOffset  = 0  // FIL_PAGE_OFFSET (this page's number)
	offPagePrev    = 4  // FIL_PAGE_PREV
	offPageNext    = 8  // FIL_PAGE_NEXT
	offPageLSN     = 12 // FIL_PAGE_LSN (newest modification)
	offPageType    = 20 // FIL_PAGE_TYPE
	offFlushLSN    = 22 // FIL_PAGE_FILE_FLUSH_LSN (page 0 only)
	offSpaceID     = 30 // FIL_PAGE_ARCH_LOG_NO / space id
	offHeaderCksum = 34 // header self-check CRC32 (spec §3: "4-byte CRC32
	// occupies the last bytes of the minimal-page-size prefix")
)

// Page types, extending server/common's FIL_PAGE_* constants to the
// ones this spec's allocator actually stamps.
type PageType uint16

const (
	PageTypeAllocated PageType = 0
	PageTypeFSPHdr    PageType = 8
	PageTypeXDES      PageType = 9
	PageTypeInode     PageType = 3
	PageTypeBinlog    PageType = 1000 // binlog data page, out of FIL_PAGE_* range
)

// PageID identifies a page by tablespace and page number.
type PageID struct {
	Space uint32
	No    uint32
}

// Page is one physical page: a fixed-size byte buffer plus the parsed
// 38-byte header and 8-byte trailer views over its first/last bytes.
type Page struct {
	ID       PageID
	Size     uint32
	Contents []byte // len == Size, header at [0:HeaderSize], trailer at tail
}

// NewPage allocates a zeroed page of the given size and stamps id/space.
func NewPage(id PageID, size uint32) *Page {
	p := &Page{ID: id, Size: size, Contents: make([]byte, size)}
	p.SetPageNo(id.No)
	p.SetSpaceID(id.Space)
	return p
}

// WrapPage builds a Page view over an existing buffer (e.g. one handed
// back by the external buffer pool), without copying.
func WrapPage(id PageID, buf []byte) *Page {
	return &Page{ID: id, Size: uint32(len(buf)), Contents: buf}
}

func (p *Page) header() []byte  { return p.Contents[:FileHeaderSize] }
func (p *Page) trailer() []byte { return p.Contents[p.Size-FileTrailerSize:] }

func (p *Page) PageNo() uint32   { return binary.BigEndian.Uint32(p.header()[offPageOffset:]) }
func (p *Page) SpaceID() uint32  { return binary.BigEndian.Uint32(p.header()[offSpaceID:]) }
func (p *Page) LSN() uint64      { return binary.BigEndian.Uint64(p.header()[offPageLSN:]) }
func (p *Page) Type() PageType   { return PageType(binary.BigEndian.Uint16(p.header()[offPageType:])) }
func (p *Page) Prev() uint32     { return binary.BigEndian.Uint32(p.header()[offPagePrev:]) }
func (p *Page) Next() uint32     { return binary.BigEndian.Uint32(p.header()[offPageNext:]) }

func (p *Page) SetPageNo(no uint32)  { binary.BigEndian.PutUint32(p.header()[offPageOffset:], no) }
func (p *Page) SetSpaceID(id uint32) { binary.BigEndian.PutUint32(p.header()[offSpaceID:], id) }
func (p *Page) SetPrev(no uint32)    { binary.BigEndian.PutUint32(p.header()[offPagePrev:], no) }
func (p *Page) SetNext(no uint32)    { binary.BigEndian.PutUint32(p.header()[offPageNext:], no) }
func (p *Page) SetType(t PageType) {
	binary.BigEndian.PutUint16(p.header()[offPageType:], uint16(t))
}
func (p *Page) SetLSN(lsn uint64) {
	binary.BigEndian.PutUint64(p.header()[offPageLSN:], lsn)
}

// StampHeaderChecksum writes the header self-check CRC32 over bytes
// [0, offHeaderCksum), letting a reader validate the header independent
// of the configured page size (spec §3).
func (p *Page) StampHeaderChecksum() {
	sum := crc32.ChecksumIEEE(p.header()[:offHeaderCksum])
	binary.BigEndian.PutUint32(p.header()[offHeaderCksum:], sum)
}

func (p *Page) ValidateHeaderChecksum() bool {
	want := binary.BigEndian.Uint32(p.header()[offHeaderCksum:])
	got := crc32.ChecksumIEEE(p.header()[:offHeaderCksum])
	return want == got
}

// StampTrailerChecksum writes the 4-byte trailer CRC32 over the page
// body (everything but header and trailer) plus the low 4 bytes of LSN,
// matching the teacher's FileTrailer.SetChecksum pattern.
func (p *Page) StampTrailerChecksum() {
	body := p.Contents[FileHeaderSize : p.Size-FileTrailerSize]
	sum := crc32.ChecksumIEEE(body)
	binary.BigEndian.PutUint32(p.trailer()[0:4], sum)
	copy(p.trailer()[4:8], p.header()[offPageLSN+4:offPageLSN+8])
}

func (p *Page) ValidateTrailerChecksum() bool {
	body := p.Contents[FileHeaderSize : p.Size-FileTrailerSize]
	want := binary.BigEndian.Uint32(p.trailer()[0:4])
	got := crc32.ChecksumIEEE(body)
	return want == got
}

// ReadAt/WriteAt give MTR opcodes a uniform byte-range view of the page
// body (offsets are page-relative, not file-relative).
func (p *Page) ReadAt(offset int, n int) []byte {
	return p.Contents[offset : offset+n]
}

func (p *Page) WriteAt(offset int, data []byte) {
	copy(p.Contents[offset:], data)
}
