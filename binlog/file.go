package binlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// tablespaceFile is the lowest layer of one binlog-NNNNNN.ibb file:
// direct pread/pwrite of fixed-size pages, no allocation bookkeeping.
// Pages are organized linearly within the file, unlike a regular
// extent-managed tablespace (fsp.Space) — the writer never calls into
// the extent/segment allocator for binlog data.
type tablespaceFile struct {
	mu       sync.RWMutex
	path     string
	file     *os.File
	fileNo   uint64
	pageSize uint32
}

func newTablespaceFile(dir string, fileNo uint64, pageSize uint32) *tablespaceFile {
	return &tablespaceFile{path: filepath.Join(dir, FormatFileName(fileNo)), fileNo: fileNo, pageSize: pageSize}
}

func (f *tablespaceFile) create(sizePages uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file != nil {
		return errors.Errorf("binlog: file already open: %s", f.path)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return errors.Wrap(err, "binlog: mkdir")
	}
	file, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return errors.Wrap(err, "binlog: create")
	}
	f.file = file
	blank := make([]byte, f.pageSize)
	for p := uint32(0); p < sizePages; p++ {
		if _, err := f.file.WriteAt(blank, int64(p)*int64(f.pageSize)); err != nil {
			f.file.Close()
			f.file = nil
			return errors.Wrap(err, "binlog: pad new file")
		}
	}
	return nil
}

func (f *tablespaceFile) open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file != nil {
		return nil
	}
	file, err := os.OpenFile(f.path, os.O_RDWR, 0644)
	if err != nil {
		return errors.Wrap(err, "binlog: open")
	}
	f.file = file
	return nil
}

func (f *tablespaceFile) readPage(pageNo uint32) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.file == nil {
		return nil, errors.New("binlog: file not open")
	}
	buf := make([]byte, f.pageSize)
	n, err := f.file.ReadAt(buf, int64(pageNo)*int64(f.pageSize))
	if err != nil && n != len(buf) {
		return nil, errors.Wrap(err, "binlog: read page")
	}
	return buf, nil
}

func (f *tablespaceFile) writePage(pageNo uint32, page []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return errors.New("binlog: file not open")
	}
	if uint32(len(page)) != f.pageSize {
		return errors.Errorf("binlog: invalid page size %d", len(page))
	}
	n, err := f.file.WriteAt(page, int64(pageNo)*int64(f.pageSize))
	if err != nil {
		return errors.Wrap(err, "binlog: write page")
	}
	if uint32(n) != f.pageSize {
		return errors.New("binlog: short page write")
	}
	return nil
}

func (f *tablespaceFile) sync() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.file == nil {
		return nil
	}
	return f.file.Sync()
}

func (f *tablespaceFile) sizePages() (uint32, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.file == nil {
		return 0, errors.New("binlog: file not open")
	}
	info, err := f.file.Stat()
	if err != nil {
		return 0, err
	}
	return uint32(info.Size() / int64(f.pageSize)), nil
}

func (f *tablespaceFile) truncate(sizePages uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return errors.New("binlog: file not open")
	}
	return f.file.Truncate(int64(sizePages) * int64(f.pageSize))
}

func (f *tablespaceFile) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	if err := f.file.Sync(); err != nil {
		return err
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// FormatFileName builds the canonical "binlog-NNNNNN.ibb" name for fileNo
// (spec §6: zero-padded 6-digit decimal, leading zeros accepted beyond
// 6 digits so file_no values past 999999 still round-trip).
func FormatFileName(fileNo uint64) string {
	return fmt.Sprintf("binlog-%06d.ibb", fileNo)
}

// ParseFileName recognizes a binlog file name and extracts its file_no.
// A name qualifies iff the "binlog-"/".ibb" prefix and suffix match and
// the middle is entirely decimal digits (spec §6).
func ParseFileName(name string) (uint64, bool) {
	const prefix, suffix = "binlog-", ".ibb"
	if len(name) <= len(prefix)+len(suffix) || name[:len(prefix)] != prefix || name[len(name)-len(suffix):] != suffix {
		return 0, false
	}
	mid := name[len(prefix) : len(name)-len(suffix)]
	var n uint64
	for _, c := range mid {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + uint64(c-'0')
	}
	return n, true
}
