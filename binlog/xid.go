package binlog

import (
	"sync"

	"github.com/OneOfOne/xxhash"
)

// xidEntry tracks one prepared XA transaction's first OOB reference
// and the file_no that must stay pinned until unlog (spec §4.8).
type xidEntry struct {
	xid    string
	fileNo uint64
	offset uint32
	refcnt *fileRefCounts
	next   *xidEntry
}

// XIDRegistry is a hash of serialized XID → xidEntry. Buckets chain on
// collision rather than relying on xxhash never colliding: a 64-bit
// hash of an arbitrary-length XID is a probabilistic key, and treating
// it as exact identity would silently merge two distinct prepared
// transactions that happened to hash alike.
type XIDRegistry struct {
	mu      sync.Mutex
	buckets []*xidEntry
	refs    *fileRefCounts
}

func NewXIDRegistry(bucketCount int, refs *fileRefCounts) *XIDRegistry {
	if bucketCount <= 0 {
		bucketCount = 256
	}
	return &XIDRegistry{buckets: make([]*xidEntry, bucketCount), refs: refs}
}

func (r *XIDRegistry) bucketIndex(xid string) int {
	h := xxhash.New64()
	h.Write([]byte(xid))
	return int(h.Sum64() % uint64(len(r.buckets)))
}

// AddXID registers xid as prepared, referencing fileNo/offset as its
// first OOB node, and increments that file's reference count.
func (r *XIDRegistry) AddXID(xid string, fileNo uint64, offset uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.bucketIndex(xid)
	for e := r.buckets[idx]; e != nil; e = e.next {
		if e.xid == xid {
			return // already prepared; idempotent
		}
	}
	r.buckets[idx] = &xidEntry{xid: xid, fileNo: fileNo, offset: offset, refcnt: r.refs, next: r.buckets[idx]}
	r.refs.incr(fileNo)
}

// GrabXID removes xid (called at COMMIT/ROLLBACK), decrementing the
// file reference count it held.
func (r *XIDRegistry) GrabXID(xid string) (fileNo uint64, offset uint32, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.bucketIndex(xid)
	var prev *xidEntry
	for e := r.buckets[idx]; e != nil; e = e.next {
		if e.xid == xid {
			if prev == nil {
				r.buckets[idx] = e.next
			} else {
				prev.next = e.next
			}
			r.refs.decr(e.fileNo)
			return e.fileNo, e.offset, true
		}
		prev = e
	}
	return 0, 0, false
}

// fileRefCounts is the shared reference-count table keyed by file_no,
// used both by the XID registry (XA PREPARE pins) and by the OOB
// forest (first-node pins) to decide which files purge may delete.
type fileRefCounts struct {
	mu     sync.Mutex
	counts map[uint64]int
}

func newFileRefCounts() *fileRefCounts {
	return &fileRefCounts{counts: make(map[uint64]int)}
}

func (c *fileRefCounts) incr(fileNo uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[fileNo]++
}

func (c *fileRefCounts) decr(fileNo uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[fileNo]--
	if c.counts[fileNo] <= 0 {
		delete(c.counts, fileNo)
	}
}

func (c *fileRefCounts) isReferenced(fileNo uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[fileNo] > 0
}

// EarliestReferenced returns the smallest referenced file_no ≥ since,
// or ok=false if nothing at or above since is referenced. Purge uses
// this to honor the earliest-xa-ref-file-no a header publishes.
func (c *fileRefCounts) EarliestReferenced(since uint64) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	best := uint64(0)
	found := false
	for fileNo := range c.counts {
		if fileNo < since {
			continue
		}
		if !found || fileNo < best {
			best = fileNo
			found = true
		}
	}
	return best, found
}
