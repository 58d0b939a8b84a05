package binlog

import "encoding/binary"

// oobNodeHeaderSize is the 5-integer OOB record header: node_index,
// left_file, left_off, right_file, right_off (spec §4.6/§4.9).
const oobNodeHeaderSize = 5 * 8

// oobRoot is one perfect-tree root tracked by an oobContext stack.
type oobRoot struct {
	FileNo   uint64
	Offset   uint32
	NodeIdx  uint64
	Height   uint32
}

// OOBContext is the per-transaction state for an over-large event
// group split across OOB records (spec §4.6). Append keeps at most one
// root on the stack: each node after the first links back to the
// previous root and replaces it, so the forest is a single back-linked
// chain rather than a set of perfect binary trees.
type OOBContext struct {
	writer *Writer
	refs   *fileRefCounts

	roots []oobRoot

	firstNodeFileNo uint64
	firstNodeOffset uint32
	haveFirstNode   bool
	released        bool

	nextNodeIdx uint64
}

func NewOOBContext(w *Writer) *OOBContext {
	return &OOBContext{writer: w, refs: w.OOBRefs()}
}

// encodeOOBNode serializes the 5-integer header plus payload, used as
// the COPY_DATA source for the underlying chunked record.
func encodeOOBNode(nodeIdx uint64, left, right oobRef) []byte {
	buf := make([]byte, oobNodeHeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], nodeIdx)
	binary.LittleEndian.PutUint64(buf[8:16], left.FileNo)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(left.Offset))
	binary.LittleEndian.PutUint64(buf[24:32], right.FileNo)
	binary.LittleEndian.PutUint64(buf[32:40], uint64(right.Offset))
	return buf
}

// oobRef is a (file_no, offset) back-pointer; the zero value is the
// "absent" reference used for a leaf's left/right links.
type oobRef struct {
	FileNo uint64
	Offset uint32
}

// Append writes the next OOB record for payload. When the top two roots
// have equal height they become the new node's left and right children;
// otherwise the new node links right to the current top root, pops it,
// and takes its place one level higher. Because that second case pops
// the root it links to, the stack never holds two roots, the first case
// is not reached, and node heights grow by one per append.
func (c *OOBContext) Append(payload []byte) error {
	var left, right oobRef
	var newHeight uint32

	switch {
	case len(c.roots) >= 2 && c.roots[len(c.roots)-1].Height == c.roots[len(c.roots)-2].Height:
		top := c.roots[len(c.roots)-1]
		second := c.roots[len(c.roots)-2]
		left = oobRef{FileNo: second.FileNo, Offset: second.Offset}
		right = oobRef{FileNo: top.FileNo, Offset: top.Offset}
		newHeight = top.Height + 1
		c.roots = c.roots[:len(c.roots)-2]
	case len(c.roots) >= 1:
		top := c.roots[len(c.roots)-1]
		right = oobRef{FileNo: top.FileNo, Offset: top.Offset}
		newHeight = top.Height + 1
		c.roots = c.roots[:len(c.roots)-1]
	default:
		newHeight = 0
	}

	nodeIdx := c.nextNodeIdx
	c.nextNodeIdx++

	header := encodeOOBNode(nodeIdx, left, right)
	src := NewOOBHeaderSource(header, NewBufferSource(payload))
	fileNo, offset, err := c.writer.FspBinlogWriteRec(src, ChunkOOBData)
	if err != nil {
		return err
	}

	if !c.haveFirstNode {
		c.firstNodeFileNo, c.firstNodeOffset = fileNo, offset
		c.haveFirstNode = true
		if c.refs != nil {
			c.refs.incr(fileNo)
		}
	}

	c.roots = append(c.roots, oobRoot{FileNo: fileNo, Offset: offset, NodeIdx: nodeIdx, Height: newHeight})
	return nil
}

// LastRoot returns the forest's current top root, the pointer a
// COMMIT record header references (spec §4.6: "a commit-record header
// references the last root").
func (c *OOBContext) LastRoot() (fileNo uint64, offset uint32, ok bool) {
	if len(c.roots) == 0 {
		return 0, 0, false
	}
	r := c.roots[len(c.roots)-1]
	return r.FileNo, r.Offset, true
}

// FirstNodeRef returns the file/offset of this context's very first
// OOB record, the key purge's reference counting is keyed on.
func (c *OOBContext) FirstNodeRef() (fileNo uint64, offset uint32, ok bool) {
	return c.firstNodeFileNo, c.firstNodeOffset, c.haveFirstNode
}

// Release drops the reference Append took on the first node's file_no,
// once the transaction this forest belongs to has ended (commit or
// rollback). Idempotent: a context with no forest, or one already
// released, is a no-op.
func (c *OOBContext) Release() {
	if !c.haveFirstNode || c.released || c.refs == nil {
		return
	}
	c.refs.decr(c.firstNodeFileNo)
	c.released = true
}

// oobSavepoint is an opaque shallow copy of the roots stack.
type oobSavepoint struct {
	roots       []oobRoot
	nextNodeIdx uint64
}

// StmtStart / Savepoint snapshot the roots stack; RollbackTo* restore
// it. Rolled-back roots are not deleted from disk — per spec §4.6 they
// become orphan blocks purge reclaims via the first-node reference count.
func (c *OOBContext) Savepoint() oobSavepoint {
	return oobSavepoint{roots: append([]oobRoot(nil), c.roots...), nextNodeIdx: c.nextNodeIdx}
}

func (c *OOBContext) StmtStart() oobSavepoint { return c.Savepoint() }

func (c *OOBContext) RollbackToSavepoint(sp oobSavepoint) {
	c.roots = append([]oobRoot(nil), sp.roots...)
	c.nextNodeIdx = sp.nextNodeIdx
}

func (c *OOBContext) RollbackToStmtStart(sp oobSavepoint) { c.RollbackToSavepoint(sp) }
