package binlog

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// checkForestInvariant asserts the roots stack is in strictly decreasing
// height order, except the last two entries may tie (spec §4.6).
func checkForestInvariant(t *testing.T, roots []oobRoot) {
	t.Helper()
	for i := 0; i+1 < len(roots); i++ {
		if i == len(roots)-2 {
			assert.GreaterOrEqual(t, roots[i].Height, roots[i+1].Height)
			continue
		}
		assert.Greater(t, roots[i].Height, roots[i+1].Height)
	}
}

func TestOOBContextAppendSingle(t *testing.T) {
	w, _ := newTestWriter(t)
	c := NewOOBContext(w)

	assert.NoError(t, c.Append([]byte("payload-0")))
	checkForestInvariant(t, c.roots)
	assert.Len(t, c.roots, 1)
	assert.Equal(t, uint32(0), c.roots[0].Height)

	fileNo, offset, ok := c.LastRoot()
	assert.True(t, ok)
	firstFile, firstOffset, haveFirst := c.FirstNodeRef()
	assert.True(t, haveFirst)
	assert.Equal(t, fileNo, firstFile)
	assert.Equal(t, offset, firstOffset)
}

func TestOOBContextCombinesEqualHeights(t *testing.T) {
	w, _ := newTestWriter(t)
	c := NewOOBContext(w)

	assert.NoError(t, c.Append([]byte("a")))
	assert.NoError(t, c.Append([]byte("b")))
	checkForestInvariant(t, c.roots)
	// the second node links back to the first and replaces it as the
	// single root, one level higher.
	assert.Len(t, c.roots, 1)
	assert.Equal(t, uint32(1), c.roots[0].Height)
}

func TestOOBContextForestInvariantHolds(t *testing.T) {
	w, _ := newTestWriter(t)
	c := NewOOBContext(w)

	for i := 0; i < 40; i++ {
		assert.NoError(t, c.Append([]byte(fmt.Sprintf("payload-%d", i))))
		checkForestInvariant(t, c.roots)
	}
}

func TestOOBContextFirstNodeStaysFixed(t *testing.T) {
	w, _ := newTestWriter(t)
	c := NewOOBContext(w)

	assert.NoError(t, c.Append([]byte("first")))
	firstFile, firstOffset, _ := c.FirstNodeRef()

	for i := 0; i < 10; i++ {
		assert.NoError(t, c.Append([]byte(fmt.Sprintf("more-%d", i))))
	}

	laterFile, laterOffset, _ := c.FirstNodeRef()
	assert.Equal(t, firstFile, laterFile)
	assert.Equal(t, firstOffset, laterOffset)
}

func TestOOBContextSavepointRollback(t *testing.T) {
	w, _ := newTestWriter(t)
	c := NewOOBContext(w)

	assert.NoError(t, c.Append([]byte("a")))
	sp := c.Savepoint()
	assert.NoError(t, c.Append([]byte("b")))
	assert.NoError(t, c.Append([]byte("c")))
	assert.Len(t, c.roots, 2)

	c.RollbackToSavepoint(sp)
	assert.Len(t, c.roots, 1)

	_, _, ok := c.LastRoot()
	assert.True(t, ok)
}

func TestEncodeOOBNode(t *testing.T) {
	left := oobRef{FileNo: 1, Offset: 10}
	right := oobRef{FileNo: 2, Offset: 20}
	buf := encodeOOBNode(5, left, right)
	assert.Len(t, buf, oobNodeHeaderSize)
}
