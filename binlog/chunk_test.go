package binlog

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		typ          ChunkType
		cont, last   bool
		length       int
	}{
		{ChunkCommit, false, true, 0},
		{ChunkOOBData, true, false, 4096},
		{ChunkGTIDState, false, false, 1},
		{ChunkFiller, false, true, 0},
	}
	for _, c := range cases {
		hdr := EncodeChunkHeader(c.typ, c.cont, c.last, c.length)
		typ, cont, last, length := DecodeChunkHeader(hdr[:])
		assert.Equal(t, c.typ, typ)
		assert.Equal(t, c.cont, cont)
		assert.Equal(t, c.last, last)
		assert.Equal(t, c.length, length)
	}
}

func TestChunkHeaderMaxLength(t *testing.T) {
	hdr := EncodeChunkHeader(ChunkOOBData, true, false, MaxChunkPayload)
	_, _, _, length := DecodeChunkHeader(hdr[:])
	assert.Equal(t, MaxChunkPayload, length)
}

func TestBufferSourceCopyData(t *testing.T) {
	src := NewBufferSource([]byte("hello world"))
	buf := make([]byte, 5)

	n, last := src.CopyData(buf)
	assert.Equal(t, 5, n)
	assert.False(t, last)
	assert.Equal(t, "hello", string(buf[:n]))

	n, last = src.CopyData(buf)
	assert.Equal(t, 5, n)
	assert.False(t, last)
	assert.Equal(t, " worl", string(buf[:n]))

	n, last = src.CopyData(buf)
	assert.Equal(t, 1, n)
	assert.True(t, last)
	assert.Equal(t, "d", string(buf[:n]))
}

func TestBufferSourceExactFit(t *testing.T) {
	src := NewBufferSource([]byte("abc"))
	buf := make([]byte, 3)
	n, last := src.CopyData(buf)
	assert.Equal(t, 3, n)
	assert.True(t, last)
}

func TestIOCacheSource(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 100)
	r := bufio.NewReader(bytes.NewReader(data))
	src := NewIOCacheSource(r, 100)

	var total int
	buf := make([]byte, 30)
	for {
		n, last := src.CopyData(buf)
		total += n
		if last {
			break
		}
	}
	assert.Equal(t, 100, total)
}

func TestOOBHeaderSource(t *testing.T) {
	header := []byte{1, 2, 3, 4}
	payload := NewBufferSource([]byte("payload"))
	src := NewOOBHeaderSource(header, payload)

	var out []byte
	buf := make([]byte, 3)
	for {
		n, last := src.CopyData(buf)
		out = append(out, buf[:n]...)
		if last {
			break
		}
	}
	assert.Equal(t, append(append([]byte{}, header...), []byte("payload")...), out)
}
