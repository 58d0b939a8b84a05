package binlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 20, 1 << 40, ^uint64(0)}
	for _, v := range values {
		buf := PutVarint(nil, v)
		got, n, err := GetVarint(buf, ^uint64(0))
		assert.NoError(t, err)
		assert.Equal(t, len(buf), n)
		assert.Equal(t, v, got)
	}
}

func TestVarintRejectsOverBound(t *testing.T) {
	buf := PutVarint(nil, 1000)
	_, _, err := GetVarint(buf, 100)
	assert.ErrorIs(t, err, ErrVarintOverflow)
}

func TestVarintTruncated(t *testing.T) {
	buf := PutVarint(nil, 1<<20)
	_, _, err := GetVarint(buf[:1], ^uint64(0))
	assert.Error(t, err)
}

func TestVarintU32(t *testing.T) {
	buf := PutVarint(nil, uint64(^uint32(0)))
	v, n, err := GetVarintU32(buf)
	assert.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, ^uint32(0), v)
}

func TestVarintMultipleInSequence(t *testing.T) {
	var buf []byte
	buf = PutVarint(buf, 10)
	buf = PutVarint(buf, 2000)
	buf = PutVarint(buf, 3)

	v1, n1, err := GetVarint(buf, ^uint64(0))
	assert.NoError(t, err)
	assert.Equal(t, uint64(10), v1)
	buf = buf[n1:]

	v2, n2, err := GetVarint(buf, ^uint64(0))
	assert.NoError(t, err)
	assert.Equal(t, uint64(2000), v2)
	buf = buf[n2:]

	v3, _, err := GetVarint(buf, ^uint64(0))
	assert.NoError(t, err)
	assert.Equal(t, uint64(3), v3)
}
