package fsp

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCorruptWrapsSentinelAndMarksSpace(t *testing.T) {
	redo := &fakeRedoSink{}
	space, _ := newTestSpace(2*ExtentPages, DefaultPageSize, redo)
	assert.False(t, space.IsCorrupted())

	err := corrupt(space, "fsp: bad thing at page %d", 5)
	assert.True(t, space.IsCorrupted())
	assert.ErrorIs(t, err, ErrCorruption)
	assert.Contains(t, err.Error(), "bad thing at page 5")
}

func TestCorruptToleratesNilSpace(t *testing.T) {
	err := corrupt(nil, "fsp: no space context")
	assert.ErrorIs(t, err, ErrCorruption)
}

func TestErrorsCauseUnwrapsToSentinel(t *testing.T) {
	err := errors.Wrap(ErrOutOfFileSpace, "fsp: allocating extent")
	assert.ErrorIs(t, err, ErrOutOfFileSpace)
}
