// Package fsp implements file-space management for extent-organized
// tablespaces: pages, mini-transactions, on-page lists, the
// extent/segment allocator and tablespace lifecycle operations.
package fsp

import (
	"github.com/pkg/errors"
	pingcaperrors "github.com/pingcap/errors"
)

// Sentinel error kinds, matched with errors.Cause at call sites that
// need to branch on the kind rather than the wrapped message.
var (
	ErrOutOfFileSpace   = errors.New("fsp: out of file space")
	ErrOutOfMemory      = errors.New("fsp: out of memory")
	ErrCorruption       = errors.New("fsp: corruption")
	ErrSuccessLockedRec = errors.New("fsp: more work to do")
	ErrGeneric          = errors.New("fsp: generic storage error")
	ErrShrinkAborted    = errors.New("fsp: shrink redo volume exceeded budget")
)

// corrupt marks the space corrupted and wraps ErrCorruption with context.
// The returned error carries a pingcap/errors stack trace taken here,
// so a CORRUPTION propagated out of a failed
// allocator call still pinpoints the exact allocation path in logs even
// though errors.Cause(err) resolves to the plain ErrCorruption sentinel.
func corrupt(space *Space, format string, args ...interface{}) error {
	if space != nil {
		space.MarkCorrupted()
	}
	return pingcaperrors.AddStack(errors.Wrapf(ErrCorruption, format, args...))
}
