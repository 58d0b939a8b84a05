// Package binlog implements the chunked binary-log writer/reader
// subsystem: record layout, GTID state snapshots, the OOB event-group
// forest, the pending-LSN FIFO, the XID registry, and crash recovery
// and discovery/purge of binlog tablespace files.
package binlog

import "github.com/pkg/errors"

// Sentinel error kinds shared with fsp's propagation policy (spec §7):
// errors.Cause(err) resolves to one of these regardless of wrapping.
var (
	ErrCorruption       = errors.New("binlog: corruption")
	ErrSuccessLockedRec = errors.New("binlog: more work to do")
	ErrOutOfFileSpace   = errors.New("binlog: out of file space")
	ErrGeneric          = errors.New("binlog: generic storage error")

	ErrNotABinlogFile   = errors.New("binlog: not a binlog file name")
	ErrLogInUse         = errors.New("binlog: log in use")
	ErrRecoveryGap      = errors.New("binlog: recovery position gap")
	ErrOffsetTooLarge   = errors.New("binlog: offset beyond end of file")
	ErrVarintOverflow   = errors.New("binlog: varint exceeds field bound")
	ErrForceRecoveryOff = errors.New("binlog: refusing to start from ambiguous tail without force-recovery")
	ErrWaitTimeout      = errors.New("binlog: deadline exceeded waiting for durable offset")
	ErrNoBinlogFiles    = errors.New("binlog: no retained files to seek within")
)

func corrupt(format string, args ...interface{}) error {
	return errors.Wrapf(ErrCorruption, format, args...)
}
