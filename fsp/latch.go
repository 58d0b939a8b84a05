package fsp

import (
	"github.com/zhukovaskychina/xbinlog-server/server/innodb/latch"
)

// LatchMode is the mode a page or tablespace is fetched/locked under.
type LatchMode int

const (
	LatchS LatchMode = iota
	LatchSX
	LatchX
)

// Latch wraps the teacher's RWMutex-based latch.Latch with the SX mode
// spec §5 requires: SX allows concurrent S readers but excludes other
// SX/X holders, modeled here as the read side of the RWMutex plus a
// one-slot channel that a second SX attempt blocks on until the first
// SX holder releases it.
type Latch struct {
	inner *latch.Latch
	sx    chan struct{} // 1-buffered: held <=> empty
}

func NewLatch() *Latch {
	return &Latch{inner: latch.NewLatch(), sx: make(chan struct{}, 1)}
}

func (l *Latch) LockMode(mode LatchMode) {
	switch mode {
	case LatchS:
		l.inner.RLock()
	case LatchSX:
		l.sx <- struct{}{}
		l.inner.RLock()
	case LatchX:
		l.inner.Lock()
	}
}

func (l *Latch) UnlockMode(mode LatchMode) {
	switch mode {
	case LatchS:
		l.inner.RUnlock()
	case LatchSX:
		l.inner.RUnlock()
		<-l.sx
	case LatchX:
		l.inner.Unlock()
	}
}
