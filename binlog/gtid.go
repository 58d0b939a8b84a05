package binlog

import (
	"hash/crc32"
	"sort"
	"sync"
)

// GTIDEntry is one (domain_id, server_id, seq_no) triple (spec §3
// "GTID state snapshot").
type GTIDEntry struct {
	DomainID uint32
	ServerID uint32
	SeqNo    uint64
}

func gtidKey(domainID, serverID uint32) uint64 {
	return uint64(domainID)<<32 | uint64(serverID)
}

// GTIDState tracks the highest seq_no observed per (domain_id,
// server_id) pair, the state a writer snapshots into GTID_STATE
// chunks and a reader reconstructs while seeking.
type GTIDState struct {
	mu      sync.RWMutex
	entries map[uint64]GTIDEntry
}

func NewGTIDState() *GTIDState {
	return &GTIDState{entries: make(map[uint64]GTIDEntry)}
}

// Update records seq_no for (domainID, serverID), reporting whether it
// advanced the tracked maximum (replication events may be replayed).
func (s *GTIDState) Update(domainID, serverID uint32, seqNo uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := gtidKey(domainID, serverID)
	cur, ok := s.entries[k]
	if ok && cur.SeqNo >= seqNo {
		return false
	}
	s.entries[k] = GTIDEntry{DomainID: domainID, ServerID: serverID, SeqNo: seqNo}
	return true
}

// Snapshot returns the full state, sorted for deterministic encoding.
func (s *GTIDState) Snapshot() []GTIDEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]GTIDEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

// Clone returns an independent copy, used to stamp a file-start
// baseline a later differential snapshot is computed against.
func (s *GTIDState) Clone() *GTIDState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := NewGTIDState()
	for k, v := range s.entries {
		c.entries[k] = v
	}
	return c
}

func sortEntries(e []GTIDEntry) {
	sort.Slice(e, func(i, j int) bool {
		if e[i].DomainID != e[j].DomainID {
			return e[i].DomainID < e[j].DomainID
		}
		return e[i].ServerID < e[j].ServerID
	})
}

// DiffSince returns the entries whose seq_no advanced (or are new)
// relative to base, for a differential GTID_STATE record.
func (s *GTIDState) DiffSince(base *GTIDState) []GTIDEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	base.mu.RLock()
	defer base.mu.RUnlock()
	var out []GTIDEntry
	for k, e := range s.entries {
		if b, ok := base.entries[k]; !ok || b.SeqNo < e.SeqNo {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

// LessEq reports whether every (domain_id, server_id) entry tracked by
// s has a seq_no at or below other's entry for the same pair — a
// domain/server pair s has never seen counts as satisfied. This is the
// ordering InitGTIDPos walks files/pages against: a snapshot LessEq
// the caller's target position has not yet passed it.
func (s *GTIDState) LessEq(other *GTIDState) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()
	for k, e := range s.entries {
		o, ok := other.entries[k]
		if !ok || e.SeqNo > o.SeqNo {
			return false
		}
	}
	return true
}

// ApplyEntries merges entries into the state (used when a reader or
// recovery pass consumes a GTID_STATE record).
func (s *GTIDState) ApplyEntries(entries []GTIDEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		k := gtidKey(e.DomainID, e.ServerID)
		if cur, ok := s.entries[k]; !ok || cur.SeqNo < e.SeqNo {
			s.entries[k] = e
		}
	}
}

// EncodeGTIDEntries marshals entries as a count varint followed by
// (domain_id, server_id, seq_no) varint triples (spec §3/§6).
func EncodeGTIDEntries(entries []GTIDEntry) []byte {
	buf := PutVarint(nil, uint64(len(entries)))
	for _, e := range entries {
		buf = PutVarint(buf, uint64(e.DomainID))
		buf = PutVarint(buf, uint64(e.ServerID))
		buf = PutVarint(buf, e.SeqNo)
	}
	return buf
}

// DecodeGTIDEntries is the inverse of EncodeGTIDEntries.
func DecodeGTIDEntries(buf []byte) ([]GTIDEntry, error) {
	count, n, err := GetVarint(buf, 1<<32)
	if err != nil {
		return nil, err
	}
	buf = buf[n:]
	entries := make([]GTIDEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		domainID, n, err := GetVarintU32(buf)
		if err != nil {
			return nil, err
		}
		buf = buf[n:]
		serverID, n, err := GetVarintU32(buf)
		if err != nil {
			return nil, err
		}
		buf = buf[n:]
		seqNo, n, err := GetVarint(buf, ^uint64(0))
		if err != nil {
			return nil, err
		}
		buf = buf[n:]
		entries = append(entries, GTIDEntry{DomainID: domainID, ServerID: serverID, SeqNo: seqNo})
	}
	return entries, nil
}

// Checksum is a supplemented integrity aid (not in the minimal wire
// format but cheap and consistent with the fsp side's CRC32-everywhere
// convention): a CRC32 over the encoded entries, letting a reader
// sanity-check a GTID_STATE record body before trusting it.
func Checksum(entries []GTIDEntry) uint32 {
	return crc32.ChecksumIEEE(EncodeGTIDEntries(entries))
}
