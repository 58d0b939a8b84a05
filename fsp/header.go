package fsp

// Tablespace header (page 0) field offsets, immediately following the
// common 38-byte page header (spec §3 "Tablespace header").
const (
	fspSpaceID    = HeaderSize + 0  // 4 bytes, redundant with page header but kept for self-validation
	fspSize       = HeaderSize + 4  // 4 bytes: FSP_SIZE
	fspFreeLimit  = HeaderSize + 8  // 4 bytes: FSP_FREE_LIMIT
	fspFragNUsed  = HeaderSize + 12 // 4 bytes: FRAG_N_USED
	fspSegIDSeq   = HeaderSize + 16 // 8 bytes: next segment id
	fspListsStart = HeaderSize + 24 // 5 x ListBaseSize

	fspFreeListOff     = fspListsStart + 0*ListBaseSize
	fspFreeFragListOff = fspListsStart + 1*ListBaseSize
	fspFullFragListOff = fspListsStart + 2*ListBaseSize
	fspSegFreeListOff  = fspListsStart + 3*ListBaseSize
	fspSegFullListOff  = fspListsStart + 4*ListBaseSize

	FSPHeaderSize = fspListsStart + 5*ListBaseSize
)
