package primetable

// Bucket/segment sizing. The teacher has no segmented hash table of its
// own (Godis backs DB with a plain sync.Map); these constants are original
// to this package, chosen to keep a bucket cache-line-ish sized rather than
// reproduced from the C++ dash table's mimalloc-tuned kSegBytes budget
// (SPEC_FULL.md §4.1).
const (
	regularSlots     = 8
	stashSlots       = 2
	totalSlots       = regularSlots + stashSlots
	bucketsPerSegInitial = 28
)
