package primetable

import "github.com/jorge882/dragonfly/internal/objval"

// Cursor addresses a single slot: segment index, bucket index within the
// segment, and slot index within the logical bucket (0..totalSlots-1).
type Cursor struct {
	Seg, Bucket, Slot int
}

// Policy is the eviction/GC/growth hook set InsertNew consults when a
// bucket is full, mirroring PrimeEvictionPolicy in
// original_source/src/server/db_slice.cc.
type Policy interface {
	// CanGrow reports whether the table may add a new segment rather than
	// evict/GC its way to a free slot.
	CanGrow(t *Table) bool

	// GarbageCollect scans the bucket for expired entries (has-expire and
	// deadline passed) and removes them, source ordering before Evict
	// (spec.md §9 open question: GC is tried before eviction).
	GarbageCollect(view BucketView) (freed int)

	// Evict removes one non-sticky, non-locked entry of the bucket. Returns
	// the evicted key, or ok=false. The dbslice policy takes the first such
	// entry in slot order (regular slots before stash slots); the other
	// entries keep their slots.
	Evict(view BucketView) (key objval.PrimeKey, val *objval.PrimeValue, ok bool)

	// OnMove is invoked whenever BumpUp physically relocates an entry.
	OnMove(source, dest Cursor)

	// CanBump reports whether an entry may be promoted toward the bucket
	// head (sticky keys typically answer false).
	CanBump(key objval.PrimeKey) bool
}

// NopPolicy always allows growth and never evicts or GCs; useful for tests
// of the table in isolation.
type NopPolicy struct{}

func (NopPolicy) CanGrow(*Table) bool                                        { return true }
func (NopPolicy) GarbageCollect(BucketView) int                              { return 0 }
func (NopPolicy) Evict(BucketView) (objval.PrimeKey, *objval.PrimeValue, bool) {
	return objval.PrimeKey{}, nil, false
}
func (NopPolicy) OnMove(Cursor, Cursor)                  {}
func (NopPolicy) CanBump(objval.PrimeKey) bool           { return true }
