// Package primetable implements the dash-like versioned segmented hash
// table described in spec.md §4.1: PrimeTable. It is original to this
// module (the teacher backs its DB with a plain sync.Map) but follows the
// spec's contract precisely — see SPEC_FULL.md §4.1 for the sizing
// rationale.
package primetable

import (
	"math/bits"

	"github.com/jorge882/dragonfly/internal/dberrors"
	"github.com/jorge882/dragonfly/internal/objval"
)

type segment struct {
	buckets []bucket
}

// Table is a versioned segmented hash table keyed by a 64-bit fingerprint.
// It is not safe for concurrent use by more than one goroutine — exactly
// like everything else under a shard (spec.md §5 "Ownership").
type Table struct {
	segs     []*segment
	segBits  uint // len(segs) == 1<<segBits
	size     int
	nextVer  func() uint64
	preHooks []preInsertHook
}

type preInsertHook struct {
	ver uint64
	fn  func(BucketView)
}

// NewTable creates a table with 2^initialSegBits segments. nextVersion must
// return the shard's monotone version counter (DbSlice owns it; primetable
// only consumes it, per spec.md §3 invariant 5).
func NewTable(initialSegBits uint, nextVersion func() uint64) *Table {
	n := 1 << initialSegBits
	segs := make([]*segment, n)
	for i := range segs {
		segs[i] = &segment{buckets: make([]bucket, bucketsPerSegInitial)}
	}
	return &Table{segs: segs, segBits: initialSegBits, nextVer: nextVersion}
}

func (t *Table) Size() int     { return t.size }
func (t *Table) Capacity() int { return len(t.segs) * bucketsPerSegInitial * totalSlots }

func (t *Table) segIndex(fp uint64) int {
	if t.segBits == 0 {
		return 0
	}
	return int(fp >> (64 - t.segBits))
}

func (t *Table) bucketIndex(fp uint64, seg *segment) int {
	return int(fp % uint64(len(seg.buckets)))
}

func (t *Table) locate(fp uint64) (*segment, *bucket, Cursor) {
	si := t.segIndex(fp)
	seg := t.segs[si]
	bi := t.bucketIndex(fp, seg)
	return seg, &seg.buckets[bi], Cursor{Seg: si, Bucket: bi}
}

// Iterator is the handle Find/InsertNew return; it addresses a live slot.
type Iterator struct {
	valid  bool
	cursor Cursor
	b      *bucket
	slot   int
}

func (it Iterator) Valid() bool { return it.valid }

func (it Iterator) Value() *objval.PrimeValue {
	if !it.valid {
		return nil
	}
	return it.b.slotAt(it.slot).value
}

func (it Iterator) Key() objval.PrimeKey {
	if !it.valid {
		return objval.PrimeKey{}
	}
	return it.b.slotAt(it.slot).key
}

// SetSticky flips the sticky flag on the slot this iterator addresses,
// used by SET's STICK option to mark a key exempt from eviction.
func (it Iterator) SetSticky(v bool) {
	if !it.valid {
		return
	}
	it.b.slotAt(it.slot).key.SetSticky(v)
}

func (it Iterator) Cursor() Cursor { return it.cursor }

// BucketVersion returns the version of the bucket this iterator lives in.
func (it Iterator) BucketVersion() uint64 {
	if !it.valid {
		return 0
	}
	return it.b.version
}

var invalidIterator = Iterator{}

// Find returns an iterator for key, or an invalid iterator on miss.
func (t *Table) Find(fp uint64, key []byte) Iterator {
	_, b, cur := t.locate(fp)
	idx := b.find(fp, key)
	if idx < 0 {
		return invalidIterator
	}
	cur.Slot = idx
	return Iterator{valid: true, cursor: cur, b: b, slot: idx}
}

// touchVersion bumps a bucket's version to at least the shard's current
// NextVersion, firing any pre-insert hooks registered for a higher version
// first (spec.md §4.4 "CVCUponInsert").
func (t *Table) touchVersion(b *bucket) {
	for _, h := range t.preHooks {
		if h.ver > b.version {
			h.fn(BucketView{b: b})
		}
	}
	b.version = t.nextVer()
}

// InsertNew inserts a new key/value pair. The key must not already be
// present (AddOrFind / AddNew above enforce that). If the bucket is full,
// GC then eviction are tried (in that order, per spec.md §9 open
// question), then growth if policy allows it.
func (t *Table) InsertNew(fp uint64, key objval.PrimeKey, val *objval.PrimeValue, policy Policy) (Iterator, error) {
	for attempts := 0; attempts < 2; attempts++ {
		_, b, cur := t.locate(fp)

		if idx := b.freeRegularSlot(); idx >= 0 {
			return t.place(b, cur, idx, fp, key, val), nil
		}
		if idx := b.freeStashSlot(); idx >= 0 {
			return t.place(b, cur, idx, fp, key, val), nil
		}

		// Bucket full: GC first, then eviction (spec.md §9).
		// The policy deletes through Table.Delete, which already keeps size.
		if policy.GarbageCollect(BucketView{b: b}) > 0 {
			continue
		}
		if _, _, ok := policy.Evict(BucketView{b: b}); ok {
			continue
		}

		if policy.CanGrow(t) {
			t.grow()
			continue
		}
		return invalidIterator, dberrors.New(dberrors.OutOfMemory, "prime table bucket full")
	}
	return invalidIterator, dberrors.New(dberrors.OutOfMemory, "prime table bucket full after gc/evict/grow")
}

func (t *Table) place(b *bucket, cur Cursor, idx int, fp uint64, key objval.PrimeKey, val *objval.PrimeValue) Iterator {
	t.touchVersion(b)
	s := b.slotAt(idx)
	*s = slot{used: true, sig: sigOf(fp), fp: fp, key: key, value: val}
	t.size++
	cur.Slot = idx
	return Iterator{valid: true, cursor: cur, b: b, slot: idx}
}

// Delete removes the entry addressed by it. Safe to call only while it is
// still valid (i.e. hasn't been invalidated by an intervening Delete of the
// same slot).
func (t *Table) Delete(it Iterator) {
	if !it.valid {
		return
	}
	s := it.b.slotAt(it.slot)
	if !s.used {
		return
	}
	*s = slot{}
	t.touchVersion(it.b)
	t.size--
}

// grow doubles the segment count and rehashes every entry. Go's map
// doesn't expose dash's per-segment split, so growth here is table-wide;
// still O(1) amortized and the only place all cursors can be invalidated.
func (t *Table) grow() {
	old := t.segs
	t.segs = make([]*segment, len(old)*2)
	for i := range t.segs {
		t.segs[i] = &segment{buckets: make([]bucket, bucketsPerSegInitial)}
	}
	t.segBits++

	for _, seg := range old {
		for bi := range seg.buckets {
			b := &seg.buckets[bi]
			rehashSlot := func(s *slot) {
				if !s.used {
					return
				}
				_, nb, _ := t.locate(s.fp)
				if idx := nb.freeRegularSlot(); idx >= 0 {
					*nb.slotAt(idx) = *s
				} else if idx := nb.freeStashSlot(); idx >= 0 {
					*nb.slotAt(idx) = *s
				} else {
					// Pathological: target bucket already full after a
					// doubling. Fall back to a second doubling pass by
					// re-appending; extremely unlikely with real key
					// distributions and bounded regular+stash capacity.
					panic("primetable: grow could not rehash slot, bucket distribution too skewed")
				}
				nb.version = b.version
			}
			for i := range b.regular {
				rehashSlot(&b.regular[i])
			}
			for i := range b.stash {
				rehashSlot(&b.stash[i])
			}
		}
	}
}

// TraverseBuckets walks physical buckets starting at cursor (segment,
// bucket indices; Slot is ignored), calling fn for each. It returns the
// cursor to resume from, or ok=false once the table has been fully walked.
func (t *Table) TraverseBuckets(cursor Cursor, fn func(BucketView)) (next Cursor, ok bool) {
	si, bi := cursor.Seg, cursor.Bucket
	if si >= len(t.segs) {
		return Cursor{}, false
	}
	seg := t.segs[si]
	if bi >= len(seg.buckets) {
		si++
		bi = 0
		if si >= len(t.segs) {
			return Cursor{}, false
		}
		seg = t.segs[si]
	}
	fn(BucketView{b: &seg.buckets[bi]})
	bi++
	if bi >= len(seg.buckets) {
		si++
		bi = 0
	}
	if si >= len(t.segs) {
		return Cursor{}, false
	}
	return Cursor{Seg: si, Bucket: bi}, true
}

// CVCUponInsert registers fn to run against the existing bucket just before
// any insert touches a bucket whose version is still < ver. unregister must
// be called once the caller (the snapshotter) is done observing version ver
// (spec.md §4.4).
func (t *Table) CVCUponInsert(ver uint64, fn func(BucketView)) (unregister func()) {
	t.preHooks = append(t.preHooks, preInsertHook{ver: ver, fn: fn})
	idx := len(t.preHooks) - 1
	return func() {
		if idx < len(t.preHooks) && t.preHooks[idx].ver == ver {
			t.preHooks = append(t.preHooks[:idx], t.preHooks[idx+1:]...)
		}
	}
}

// BumpUp promotes the entry at it toward its bucket's head (regular slot
// index 0), provided policy.CanBump allows it. Physical moves are reported
// via policy.OnMove.
func (t *Table) BumpUp(it Iterator, policy Policy) Iterator {
	if !it.valid || it.slot == 0 {
		return it
	}
	if !policy.CanBump(it.Key()) {
		return it
	}
	b := it.b
	head := &b.regular[0]
	if head.used {
		return it
	}
	cur := it.cursor
	s := b.slotAt(it.slot)
	*head = *s
	*s = slot{}
	dest := cur
	dest.Slot = 0
	policy.OnMove(cur, dest)
	return Iterator{valid: true, cursor: dest, b: b, slot: 0}
}

// log2Ceil is a small helper kept for callers sizing initial tables from an
// expected key count.
func log2Ceil(n int) uint {
	if n <= 1 {
		return 0
	}
	return uint(bits.Len(uint(n - 1)))
}
