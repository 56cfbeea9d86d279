// Package stringset implements the set-with-per-element-TTL container
// from spec.md §4.6: each member carries an optional absolute expiry in
// Unix seconds, refreshed in place on re-Add unless legacy keepttl mode
// is requested.
package stringset

import "sort"

// entry is one set member; expireAt is an absolute Unix second deadline,
// or 0 for no TTL — mirroring spec.md §4.6's "4 trailing bytes after the
// terminator store the absolute expiry second" without the packed byte
// layout, since Go's map already gives us dense addressing by key.
type entry struct {
	expireAt int64 // 0 = no TTL
}

// Defragmenter answers whether an element's backing page is underutilized
// enough to be worth relocating, per spec.md §9 "Allocator awareness".
// StringSet itself never relocates anything — Go's garbage collector
// already compacts on its own schedule — so the trait exists only so a
// caller layered on top of a real allocator can ask the question; the
// default answers "never".
type Defragmenter interface {
	IsPageForObjectUnderUtilized(value string) bool
}

type neverDefrag struct{}

func (neverDefrag) IsPageForObjectUnderUtilized(string) bool { return false }

// Set is a dense set of strings, each with an optional per-element TTL.
type Set struct {
	members map[string]entry
	defrag  Defragmenter
	nowFn   func() int64
}

// New constructs an empty Set. nowFn overrides the clock used for TTL
// comparisons (nil defaults to the real wall clock) — tests pass a fake
// clock to exercise expiry deterministically.
func New(nowFn func() int64) *Set {
	if nowFn == nil {
		nowFn = unixNow
	}
	return &Set{members: make(map[string]entry), defrag: neverDefrag{}, nowFn: nowFn}
}

// SetDefragmenter installs a non-default allocator-awareness trait.
func (s *Set) SetDefragmenter(d Defragmenter) {
	if d == nil {
		d = neverDefrag{}
	}
	s.defrag = d
}

func (s *Set) expired(e entry) bool {
	return e.expireAt != 0 && e.expireAt <= s.nowFn()
}

// Add inserts value with an optional TTL (ttlSec == 0 means no expiry)
// if absent, returning true on a fresh insert. If value already exists
// (and isn't logically expired), keepTTL controls whether the existing
// expiry is refreshed to the new ttlSec (false) or left untouched
// (true, matching the legacy_saddex_keepttl flag in spec.md §6.3).
func (s *Set) Add(value string, ttlSec int64, keepTTL bool) bool {
	var expireAt int64
	if ttlSec > 0 {
		expireAt = s.nowFn() + ttlSec
	}

	existing, ok := s.members[value]
	if ok && !s.expired(existing) {
		if !keepTTL {
			s.members[value] = entry{expireAt: expireAt}
		}
		return false
	}
	s.members[value] = entry{expireAt: expireAt}
	return true
}

// AddMany batches Add over values, all sharing the same ttlSec/keepTTL
// policy, returning how many were freshly inserted. Framed as a single
// call (rather than a loop of Add) so a caller fronting real storage can
// prefetch the backing pages for all of values before touching any of
// them, per spec.md §4.6's "AddMany batches with prefetch" — this
// in-memory implementation has nothing to prefetch, so it is a plain
// loop.
func (s *Set) AddMany(values []string, ttlSec int64, keepTTL bool) int {
	added := 0
	for _, v := range values {
		if s.Add(v, ttlSec, keepTTL) {
			added++
		}
	}
	return added
}

// Contains reports whether value is a live (non-expired) member.
func (s *Set) Contains(value string) bool {
	e, ok := s.members[value]
	if !ok || s.expired(e) {
		return false
	}
	return true
}

// Remove deletes value, reporting whether it was present and live.
func (s *Set) Remove(value string) bool {
	if !s.Contains(value) {
		return false
	}
	delete(s.members, value)
	return true
}

// Len returns the number of live members, lazily sweeping expired ones.
func (s *Set) Len() int {
	s.sweepExpired()
	return len(s.members)
}

func (s *Set) sweepExpired() {
	for v, e := range s.members {
		if s.expired(e) {
			delete(s.members, v)
		}
	}
}

// Cursor is an opaque iteration position for Scan.
type Cursor struct{ pos int }

// Scan walks up to count live members starting from cursor, returning
// the raw values and the next cursor to resume from (its pos is 0 once
// iteration wraps back to the start). The snapshot-sorted-keys approach
// trades O(n log n)
// per call for a stable, dependency-free cursor — adequate for the
// in-memory reference implementation; a real dense table would instead
// walk its physical slots directly.
func (s *Set) Scan(cursor Cursor, count int) (values []string, next Cursor) {
	keys := s.liveKeysSorted()
	if cursor.pos >= len(keys) {
		return nil, Cursor{}
	}
	end := cursor.pos + count
	if end > len(keys) {
		end = len(keys)
	}
	values = append(values, keys[cursor.pos:end]...)
	if end >= len(keys) {
		return values, Cursor{}
	}
	return values, Cursor{pos: end}
}

func (s *Set) liveKeysSorted() []string {
	s.sweepExpired()
	keys := make([]string, 0, len(s.members))
	for v := range s.members {
		keys = append(keys, v)
	}
	sort.Strings(keys)
	return keys
}

// Defragment scans every live member and relocates (re-inserts) those
// the installed Defragmenter reports as underutilized. Go maps don't
// expose page-level placement, so "relocate" here means delete-then-
// reinsert, which is enough to exercise the trait's call sites even
// though it can't actually move bytes between pages the way the
// original allocator-backed implementation does.
func (s *Set) Defragment() int {
	moved := 0
	for _, v := range s.liveKeysSorted() {
		if !s.defrag.IsPageForObjectUnderUtilized(v) {
			continue
		}
		e := s.members[v]
		delete(s.members, v)
		s.members[v] = e
		moved++
	}
	return moved
}
