// Package expiretable implements the parallel deadline table from
// spec.md §3 "ExpireTable entry": a 32-bit delta from a per-database base,
// so absolute deadlines are base+delta. The base supports generational
// compaction: periodically the base is advanced to the table's minimum
// live deadline and every entry's delta is rebased, keeping deltas small.
package expiretable

import "math"

// Entry is the value stored per key with an expiry.
type Entry struct {
	delta uint32
}

// Table maps key (by caller-chosen identity, typically the same fingerprint
// space as PrimeTable) to Entry. It intentionally does not know about
// PrimeTable; DbSlice is responsible for keeping the two in lockstep
// (spec.md §3 invariant 2).
type Table struct {
	base    int64 // ms
	entries map[string]Entry
}

func New() *Table {
	return &Table{entries: make(map[string]Entry)}
}

// Base returns the table's current expire_base, in unix milliseconds.
func (t *Table) Base() int64 { return t.base }

// Set records an absolute deadline (unix ms) for key.
func (t *Table) Set(key string, deadlineMs int64) {
	if t.base == 0 {
		t.base = deadlineMs
	}
	delta := deadlineMs - t.base
	if delta < 0 {
		// A deadline earlier than the current base: rebase down so every
		// delta stays representable and non-negative.
		t.rebase(deadlineMs)
		delta = deadlineMs - t.base
	}
	if delta > math.MaxUint32 {
		// Deadline too far in the future to represent as a delta from the
		// current base; rebase is a no-op here since rebasing up would
		// invalidate smaller existing deltas, so clamp instead. In
		// practice TTLs this large (~49 days from base) are vanishingly
		// rare for a single generation.
		delta = math.MaxUint32
	}
	t.entries[key] = Entry{delta: uint32(delta)}
}

// Get returns the absolute deadline (unix ms) for key, if present.
func (t *Table) Get(key string) (deadlineMs int64, ok bool) {
	e, ok := t.entries[key]
	if !ok {
		return 0, false
	}
	return t.base + int64(e.delta), true
}

// Del removes key's expiry entry.
func (t *Table) Del(key string) {
	delete(t.entries, key)
}

func (t *Table) Len() int { return len(t.entries) }

// rebase lowers expire_base to newBase, widening every existing delta to
// compensate. Only called when a new deadline precedes the current base.
func (t *Table) rebase(newBase int64) {
	shift := t.base - newBase
	t.base = newBase
	for k, e := range t.entries {
		t.entries[k] = Entry{delta: e.delta + uint32(shift)}
	}
}

// Compact advances the base to the minimum live deadline, shrinking every
// delta. Safe to call at any time; it's a pure optimization over delta
// width, never changes observable deadlines.
func (t *Table) Compact() {
	if len(t.entries) == 0 {
		return
	}
	min := int64(math.MaxInt64)
	for _, e := range t.entries {
		d := t.base + int64(e.delta)
		if d < min {
			min = d
		}
	}
	if min <= t.base {
		return
	}
	shift := min - t.base
	for k, e := range t.entries {
		t.entries[k] = Entry{delta: e.delta - uint32(shift)}
	}
	t.base = min
}

// Sample returns up to n (key, deadlineMs) pairs for the expiry sweep
// (DeleteExpiredStep) to check. Map iteration order in Go is randomized,
// which conveniently gives us the "sample" semantics Redis-likes use for
// active expiry without extra bookkeeping.
func (t *Table) Sample(n int) []SampledEntry {
	out := make([]SampledEntry, 0, n)
	for k, e := range t.entries {
		if len(out) >= n {
			break
		}
		out = append(out, SampledEntry{Key: k, DeadlineMs: t.base + int64(e.delta)})
	}
	return out
}

type SampledEntry struct {
	Key        string
	DeadlineMs int64
}
