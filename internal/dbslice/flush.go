package dbslice

import (
	"github.com/jorge882/dragonfly/internal/objval"
	"github.com/jorge882/dragonfly/internal/primetable"
)

// SlotRange is the cluster-slot range the (out-of-scope) cluster layer
// passes in for FlushSlots; the core only consumes it as an opaque
// membership test.
type SlotRange struct {
	Start, End uint16
}

func (r SlotRange) Contains(slot uint16) bool { return slot >= r.Start && slot <= r.End }

// KeySlotFunc computes a cluster slot for a key; supplied by the caller
// since slot assignment is a cluster-layer concern (spec.md §1).
type KeySlotFunc func(key string) uint16

// FlushDb captures dbIndex's current tables, swaps in fresh empty ones, and
// drops the old ones — spec.md describes this as a background task; here
// the drop is simply letting the GC reclaim the old *DbTable once this
// call returns, since the shard itself is single-threaded and the caller
// already runs this on the shard goroutine.
func (s *Slice) FlushDb(dbIndex int) {
	s.tables[dbIndex] = s.newDbTable(dbIndex)
}

// FlushAll flushes every database.
func (s *Slice) FlushAll() {
	for i := range s.tables {
		s.FlushDb(i)
	}
}

// FlushSlots deletes every key in dbIndex whose cluster slot falls in one
// of ranges. A version watermark is registered first so that any
// concurrent mutation landing in a matching slot while the scan is running
// also gets deleted via the change bus (spec.md §4.2 "Flush operations").
func (s *Slice) FlushSlots(dbIndex int, ranges []SlotRange, keySlot KeySlotFunc) {
	tbl := s.tables[dbIndex]
	watermark := s.NextVersionFn()()

	matches := func(key string) bool {
		slot := keySlot(key)
		for _, r := range ranges {
			if r.Contains(slot) {
				return true
			}
		}
		return false
	}

	subID := s.changeBus.Register(watermark, func(ev ChangeEvent) {
		if ev.Kind != PreInsert && ev.Kind != PostUpdate {
			return
		}
		if ev.BucketVersion < watermark && matches(ev.Key) {
			s.Del(DbContext{DbIndex: dbIndex}, ev.Key)
		}
	})
	defer s.changeBus.Unregister(subID)

	var toDelete []string
	cursor := primetable.Cursor{}
	for {
		next, ok := tbl.Prime.TraverseBuckets(cursor, func(view primetable.BucketView) {
			if view.Version() >= watermark {
				return
			}
			view.Each(func(key objval.PrimeKey, _ *objval.PrimeValue) bool {
				if matches(key.String()) {
					toDelete = append(toDelete, key.String())
				}
				return true
			})
		})
		if !ok {
			break
		}
		cursor = next
	}
	for _, k := range toDelete {
		s.Del(DbContext{DbIndex: dbIndex}, k)
	}
}

// RegisterOnChange subscribes fn to every change-bus event of every
// database in this shard (one changeBus per shard); events carry their
// own DbIndex.
func (s *Slice) RegisterOnChange(fn func(ChangeEvent)) int {
	return s.changeBus.Register(^uint64(0), fn)
}

// RegisterOnChangeAtVersion is used by SliceSnapshot, which needs the
// version it captured at Start to decide, inside fn, whether a given
// bucket still needs side-saving.
func (s *Slice) RegisterOnChangeAtVersion(ver uint64, fn func(ChangeEvent)) int {
	return s.changeBus.Register(ver, fn)
}

func (s *Slice) UnregisterOnChange(id int) { s.changeBus.Unregister(id) }

func (s *Slice) RegisterOnMove(fn func(source, dest primetable.Cursor)) int {
	return s.movedBus.Register(fn)
}

func (s *Slice) UnregisterOnMove(id int) { s.movedBus.Unregister(id) }

// Acquire/Release delegate to the shard's intent-lock table.
func (s *Slice) Acquire(dbIndex int, mode LockMode, fps []uint64) bool {
	return s.locks.Acquire(dbIndex, mode, fps)
}

func (s *Slice) Release(dbIndex int, mode LockMode, fps []uint64) {
	s.locks.Release(dbIndex, mode, fps)
}
