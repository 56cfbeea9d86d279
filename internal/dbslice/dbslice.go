// Package dbslice implements DbSlice, the per-shard keyspace coordinator
// from spec.md §4.2. A Slice owns an indexed array of DbTables, the prime
// and expire tables for each, the change/moved buses, intent locks and the
// client-tracking map. It is owned exclusively by one shard goroutine
// (spec.md §3 "Ownership", §5).
package dbslice

import (
	"time"

	"github.com/jorge882/dragonfly/internal/expiretable"
	"github.com/jorge882/dragonfly/internal/fingerprint"
	"github.com/jorge882/dragonfly/internal/flags"
	"github.com/jorge882/dragonfly/internal/journal"
	"github.com/jorge882/dragonfly/internal/objval"
	"github.com/jorge882/dragonfly/internal/primetable"
	"github.com/jorge882/dragonfly/internal/tiered"
)

// DbTableStats tracks the best-effort memory accounting spec.md §3
// invariant 6 requires.
type DbTableStats struct {
	ObjMemoryUsage int64
	TableMemory    int64
	Mutations      int64
}

// DbTable is one logical database (0..M-1) within a shard.
type DbTable struct {
	Index   int
	Prime   *primetable.Table
	Expire  *expiretable.Table
	McFlags map[string]uint32
	Stats   DbTableStats
}

// DbContext carries the database index a call targets.
type DbContext struct {
	DbIndex int
	// IsReplica marks a replica connection: expiration is observed but
	// never acted upon (spec.md §4.3).
	IsReplica bool
}

// Slice is the per-shard keyspace coordinator.
type Slice struct {
	ShardID int
	tables  []*DbTable

	nextVersion uint64
	memBudget   int64

	changeBus *ChangeBus
	movedBus  *MovedBus
	locks     *LockTable
	tracking  *TrackingMap

	flags   *flags.Flags
	journal journal.Journal
	tiered  tiered.Store

	insertionRejections int64
	expireAllowed       bool
}

// New creates a Slice with numDBs databases, each starting with a small
// segmented prime table.
func New(shardID, numDBs int, f *flags.Flags, j journal.Journal, ts tiered.Store) *Slice {
	s := &Slice{
		ShardID:       shardID,
		changeBus:     newChangeBus(),
		movedBus:      newMovedBus(),
		locks:         newLockTable(),
		tracking:      newTrackingMap(),
		flags:         f,
		journal:       j,
		tiered:        ts,
		expireAllowed: true,
		memBudget:     f.MemoryBudgetBytes,
	}
	s.tables = make([]*DbTable, numDBs)
	for i := range s.tables {
		s.tables[i] = s.newDbTable(i)
	}
	return s
}

func (s *Slice) newDbTable(idx int) *DbTable {
	return &DbTable{
		Index:   idx,
		Prime:   primetable.NewTable(2, s.NextVersionFn()),
		Expire:  expiretable.New(),
		McFlags: make(map[string]uint32),
	}
}

// NextVersionFn exposes the monotone version source primetable consumes.
func (s *Slice) NextVersionFn() func() uint64 {
	return func() uint64 {
		s.nextVersion++
		return s.nextVersion
	}
}

// CurrentVersion returns the shard's current version counter without
// bumping it — used by SliceSnapshot to capture S at Start.
func (s *Slice) CurrentVersion() uint64 { return s.nextVersion }

func (s *Slice) Table(dbIndex int) *DbTable { return s.tables[dbIndex] }
func (s *Slice) NumDBs() int                { return len(s.tables) }

func (s *Slice) MemoryBudget() int64 { return s.memBudget }

func (s *Slice) SetExpireAllowed(b bool) { s.expireAllowed = b }

func (s *Slice) ChangeBus() *ChangeBus { return s.changeBus }
func (s *Slice) MovedBus() *MovedBus   { return s.movedBus }
func (s *Slice) Locks() *LockTable     { return s.locks }
func (s *Slice) Tracking() *TrackingMap { return s.tracking }

func (s *Slice) InsertionRejections() int64 { return s.insertionRejections }

// Fingerprint is exposed so callers (command handlers) can pre-compute a
// key's fingerprint once and reuse it across Find/Acquire/etc.
func Fingerprint(key string) uint64 { return fingerprint.OfString(key) }

func nowMs() int64 { return time.Now().UnixMilli() }

// accountObjectMemory mirrors AccountObjectMemory in db_slice.cc: it keeps
// DbTableStats.ObjMemoryUsage monotone-intended as records come and go.
func accountObjectMemory(tbl *DbTable, delta int64) {
	tbl.Stats.ObjMemoryUsage += delta
}

// recordMutation is called by every successful mutating path.
func (s *Slice) recordMutation(tbl *DbTable) {
	tbl.Stats.Mutations++
}

// touchMcFlag keeps McFlagTable in lockstep with PrimeValue.HasMcFlag
// (spec.md §3 invariant 3).
func touchMcFlag(tbl *DbTable, key string, val *objval.PrimeValue, flag uint32, set bool) {
	if set {
		val.SetHasMcFlag(true)
		tbl.McFlags[key] = flag
	} else if val.HasMcFlag() {
		val.SetHasMcFlag(false)
		delete(tbl.McFlags, key)
	}
}
