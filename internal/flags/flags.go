// Package flags holds the engine-wide knobs spec.md §6.3 names. It is
// deliberately just a struct with defaults — configuration *loading*
// (files, env vars, a CLI) is an external collaborator out of scope for
// the core (spec.md §1); whatever sits above the core is responsible for
// populating a Flags value and handing it to the shard set.
//
// The teacher's config.ServerProperties used a reflection-driven `cfg:`
// tag parser read from a file (config/config.go); that parsing step is the
// exact kind of configuration loading this package intentionally drops.
// The struct-of-typed-knobs-with-defaults shape is kept.
package flags

import "time"

// Flags mirrors the non-exhaustive flag set in spec.md §6.3.
type Flags struct {
	// MgetDedupKeys is the multi-get key-dedup knob. The string family does
	// not read it: its MGET always points later duplicates at the first
	// occurrence.
	MgetDedupKeys bool

	// LatencyTracking is the per-command HDR histogram knob. No package
	// reads it; metrics.LatencyTracker takes its own enabled flag.
	LatencyTracking bool

	// RenameCommand, RestrictedCommands, OomDenyCommands, CommandAlias are
	// registry overlays. Nothing in the core reads these fields;
	// internal/command's Registry offers Rename and Alias for applying the
	// first and the last.
	RenameCommand       map[string]string
	RestrictedCommands  []string
	OomDenyCommands     []string
	CommandAlias        map[string]string

	// MaxEvictionPerHeartbeat bounds FreeMemWithEvictionStepAtomic's work
	// per heartbeat call.
	MaxEvictionPerHeartbeat uint32

	// MaxSegmentToConsider bounds how many segments an eviction step scans.
	MaxSegmentToConsider uint32

	// TableGrowthMargin is the fraction of projected free capacity the
	// table keeps in reserve before allowing growth (spec.md §4.2).
	TableGrowthMargin float64

	// NotifyKeyspaceEvents: only "Ex" (expired-key events) is honored.
	NotifyKeyspaceEvents string

	// ClusterFlushDecommitMemory returns freed pages to the OS after slot
	// flushes.
	ClusterFlushDecommitMemory bool

	// PointInTimeSnapshot enables the version-based snapshot discipline.
	PointInTimeSnapshot bool

	// LegacySaddexKeepTTL disables TTL refresh on existing set elements
	// for SADDEX when true.
	LegacySaddexKeepTTL bool

	// MemoryBudgetBytes is the shard's starting memory_budget_ counter
	// (spec.md §5).
	MemoryBudgetBytes int64

	// HeartbeatInterval governs how often Slice.Heartbeat is expected to
	// be invoked by the code above the core; it's carried here only so
	// the eviction rate limiter can be sized correctly.
	HeartbeatInterval time.Duration
}

// Default returns the flag set with the defaults spec.md §6.3 specifies.
func Default() *Flags {
	return &Flags{
		MgetDedupKeys:           false,
		LatencyTracking:         false,
		MaxEvictionPerHeartbeat: 100,
		MaxSegmentToConsider:    4,
		TableGrowthMargin:       0.4,
		NotifyKeyspaceEvents:    "",
		PointInTimeSnapshot:     true,
		LegacySaddexKeepTTL:     false,
		MemoryBudgetBytes:       1 << 30, // 1GiB default soft budget per shard
		HeartbeatInterval:       100 * time.Millisecond,
	}
}
