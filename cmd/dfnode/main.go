// Command dfnode is minimal process wiring for the engine core: it
// starts a shard set, gives each shard its own DbSlice, snapshot
// machinery and command registry, and runs the shard heartbeats. It is
// deliberately not a CLI (no flag/file config loading, no wire
// listener) — see spec.md §1 and SPEC_FULL.md's Non-goals.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jorge882/dragonfly/internal/channelstore"
	"github.com/jorge882/dragonfly/internal/command"
	"github.com/jorge882/dragonfly/internal/command/stringfamily"
	"github.com/jorge882/dragonfly/internal/command/throttlefamily"
	"github.com/jorge882/dragonfly/internal/dbslice"
	"github.com/jorge882/dragonfly/internal/flags"
	"github.com/jorge882/dragonfly/internal/journal"
	"github.com/jorge882/dragonfly/internal/logging"
	"github.com/jorge882/dragonfly/internal/metrics"
	"github.com/jorge882/dragonfly/internal/shardset"
	"github.com/jorge882/dragonfly/internal/snapshot"
	"github.com/jorge882/dragonfly/internal/tiered"
)

const (
	numShards = 8
	numDBs    = 16
)

// nodeShard is the per-shard state a shardset.Shard carries, grounded in
// the teacher's per-goroutine DB handle pattern but widened to the
// slice/registry/snapshot trio this core needs.
type nodeShard struct {
	slice    *dbslice.Slice
	registry *command.Registry
	snap     *snapshot.Snapshot
	journal  *journal.FileJournal
}

func main() {
	logging.Setup(&logging.Settings{Name: "dfnode", Level: "info"})
	log := logging.Named("main")

	f := flags.Default()
	channels := channelstore.NewControlBlock()
	_ = channels

	tieredStore, err := tiered.OpenBadgerStore(tieredDir())
	if err != nil {
		log.Error("failed to open tiered store", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	set := shardset.New(numShards, func(shardID int) interface{} {
		j, err := journal.OpenFileJournal(journalPath(shardID), 4096, journal.FsyncEverySec)
		if err != nil {
			log.Error("failed to open journal", "shard", shardID, "error", err)
			os.Exit(1)
		}
		slice := dbslice.New(shardID, numDBs, f, j, tieredStore)

		reg := command.NewRegistry()
		stringfamily.Register(reg, slice)
		throttlefamily.Register(reg, slice)

		snap := snapshot.New(ctx, slice, tieredStore, func(blob []byte) {
			metrics.SnapshotBlobsTotal.Inc()
		}, f.PointInTimeSnapshot)

		return &nodeShard{slice: slice, registry: reg, snap: snap, journal: j}
	})
	defer closeJournals(set, log)
	defer set.Stop()

	stop := heartbeatLoop(ctx, set, f.HeartbeatInterval)
	defer stop()

	log.Info("dfnode started", "shards", numShards, "dbs", numDBs)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
}

func tieredDir() string {
	if d := os.Getenv("DFNODE_TIERED_DIR"); d != "" {
		return d
	}
	dir, err := os.MkdirTemp("", "dfnode-tiered-*")
	if err != nil {
		return "."
	}
	return dir
}

// closeJournals flushes and closes every shard's journal file on
// shutdown, run after shardset.Set.Stop so no shard goroutine is still
// mutating its journal.
func closeJournals(set *shardset.Set, log interface{ Error(string, ...interface{}) }) {
	for id := 0; id < set.NumShards(); id++ {
		ns := set.Shard(id).State.(*nodeShard)
		if err := ns.journal.Close(); err != nil {
			log.Error("failed to close journal", "shard", id, "error", err)
		}
	}
}

// journalPath returns the on-disk journal file for shardID, one per
// shard since each shard owns its journal exclusively (spec.md §5
// "Ownership").
func journalPath(shardID int) string {
	dir := os.Getenv("DFNODE_JOURNAL_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, fmt.Sprintf("dfnode-shard-%d.journal", shardID))
}

// heartbeatLoop drives Slice.Heartbeat on every shard's own goroutine at
// a fixed cadence, matching spec.md §5's "periodic heartbeat drives
// expiry sweeps and eviction" requirement.
func heartbeatLoop(ctx context.Context, set *shardset.Set, interval time.Duration) (stop func()) {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for id := 0; id < set.NumShards(); id++ {
					shardID := id
					set.DispatchBrief(shardID, func() {
						ns := set.Shard(shardID).State.(*nodeShard)
						for db := 0; db < ns.slice.NumDBs(); db++ {
							ns.slice.Heartbeat(ctx, db)
						}
					})
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
