// Package shardset implements the cross-shard dispatch pool from spec.md
// §5: each shard is a goroutine running a cooperative, single-threaded run
// loop that only ever touches its own DbSlice; cross-shard work is
// dispatched by sending a closure onto the target shard's channel.
package shardset

import "sync"

// Shard pairs an opaque per-shard payload (typically a *dbslice.Slice plus
// a *snapshot.Snapshot, etc.) with its run loop.
type Shard struct {
	ID      int
	State   interface{}
	inbox   chan func()
	done    chan struct{}
}

func newShard(id int, state interface{}, inboxSize int) *Shard {
	return &Shard{ID: id, State: state, inbox: make(chan func(), inboxSize), done: make(chan struct{})}
}

// run is the shard's single goroutine; every closure sent to inbox runs to
// completion before the next one starts, which is what gives the shard its
// "no reordering visible" ordering guarantee (spec.md §5).
func (s *Shard) run() {
	for {
		select {
		case fn, ok := <-s.inbox:
			if !ok {
				return
			}
			fn()
		case <-s.done:
			// Drain remaining work before exiting so DispatchBrief callers
			// already enqueued aren't silently dropped.
			for {
				select {
				case fn := <-s.inbox:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Set is the process-wide pool of shards (spec.md §2 "Cross-shard:
// ChannelStore (process-wide, RCU), ShardSet pool").
type Set struct {
	shards []*Shard
	wg     sync.WaitGroup
}

// New starts n shards, each running fn(shardID) to build its own state
// (a *dbslice.Slice, its snapshot machinery, etc.) before entering the run
// loop.
func New(n int, newState func(shardID int) interface{}) *Set {
	set := &Set{shards: make([]*Shard, n)}
	for i := 0; i < n; i++ {
		sh := newShard(i, newState(i), 256)
		set.shards[i] = sh
		set.wg.Add(1)
		go func(s *Shard) {
			defer set.wg.Done()
			s.run()
		}(sh)
	}
	return set
}

func (s *Set) NumShards() int      { return len(s.shards) }
func (s *Set) Shard(id int) *Shard { return s.shards[id] }

// DispatchBrief fires fn on shard id and returns immediately without
// waiting for it to run (spec.md §5).
func (s *Set) DispatchBrief(id int, fn func()) {
	s.shards[id].inbox <- fn
}

// AwaitBrief runs fn on shard id and blocks until it completes.
func (s *Set) AwaitBrief(id int, fn func()) {
	done := make(chan struct{})
	s.shards[id].inbox <- func() {
		fn()
		close(done)
	}
	<-done
}

// AwaitFiberOnAll runs fn on every shard and blocks until all have
// completed — the only cross-shard ordering barrier the core provides
// (spec.md §5 "Ordering guarantees").
func (s *Set) AwaitFiberOnAll(fn func(shardID int)) {
	var wg sync.WaitGroup
	wg.Add(len(s.shards))
	for _, sh := range s.shards {
		sh := sh
		sh.inbox <- func() {
			defer wg.Done()
			fn(sh.ID)
		}
	}
	wg.Wait()
}

// Stop signals every shard's run loop to drain and exit, then waits for
// them to finish.
func (s *Set) Stop() {
	for _, sh := range s.shards {
		close(sh.done)
	}
	s.wg.Wait()
}
