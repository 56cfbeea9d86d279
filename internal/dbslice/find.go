package dbslice

import (
	"context"

	"github.com/jorge882/dragonfly/internal/dberrors"
	"github.com/jorge882/dragonfly/internal/objval"
	"github.com/jorge882/dragonfly/internal/primetable"
	"github.com/jorge882/dragonfly/internal/tiered"
)

// FindReadOnly looks up key for read. If the record carries has-expire and
// its deadline has passed, ExpireIfNeeded runs first (spec.md §4.2 "Find
// contract").
func (s *Slice) FindReadOnly(ctx DbContext, key string) (*objval.PrimeValue, *dberrors.Error) {
	tbl := s.tables[ctx.DbIndex]
	fp := Fingerprint(key)
	it := tbl.Prime.Find(fp, []byte(key))
	if !it.Valid() {
		return nil, dberrors.ErrKeyNotFound
	}
	val := it.Value()
	if val.HasExpire() {
		expired, derr := s.ExpireIfNeeded(ctx, key, it)
		if derr != nil {
			return nil, derr
		}
		if expired {
			return nil, dberrors.ErrKeyNotFound
		}
	}
	return val, nil
}

// FindReadOnlyTyped additionally requires the value be of the given kind.
func (s *Slice) FindReadOnlyTyped(ctx DbContext, key string, kind objval.Kind) (*objval.PrimeValue, *dberrors.Error) {
	val, derr := s.FindReadOnly(ctx, key)
	if derr != nil {
		return nil, derr
	}
	if val.Kind != kind {
		return nil, dberrors.ErrWrongType
	}
	return val, nil
}

// MutableGuard is returned by FindMutable. On Drop it reconciles heap
// accounting and fires the post-update notification chain (spec.md §4.2
// "FindMutable guard object").
type MutableGuard struct {
	s       *Slice
	ctx     DbContext
	key     string
	it      primetable.Iterator
	origSz  int64
	dropped bool
}

// Value returns the mutable value; callers mutate it in place, then call
// Drop (or Cancel to skip notifications, e.g. on a failed operation).
func (g *MutableGuard) Value() *objval.PrimeValue { return g.it.Value() }

// Drop finalizes the mutation: computes the heap delta, updates
// obj-memory accounting, fires PostUpdate on the change bus and enqueues
// tracking invalidations.
func (g *MutableGuard) Drop() {
	if g.dropped {
		return
	}
	g.dropped = true
	val := g.it.Value()
	newSz := val.MallocUsed()
	delta := newSz - g.origSz
	tbl := g.s.tables[g.ctx.DbIndex]
	accountObjectMemory(tbl, delta)
	g.s.recordMutation(tbl)

	g.s.changeBus.Fire(ChangeEvent{
		DbIndex:       g.ctx.DbIndex,
		Key:           g.key,
		Kind:          PostUpdate,
		BucketVersion: g.it.BucketVersion(),
	})
	for _, clientID := range g.s.tracking.Invalidate(g.key) {
		_ = clientID // delivery is the connection layer's job; core only computes the set.
	}
}

// Cancel discards the guard without firing notifications — used when a
// command bails out after calling FindMutable but before changing
// anything observable.
func (g *MutableGuard) Cancel() { g.dropped = true }

// FindMutable looks up key for write, returning a guarded handle. Must be
// run to completion (Drop) before any Del of the same key, per spec.md
// §4.2.
func (s *Slice) FindMutable(ctx DbContext, key string) (*MutableGuard, *dberrors.Error) {
	val, derr := s.FindReadOnly(ctx, key)
	if derr != nil {
		return nil, derr
	}
	tbl := s.tables[ctx.DbIndex]
	it := tbl.Prime.Find(Fingerprint(key), []byte(key))
	return &MutableGuard{s: s, ctx: ctx, key: key, it: it, origSz: val.MallocUsed()}, nil
}

// FindMutableTyped additionally requires the value be of the given kind.
func (s *Slice) FindMutableTyped(ctx DbContext, key string, kind objval.Kind) (*MutableGuard, *dberrors.Error) {
	g, derr := s.FindMutable(ctx, key)
	if derr != nil {
		return nil, derr
	}
	if g.Value().Kind != kind {
		g.Cancel()
		return nil, dberrors.ErrWrongType
	}
	return g, nil
}

// ExpireIfNeeded consults ExpireTable for key's deadline. On a replica, or
// when expiration is disallowed, deadlines are observed but never acted
// upon (spec.md §4.3). Returns expired=true if the record was deleted.
func (s *Slice) ExpireIfNeeded(ctx DbContext, key string, it primetable.Iterator) (expired bool, derr *dberrors.Error) {
	tbl := s.tables[ctx.DbIndex]
	deadline, ok := tbl.Expire.Get(key)
	if !ok {
		return false, nil
	}
	if deadline > nowMs() {
		return false, nil
	}
	if ctx.IsReplica || !s.expireAllowed {
		return false, nil
	}
	s.performDeletionAtomic(ctx, key, it, true)
	return true, nil
}

// performDeletionAtomic implements spec.md §3 "Destroyed" lifecycle: (a)
// tiered-storage cancel/delete, (b) decrement accounting, (c) remove from
// Expire/McFlag, (d) enqueue tracking invalidations, (e) remove from
// PrimeTable. No suspending call happens inside this function — it runs
// under the implicit no-yield scope every deletion path requires
// (spec.md §5).
func (s *Slice) performDeletionAtomic(ctx DbContext, key string, it primetable.Iterator, isExpiry bool) {
	tbl := s.tables[ctx.DbIndex]
	val := it.Value()

	if val.StashPending() && s.tiered != nil {
		s.tiered.CancelStash(context.Background(), tiered.Handle{
			Offset: val.Descriptor.Offset,
			Size:   val.Descriptor.Size,
		})
	}
	if val.External() && s.tiered != nil {
		s.tiered.Delete(context.Background(), tiered.Handle{
			Offset: val.Descriptor.Offset,
			Size:   val.Descriptor.Size,
		})
	}

	accountObjectMemory(tbl, -val.MallocUsed())
	tbl.Expire.Del(key)
	delete(tbl.McFlags, key)

	s.tracking.Invalidate(key)

	tbl.Prime.Delete(it)

	kind := Delete
	s.changeBus.Fire(ChangeEvent{DbIndex: ctx.DbIndex, Key: key, Kind: kind, BucketVersion: it.BucketVersion()})

	if s.journal != nil {
		payload := []byte("DEL")
		if isExpiry {
			payload = []byte("EXPIRE")
		}
		s.journal.Log(journalEntry(ctx.DbIndex, key, payload))
	}
}
