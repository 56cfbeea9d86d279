package dbslice

import (
	"context"
	"time"

	"github.com/jorge882/dragonfly/internal/objval"
	"github.com/jorge882/dragonfly/internal/primetable"
	"golang.org/x/time/rate"
)

// evictionPolicy implements primetable.Policy, grounded on
// PrimeEvictionPolicy in original_source/src/server/db_slice.cc: GC is
// tried before eviction (spec.md §9 open question), sticky/locked entries
// are never evicted, and every eviction is reported so DbSlice can fire
// tracking invalidations and accounting after InsertNew returns.
type evictionPolicy struct {
	s           *Slice
	ctx         DbContext
	canEvict    bool
	evictedKeys []string
	evictedN    int
}

func newEvictionPolicy(s *Slice, ctx DbContext, canEvict bool) *evictionPolicy {
	return &evictionPolicy{s: s, ctx: ctx, canEvict: canEvict}
}

func (p *evictionPolicy) CanGrow(t *primetable.Table) bool {
	tbl := p.s.tables[p.ctx.DbIndex]
	avail := p.s.memBudget - tbl.Stats.TableMemory
	margin := p.s.flags.TableGrowthMargin
	freeSlots := t.Capacity() - t.Size()
	projected := int64(float64(freeSlots) * estimatedObjectSize * margin)
	return avail > projected || avail > int64(float64(p.s.memBudget)*0.3)
}

const estimatedObjectSize = 64

func (p *evictionPolicy) GarbageCollect(view primetable.BucketView) int {
	tbl := p.s.tables[p.ctx.DbIndex]
	freed := 0
	now := nowMs()
	var expiredKeys []string
	view.Each(func(key objval.PrimeKey, val *objval.PrimeValue) bool {
		if !val.HasExpire() {
			return true
		}
		if d, ok := tbl.Expire.Get(key.String()); ok && d <= now {
			expiredKeys = append(expiredKeys, key.String())
		}
		return true
	})
	for _, k := range expiredKeys {
		if p.s.Del(p.ctx, k) {
			freed++
		}
	}
	return freed
}

func (p *evictionPolicy) Evict(view primetable.BucketView) (objval.PrimeKey, *objval.PrimeValue, bool) {
	if !p.canEvict {
		return objval.PrimeKey{}, nil, false
	}
	var victim objval.PrimeKey
	var victimVal *objval.PrimeValue
	found := false
	view.Each(func(key objval.PrimeKey, val *objval.PrimeValue) bool {
		if key.Sticky() {
			return true
		}
		if p.s.locks.IsLocked(p.ctx.DbIndex, Fingerprint(key.String())) {
			return true
		}
		victim, victimVal = key, val
		found = true
		return false
	})
	if !found {
		return objval.PrimeKey{}, nil, false
	}
	p.s.Del(p.ctx, victim.String())
	p.evictedKeys = append(p.evictedKeys, victim.String())
	p.evictedN++
	return victim, victimVal, true
}

func (p *evictionPolicy) OnMove(source, dest primetable.Cursor) {
	p.s.movedBus.Fire(source, dest)
}

func (p *evictionPolicy) CanBump(key objval.PrimeKey) bool {
	return !key.Sticky()
}

// heartbeatLimiter bounds eviction bursts to flags.MaxEvictionPerHeartbeat
// using golang.org/x/time/rate's token bucket.
type heartbeatLimiter struct {
	lim *rate.Limiter
}

func newHeartbeatLimiter(f *Slice) *heartbeatLimiter {
	perSecond := rate.Limit(float64(f.flags.MaxEvictionPerHeartbeat) / f.flags.HeartbeatInterval.Seconds())
	return &heartbeatLimiter{lim: rate.NewLimiter(perSecond, int(f.flags.MaxEvictionPerHeartbeat))}
}

// DeleteExpiredStep samples up to count keys with an expiry and deletes
// those past their deadline (spec.md §4.2).
func (s *Slice) DeleteExpiredStep(ctx DbContext, count int) (deleted int) {
	tbl := s.tables[ctx.DbIndex]
	now := nowMs()
	for _, e := range tbl.Expire.Sample(count) {
		if e.DeadlineMs <= now {
			if s.Del(ctx, e.Key) {
				deleted++
			}
		}
	}
	return deleted
}

// FreeMemWithEvictionStepAtomic iterates slots in reverse order across up
// to MaxSegmentToConsider segments starting at startingSegmentID, skipping
// sticky/locked/non-heap entries, deleting until either itemGoal or
// byteGoal is met (spec.md §4.2). It runs without suspending.
func (s *Slice) FreeMemWithEvictionStepAtomic(ctx DbContext, startingSegmentID, itemGoal int, byteGoal int64) (items int, bytes int64) {
	tbl := s.tables[ctx.DbIndex]
	maxSeg := int(s.flags.MaxSegmentToConsider)

	cursor := primetable.Cursor{Seg: startingSegmentID}
	segsVisited := 0
	for segsVisited < maxSeg && (itemGoal <= 0 || items < itemGoal) && (byteGoal <= 0 || bytes < byteGoal) {
		var keysInBucket []string
		next, ok := tbl.Prime.TraverseBuckets(cursor, func(view primetable.BucketView) {
			view.Each(func(key objval.PrimeKey, val *objval.PrimeValue) bool {
				if key.Sticky() {
					return true
				}
				if s.locks.IsLocked(ctx.DbIndex, Fingerprint(key.String())) {
					return true
				}
				if val.MallocUsed() == 0 {
					return true
				}
				keysInBucket = append(keysInBucket, key.String())
				return true
			})
		})
		for i := len(keysInBucket) - 1; i >= 0; i-- {
			k := keysInBucket[i]
			val, derr := s.FindReadOnly(ctx, k)
			if derr != nil {
				continue
			}
			sz := val.MallocUsed()
			if s.Del(ctx, k) {
				items++
				bytes += sz
			}
			if itemGoal > 0 && items >= itemGoal {
				break
			}
			if byteGoal > 0 && bytes >= byteGoal {
				break
			}
		}
		if !ok {
			break
		}
		if next.Seg != cursor.Seg {
			segsVisited++
		}
		cursor = next
	}
	return items, bytes
}

// Heartbeat is the periodic entry point driving expiry sampling and, under
// memory pressure, eviction (spec.md §4.2, §5 "Memory budget").
func (s *Slice) Heartbeat(ctx context.Context, dbIndex int) {
	dctx := DbContext{DbIndex: dbIndex}
	s.DeleteExpiredStep(dctx, 20)

	tbl := s.tables[dbIndex]
	if s.memBudget-tbl.Stats.TableMemory > 0 {
		return
	}
	if !cacheModeEnabled {
		return
	}
	lim := newHeartbeatLimiter(s)
	if !lim.lim.AllowN(time.Now(), int(s.flags.MaxEvictionPerHeartbeat)) {
		return
	}
	s.FreeMemWithEvictionStepAtomic(dctx, 0, int(s.flags.MaxEvictionPerHeartbeat), 0)
}
