package dbslice

import (
	"github.com/jorge882/dragonfly/internal/dberrors"
	"github.com/jorge882/dragonfly/internal/objval"
	"github.com/jorge882/dragonfly/internal/primetable"
)

// ExpireParams controls UpdateExpire's conditional semantics (NX/XX/GT/LT).
type ExpireParams struct {
	NX, XX, GT, LT bool
}

// CacheMode toggles whether AddOrFind/AddNew are allowed to evict to make
// room, mirroring PrimeEvictionPolicy.can_evict in db_slice.cc.
var cacheModeEnabled = false

func SetCacheMode(enabled bool) { cacheModeEnabled = enabled }

// AddOrFind finds key, or inserts a zero-value record of kind if absent.
// Returns the guard, whether it was newly created, and any error.
func (s *Slice) AddOrFind(ctx DbContext, key string, kind objval.Kind) (*MutableGuard, bool, *dberrors.Error) {
	if g, derr := s.FindMutable(ctx, key); derr == nil {
		if g.Value().Kind != kind {
			g.Cancel()
			return nil, false, dberrors.ErrWrongType
		}
		return g, false, nil
	} else if derr.Kind != dberrors.KeyNotFound {
		return nil, false, derr
	}

	s.changeBus.Fire(ChangeEvent{DbIndex: ctx.DbIndex, Key: key, Kind: PreInsert})

	val := objval.NewPrimeValue(kind, nil)
	it, err := s.insertNew(ctx, key, val)
	if err != nil {
		s.insertionRejections++
		return nil, false, err
	}
	return &MutableGuard{s: s, ctx: ctx, key: key, it: it, origSz: 0}, true, nil
}

// AddNew inserts key with value raw, requiring key not already present.
// expireMs == 0 means no expiry.
func (s *Slice) AddNew(ctx DbContext, key string, kind objval.Kind, raw interface{}, expireMs int64) *dberrors.Error {
	tbl := s.tables[ctx.DbIndex]
	if tbl.Prime.Find(Fingerprint(key), []byte(key)).Valid() {
		return dberrors.New(dberrors.InvalidValue, "key already exists")
	}

	s.changeBus.Fire(ChangeEvent{DbIndex: ctx.DbIndex, Key: key, Kind: PreInsert})

	val := objval.NewPrimeValue(kind, raw)
	it, err := s.insertNew(ctx, key, val)
	if err != nil {
		s.insertionRejections++
		return err
	}
	if expireMs > 0 {
		val.SetHasExpire(true)
		tbl.Expire.Set(key, expireMs)
	}
	accountObjectMemory(tbl, val.MallocUsed())
	_ = it
	return nil
}

// AddOrUpdate inserts key, overwriting any existing record unconditionally.
func (s *Slice) AddOrUpdate(ctx DbContext, key string, kind objval.Kind, raw interface{}, expireMs int64) *dberrors.Error {
	tbl := s.tables[ctx.DbIndex]
	if it := tbl.Prime.Find(Fingerprint(key), []byte(key)); it.Valid() {
		old := it.Value()
		accountObjectMemory(tbl, -old.MallocUsed())
		tbl.Prime.Delete(it)
		tbl.Expire.Del(key)
		delete(tbl.McFlags, key)
	}

	s.changeBus.Fire(ChangeEvent{DbIndex: ctx.DbIndex, Key: key, Kind: PreInsert})
	val := objval.NewPrimeValue(kind, raw)
	_, err := s.insertNew(ctx, key, val)
	if err != nil {
		s.insertionRejections++
		return err
	}
	if expireMs > 0 {
		val.SetHasExpire(true)
		tbl.Expire.Set(key, expireMs)
	}
	accountObjectMemory(tbl, val.MallocUsed())
	s.recordMutation(tbl)
	return nil
}

// insertNew is the shared AddOrFind/AddNew/AddOrUpdate tail: it runs
// PrimeTable.InsertNew under the shard's eviction policy (spec.md §4.2
// "AddOrFind contract").
func (s *Slice) insertNew(ctx DbContext, key string, val *objval.PrimeValue) (primetable.Iterator, *dberrors.Error) {
	tbl := s.tables[ctx.DbIndex]
	canEvict := cacheModeEnabled && !ctx.IsReplica
	policy := newEvictionPolicy(s, ctx, canEvict)
	pk := objval.NewPrimeKey(key)
	res, err := tbl.Prime.InsertNew(Fingerprint(key), pk, val, policy)
	if err != nil {
		return primetable.Iterator{}, dberrors.New(dberrors.OutOfMemory, "%v", err)
	}
	val.Version = res.BucketVersion()
	for _, evKey := range policy.evictedKeys {
		s.tracking.Invalidate(evKey)
	}
	return res, nil
}

// Del looks key up in ctx's database and deletes it, reporting whether it
// was present.
func (s *Slice) Del(ctx DbContext, key string) bool {
	tbl := s.tables[ctx.DbIndex]
	it := tbl.Prime.Find(Fingerprint(key), []byte(key))
	if !it.Valid() {
		return false
	}
	s.performDeletionAtomic(ctx, key, it, false)
	return true
}

// UpdateExpire sets or clears key's expiry per params. Returns the new
// absolute deadline in ms, or -1 if the expiry was removed (PERSIST).
func (s *Slice) UpdateExpire(ctx DbContext, key string, newDeadlineMs int64, params ExpireParams) (int64, *dberrors.Error) {
	tbl := s.tables[ctx.DbIndex]
	it := tbl.Prime.Find(Fingerprint(key), []byte(key))
	if !it.Valid() {
		return 0, dberrors.ErrKeyNotFound
	}
	val := it.Value()
	cur, hasExpire := tbl.Expire.Get(key)

	if params.NX && hasExpire {
		return 0, dberrors.ErrSkipped
	}
	if params.XX && !hasExpire {
		return 0, dberrors.ErrSkipped
	}
	if params.GT && hasExpire && newDeadlineMs <= cur {
		return 0, dberrors.ErrSkipped
	}
	if params.LT && hasExpire && newDeadlineMs >= cur {
		return 0, dberrors.ErrSkipped
	}

	if newDeadlineMs < 0 {
		return 0, dberrors.New(dberrors.InvalidExpireTime, "negative expire time")
	}
	if newDeadlineMs == 0 {
		// PERSIST: remove expiry.
		tbl.Expire.Del(key)
		val.SetHasExpire(false)
		return -1, nil
	}
	tbl.Expire.Set(key, newDeadlineMs)
	val.SetHasExpire(true)
	return newDeadlineMs, nil
}
