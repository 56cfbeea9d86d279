package dbslice

import (
	"testing"

	"github.com/jorge882/dragonfly/internal/dberrors"
	"github.com/jorge882/dragonfly/internal/flags"
	"github.com/jorge882/dragonfly/internal/objval"
	"github.com/stretchr/testify/assert"
)

func newTestSlice() *Slice {
	return New(0, 1, flags.Default(), nil, nil)
}

func TestAddNewAndFindReadOnly(t *testing.T) {
	s := newTestSlice()
	ctx := DbContext{DbIndex: 0}

	derr := s.AddNew(ctx, "k", objval.KindString, []byte("v"), 0)
	assert.Nil(t, derr)

	val, derr := s.FindReadOnly(ctx, "k")
	assert.Nil(t, derr)
	assert.Equal(t, []byte("v"), val.Raw())
}

func TestAddNewRejectsDuplicateKey(t *testing.T) {
	s := newTestSlice()
	ctx := DbContext{DbIndex: 0}

	s.AddNew(ctx, "k", objval.KindString, []byte("v"), 0)
	derr := s.AddNew(ctx, "k", objval.KindString, []byte("v2"), 0)
	assert.NotNil(t, derr)
}

func TestFindReadOnlyTypedRejectsWrongType(t *testing.T) {
	s := newTestSlice()
	ctx := DbContext{DbIndex: 0}
	s.AddNew(ctx, "k", objval.KindString, []byte("v"), 0)

	_, derr := s.FindReadOnlyTyped(ctx, "k", objval.KindHash)
	assert.True(t, dberrors.Is(derr, dberrors.WrongType))
}

func TestFindReadOnlyMissingKey(t *testing.T) {
	s := newTestSlice()
	ctx := DbContext{DbIndex: 0}
	_, derr := s.FindReadOnly(ctx, "missing")
	assert.True(t, dberrors.Is(derr, dberrors.KeyNotFound))
}

func TestAddOrUpdateOverwritesExisting(t *testing.T) {
	s := newTestSlice()
	ctx := DbContext{DbIndex: 0}
	s.AddNew(ctx, "k", objval.KindString, []byte("old"), 0)

	derr := s.AddOrUpdate(ctx, "k", objval.KindString, []byte("new"), 0)
	assert.Nil(t, derr)

	val, _ := s.FindReadOnly(ctx, "k")
	assert.Equal(t, []byte("new"), val.Raw())
}

func TestDelRemovesKey(t *testing.T) {
	s := newTestSlice()
	ctx := DbContext{DbIndex: 0}
	s.AddNew(ctx, "k", objval.KindString, []byte("v"), 0)

	assert.True(t, s.Del(ctx, "k"))
	assert.False(t, s.Del(ctx, "k"))

	_, derr := s.FindReadOnly(ctx, "k")
	assert.True(t, dberrors.Is(derr, dberrors.KeyNotFound))
}

func TestFindMutableGuardDropUpdatesMemoryAccounting(t *testing.T) {
	s := newTestSlice()
	ctx := DbContext{DbIndex: 0}
	s.AddNew(ctx, "k", objval.KindString, []byte("v"), 0)

	g, derr := s.FindMutable(ctx, "k")
	assert.Nil(t, derr)
	g.Value().SetRaw([]byte("a longer value now"))
	g.Drop()

	assert.Greater(t, s.Table(0).Stats.ObjMemoryUsage, int64(0))
}

func TestUpdateExpireSetsAndPersists(t *testing.T) {
	s := newTestSlice()
	ctx := DbContext{DbIndex: 0}
	s.AddNew(ctx, "k", objval.KindString, []byte("v"), 0)

	deadline, derr := s.UpdateExpire(ctx, "k", 99999999999, ExpireParams{})
	assert.Nil(t, derr)
	assert.Equal(t, int64(99999999999), deadline)

	cleared, derr := s.UpdateExpire(ctx, "k", 0, ExpireParams{})
	assert.Nil(t, derr)
	assert.Equal(t, int64(-1), cleared)
}

func TestUpdateExpireNXSkipsWhenAlreadySet(t *testing.T) {
	s := newTestSlice()
	ctx := DbContext{DbIndex: 0}
	s.AddNew(ctx, "k", objval.KindString, []byte("v"), 0)
	s.UpdateExpire(ctx, "k", 1000, ExpireParams{})

	_, derr := s.UpdateExpire(ctx, "k", 2000, ExpireParams{NX: true})
	assert.True(t, dberrors.Is(derr, dberrors.Skipped))
}

func TestUpdateExpireGTSkipsWhenNotGreater(t *testing.T) {
	s := newTestSlice()
	ctx := DbContext{DbIndex: 0}
	s.AddNew(ctx, "k", objval.KindString, []byte("v"), 0)
	s.UpdateExpire(ctx, "k", 5000, ExpireParams{})

	_, derr := s.UpdateExpire(ctx, "k", 4000, ExpireParams{GT: true})
	assert.True(t, dberrors.Is(derr, dberrors.Skipped))
}

func TestUpdateExpireRejectsNegativeDeadline(t *testing.T) {
	s := newTestSlice()
	ctx := DbContext{DbIndex: 0}
	s.AddNew(ctx, "k", objval.KindString, []byte("v"), 0)

	_, derr := s.UpdateExpire(ctx, "k", -1, ExpireParams{})
	assert.True(t, dberrors.Is(derr, dberrors.InvalidExpireTime))
}

func TestAddOrFindCreatesZeroValueOnceAndReusesAfter(t *testing.T) {
	s := newTestSlice()
	ctx := DbContext{DbIndex: 0}

	g1, created1, derr := s.AddOrFind(ctx, "k", objval.KindString)
	assert.Nil(t, derr)
	assert.True(t, created1)
	g1.Cancel()

	g2, created2, derr := s.AddOrFind(ctx, "k", objval.KindString)
	assert.Nil(t, derr)
	assert.False(t, created2)
	g2.Cancel()
}
