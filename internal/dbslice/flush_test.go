package dbslice

import (
	"testing"

	"github.com/jorge882/dragonfly/internal/flags"
	"github.com/jorge882/dragonfly/internal/objval"
	"github.com/stretchr/testify/assert"
)

func TestFlushDbEmptiesOneDatabase(t *testing.T) {
	s := New(0, 2, flags.Default(), nil, nil)
	s.AddNew(DbContext{DbIndex: 0}, "k", objval.KindString, []byte("v"), 0)
	s.AddNew(DbContext{DbIndex: 1}, "k", objval.KindString, []byte("v"), 0)

	s.FlushDb(0)

	_, derr := s.FindReadOnly(DbContext{DbIndex: 0}, "k")
	assert.NotNil(t, derr)
	_, derr = s.FindReadOnly(DbContext{DbIndex: 1}, "k")
	assert.Nil(t, derr)
}

func TestFlushAllEmptiesEveryDatabase(t *testing.T) {
	s := New(0, 2, flags.Default(), nil, nil)
	s.AddNew(DbContext{DbIndex: 0}, "k", objval.KindString, []byte("v"), 0)
	s.AddNew(DbContext{DbIndex: 1}, "k", objval.KindString, []byte("v"), 0)

	s.FlushAll()

	for db := 0; db < 2; db++ {
		_, derr := s.FindReadOnly(DbContext{DbIndex: db}, "k")
		assert.NotNil(t, derr)
	}
}

func TestFlushSlotsDeletesOnlyMatchingKeys(t *testing.T) {
	s := New(0, 1, flags.Default(), nil, nil)
	ctx := DbContext{DbIndex: 0}
	s.AddNew(ctx, "a", objval.KindString, []byte("1"), 0)
	s.AddNew(ctx, "b", objval.KindString, []byte("2"), 0)

	keySlot := func(key string) uint16 {
		if key == "a" {
			return 1
		}
		return 2
	}
	s.FlushSlots(0, []SlotRange{{Start: 1, End: 1}}, keySlot)

	_, derr := s.FindReadOnly(ctx, "a")
	assert.NotNil(t, derr)
	_, derr = s.FindReadOnly(ctx, "b")
	assert.Nil(t, derr)
}

func TestRegisterOnChangeFiresForMutations(t *testing.T) {
	s := New(0, 1, flags.Default(), nil, nil)
	ctx := DbContext{DbIndex: 0}

	var events []ChangeEvent
	id := s.RegisterOnChange(func(ev ChangeEvent) { events = append(events, ev) })
	defer s.UnregisterOnChange(id)

	s.AddNew(ctx, "k", objval.KindString, []byte("v"), 0)
	assert.NotEmpty(t, events)
}

func TestAcquireReleaseLockCycle(t *testing.T) {
	s := New(0, 1, flags.Default(), nil, nil)
	fps := []uint64{1, 2, 3}
	assert.True(t, s.Acquire(0, Exclusive, fps))
	s.Release(0, Exclusive, fps)
}
