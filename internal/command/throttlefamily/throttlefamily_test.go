package throttlefamily

import (
	"context"
	"testing"

	"github.com/jorge882/dragonfly/internal/command"
	"github.com/jorge882/dragonfly/internal/dbslice"
	"github.com/jorge882/dragonfly/internal/flags"
	"github.com/jorge882/dragonfly/internal/journal"
	"github.com/stretchr/testify/assert"
)

func newTestSlice() *dbslice.Slice {
	return dbslice.New(0, 1, flags.Default(), journal.NewInProcess(64), nil)
}

func run(reg *command.Registry, name string, args ...string) *command.ValueReply {
	cmd, ok := reg.Lookup(name)
	if !ok {
		panic("unregistered command: " + name)
	}
	byteArgs := make([][]byte, len(args))
	for i, a := range args {
		byteArgs[i] = []byte(a)
	}
	rb := &command.ValueReply{}
	cmd.Handler(command.Context{Context: context.Background(), DbIndex: 0}, rb, byteArgs)
	return rb
}

func newRegistry() *command.Registry {
	reg := command.NewRegistry()
	Register(reg, newTestSlice())
	return reg
}

func TestThrottleFirstCallNotLimited(t *testing.T) {
	reg := newRegistry()

	rb := run(reg, "CL.THROTTLE", "k", "5", "1", "10")
	assert.Equal(t, command.ValueArray, rb.Kind())
	elems := rb.Elems()
	assert.Len(t, elems, 5)
	assert.Equal(t, int64(0), elems[0].(*command.ValueReply).Long())
	assert.Equal(t, int64(6), elems[1].(*command.ValueReply).Long())
	assert.Equal(t, int64(5), elems[2].(*command.ValueReply).Long())
	assert.Equal(t, int64(-1), elems[3].(*command.ValueReply).Long())
}

func TestThrottleExhaustsBurstAcrossCalls(t *testing.T) {
	reg := newRegistry()

	var last *command.ValueReply
	for i := 0; i < 6; i++ {
		last = run(reg, "CL.THROTTLE", "k", "5", "1", "10")
	}
	elems := last.Elems()
	assert.Equal(t, int64(0), elems[0].(*command.ValueReply).Long(), "6th call within a burst of 6 (maxBurst+1) should still be allowed")

	limited := run(reg, "CL.THROTTLE", "k", "5", "1", "10")
	assert.Equal(t, int64(1), limited.Elems()[0].(*command.ValueReply).Long(), "7th call should be limited")
}

func TestThrottleZeroRateRejected(t *testing.T) {
	reg := newRegistry()

	rb := run(reg, "CL.THROTTLE", "k", "5", "0", "10")
	assert.Equal(t, command.ValueError, rb.Kind())
}

func TestThrottleKeysAreIndependent(t *testing.T) {
	reg := newRegistry()

	for i := 0; i < 6; i++ {
		run(reg, "CL.THROTTLE", "a", "5", "1", "10")
	}
	limitedA := run(reg, "CL.THROTTLE", "a", "5", "1", "10")
	assert.Equal(t, int64(1), limitedA.Elems()[0].(*command.ValueReply).Long())

	freshB := run(reg, "CL.THROTTLE", "b", "5", "1", "10")
	assert.Equal(t, int64(0), freshB.Elems()[0].(*command.ValueReply).Long())
}

func TestThrottleExplicitQuantity(t *testing.T) {
	reg := newRegistry()

	rb := run(reg, "CL.THROTTLE", "k", "5", "1", "10", "6")
	elems := rb.Elems()
	assert.Equal(t, int64(0), elems[0].(*command.ValueReply).Long())
	assert.Equal(t, int64(0), elems[2].(*command.ValueReply).Long(), "consuming the full burst in one call leaves zero remaining")
}
