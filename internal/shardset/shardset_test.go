package shardset

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewBuildsPerShardState(t *testing.T) {
	set := New(4, func(shardID int) interface{} { return shardID })
	defer set.Stop()

	assert.Equal(t, 4, set.NumShards())
	for i := 0; i < 4; i++ {
		assert.Equal(t, i, set.Shard(i).State)
	}
}

func TestAwaitBriefRunsOnTargetShard(t *testing.T) {
	set := New(2, func(shardID int) interface{} { return shardID })
	defer set.Stop()

	var seen int
	set.AwaitBrief(1, func() { seen = set.Shard(1).State.(int) })
	assert.Equal(t, 1, seen)
}

func TestDispatchBriefRunsEventually(t *testing.T) {
	set := New(1, func(shardID int) interface{} { return shardID })
	defer set.Stop()

	var done int32
	set.DispatchBrief(0, func() { atomic.StoreInt32(&done, 1) })

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&done) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&done))
}

func TestAwaitFiberOnAllRunsEveryShard(t *testing.T) {
	set := New(5, func(shardID int) interface{} { return shardID })
	defer set.Stop()

	var count int32
	set.AwaitFiberOnAll(func(shardID int) {
		atomic.AddInt32(&count, 1)
	})
	assert.Equal(t, int32(5), count)
}

func TestStopDrainsEnqueuedWork(t *testing.T) {
	set := New(1, func(shardID int) interface{} { return shardID })

	var ran int32
	set.DispatchBrief(0, func() { atomic.StoreInt32(&ran, 1) })
	set.Stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}
