package flags

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultFlags(t *testing.T) {
	f := Default()
	assert.False(t, f.MgetDedupKeys)
	assert.False(t, f.LatencyTracking)
	assert.Equal(t, uint32(100), f.MaxEvictionPerHeartbeat)
	assert.Equal(t, uint32(4), f.MaxSegmentToConsider)
	assert.Equal(t, 0.4, f.TableGrowthMargin)
	assert.True(t, f.PointInTimeSnapshot)
	assert.False(t, f.LegacySaddexKeepTTL)
	assert.Equal(t, int64(1<<30), f.MemoryBudgetBytes)
	assert.Equal(t, 100*time.Millisecond, f.HeartbeatInterval)
}

func TestFlagsAreIndependentInstances(t *testing.T) {
	a := Default()
	b := Default()
	a.MaxEvictionPerHeartbeat = 1
	assert.Equal(t, uint32(100), b.MaxEvictionPerHeartbeat)
}
