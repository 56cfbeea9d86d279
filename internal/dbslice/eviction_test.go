package dbslice

import (
	"fmt"
	"testing"

	"github.com/jorge882/dragonfly/internal/flags"
	"github.com/jorge882/dragonfly/internal/objval"
	"github.com/stretchr/testify/assert"
)

// testBucketSlots mirrors primetable's regularSlots+stashSlots (8+2); it's
// duplicated here rather than exported since it's sizing detail internal
// to primetable, not part of its public contract.
const testBucketSlots = 10

// findBucketCollision returns n distinct keys that land in the same
// (segment, bucket) pair of a fresh DbTable's prime table (segBits=2,
// bucketsPerSegInitial=28, as wired in newDbTable), so a test can force
// InsertNew's bucket-full fallback deterministically instead of hoping a
// hand-picked key happens to collide.
func findBucketCollision(n int) []string {
	type bucketID struct{ seg, bucket uint64 }
	groups := make(map[bucketID][]string)
	for i := 0; i < 50000; i++ {
		k := fmt.Sprintf("evkey-%d", i)
		fp := Fingerprint(k)
		id := bucketID{seg: fp >> 62, bucket: fp % 28}
		groups[id] = append(groups[id], k)
		if len(groups[id]) >= n {
			return groups[id][:n]
		}
	}
	panic("dbslice: no bucket collision found within search budget")
}

// TestInsertNewRunsGCBeforeEvictingALiveKey exercises InsertNew's
// bucket-full fallback (spec.md §9 open question): GC is tried before
// eviction. A bucket is filled to capacity with live keys plus one
// already-expired key; the next insert into that same bucket must have
// its GC pass reclaim the expired slot, so none of the live keys are ever
// handed to Evict.
func TestInsertNewRunsGCBeforeEvictingALiveKey(t *testing.T) {
	cacheModeEnabled = true
	defer func() { cacheModeEnabled = false }()

	s := New(0, 1, flags.Default(), nil, nil)
	ctx := DbContext{DbIndex: 0}

	keys := findBucketCollision(testBucketSlots + 1)
	liveKeys := keys[:testBucketSlots-1]
	expiredKey := keys[testBucketSlots-1]
	newKey := keys[testBucketSlots]

	for _, k := range liveKeys {
		assert.Nil(t, s.AddNew(ctx, k, objval.KindString, []byte("v"), 0))
	}
	// expireMs=1 is an absolute deadline in the distant past, so it reads
	// as already-expired the instant it's checked.
	assert.Nil(t, s.AddNew(ctx, expiredKey, objval.KindString, []byte("v"), 1))

	// Bucket is now full (testBucketSlots entries). This insert must hit
	// the GC-then-evict fallback.
	assert.Nil(t, s.AddNew(ctx, newKey, objval.KindString, []byte("v"), 0))

	_, derr := s.FindReadOnly(ctx, expiredKey)
	assert.NotNil(t, derr, "expired key should have been reclaimed by GC")

	for _, k := range liveKeys {
		_, derr := s.FindReadOnly(ctx, k)
		assert.Nil(t, derr, "live key %q should not have been evicted", k)
	}
	_, derr = s.FindReadOnly(ctx, newKey)
	assert.Nil(t, derr)
}
