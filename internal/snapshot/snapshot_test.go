package snapshot

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/jorge882/dragonfly/internal/dbslice"
	"github.com/jorge882/dragonfly/internal/flags"
	"github.com/jorge882/dragonfly/internal/journal"
	"github.com/jorge882/dragonfly/internal/objval"
	"github.com/stretchr/testify/assert"
)

// decodedEntry is one (dbIndex, key, payload) record recovered from a
// blob this package emits. The wire layout is explicitly out of scope
// (spec.md §4.4), but a test verifying the walker actually serialized the
// right keys has to parse its own framing back out.
type decodedEntry struct {
	dbIndex int
	key     string
	payload []byte
}

func decodeBlob(t *testing.T, blob []byte) []decodedEntry {
	t.Helper()
	var out []decodedEntry
	i := 0
	readU32 := func() uint32 {
		v := binary.BigEndian.Uint32(blob[i : i+4])
		i += 4
		return v
	}
	for i < len(blob) {
		switch blob[i] {
		case 0xFF: // full-sync-cut marker, no payload
			i++
			continue
		case 0xFE: // journal-record marker, 8-byte LSN follows
			i++
			i += 8
		}
		dbIndex := int(readU32())
		keyLen := int(readU32())
		key := string(blob[i : i+keyLen])
		i += keyLen
		valLen := int(readU32())
		val := make([]byte, valLen)
		copy(val, blob[i:i+valLen])
		i += valLen
		out = append(out, decodedEntry{dbIndex: dbIndex, key: key, payload: val})
	}
	return out
}

func collectingConsumer(dst *[][]byte) Consumer {
	return func(blob []byte) {
		cp := make([]byte, len(blob))
		copy(cp, blob)
		*dst = append(*dst, cp)
	}
}

func TestFullWalkSerializesEveryKey(t *testing.T) {
	slice := dbslice.New(0, 1, flags.Default(), nil, nil)
	ctx := dbslice.DbContext{DbIndex: 0}
	slice.AddNew(ctx, "a", objval.KindString, []byte("1"), 0)
	slice.AddNew(ctx, "b", objval.KindString, []byte("2"), 0)

	var blobs [][]byte
	snap := New(context.Background(), slice, nil, collectingConsumer(&blobs), false)
	snap.Start(context.Background(), false)
	snap.FinalizeJournalStream(false)

	var all []byte
	for _, b := range blobs {
		all = append(all, b...)
	}
	entries := decodeBlob(t, all)

	found := make(map[string][]byte)
	for _, e := range entries {
		found[e.key] = e.payload
	}
	assert.Equal(t, []byte("1"), found["a"])
	assert.Equal(t, []byte("2"), found["b"])
	assert.Equal(t, int64(2), snap.Counters().LoopSerialized)
}

func TestFullWalkSkipsBucketsAlreadyAtVersionUnderPointInTime(t *testing.T) {
	slice := dbslice.New(0, 1, flags.Default(), nil, nil)
	ctx := dbslice.DbContext{DbIndex: 0}
	slice.AddNew(ctx, "a", objval.KindString, []byte("1"), 0)

	var blobs [][]byte
	// AddNew above already stamped the lone occupied bucket with the
	// version InsertNew's touchVersion assigned it, which is also the
	// version Start() below captures as S — so under point_in_time this
	// bucket is already "captured" before the walk even begins.
	snap := New(context.Background(), slice, nil, collectingConsumer(&blobs), true)
	snap.Start(context.Background(), false)
	snap.FinalizeJournalStream(false)

	assert.Equal(t, int64(0), snap.Counters().LoopSerialized)
}

func TestSideSaveCapturesMutationLandingInAnUncapturedBucket(t *testing.T) {
	slice := dbslice.New(0, 1, flags.Default(), nil, nil)
	ctx := dbslice.DbContext{DbIndex: 0}
	slice.AddNew(ctx, "a", objval.KindString, []byte("1"), 0) // stamps a's bucket at version 1

	// Advance the shard's version counter without touching a's bucket, so
	// a's bucket (still at version 1) reads as "not yet captured" under a
	// snapshot that captures S after this point — the side-save condition
	// (spec.md §4.4 step 3).
	bump := slice.NextVersionFn()
	bump()

	var blobs [][]byte
	snap := New(context.Background(), slice, nil, collectingConsumer(&blobs), true)
	snap.version = slice.CurrentVersion()
	snap.changeSubID = slice.RegisterOnChangeAtVersion(snap.version, snap.onDbChange)
	defer slice.UnregisterOnChange(snap.changeSubID)

	g, derr := slice.FindMutable(ctx, "a")
	assert.Nil(t, derr)
	g.Value().SetRaw([]byte("2"))
	g.Drop()

	assert.Equal(t, int64(1), snap.Counters().SideSaved)

	snap.PushSerialized(true)
	var all []byte
	for _, b := range blobs {
		all = append(all, b...)
	}
	entries := decodeBlob(t, all)
	assert.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].key)
	assert.Equal(t, []byte("2"), entries[0].payload)
}

func TestStartIncrementalReplaysRetainedJournalEntries(t *testing.T) {
	j := journal.NewInProcess(64)
	slice := dbslice.New(0, 1, flags.Default(), j, nil)
	ctx := dbslice.DbContext{DbIndex: 0}
	slice.AddNew(ctx, "k", objval.KindString, []byte("v"), 0)
	slice.Del(ctx, "k")

	var blobs [][]byte
	snap := New(context.Background(), slice, nil, collectingConsumer(&blobs), false).WithJournal(j)

	err := snap.StartIncremental(j.OldestRetainedLSN())
	assert.NoError(t, err)
	snap.FinalizeJournalStream(false)

	var all []byte
	for _, b := range blobs {
		all = append(all, b...)
	}
	assert.Equal(t, byte(0xFF), all[0], "incremental mode must emit the full-sync-cut marker first")

	entries := decodeBlob(t, all)
	assert.Len(t, entries, 1)
	assert.Equal(t, "k", entries[0].key)
	assert.Equal(t, []byte("DEL"), entries[0].payload)
}

func TestStartIncrementalFailsWhenLSNHasAgedOut(t *testing.T) {
	j := journal.NewInProcess(2)
	slice := dbslice.New(0, 1, flags.Default(), j, nil)
	ctx := dbslice.DbContext{DbIndex: 0}
	for i := 0; i < 5; i++ {
		slice.AddNew(ctx, "k", objval.KindString, []byte("v"), 0)
		slice.Del(ctx, "k")
	}

	var blobs [][]byte
	snap := New(context.Background(), slice, nil, collectingConsumer(&blobs), false).WithJournal(j)
	err := snap.StartIncremental(journal.LSN(1))
	assert.Error(t, err)
}

func TestStartIncrementalWithoutJournalFails(t *testing.T) {
	slice := dbslice.New(0, 1, flags.Default(), nil, nil)
	var blobs [][]byte
	snap := New(context.Background(), slice, nil, collectingConsumer(&blobs), false)
	err := snap.StartIncremental(journal.LSN(0))
	assert.Error(t, err)
}
