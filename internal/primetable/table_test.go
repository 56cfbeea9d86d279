package primetable

import (
	"testing"

	"github.com/jorge882/dragonfly/internal/fingerprint"
	"github.com/jorge882/dragonfly/internal/objval"
	"github.com/stretchr/testify/assert"
)

func newTestTable() *Table {
	var ver uint64
	return NewTable(0, func() uint64 { ver++; return ver })
}

func TestInsertAndFind(t *testing.T) {
	tbl := newTestTable()
	key := objval.NewPrimeKey("k")
	fp := fingerprint.OfString("k")
	val := objval.NewPrimeValue(objval.KindString, []byte("v"))

	it, err := tbl.InsertNew(fp, key, val, NopPolicy{})
	assert.NoError(t, err)
	assert.True(t, it.Valid())
	assert.Equal(t, 1, tbl.Size())

	found := tbl.Find(fp, []byte("k"))
	assert.True(t, found.Valid())
	assert.Equal(t, "v", string(found.Value().Raw().([]byte)))
}

func TestFindMissReturnsInvalidIterator(t *testing.T) {
	tbl := newTestTable()
	it := tbl.Find(fingerprint.OfString("nope"), []byte("nope"))
	assert.False(t, it.Valid())
	assert.Nil(t, it.Value())
}

func TestDeleteRemovesEntry(t *testing.T) {
	tbl := newTestTable()
	key := objval.NewPrimeKey("k")
	fp := fingerprint.OfString("k")
	val := objval.NewPrimeValue(objval.KindString, []byte("v"))
	tbl.InsertNew(fp, key, val, NopPolicy{})

	it := tbl.Find(fp, []byte("k"))
	tbl.Delete(it)

	assert.Equal(t, 0, tbl.Size())
	missed := tbl.Find(fp, []byte("k"))
	assert.False(t, missed.Valid())
}

func TestSetStickyMutatesStoredKey(t *testing.T) {
	tbl := newTestTable()
	key := objval.NewPrimeKey("k")
	fp := fingerprint.OfString("k")
	val := objval.NewPrimeValue(objval.KindString, []byte("v"))
	tbl.InsertNew(fp, key, val, NopPolicy{})

	it := tbl.Find(fp, []byte("k"))
	assert.False(t, it.Key().Sticky())
	it.SetSticky(true)

	refetched := tbl.Find(fp, []byte("k"))
	assert.True(t, refetched.Key().Sticky())
}

func TestInsertNewFillsBucketThenGrows(t *testing.T) {
	tbl := newTestTable()
	for i := 0; i < 200; i++ {
		key := objval.NewPrimeKey(memberKey(i))
		fp := fingerprint.OfString(memberKey(i))
		val := objval.NewPrimeValue(objval.KindString, []byte("v"))
		_, err := tbl.InsertNew(fp, key, val, NopPolicy{})
		assert.NoError(t, err)
	}
	assert.Equal(t, 200, tbl.Size())
	for i := 0; i < 200; i++ {
		fp := fingerprint.OfString(memberKey(i))
		it := tbl.Find(fp, []byte(memberKey(i)))
		assert.True(t, it.Valid())
	}
}

func TestBucketVersionBumpsOnInsertAndDelete(t *testing.T) {
	tbl := newTestTable()
	key := objval.NewPrimeKey("k")
	fp := fingerprint.OfString("k")
	val := objval.NewPrimeValue(objval.KindString, []byte("v"))
	it, _ := tbl.InsertNew(fp, key, val, NopPolicy{})
	v1 := it.BucketVersion()
	assert.Greater(t, v1, uint64(0))

	tbl.Delete(it)
	assert.Greater(t, it.BucketVersion(), v1)
}

func TestTraverseBucketsVisitsEveryLiveEntry(t *testing.T) {
	tbl := newTestTable()
	for i := 0; i < 10; i++ {
		key := objval.NewPrimeKey(memberKey(i))
		fp := fingerprint.OfString(memberKey(i))
		val := objval.NewPrimeValue(objval.KindString, []byte("v"))
		tbl.InsertNew(fp, key, val, NopPolicy{})
	}

	seen := 0
	cursor := Cursor{}
	for {
		next, ok := tbl.TraverseBuckets(cursor, func(view BucketView) {
			view.Each(func(k objval.PrimeKey, v *objval.PrimeValue) bool {
				seen++
				return true
			})
		})
		if !ok {
			break
		}
		cursor = next
	}
	assert.Equal(t, 10, seen)
}

func memberKey(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return string(letters[i%26]) + string(rune('0'+i/26))
}
