package objval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrimeKeyFlags(t *testing.T) {
	k := NewPrimeKey("hello")
	assert.Equal(t, "hello", k.String())
	assert.True(t, k.Inline())
	assert.False(t, k.Sticky())
	assert.False(t, k.Touched())

	k.SetSticky(true)
	assert.True(t, k.Sticky())
	k.SetSticky(false)
	assert.False(t, k.Sticky())

	k.SetTouched(true)
	assert.True(t, k.Touched())
}

func TestPrimeValueFlags(t *testing.T) {
	v := NewPrimeValue(KindString, []byte("v"))
	assert.False(t, v.HasExpire())
	v.SetHasExpire(true)
	assert.True(t, v.HasExpire())
	v.SetHasExpire(false)
	assert.False(t, v.HasExpire())

	assert.False(t, v.External())
	v.SetExternal(true)
	assert.True(t, v.External())
}

func TestMallocUsedInline(t *testing.T) {
	v := NewPrimeValue(KindString, []byte("hello"))
	assert.Equal(t, int64(len("hello")+16), v.MallocUsed())
}

func TestMallocUsedExternalNotCool(t *testing.T) {
	v := NewPrimeValue(KindString, nil)
	v.SetExternal(true)
	assert.Equal(t, int64(0), v.MallocUsed())
}

func TestMallocUsedHeapHint(t *testing.T) {
	v := NewPrimeValue(KindHash, map[string]string{"a": "b"})
	v.SetHeapHint(128)
	assert.Equal(t, int64(128), v.MallocUsed())
}

func TestValidateRejectsCoolWithoutExternal(t *testing.T) {
	v := NewPrimeValue(KindString, []byte("x"))
	v.SetCool(true)
	assert.False(t, v.Validate())

	v.SetExternal(true)
	assert.True(t, v.Validate())
}

func TestValidateRejectsStashPendingWithNoRawAndNotCool(t *testing.T) {
	v := NewPrimeValue(KindString, nil)
	v.SetStashPending(true)
	assert.False(t, v.Validate())

	v.SetCool(true)
	v.SetExternal(true)
	assert.True(t, v.Validate())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "string", KindString.String())
	assert.Equal(t, "zset", KindSortedSet.String())
	assert.Equal(t, "unknown", Kind(200).String())
}
