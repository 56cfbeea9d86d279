package stringset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newFakeClock(start int64) (func() int64, *int64) {
	now := start
	return func() int64 { return now }, &now
}

func TestAddContainsRemove(t *testing.T) {
	s := New(nil)
	assert.True(t, s.Add("a", 0, false))
	assert.False(t, s.Add("a", 0, false))
	assert.True(t, s.Contains("a"))
	assert.Equal(t, 1, s.Len())

	assert.True(t, s.Remove("a"))
	assert.False(t, s.Contains("a"))
	assert.False(t, s.Remove("a"))
}

func TestAddTTLExpires(t *testing.T) {
	clock, now := newFakeClock(100)
	s := New(clock)
	s.Add("a", 10, false)
	assert.True(t, s.Contains("a"))

	*now = 109
	assert.True(t, s.Contains("a"))
	*now = 110
	assert.False(t, s.Contains("a"))
}

func TestAddKeepTTL(t *testing.T) {
	clock, now := newFakeClock(0)
	s := New(clock)
	s.Add("a", 100, false)

	*now = 10
	s.Add("a", 0, true) // re-add with keepTTL: expiry stays at 100
	*now = 99
	assert.True(t, s.Contains("a"))
	*now = 100
	assert.False(t, s.Contains("a"))
}

func TestAddRefreshesTTLWithoutKeepTTL(t *testing.T) {
	clock, now := newFakeClock(0)
	s := New(clock)
	s.Add("a", 10, false)
	*now = 5
	s.Add("a", 10, false) // refreshed: new deadline is 5+10=15
	*now = 14
	assert.True(t, s.Contains("a"))
	*now = 15
	assert.False(t, s.Contains("a"))
}

func TestAddManyCountsFreshInserts(t *testing.T) {
	s := New(nil)
	added := s.AddMany([]string{"a", "b", "a"}, 0, false)
	assert.Equal(t, 2, added)
	assert.Equal(t, 2, s.Len())
}

func TestScanPaginates(t *testing.T) {
	s := New(nil)
	s.AddMany([]string{"c", "a", "b", "d", "e"}, 0, false)

	values, cursor := s.Scan(Cursor{}, 2)
	assert.Equal(t, []string{"a", "b"}, values)
	assert.NotEqual(t, Cursor{}, cursor)

	values, cursor = s.Scan(cursor, 10)
	assert.Equal(t, []string{"c", "d", "e"}, values)
	assert.Equal(t, Cursor{}, cursor)
}

type alwaysUnderutilized struct{}

func (alwaysUnderutilized) IsPageForObjectUnderUtilized(string) bool { return true }

func TestDefragmentRelocatesFlaggedMembers(t *testing.T) {
	s := New(nil)
	s.AddMany([]string{"a", "b"}, 0, false)
	s.SetDefragmenter(alwaysUnderutilized{})

	moved := s.Defragment()
	assert.Equal(t, 2, moved)
	assert.True(t, s.Contains("a"))
	assert.True(t, s.Contains("b"))
}
