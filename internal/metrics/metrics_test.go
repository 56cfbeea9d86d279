package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLatencyTrackerDisabledByDefaultIgnoresRecords(t *testing.T) {
	lt := NewLatencyTracker(false)
	lt.Record("GET", 500)
	assert.Equal(t, int64(0), lt.Quantile("GET", 0.5))
}

func TestLatencyTrackerRecordsWhenEnabled(t *testing.T) {
	lt := NewLatencyTracker(true)
	for i := 0; i < 100; i++ {
		lt.Record("GET", int64(100+i))
	}
	q := lt.Quantile("GET", 0.5)
	assert.Greater(t, q, int64(0))
}

func TestLatencyTrackerSetEnabledToggles(t *testing.T) {
	lt := NewLatencyTracker(true)
	lt.Record("GET", 100)
	lt.SetEnabled(false)
	lt.Record("GET", 99999)

	q1 := lt.Quantile("GET", 1.0)
	assert.Less(t, q1, int64(99999))
}

func TestLatencyTrackerQuantileUnknownCommandIsZero(t *testing.T) {
	lt := NewLatencyTracker(true)
	assert.Equal(t, int64(0), lt.Quantile("UNKNOWN", 0.5))
}

func TestLatencyTrackerClampsOutOfRangeValues(t *testing.T) {
	lt := NewLatencyTracker(true)
	lt.Record("SET", -5)
	lt.Record("SET", 10_000_000)
	assert.Greater(t, lt.Quantile("SET", 1.0), int64(0))
}
