// Package throttle implements the GCRA (generic cell rate algorithm)
// rate limiter backing CL.THROTTLE (spec.md §6 item 4, §9 "GCRA"),
// ported from the theoretical-arrival-time algorithm in
// original_source/src/server/string_family.cc's OpThrottle/ClThrottle.
package throttle

import (
	"errors"
	"time"

	"github.com/jorge882/dragonfly/internal/dberrors"
)

// ErrZeroRate is returned when period/count resolves to a zero emission
// interval — "zero rates are not supported" in the original.
var ErrZeroRate = errors.New("zero rates are not supported")

// Result is CL.THROTTLE's five-element reply: Limited, Limit, Remaining,
// RetryAfterSec, ResetAfterSec (RetryAfterSec is -1 when not Limited).
type Result struct {
	Limited       bool
	Limit         int64
	Remaining     int64
	RetryAfterSec int64
	ResetAfterSec int64
}

// Store persists the per-key theoretical arrival time (in epoch
// milliseconds) that CL.THROTTLE needs between calls. Production wiring
// wraps internal/dbslice so the value lives in the normal keyspace (and
// inherits its own expiry/eviction); tests can use the in-memory
// MapStore below.
type Store interface {
	// GetTAT returns the stored theoretical-arrival-time in epoch ms, or
	// ok=false if key has never been throttled (or has expired out).
	GetTAT(key string) (tatMs int64, ok bool, err *dberrors.Error)
	// SetTAT stores tatMs for key, with the key's own expiry set to
	// tatMs (matching the original: the TAT record expires once it's no
	// longer needed to reconstruct the limiter's state).
	SetTAT(key string, tatMs int64, expireAtMs int64) *dberrors.Error
}

// MapStore is a plain in-memory Store, useful for tests and for
// standalone use of CL.THROTTLE outside the sharded keyspace.
type MapStore struct{ m map[string]int64 }

func NewMapStore() *MapStore { return &MapStore{m: make(map[string]int64)} }

func (s *MapStore) GetTAT(key string) (int64, bool, *dberrors.Error) {
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *MapStore) SetTAT(key string, tatMs int64, _ int64) *dberrors.Error {
	s.m[key] = tatMs
	return nil
}

// Limiter evaluates CL.THROTTLE requests against a Store.
type Limiter struct {
	store Store
	nowMs func() int64
}

func New(store Store) *Limiter {
	return &Limiter{store: store, nowMs: func() int64 { return time.Now().UnixMilli() }}
}

// Throttle applies one CL.THROTTLE call: maxBurst tokens, count emitted
// per period seconds, consuming quantity tokens now (quantity defaults
// to 1 at the command layer). limit = maxBurst + 1, matching the
// original's X-RateLimit-Limit convention.
func (l *Limiter) Throttle(key string, maxBurst, count, periodSec, quantity int64) (Result, error) {
	if count == 0 {
		return Result{}, ErrZeroRate
	}
	emissionIntervalMs := periodSec * 1000 / count
	if emissionIntervalMs == 0 {
		return Result{}, ErrZeroRate
	}
	limit := maxBurst + 1
	delayVarianceToleranceMs := emissionIntervalMs * limit
	incrementMs := emissionIntervalMs * quantity

	nowMs := l.nowMs()

	tatMs := nowMs
	if stored, ok, derr := l.store.GetTAT(key); derr != nil {
		return Result{}, derr
	} else if ok {
		tatMs = stored
	}

	newTatMs := max64(tatMs, nowMs) + incrementMs
	allowAtMs := newTatMs - delayVarianceToleranceMs
	diffMs := nowMs - allowAtMs

	limited := diffMs < 0

	var ttlMs, retryAfterMs int64
	retryAfterMs = -1000
	if limited {
		ttlMs = tatMs - nowMs
		if incrementMs <= delayVarianceToleranceMs {
			retryAfterMs = -diffMs
		}
	} else {
		ttlMs = newTatMs - nowMs
		if derr := l.store.SetTAT(key, newTatMs, newTatMs); derr != nil {
			return Result{}, derr
		}
	}

	var remaining int64
	nextMs := delayVarianceToleranceMs - ttlMs
	if nextMs > -emissionIntervalMs {
		remaining = nextMs / emissionIntervalMs
	}

	return Result{
		Limited:       limited,
		Limit:         limit,
		Remaining:     remaining,
		RetryAfterSec: ceilMsToSec(retryAfterMs),
		ResetAfterSec: ceilMsToSec(ttlMs),
	}, nil
}

// ceilMsToSec truncates toward zero and, per spec.md §9's preserved
// "ceil vs floor" decision, rounds any positive residual up by one
// second — exactly the original's retry_after_s/reset_after_s
// conversion.
func ceilMsToSec(ms int64) int64 {
	sec := ms / 1000
	if ms%1000 > 0 {
		sec++
	}
	return sec
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
