// Package journal defines the ordered-log collaborator the core writes to
// and streams from (spec.md §4.4, §6.5). The byte format of a persisted
// entry is out of scope; only LSN ordering and the "full-sync-cut" marker
// the snapshotter needs are prescribed here.
//
// The in-process implementation below is adapted from the teacher's
// aof.AofHandler (aof/aof.go), generalized from "append RESP commands to a
// file" to "append opaque entries and hand them to registered consumers".
// It is synchronous: Log appends to a bounded ring buffer and calls the
// registered consumers on the caller's goroutine, with no channel or
// writer goroutine in between.
package journal

import (
	"sync"

	"github.com/jorge882/dragonfly/internal/logging"
)

// LSN is a monotone journal sequence number.
type LSN uint64

// Entry is an opaque journal record. Payload's byte layout is owned by
// whatever sits above the core (spec.md §6.5); the core only needs Key for
// per-key ordering proofs (spec.md §5, §8 property 5).
type Entry struct {
	LSN     LSN
	DbIndex int
	Key     string
	Payload []byte
}

// Consumer receives journal entries as they're appended, in LSN order.
type Consumer func(Entry)

// Journal is the interface DbSlice/SliceSnapshot depend on.
type Journal interface {
	// Log appends an entry and returns its LSN. Implementations must
	// invoke registered consumers synchronously with respect to Log's
	// caller's own change-bus firing, per spec.md §5 "Journal and
	// change-bus ordering": the change callback for a mutation runs
	// before the journal callback for the same transaction. Log itself
	// is called only after DbSlice has already fired its change bus, so
	// that ordering is the caller's responsibility, not Journal's.
	Log(e Entry) LSN

	// RegisterConsumer subscribes c to every future Log call; it returns
	// an unregister func.
	RegisterConsumer(c Consumer) (unregister func())

	// CurrentLSN returns the last assigned LSN.
	CurrentLSN() LSN

	// OldestRetainedLSN returns the LSN just below the oldest entry still
	// in the journal's buffer (0 while nothing has been dropped): every
	// entry after it is retained, so a replay can resume from it or any
	// later LSN. StartIncremental fails with STATE_NOT_RECOVERABLE if asked
	// for an older one (spec.md §4.4).
	OldestRetainedLSN() LSN
}

// InProcess is a bounded ring-buffered journal good enough for tests and
// single-process replicas; it does not persist across restarts.
type InProcess struct {
	mu        sync.Mutex
	lsn       LSN
	ring      []Entry
	ringStart LSN
	capacity  int
	consumers map[int]Consumer
	nextSub   int
	log       interface{ Debug(string, ...interface{}) }
}

func NewInProcess(capacity int) *InProcess {
	if capacity <= 0 {
		capacity = 4096
	}
	return &InProcess{
		capacity:  capacity,
		consumers: make(map[int]Consumer),
		log:       logging.Named("journal"),
	}
}

func (j *InProcess) Log(e Entry) LSN {
	j.mu.Lock()
	j.lsn++
	e.LSN = j.lsn
	j.ring = append(j.ring, e)
	if len(j.ring) > j.capacity {
		j.ring = j.ring[1:]
		j.ringStart++
	}
	consumers := make([]Consumer, 0, len(j.consumers))
	for _, c := range j.consumers {
		consumers = append(consumers, c)
	}
	j.mu.Unlock()

	for _, c := range consumers {
		c(e)
	}
	return e.LSN
}

func (j *InProcess) RegisterConsumer(c Consumer) func() {
	j.mu.Lock()
	id := j.nextSub
	j.nextSub++
	j.consumers[id] = c
	j.mu.Unlock()
	return func() {
		j.mu.Lock()
		delete(j.consumers, id)
		j.mu.Unlock()
	}
}

func (j *InProcess) CurrentLSN() LSN { j.mu.Lock(); defer j.mu.Unlock(); return j.lsn }

func (j *InProcess) OldestRetainedLSN() LSN {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.ringStart
}

// EntriesSince returns every retained entry with LSN > from, or
// ok=false if from has already aged out of the ring buffer.
func (j *InProcess) EntriesSince(from LSN) (entries []Entry, ok bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if from < j.ringStart {
		return nil, false
	}
	offset := int(from - j.ringStart)
	if offset >= len(j.ring) {
		return nil, true
	}
	out := make([]Entry, len(j.ring[offset:]))
	copy(out, j.ring[offset:])
	return out, true
}
