// Package snapshot implements SliceSnapshot, the point-in-time walker
// from spec.md §4.4: it serializes a shard's entire keyspace as of a
// captured version S while the shard keeps accepting writes, optionally
// followed by a live journal tail.
//
// Byte layout is explicitly out of scope (spec.md §4.4, §6 item 5); this
// package only prescribes ordering: a key's first serialized value
// strictly precedes any journal entry for that key in the combined
// output stream.
package snapshot

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"time"

	pool "github.com/jolestar/go-commons-pool/v2"
	"github.com/jorge882/dragonfly/internal/dberrors"
	"github.com/jorge882/dragonfly/internal/dbslice"
	"github.com/jorge882/dragonfly/internal/journal"
	"github.com/jorge882/dragonfly/internal/logging"
	"github.com/jorge882/dragonfly/internal/objval"
	"github.com/jorge882/dragonfly/internal/primetable"
	"github.com/jorge882/dragonfly/internal/tiered"
)

// minBlobBytes is the buffered-bytes threshold PushSerialized(false)
// checks before flushing to the consumer (spec.md §4.4 step 2).
const minBlobBytes = 32 * 1024

// Counters tracks the walker's progress, matching the names spec.md
// §4.4 step 3 calls out: loop_serialized, side_saved, savecb_calls,
// skipped.
type Counters struct {
	LoopSerialized int64
	SideSaved      int64 // same as the teacher's side-save terminology
	SavecbCalls    int64
	Skipped        int64
}

// Consumer receives serialized blobs as PushSerialized flushes them.
type Consumer func(blob []byte)

type delayedEntry struct {
	dbIndex int
	key     string
	future  tiered.ReadFuture
}

// Snapshot walks one shard's DbSlice and streams the result to Consumer,
// optionally continuing with a live journal tail (spec.md §4.4).
type Snapshot struct {
	slice        *dbslice.Slice
	tiered       tiered.Store
	consumer     Consumer
	pointInTime  bool
	streamJournal bool

	version uint64 // S, captured at Start

	bigValueMu sync.Mutex // serializes bucket saves, side-saves and journal writes
	poolCtx    context.Context
	bufPool    *pool.ObjectPool
	active     *bytes.Buffer // current accumulation buffer, borrowed from bufPool

	changeSubID     int
	moveSubID       int
	injectedJournal journal.Journal
	journalStop     func()

	delayed []delayedEntry

	counters Counters

	cancel  context.CancelFunc
	done    chan struct{}
	log     interface{ Debug(string, ...interface{}) }
}

type bufFactory struct{}

func (bufFactory) MakeObject(ctx context.Context) (*pool.PooledObject, error) {
	return pool.NewPooledObject(new(bytes.Buffer)), nil
}
func (bufFactory) DestroyObject(context.Context, *pool.PooledObject) error { return nil }
func (bufFactory) ValidateObject(context.Context, *pool.PooledObject) bool { return true }
func (bufFactory) ActivateObject(context.Context, *pool.PooledObject) error {
	return nil
}
func (bufFactory) PassivateObject(ctx context.Context, object *pool.PooledObject) error {
	object.Object.(*bytes.Buffer).Reset()
	return nil
}

// New builds a walker over slice, pointInTime gating bucket saves by
// version (spec.md's point_in_time_snapshot flag).
func New(ctx context.Context, slice *dbslice.Slice, ts tiered.Store, consumer Consumer, pointInTime bool) *Snapshot {
	s := &Snapshot{
		slice:       slice,
		tiered:      ts,
		consumer:    consumer,
		pointInTime: pointInTime,
		poolCtx:     ctx,
		bufPool:     pool.NewObjectPoolWithDefaultConfig(ctx, bufFactory{}),
		log:         logging.Named("snapshot"),
	}
	s.active = s.borrowBuf()
	return s
}

// borrowBuf draws a scratch buffer from bufPool (spec.md §4.4 "Serialization
// buffer pooling"); if BorrowObject fails or hands back something other
// than a buffer, it falls back to a fresh buffer.
func (s *Snapshot) borrowBuf() *bytes.Buffer {
	obj, err := s.bufPool.BorrowObject(s.poolCtx)
	if err != nil {
		return new(bytes.Buffer)
	}
	buf, ok := obj.(*bytes.Buffer)
	if !ok {
		return new(bytes.Buffer)
	}
	return buf
}

// returnBuf releases buf back to bufPool after its contents have been
// handed to Consumer.
func (s *Snapshot) returnBuf(buf *bytes.Buffer) {
	_ = s.bufPool.ReturnObject(s.poolCtx, buf)
}

// Start begins the walk: it captures S from the shard's current version,
// registers the side-save callback, optionally arms journal streaming,
// and spawns the worker goroutine (spec.md §4.4 step 1).
func (s *Snapshot) Start(ctx context.Context, streamJournal bool) {
	s.streamJournal = streamJournal
	s.version = s.slice.CurrentVersion()
	s.changeSubID = s.slice.RegisterOnChangeAtVersion(s.version, s.onDbChange)
	s.moveSubID = s.slice.RegisterOnMove(s.onMove)

	if streamJournal {
		if j := s.journalOf(); j != nil {
			s.journalStop = j.RegisterConsumer(s.onJournalEntry)
		}
	}

	workerCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.worker(workerCtx)
}

// journalOf returns the journal this Snapshot streams from, if WithJournal
// was called.
func (s *Snapshot) journalOf() journal.Journal { return s.injectedJournal }

// WithJournal wires the journal this snapshot streams from when
// streamJournal is requested. Kept separate from the constructor so
// tests exercising only the full-scan path don't need to provide one.
func (s *Snapshot) WithJournal(j journal.Journal) *Snapshot {
	s.injectedJournal = j
	return s
}

func (s *Snapshot) worker(ctx context.Context) {
	defer close(s.done)
	for dbIndex := 0; dbIndex < s.slice.NumDBs(); dbIndex++ {
		tbl := s.slice.Table(dbIndex)
		cursor := primetable.Cursor{}
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			next, ok := tbl.Prime.TraverseBuckets(cursor, func(view primetable.BucketView) {
				s.bucketSaveCb(dbIndex, view)
			})
			if !ok {
				break
			}
			cursor = next
			// Cooperative yield between buckets (spec.md §4.4 step 2's
			// "yield every ~15us of run-time"); Go's scheduler preempts
			// goroutines on its own, but an explicit yield keeps this
			// shard's other dispatched work from starving behind a long
			// walk.
			time.Sleep(0)
		}
	}
	s.PushSerialized(false)
}

// bucketSaveCb is BucketSaveCb from spec.md §4.4 step 2: buckets already
// captured (version >= S under point-in-time mode) are skipped; others
// are stamped with S and serialized now, under the big-value mutex that
// also guards side-saves and journal writes so the combined stream never
// interleaves a key's value and a later journal entry for it out of
// order.
func (s *Snapshot) bucketSaveCb(dbIndex int, view primetable.BucketView) {
	s.counters.SavecbCalls++
	if s.pointInTime && view.Version() >= s.version {
		s.counters.Skipped++
		return
	}

	s.bigValueMu.Lock()
	defer s.bigValueMu.Unlock()

	view.SetVersion(s.version)
	view.Each(func(key objval.PrimeKey, val *objval.PrimeValue) bool {
		s.serializeLocked(dbIndex, key, val)
		s.counters.LoopSerialized++
		return true
	})
}

// onDbChange is OnDbChange: a mutation landing in a bucket the walker
// hasn't captured yet (version < S) is serialized immediately — the
// side-save path (spec.md §4.4 step 3).
func (s *Snapshot) onDbChange(ev dbslice.ChangeEvent) {
	if ev.BucketVersion >= s.version {
		return
	}
	s.bigValueMu.Lock()
	defer s.bigValueMu.Unlock()

	tbl := s.slice.Table(ev.DbIndex)
	it := tbl.Prime.Find(dbslice.Fingerprint(ev.Key), []byte(ev.Key))
	if !it.Valid() {
		return
	}
	s.serializeLocked(ev.DbIndex, it.Key(), it.Value())
	s.counters.SideSaved++
}

func (s *Snapshot) onMove(source, dest primetable.Cursor) {
	// A relocated record's destination bucket inherits the source
	// bucket's version, so the walker (or a pending side-save) will
	// still decide correctly whether it's already captured; no action
	// needed beyond the notification existing for observers that track
	// cursors (e.g. a resumable cursor cache), which this reference
	// walker doesn't keep.
}

// serializeLocked appends an opaque (key, value) record to the current
// buffer. Must be called with bigValueMu held. External values are
// handed to the delayed-read path instead of being serialized inline
// (spec.md §4.4 "Delayed external reads").
func (s *Snapshot) serializeLocked(dbIndex int, key objval.PrimeKey, val *objval.PrimeValue) {
	if val.External() {
		h := tiered.Handle{Offset: val.Descriptor.Offset, Size: val.Descriptor.Size}
		s.delayed = append(s.delayed, delayedEntry{
			dbIndex: dbIndex,
			key:     key.String(),
			future:  s.tiered.Read(context.Background(), h),
		})
		return
	}
	writeRecord(s.active, dbIndex, key.String(), rawBytes(val))
}

// rawBytes renders a PrimeValue's in-memory payload as bytes for the
// (opaque, out-of-scope-format) serialized stream.
func rawBytes(val *objval.PrimeValue) []byte {
	switch r := val.Raw().(type) {
	case []byte:
		return r
	case string:
		return []byte(r)
	default:
		return nil
	}
}

func writeRecord(buf *bytes.Buffer, dbIndex int, key string, value []byte) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(dbIndex))
	buf.Write(hdr[:])
	writeLenPrefixed(buf, []byte(key))
	writeLenPrefixed(buf, value)
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

// onJournalEntry appends one journal entry to the combined output,
// holding the same mutex bucket saves and side-saves use so that, for
// any key, its first serialized value precedes any journal entry for it
// (spec.md §4.4 step 4). This relies on the caller already having fired
// the change bus before calling Journal.Log for the same mutation
// (spec.md §5 "Journal and change-bus ordering"), which is the Journal
// implementation's documented contract, not this package's.
func (s *Snapshot) onJournalEntry(e journal.Entry) {
	s.bigValueMu.Lock()
	defer s.bigValueMu.Unlock()
	writeJournalRecord(s.active, e)
}

func writeJournalRecord(buf *bytes.Buffer, e journal.Entry) {
	buf.WriteByte(0xFE) // journal-record marker, distinguishing from a kv record
	var lsn [8]byte
	binary.BigEndian.PutUint64(lsn[:], uint64(e.LSN))
	buf.Write(lsn[:])
	writeRecord(buf, e.DbIndex, e.Key, e.Payload)
}

// PushSerialized flushes the accumulated buffer to Consumer if it's at
// least minBlobBytes, or unconditionally when force is true. force also
// awaits every delayed external read and serializes it before flushing
// (spec.md §4.4 "Delayed external reads").
func (s *Snapshot) PushSerialized(force bool) {
	if force {
		s.bigValueMu.Lock()
		pending := s.delayed
		s.delayed = nil
		s.bigValueMu.Unlock()

		for _, d := range pending {
			bytesVal, err := d.future.Await(context.Background())
			if err != nil {
				continue
			}
			s.bigValueMu.Lock()
			writeRecord(s.active, d.dbIndex, d.key, bytesVal)
			s.bigValueMu.Unlock()
		}
	}

	s.bigValueMu.Lock()
	defer s.bigValueMu.Unlock()
	if !force && s.active.Len() < minBlobBytes {
		return
	}
	if s.active.Len() == 0 {
		return
	}
	flushed := s.active
	s.active = s.borrowBuf()
	blob := make([]byte, flushed.Len())
	copy(blob, flushed.Bytes())
	s.returnBuf(flushed)
	s.consumer(blob)
}

// FinalizeJournalStream unregisters the journal hook, waits for the
// worker to finish (or cancels it if cancel is true), flushes any
// remaining buffered bytes (awaiting delayed reads), and tears down the
// change/move subscriptions (spec.md §4.4 step 5).
func (s *Snapshot) FinalizeJournalStream(cancel bool) {
	if cancel && s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	if s.journalStop != nil {
		s.journalStop()
	}
	s.PushSerialized(true)
	s.slice.UnregisterOnChange(s.changeSubID)
	s.slice.UnregisterOnMove(s.moveSubID)
}

// Counters returns a snapshot of the progress counters.
func (s *Snapshot) Counters() Counters { return s.counters }

// StartIncremental streams journal entries from lsn up to the current
// LSN, skipping the full keyspace walk entirely (spec.md §4.4
// "Incremental mode"). If lsn has already aged out of the journal's
// retained window it fails with a state-not-recoverable error so the
// caller falls back to a full sync.
func (s *Snapshot) StartIncremental(lsn journal.LSN) error {
	j := s.journalOf()
	if j == nil {
		return dberrors.New(dberrors.StateNotRecoverable, "no journal configured")
	}
	if lsn < j.OldestRetainedLSN() {
		return dberrors.New(dberrors.StateNotRecoverable, "requested lsn %d has aged out of the journal", lsn)
	}

	// Full-sync-cut marker: downstream consumers use this to know no
	// prior full-keyspace blob is coming, only the journal tail.
	s.bigValueMu.Lock()
	s.active.WriteByte(0xFF)
	s.bigValueMu.Unlock()

	replay, ok := entriesSince(j, lsn)
	if !ok {
		return dberrors.New(dberrors.StateNotRecoverable, "requested lsn %d has aged out of the journal", lsn)
	}
	for _, e := range replay {
		s.onJournalEntry(e)
	}

	s.journalStop = j.RegisterConsumer(s.onJournalEntry)
	s.PushSerialized(false)
	return nil
}

// entriesSinceJournal is satisfied by journal.InProcess; StartIncremental
// uses it to replay already-retained entries before switching to live
// consumption. Other Journal implementations can opt in by implementing
// the same method.
type entriesSinceJournal interface {
	EntriesSince(from journal.LSN) ([]journal.Entry, bool)
}

func entriesSince(j journal.Journal, from journal.LSN) ([]journal.Entry, bool) {
	esj, ok := j.(entriesSinceJournal)
	if !ok {
		return nil, true
	}
	return esj.EntriesSince(from)
}
