// Package tiered defines the external/cold storage collaborator
// (spec.md §1, §4.4 "Delayed external reads", GLOSSARY "Tiered storage").
// Byte layout is explicitly out of scope; this package only prescribes the
// call shapes DbSlice and SliceSnapshot depend on.
package tiered

import "context"

// Handle addresses a value's bytes on tiered storage.
type Handle struct {
	Offset uint64
	Size   uint32
}

// ReadFuture is returned by Read; the snapshotter awaits it on
// PushSerialized(force=true) (spec.md §4.4 "Delayed external reads").
type ReadFuture interface {
	// Await blocks until the bytes are available or ctx is cancelled.
	Await(ctx context.Context) ([]byte, error)
}

// Store is the interface the core consumes. TryStash is non-blocking,
// Read is blocking-via-future, Delete/CancelStash are synchronous
// (spec.md §5 "Shared resources & locking").
type Store interface {
	// TryStash offers value for asynchronous write-back; returns false if
	// the store is currently unable to accept more pending stashes (the
	// caller should leave stash-pending set and retry later).
	TryStash(ctx context.Context, key string, value []byte) (Handle, bool)

	// Read schedules a read of the bytes at h and returns a future.
	Read(ctx context.Context, h Handle) ReadFuture

	// Delete synchronously removes h's bytes.
	Delete(ctx context.Context, h Handle) error

	// CancelStash cancels a pending TryStash for h, if it hasn't landed
	// yet; synchronous.
	CancelStash(ctx context.Context, h Handle) error
}
