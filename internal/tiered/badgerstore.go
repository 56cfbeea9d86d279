package tiered

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v3"
)

// BadgerStore is a reference Store implementation backed by
// github.com/dgraph-io/badger/v3, an embedded LSM-tree KV store. It exists
// so tests can exercise the external/cool/stash-pending transitions
// end-to-end without the core ever depending on badger's on-disk format —
// TryStash/Read/Delete/CancelStash is the entire contract DbSlice and
// SliceSnapshot see.
type BadgerStore struct {
	db      *badger.DB
	nextOff uint64
}

func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("tiered: open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error { return b.db.Close() }

func (b *BadgerStore) dbKey(h Handle) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, h.Offset)
	return buf
}

func (b *BadgerStore) TryStash(ctx context.Context, key string, value []byte) (Handle, bool) {
	off := atomic.AddUint64(&b.nextOff, 1)
	h := Handle{Offset: off, Size: uint32(len(value))}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.dbKey(h), value)
	})
	if err != nil {
		return Handle{}, false
	}
	return h, true
}

type badgerReadFuture struct {
	b *BadgerStore
	h Handle
}

func (f *badgerReadFuture) Await(ctx context.Context) ([]byte, error) {
	var out []byte
	err := f.b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(f.b.dbKey(f.h))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("tiered: read %+v: %w", f.h, err)
	}
	return out, nil
}

func (b *BadgerStore) Read(ctx context.Context, h Handle) ReadFuture {
	return &badgerReadFuture{b: b, h: h}
}

func (b *BadgerStore) Delete(ctx context.Context, h Handle) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(b.dbKey(h))
	})
}

func (b *BadgerStore) CancelStash(ctx context.Context, h Handle) error {
	return b.Delete(ctx, h)
}
