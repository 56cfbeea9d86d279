// Package throttlefamily wires CL.THROTTLE (spec.md §6 item 4) onto the
// command registry, persisting each key's theoretical arrival time
// through the normal keyspace (internal/dbslice) so it inherits the
// same expiry and eviction accounting as any other string value.
package throttlefamily

import (
	"strconv"

	"github.com/jorge882/dragonfly/internal/command"
	"github.com/jorge882/dragonfly/internal/dberrors"
	"github.com/jorge882/dragonfly/internal/dbslice"
	"github.com/jorge882/dragonfly/internal/objval"
	"github.com/jorge882/dragonfly/internal/throttle"
)

// Register installs CL.THROTTLE onto reg, backed by slice.
func Register(reg *command.Registry, slice *dbslice.Slice) {
	reg.Register(&command.Command{
		Name:    "CL.THROTTLE",
		Handler: handler(slice),
		Arity:   -4,
		Flags:   command.Write | command.Fast,
		FirstKey: 1, LastKey: 1,
	})
}

// sliceStore adapts throttle.Store onto one database of the sharded
// keyspace: the TAT is stored as the ASCII decimal string value of the
// key, with the key's own expiry set to the TAT so the record falls out
// of the keyspace once it stops mattering to the limiter.
type sliceStore struct {
	slice   *dbslice.Slice
	dbIndex int
}

func (s *sliceStore) GetTAT(key string) (int64, bool, *dberrors.Error) {
	val, derr := s.slice.FindReadOnlyTyped(dbslice.DbContext{DbIndex: s.dbIndex}, key, objval.KindString)
	if derr != nil {
		if dberrors.Is(derr, dberrors.KeyNotFound) {
			return 0, false, nil
		}
		return 0, false, derr
	}
	var raw []byte
	switch r := val.Raw().(type) {
	case []byte:
		raw = r
	case string:
		raw = []byte(r)
	}
	n, perr := strconv.ParseInt(string(raw), 10, 64)
	if perr != nil {
		return 0, false, nil
	}
	return n, true, nil
}

func (s *sliceStore) SetTAT(key string, tatMs int64, expireAtMs int64) *dberrors.Error {
	return s.slice.AddOrUpdate(dbslice.DbContext{DbIndex: s.dbIndex}, key, objval.KindString, []byte(strconv.FormatInt(tatMs, 10)), expireAtMs)
}

func handler(slice *dbslice.Slice) command.Handler {
	return func(ctx command.Context, rb command.Reply, args [][]byte) {
		lim := throttle.New(&sliceStore{slice: slice, dbIndex: ctx.DbIndex})
		key := string(args[0])
		maxBurst, e1 := strconv.ParseInt(string(args[1]), 10, 64)
		count, e2 := strconv.ParseInt(string(args[2]), 10, 64)
		periodSec, e3 := strconv.ParseInt(string(args[3]), 10, 64)
		if e1 != nil || e2 != nil || e3 != nil {
			rb.SendError(dberrors.New(dberrors.InvalidInt, "value is not an integer or out of range"))
			return
		}
		quantity := int64(1)
		if len(args) > 4 {
			q, perr := strconv.ParseInt(string(args[4]), 10, 64)
			if perr != nil {
				rb.SendError(dberrors.New(dberrors.InvalidInt, "value is not an integer or out of range"))
				return
			}
			quantity = q
		}

		res, err := lim.Throttle(key, maxBurst, count, periodSec, quantity)
		if err != nil {
			rb.SendError(dberrors.New(dberrors.InvalidValue, "%v", err))
			return
		}

		limited := int64(0)
		if res.Limited {
			limited = 1
		}
		rb.SendArray([]command.Reply{
			command.NewLongValue(limited),
			command.NewLongValue(res.Limit),
			command.NewLongValue(res.Remaining),
			command.NewLongValue(res.RetryAfterSec),
			command.NewLongValue(res.ResetAfterSec),
		})
	}
}
