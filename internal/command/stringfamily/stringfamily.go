// Package stringfamily implements the string command family from
// spec.md §6 item 4, grounded in the teacher's database/string.go
// (execGet/execSet/execGetEx/execIncrByFloat and friends) but rewired
// against internal/dbslice's Find/AddOrUpdate/UpdateExpire instead of a
// single flat dict.Dict.
package stringfamily

import (
	"strconv"

	"github.com/jorge882/dragonfly/internal/command"
	"github.com/jorge882/dragonfly/internal/dberrors"
	"github.com/jorge882/dragonfly/internal/dbslice"
	"github.com/jorge882/dragonfly/internal/objval"
	"github.com/shopspring/decimal"
)

const maxSetRangeLen = 1 << 28

// Register installs every handler in this family onto reg, wired
// against slice.
func Register(reg *command.Registry, slice *dbslice.Slice) {
	f := &family{slice: slice}

	reg.Register(&command.Command{Name: "GET", Handler: f.get, Arity: 2, Flags: command.Readonly | command.Fast, FirstKey: 1, LastKey: 1})
	reg.Register(&command.Command{Name: "SET", Handler: f.set, Arity: -3, Flags: command.Write | command.Denyoom, FirstKey: 1, LastKey: 1})
	reg.Register(&command.Command{Name: "GETDEL", Handler: f.getdel, Arity: 2, Flags: command.Write, FirstKey: 1, LastKey: 1})
	reg.Register(&command.Command{Name: "GETSET", Handler: f.getset, Arity: 3, Flags: command.Write | command.Denyoom, FirstKey: 1, LastKey: 1})
	reg.Register(&command.Command{Name: "GETEX", Handler: f.getex, Arity: -2, Flags: command.Write | command.Fast, FirstKey: 1, LastKey: 1})
	reg.Register(&command.Command{Name: "APPEND", Handler: f.appendCmd, Arity: 3, Flags: command.Write | command.Denyoom, FirstKey: 1, LastKey: 1})
	reg.Register(&command.Command{Name: "PREPEND", Handler: f.prepend, Arity: 3, Flags: command.Write | command.Denyoom, FirstKey: 1, LastKey: 1})
	reg.Register(&command.Command{Name: "MGET", Handler: f.mget, Arity: -2, Flags: command.Readonly | command.Fast, FirstKey: 1, LastKey: -1, ACLCategories: []string{"string"}})
	reg.Register(&command.Command{Name: "MSET", Handler: f.mset, Arity: -3, Flags: command.Write | command.Denyoom, FirstKey: 1, LastKey: -1})
	reg.Register(&command.Command{Name: "MSETNX", Handler: f.msetnx, Arity: -3, Flags: command.Write | command.Denyoom, FirstKey: 1, LastKey: -1})
	reg.Register(&command.Command{Name: "STRLEN", Handler: f.strlen, Arity: 2, Flags: command.Readonly | command.Fast, FirstKey: 1, LastKey: 1})
	reg.Register(&command.Command{Name: "GETRANGE", Handler: f.getrange, Arity: 4, Flags: command.Readonly, FirstKey: 1, LastKey: 1})
	reg.Register(&command.Command{Name: "SETRANGE", Handler: f.setrange, Arity: 4, Flags: command.Write | command.Denyoom, FirstKey: 1, LastKey: 1})
	reg.Register(&command.Command{Name: "INCR", Handler: f.incrBy(1), Arity: 2, Flags: command.Write | command.Denyoom | command.Fast, FirstKey: 1, LastKey: 1})
	reg.Register(&command.Command{Name: "DECR", Handler: f.incrBy(-1), Arity: 2, Flags: command.Write | command.Denyoom | command.Fast, FirstKey: 1, LastKey: 1})
	reg.Register(&command.Command{Name: "INCRBY", Handler: f.incrByArg(1), Arity: 3, Flags: command.Write | command.Denyoom | command.Fast, FirstKey: 1, LastKey: 1})
	reg.Register(&command.Command{Name: "DECRBY", Handler: f.incrByArg(-1), Arity: 3, Flags: command.Write | command.Denyoom | command.Fast, FirstKey: 1, LastKey: 1})
	reg.Register(&command.Command{Name: "INCRBYFLOAT", Handler: f.incrByFloat, Arity: 3, Flags: command.Write | command.Denyoom | command.Fast, FirstKey: 1, LastKey: 1})
	reg.Register(&command.Command{Name: "GAT", Handler: f.gat, Arity: -3, Flags: command.Write, FirstKey: 2, LastKey: -1})
}

type family struct {
	slice *dbslice.Slice
}

func (f *family) getString(ctx command.Context, key string) ([]byte, error) {
	val, derr := f.slice.FindReadOnlyTyped(dbslice.DbContext{DbIndex: ctx.DbIndex}, key, objval.KindString)
	if derr != nil {
		if dberrors.Is(derr, dberrors.KeyNotFound) {
			return nil, nil
		}
		return nil, derr
	}
	return rawBytes(val), nil
}

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

func (f *family) get(ctx command.Context, rb command.Reply, args [][]byte) {
	b, err := f.getString(ctx, string(args[0]))
	if err != nil {
		rb.SendError(err)
		return
	}
	if b == nil {
		rb.SendNull()
		return
	}
	rb.SendBulkString(b)
}

// set implements SET k v [EX|PX|EXAT|PXAT t] [NX|XX] [KEEPTTL] [GET]
// [STICK] (spec.md §6 item 4): NX/XX are mutually exclusive, KEEPTTL
// conflicts with an explicit expiry, GET returns the prior value (nil if
// absent), a non-string prior value under GET yields WRONG_TYPE.
func (f *family) set(ctx command.Context, rb command.Reply, args [][]byte) {
	key := string(args[0])
	value := args[1]

	var nx, xx, keepttl, get, stick bool
	var expireAtMs int64

	dbCtx := dbslice.DbContext{DbIndex: ctx.DbIndex}

	for i := 2; i < len(args); i++ {
		switch upper(args[i]) {
		case "NX":
			nx = true
		case "XX":
			xx = true
		case "KEEPTTL":
			keepttl = true
		case "GET":
			get = true
		case "STICK":
			stick = true
		case "EX", "PX", "EXAT", "PXAT":
			if i+1 >= len(args) {
				rb.SendError(dberrors.New(dberrors.InvalidValue, "syntax error"))
				return
			}
			n, perr := strconv.ParseInt(string(args[i+1]), 10, 64)
			if perr != nil {
				rb.SendError(dberrors.New(dberrors.InvalidInt, "value is not an integer or out of range"))
				return
			}
			switch upper(args[i]) {
			case "EX":
				expireAtMs = nowMs() + n*1000
			case "PX":
				expireAtMs = nowMs() + n
			case "EXAT":
				expireAtMs = n * 1000
			case "PXAT":
				expireAtMs = n
			}
			i++
		}
	}
	if nx && xx {
		rb.SendError(dberrors.New(dberrors.InvalidValue, "NX and XX options at the same time are not compatible"))
		return
	}
	if keepttl && expireAtMs != 0 {
		rb.SendError(dberrors.New(dberrors.InvalidValue, "KEEPTTL conflicts with an explicit expiry"))
		return
	}

	var prior []byte
	existing, derr := f.slice.FindReadOnly(dbCtx, key)
	exists := derr == nil
	if exists && get {
		if existing.Kind != objval.KindString {
			rb.SendError(dberrors.ErrWrongType)
			return
		}
		prior = rawBytes(existing)
	}
	if nx && exists {
		if get {
			rb.SendBulkString(prior)
		} else {
			rb.SendNull()
		}
		return
	}
	if xx && !exists {
		if get {
			rb.SendNull()
		} else {
			rb.SendNull()
		}
		return
	}

	finalExpire := expireAtMs
	if keepttl && exists {
		if cur, ok := f.slice.Table(ctx.DbIndex).Expire.Get(key); ok {
			finalExpire = cur
		}
	}

	if aerr := f.slice.AddOrUpdate(dbCtx, key, objval.KindString, append([]byte(nil), value...), finalExpire); aerr != nil {
		rb.SendError(aerr)
		return
	}
	if stick {
		if it := f.slice.Table(ctx.DbIndex).Prime.Find(dbslice.Fingerprint(key), []byte(key)); it.Valid() {
			it.SetSticky(true)
		}
	}

	if get {
		if prior == nil {
			rb.SendNull()
		} else {
			rb.SendBulkString(prior)
		}
		return
	}
	rb.SendOK()
}

func (f *family) getdel(ctx command.Context, rb command.Reply, args [][]byte) {
	key := string(args[0])
	b, err := f.getString(ctx, key)
	if err != nil {
		rb.SendError(err)
		return
	}
	if b == nil {
		rb.SendNull()
		return
	}
	f.slice.Del(dbslice.DbContext{DbIndex: ctx.DbIndex}, key)
	rb.SendBulkString(b)
}

func (f *family) getset(ctx command.Context, rb command.Reply, args [][]byte) {
	key := string(args[0])
	prior, err := f.getString(ctx, key)
	if err != nil {
		rb.SendError(err)
		return
	}
	if serr := f.slice.AddOrUpdate(dbslice.DbContext{DbIndex: ctx.DbIndex}, key, objval.KindString, append([]byte(nil), args[1]...), 0); serr != nil {
		rb.SendError(serr)
		return
	}
	if prior == nil {
		rb.SendNull()
		return
	}
	rb.SendBulkString(prior)
}

// getex implements GETEX k [EX|PX|EXAT|PXAT t | PERSIST].
func (f *family) getex(ctx command.Context, rb command.Reply, args [][]byte) {
	key := string(args[0])
	dbCtx := dbslice.DbContext{DbIndex: ctx.DbIndex}
	b, err := f.getString(ctx, key)
	if err != nil {
		rb.SendError(err)
		return
	}
	if b == nil {
		rb.SendNull()
		return
	}
	if len(args) > 1 {
		switch upper(args[1]) {
		case "PERSIST":
			f.slice.UpdateExpire(dbCtx, key, 0, dbslice.ExpireParams{})
		case "EX", "PX", "EXAT", "PXAT":
			if len(args) < 3 {
				rb.SendError(dberrors.New(dberrors.InvalidValue, "syntax error"))
				return
			}
			n, perr := strconv.ParseInt(string(args[2]), 10, 64)
			if perr != nil {
				rb.SendError(dberrors.New(dberrors.InvalidInt, "value is not an integer or out of range"))
				return
			}
			var deadline int64
			switch upper(args[1]) {
			case "EX":
				deadline = nowMs() + n*1000
			case "PX":
				deadline = nowMs() + n
			case "EXAT":
				deadline = n * 1000
			case "PXAT":
				deadline = n
			}
			f.slice.UpdateExpire(dbCtx, key, deadline, dbslice.ExpireParams{})
		}
	}
	rb.SendBulkString(b)
}

func (f *family) appendCmd(ctx command.Context, rb command.Reply, args [][]byte) {
	f.concat(ctx, rb, args, false)
}

func (f *family) prepend(ctx command.Context, rb command.Reply, args [][]byte) {
	f.concat(ctx, rb, args, true)
}

func (f *family) concat(ctx command.Context, rb command.Reply, args [][]byte, prepend bool) {
	key := string(args[0])
	existing, err := f.getString(ctx, key)
	if err != nil {
		rb.SendError(err)
		return
	}
	var next []byte
	if prepend {
		next = append(append([]byte(nil), args[1]...), existing...)
	} else {
		next = append(append([]byte(nil), existing...), args[1]...)
	}
	if serr := f.slice.AddOrUpdate(dbslice.DbContext{DbIndex: ctx.DbIndex}, key, objval.KindString, next, 0); serr != nil {
		rb.SendError(serr)
		return
	}
	rb.SendLong(int64(len(next)))
}

func (f *family) mget(ctx command.Context, rb command.Reply, args [][]byte) {
	out := make([]command.Reply, len(args))
	seen := make(map[string]int, len(args))
	for i, a := range args {
		k := string(a)
		if first, dup := seen[k]; dup {
			out[i] = out[first]
			continue
		}
		seen[k] = i
		b, err := f.getString(ctx, k)
		if err != nil || b == nil {
			out[i] = command.NewNullValue()
			continue
		}
		out[i] = command.NewBulkValue(b)
	}
	rb.SendArray(out)
}

func (f *family) mset(ctx command.Context, rb command.Reply, args [][]byte) {
	if len(args)%2 != 0 {
		rb.SendError(dberrors.New(dberrors.InvalidValue, "wrong number of arguments for MSET"))
		return
	}
	dbCtx := dbslice.DbContext{DbIndex: ctx.DbIndex}
	for i := 0; i+1 < len(args); i += 2 {
		f.slice.AddOrUpdate(dbCtx, string(args[i]), objval.KindString, append([]byte(nil), args[i+1]...), 0)
	}
	rb.SendOK()
}

// msetnx sets every pair only if none of the keys already exist
// (all-or-nothing existence check, per spec.md §6 item 4).
func (f *family) msetnx(ctx command.Context, rb command.Reply, args [][]byte) {
	if len(args)%2 != 0 {
		rb.SendError(dberrors.New(dberrors.InvalidValue, "wrong number of arguments for MSETNX"))
		return
	}
	dbCtx := dbslice.DbContext{DbIndex: ctx.DbIndex}
	for i := 0; i+1 < len(args); i += 2 {
		if _, derr := f.slice.FindReadOnly(dbCtx, string(args[i])); derr == nil {
			rb.SendLong(0)
			return
		}
	}
	for i := 0; i+1 < len(args); i += 2 {
		if serr := f.slice.AddNew(dbCtx, string(args[i]), objval.KindString, append([]byte(nil), args[i+1]...), 0); serr != nil {
			rb.SendLong(0)
			return
		}
	}
	rb.SendLong(1)
}

func (f *family) strlen(ctx command.Context, rb command.Reply, args [][]byte) {
	b, err := f.getString(ctx, string(args[0]))
	if err != nil {
		rb.SendError(err)
		return
	}
	rb.SendLong(int64(len(b)))
}

func (f *family) getrange(ctx command.Context, rb command.Reply, args [][]byte) {
	b, err := f.getString(ctx, string(args[0]))
	if err != nil {
		rb.SendError(err)
		return
	}
	start, e1 := strconv.Atoi(string(args[1]))
	end, e2 := strconv.Atoi(string(args[2]))
	if e1 != nil || e2 != nil {
		rb.SendError(dberrors.New(dberrors.InvalidInt, "value is not an integer or out of range"))
		return
	}
	rb.SendBulkString(sliceRange(b, start, end))
}

func sliceRange(b []byte, start, end int) []byte {
	n := len(b)
	if n == 0 {
		return nil
	}
	if start < 0 {
		start += n
	}
	if end < 0 {
		end += n
	}
	if start < 0 {
		start = 0
	}
	if end >= n {
		end = n - 1
	}
	if start > end || start >= n {
		return nil
	}
	return b[start : end+1]
}

// setrange implements SETRANGE k offset v: offset >= 0, resulting length
// <= 2^28 (spec.md §6 item 4).
func (f *family) setrange(ctx command.Context, rb command.Reply, args [][]byte) {
	key := string(args[0])
	offset, perr := strconv.Atoi(string(args[1]))
	if perr != nil || offset < 0 {
		rb.SendError(dberrors.New(dberrors.OutOfRange, "offset is out of range"))
		return
	}
	patch := args[2]
	if offset+len(patch) > maxSetRangeLen {
		rb.SendError(dberrors.New(dberrors.OutOfRange, "string exceeds maximum allowed size"))
		return
	}
	existing, err := f.getString(ctx, key)
	if err != nil {
		rb.SendError(err)
		return
	}
	next := make([]byte, max(len(existing), offset+len(patch)))
	copy(next, existing)
	copy(next[offset:], patch)
	if serr := f.slice.AddOrUpdate(dbslice.DbContext{DbIndex: ctx.DbIndex}, key, objval.KindString, next, 0); serr != nil {
		rb.SendError(serr)
		return
	}
	rb.SendLong(int64(len(next)))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// incrBy builds an INCR/DECR handler for a fixed +-1 delta.
func (f *family) incrBy(sign int64) command.Handler {
	return func(ctx command.Context, rb command.Reply, args [][]byte) {
		f.incr(ctx, rb, string(args[0]), sign)
	}
}

// incrByArg builds an INCRBY/DECRBY handler, applying sign to the parsed
// argument.
func (f *family) incrByArg(sign int64) command.Handler {
	return func(ctx command.Context, rb command.Reply, args [][]byte) {
		n, perr := strconv.ParseInt(string(args[1]), 10, 64)
		if perr != nil {
			rb.SendError(dberrors.New(dberrors.InvalidInt, "value is not an integer or out of range"))
			return
		}
		f.incr(ctx, rb, string(args[0]), sign*n)
	}
}

func (f *family) incr(ctx command.Context, rb command.Reply, key string, delta int64) {
	dbCtx := dbslice.DbContext{DbIndex: ctx.DbIndex}
	existing, _ := f.getString(ctx, key)
	var cur int64
	if existing != nil {
		n, perr := strconv.ParseInt(string(existing), 10, 64)
		if perr != nil {
			rb.SendError(dberrors.New(dberrors.InvalidInt, "value is not an integer or out of range"))
			return
		}
		cur = n
	}
	next := cur + delta
	if (delta > 0 && next < cur) || (delta < 0 && next > cur) {
		rb.SendError(dberrors.New(dberrors.InvalidInt, "increment or decrement would overflow"))
		return
	}
	if serr := f.slice.AddOrUpdate(dbCtx, key, objval.KindString, []byte(strconv.FormatInt(next, 10)), 0); serr != nil {
		rb.SendError(serr)
		return
	}
	rb.SendLong(next)
}

// incrByFloat implements INCRBYFLOAT using shopspring/decimal for exact
// base-10 arithmetic, matching the teacher's string.go use of decimal for
// the same command; NaN/Inf deltas are rejected.
func (f *family) incrByFloat(ctx command.Context, rb command.Reply, args [][]byte) {
	key := string(args[0])
	delta, derr := decimal.NewFromString(string(args[1]))
	if derr != nil {
		rb.SendError(dberrors.New(dberrors.InvalidFloat, "value is not a valid float"))
		return
	}

	existing, err := f.getString(ctx, key)
	if err != nil {
		rb.SendError(err)
		return
	}
	cur := decimal.Zero
	if existing != nil {
		v, perr := decimal.NewFromString(string(existing))
		if perr != nil {
			rb.SendError(dberrors.New(dberrors.InvalidFloat, "value is not a valid float"))
			return
		}
		cur = v
	}
	next := cur.Add(delta)
	text := next.String()
	if serr := f.slice.AddOrUpdate(dbslice.DbContext{DbIndex: ctx.DbIndex}, key, objval.KindString, []byte(text), 0); serr != nil {
		rb.SendError(serr)
		return
	}
	rb.SendBulkString([]byte(text))
}

// gat implements the memcache "get and touch" command: bulk set-expiry
// and fetch in one pass; expiry == 0 persists (spec.md §6 item 4).
func (f *family) gat(ctx command.Context, rb command.Reply, args [][]byte) {
	expirySec, perr := strconv.ParseInt(string(args[0]), 10, 64)
	if perr != nil {
		rb.SendError(dberrors.New(dberrors.InvalidInt, "value is not an integer or out of range"))
		return
	}
	dbCtx := dbslice.DbContext{DbIndex: ctx.DbIndex}
	out := make([]command.Reply, len(args)-1)
	for i, a := range args[1:] {
		key := string(a)
		b, err := f.getString(ctx, key)
		if err != nil || b == nil {
			out[i] = command.NewNullValue()
			continue
		}
		if expirySec == 0 {
			f.slice.UpdateExpire(dbCtx, key, 0, dbslice.ExpireParams{})
		} else {
			f.slice.UpdateExpire(dbCtx, key, nowMs()+expirySec*1000, dbslice.ExpireParams{})
		}
		out[i] = command.NewBulkValue(b)
	}
	rb.SendArray(out)
}

func upper(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
