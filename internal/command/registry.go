// Package command implements the command registry from spec.md §6 item
// 1: name, flag bitmask, arity, first/last key index and ACL categories,
// ported from the teacher's database/command.go + database/db.go
// cmdTable/validateArity pattern and generalized from a single flat
// dict-backed DB to the sharded dbslice.Slice this module uses.
package command

import (
	"context"
	"strings"
)

// Flag is one bit of a command's flag bitmask (spec.md §6 item 1).
type Flag uint32

const (
	Write Flag = 1 << iota
	Readonly
	Denyoom
	Fast
	Admin
	Noscript
	Blocking
	Hidden
	InterleavedKeys
	GlobalTrans
	StoreLastKey
	VariadicKeys
	NoAutoJournal
	NoKeyTransactional
	Idempotent
)

// Context carries what a Handler needs beyond the parsed argument list:
// the target database index and the reply builder's home for command
// output, matching spec.md §6 item 1's "a context holding the
// transaction handle, reply builder, and the connection's state" (the
// transaction handle and connection state live above this package, in
// the wire/transaction layer; Context only carries what the core itself
// needs).
type Context struct {
	context.Context
	DbIndex int
}

// Reply is the minimal abstract reply-builder surface spec.md §6 item 2
// describes ("an abstract reply builder with operations to send
// OK/error/null/bulk-string/long/double/array"); protocol-specific hooks
// (SendStored, SendMiss, SendGetEnd) live on extensions of this
// interface in the memcache family, not here.
type Reply interface {
	SendOK()
	SendError(err error)
	SendNull()
	SendBulkString(b []byte)
	SendLong(n int64)
	SendDouble(f float64)
	SendArray(elems []Reply)
}

// Handler executes one command invocation.
type Handler func(ctx Context, rb Reply, args [][]byte)

// Command is one registered command's static metadata plus its handler.
type Command struct {
	Name         string
	Handler      Handler
	Arity        int // positive = exact, negative = minimum |arity|
	Flags        Flag
	FirstKey     int
	LastKey      int // -1 = end
	ACLCategories []string
}

func (c *Command) HasFlag(f Flag) bool { return c.Flags&f != 0 }

// ValueKind tags what a ValueReply recorded.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueOK
	ValueError
	ValueBulkString
	ValueLong
	ValueDouble
	ValueArray
)

// ValueReply is a concrete, inert Reply: it records whichever Send* call
// was made against it instead of writing to a connection, the way the
// teacher's protocol.BulkReply/IntReply/StatusReply are plain values that
// all implement the same reply interface. Handlers that build a nested
// array (MGET, GAT) construct one ValueReply per element and hand the
// slice to the real connection's Reply.SendArray, which renders each
// element by inspecting Kind().
type ValueReply struct {
	kind  ValueKind
	err   error
	bulk  []byte
	long  int64
	dbl   float64
	elems []Reply
}

func NewNullValue() *ValueReply          { return &ValueReply{kind: ValueNull} }
func NewBulkValue(b []byte) *ValueReply  { return &ValueReply{kind: ValueBulkString, bulk: b} }
func NewLongValue(n int64) *ValueReply   { return &ValueReply{kind: ValueLong, long: n} }
func NewDoubleValue(f float64) *ValueReply { return &ValueReply{kind: ValueDouble, dbl: f} }

func (v *ValueReply) Kind() ValueKind  { return v.kind }
func (v *ValueReply) Err() error       { return v.err }
func (v *ValueReply) Bulk() []byte     { return v.bulk }
func (v *ValueReply) Long() int64      { return v.long }
func (v *ValueReply) Double() float64  { return v.dbl }
func (v *ValueReply) Elems() []Reply   { return v.elems }

func (v *ValueReply) SendOK()               { v.kind = ValueOK }
func (v *ValueReply) SendError(err error)   { v.kind = ValueError; v.err = err }
func (v *ValueReply) SendNull()             { v.kind = ValueNull }
func (v *ValueReply) SendBulkString(b []byte) { v.kind = ValueBulkString; v.bulk = b }
func (v *ValueReply) SendLong(n int64)      { v.kind = ValueLong; v.long = n }
func (v *ValueReply) SendDouble(f float64)  { v.kind = ValueDouble; v.dbl = f }
func (v *ValueReply) SendArray(elems []Reply) { v.kind = ValueArray; v.elems = elems }

// Registry holds every command known to the process. Its Rename and Alias
// methods apply the rename_command and command_alias overlays spec.md §6
// item 3 names on top of the base registration; restricted_commands has
// no counterpart here.
type Registry struct {
	byName  map[string]*Command
	aliases map[string]string
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Command), aliases: make(map[string]string)}
}

// Register adds cmd under its own (lowercased) name.
func (r *Registry) Register(cmd *Command) {
	r.byName[strings.ToLower(cmd.Name)] = cmd
}

// Alias makes lookups for alias resolve to target, matching the
// command_alias flag (spec.md §6 item 3).
func (r *Registry) Alias(alias, target string) {
	r.aliases[strings.ToLower(alias)] = strings.ToLower(target)
}

// Rename moves from's registration to the to name and removes from,
// matching the rename_command flag. A from renamed to "" disables the
// command entirely.
func (r *Registry) Rename(from, to string) {
	from = strings.ToLower(from)
	cmd, ok := r.byName[from]
	if !ok {
		return
	}
	delete(r.byName, from)
	if to == "" {
		return
	}
	r.byName[strings.ToLower(to)] = cmd
}

// Lookup resolves name (following aliases) to its Command, or ok=false.
func (r *Registry) Lookup(name string) (*Command, bool) {
	name = strings.ToLower(name)
	if target, ok := r.aliases[name]; ok {
		name = target
	}
	cmd, ok := r.byName[name]
	return cmd, ok
}

// ValidateArity reports whether argc (including the command name
// itself, matching the teacher's cmdLine convention) satisfies arity:
// an exact count when arity >= 0, a minimum of |arity| when arity < 0.
func ValidateArity(arity, argc int) bool {
	if arity >= 0 {
		return argc == arity
	}
	return argc >= -arity
}
