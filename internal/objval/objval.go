// Package objval defines the record shapes that live in a shard's keyspace:
// PrimeKey and PrimeValue, per spec.md §3 DATA MODEL.
package objval

// Kind discriminates the tagged union a PrimeValue carries.
type Kind uint8

const (
	KindString Kind = iota
	KindList
	KindSet
	KindHash
	KindSortedSet
	KindJSON
	KindStream
	KindBloom
	KindHLL
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindSet:
		return "set"
	case KindHash:
		return "hash"
	case KindSortedSet:
		return "zset"
	case KindJSON:
		return "json"
	case KindStream:
		return "stream"
	case KindBloom:
		return "bloom"
	case KindHLL:
		return "hll"
	default:
		return "unknown"
	}
}

// Encoding discriminates a value's in-memory representation.
type Encoding uint8

const (
	EncodingPacked Encoding = iota
	EncodingUnpacked
)

// Flag bits shared by PrimeKey and PrimeValue, packed into a single byte
// each (spec.md §9 "Object-tagged unions").
type KeyFlag uint8

const (
	KeyInline KeyFlag = 1 << iota
	KeySticky
	KeyTouched
)

type ValFlag uint8

const (
	ValHasExpire ValFlag = 1 << iota
	ValHasMcFlag
	ValExternal
	ValCool
	ValStashPending
)

// PrimeKey is the compact byte-string key stored in PrimeTable. Keys carry
// no score; three flag bits track storage/eviction/access state.
type PrimeKey struct {
	bytes []byte
	flags KeyFlag
}

func NewPrimeKey(key string) PrimeKey {
	return PrimeKey{bytes: []byte(key), flags: KeyInline}
}

func (k PrimeKey) String() string { return string(k.bytes) }
func (k PrimeKey) Bytes() []byte  { return k.bytes }

func (k PrimeKey) Sticky() bool  { return k.flags&KeySticky != 0 }
func (k PrimeKey) Touched() bool { return k.flags&KeyTouched != 0 }
func (k PrimeKey) Inline() bool  { return k.flags&KeyInline != 0 }

func (k *PrimeKey) SetSticky(v bool)  { k.setFlag(KeySticky, v) }
func (k *PrimeKey) SetTouched(v bool) { k.setFlag(KeyTouched, v) }

func (k *PrimeKey) setFlag(f KeyFlag, v bool) {
	if v {
		k.flags |= f
	} else {
		k.flags &^= f
	}
}

// ExternalDescriptor points at a tiered-storage-resident value; it is the
// "descriptor" a PrimeValue falls back on when external is set.
type ExternalDescriptor struct {
	Offset uint64
	Size   uint32
}

// PrimeValue is the tagged union over all supported object kinds, plus the
// flags and bookkeeping fields spec.md §3 requires.
type PrimeValue struct {
	Kind     Kind
	Encoding Encoding
	Flags    ValFlag

	// Version is the per-record stamp assigned at insertion (invariant 5):
	// DbSlice sets it to the bucket version InsertNew leaves behind. Later
	// mutations do not change it.
	Version uint64

	// inline payload, used when Flags&ValExternal == 0.
	raw interface{}

	// external descriptor, used when Flags&ValExternal != 0. When ValCool
	// is also set, raw still holds a warm in-memory copy.
	Descriptor ExternalDescriptor

	McFlag uint32

	// malloc tracking for the FindMutable guard's heap-delta accounting.
	heapUsed int64
}

func NewPrimeValue(kind Kind, raw interface{}) *PrimeValue {
	return &PrimeValue{Kind: kind, Encoding: EncodingPacked, raw: raw}
}

func (v *PrimeValue) Raw() interface{}   { return v.raw }
func (v *PrimeValue) SetRaw(r interface{}) { v.raw = r }

func (v *PrimeValue) HasExpire() bool    { return v.Flags&ValHasExpire != 0 }
func (v *PrimeValue) HasMcFlag() bool    { return v.Flags&ValHasMcFlag != 0 }
func (v *PrimeValue) External() bool     { return v.Flags&ValExternal != 0 }
func (v *PrimeValue) Cool() bool         { return v.Flags&ValCool != 0 }
func (v *PrimeValue) StashPending() bool { return v.Flags&ValStashPending != 0 }

func (v *PrimeValue) SetHasExpire(b bool)    { v.setFlag(ValHasExpire, b) }
func (v *PrimeValue) SetHasMcFlag(b bool)    { v.setFlag(ValHasMcFlag, b) }
func (v *PrimeValue) SetExternal(b bool)     { v.setFlag(ValExternal, b) }
func (v *PrimeValue) SetCool(b bool)         { v.setFlag(ValCool, b) }
func (v *PrimeValue) SetStashPending(b bool) { v.setFlag(ValStashPending, b) }

func (v *PrimeValue) setFlag(f ValFlag, b bool) {
	if b {
		v.Flags |= f
	} else {
		v.Flags &^= f
	}
}

// MallocUsed is a best-effort estimate of the value's heap footprint, used
// by DbSlice to keep obj_memory_usage monotone-intended (invariant 6).
func (v *PrimeValue) MallocUsed() int64 {
	if v.External() && !v.Cool() {
		return 0
	}
	switch r := v.raw.(type) {
	case []byte:
		return int64(len(r)) + 16
	case string:
		return int64(len(r)) + 16
	default:
		return v.heapUsed
	}
}

// SetHeapHint lets containers whose size isn't derivable from raw's Go type
// (sets, sorted maps) report their own accounting.
func (v *PrimeValue) SetHeapHint(n int64) { v.heapUsed = n }

// Validate checks invariant 4 from spec.md §3 (cool implies external; a
// stash-pending value with no in-memory payload must be cool); used by tests and
// debug-build consistency checks (spec.md §9 back-reference note).
func (v *PrimeValue) Validate() bool {
	if v.Cool() && !v.External() {
		return false
	}
	if v.StashPending() && v.raw == nil && !v.Cool() {
		return false
	}
	return true
}
