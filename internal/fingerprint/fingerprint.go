// Package fingerprint computes the stable per-key hash the rest of the
// engine uses for shard routing and intent-lock identity (spec.md §2, §5).
//
// The teacher's cluster layer hashes keys with a consistent-hash ring
// (lib/consistenthash) to support slot migration; that machinery is out of
// scope for the core (spec.md §1), so a plain 64-bit murmur3 hash modulo the
// shard count is enough here — once a key lands on a shard it stays there
// for the engine's lifetime.
package fingerprint

import "github.com/spaolacci/murmur3"

// Of returns the 64-bit fingerprint of a key's bytes.
func Of(key []byte) uint64 {
	return murmur3.Sum64(key)
}

// OfString is a convenience wrapper for string keys.
func OfString(key string) uint64 {
	return murmur3.Sum64([]byte(key))
}

// Shard maps a fingerprint to one of numShards shards.
func Shard(fp uint64, numShards int) int {
	if numShards <= 0 {
		return 0
	}
	return int(fp % uint64(numShards))
}
