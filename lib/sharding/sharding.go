package sharding

import (
	"crypto/md5"
	"math/big"

	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/cespare/xxhash/v2"
)

// Kind identifies a sharding scheme ("sharding_scheme" in a domain spec).
type Kind string

const (
	KindHashMod Kind = "hashmod" // MD5 digest as unsigned big integer, modulo the shard count
	KindXXHash  Kind = "xxhash"  // xxHash64 of the key, modulo the shard count
)

// IScheme maps encoded keys to shard indexes. Implementations are pure
// functions: the same key and shard count always produce the same index,
// in every process and on every platform.
type IScheme interface {
	// ShardIndex returns the shard in [0, numShards) that key belongs to.
	// numShards must be positive.
	ShardIndex(key []byte, numShards int) int
	// Kind returns the identifier of the scheme.
	Kind() Kind
}

// Kinds lists all scheme kinds.
func Kinds() []Kind {
	return []Kind{KindHashMod, KindXXHash}
}

// Lookup returns the scheme registered under kind.
func Lookup(kind Kind) (IScheme, error) {
	switch kind {
	case KindHashMod:
		return HashMod{}, nil
	case KindXXHash:
		return XXHash{}, nil
	default:
		return nil, errs.New(errs.CodeInvalidSpec, "unknown sharding scheme %q (expected one of %v)", kind, Kinds())
	}
}

// --------------------------------------------------------------------------
// Schemes
// --------------------------------------------------------------------------

// HashMod interprets the 16 byte MD5 digest of the key as a non-negative
// big endian integer and reduces it modulo the shard count.
type HashMod struct{}

func (HashMod) Kind() Kind { return KindHashMod }

func (HashMod) ShardIndex(key []byte, numShards int) int {
	sum := md5.Sum(key)
	n := new(big.Int).SetBytes(sum[:])
	return int(n.Mod(n, big.NewInt(int64(numShards))).Int64())
}

// XXHash reduces the 64 bit xxHash of the key modulo the shard count. It is
// considerably faster than HashMod but produces a different assignment, so
// a domain can never switch between the two.
type XXHash struct{}

func (XXHash) Kind() Kind { return KindXXHash }

func (XXHash) ShardIndex(key []byte, numShards int) int {
	return int(xxhash.Sum64(key) % uint64(numShards))
}
