// Package keystate implements the immutable key snapshot and the
// anti-value (range-tombstone) prefix-elision codec described in spec
// §3 and §4.J.
package keystate

import (
	"bytes"

	"github.com/pbeaman/persistit-sub006/pkg/dberror"
	"github.com/pbeaman/persistit-sub006/pkg/primitives"
)

// MaxKeyLength bounds the encoded length of any key the engine will
// accept, matching the invariant in spec §3.
const MaxKeyLength = 2047

// EncodedKey is the encoded byte form of a key, as produced by the
// out-of-scope key serialization layer.
type EncodedKey []byte

// KeyState is an immutable copy of an encoded key. It is interchangeable
// with a live EncodedKey as a map key: hashing, equality and ordering all
// operate on the encoded bytes.
type KeyState struct {
	bytes []byte
	hash  primitives.HashCode
	valid bool
}

// New copies k's encoded bytes into an immutable KeyState.
func New(k EncodedKey) KeyState {
	cp := make([]byte, len(k))
	copy(cp, k)
	return KeyState{bytes: cp, hash: hashBytes(cp), valid: true}
}

// Bytes returns the encoded form. Callers must not mutate the result.
func (k KeyState) Bytes() []byte { return k.bytes }

// Hash returns the memoized, deterministic, non-negative hash:
// h = ((h*17) ^ b) & 0x7FFFFFFF for each byte b, seeded at 0.
func (k KeyState) Hash() primitives.HashCode { return k.hash }

func hashBytes(b []byte) primitives.HashCode {
	h := int32(0)
	for _, c := range b {
		h = (h*17 ^ int32(c)) & 0x7FFFFFFF
	}
	return primitives.HashCode(h)
}

// Compare returns -1, 0 or 1 comparing encoded forms as unsigned bytes,
// lexicographically.
func (k KeyState) Compare(other KeyState) int {
	return bytes.Compare(k.bytes, other.bytes)
}

// Equal reports byte-for-byte equality of the encoded forms.
func (k KeyState) Equal(other KeyState) bool {
	return bytes.Equal(k.bytes, other.bytes)
}

// HashEncoded and CompareEncoded let a live EncodedKey be hashed/compared
// against a KeyState without constructing an intermediate KeyState,
// preserving the invariant hash(k) == hash(KeyState(k)).
func HashEncoded(k EncodedKey) primitives.HashCode { return hashBytes(k) }

func CompareEncoded(a, b EncodedKey) int { return bytes.Compare(a, b) }

// AntiValue is the range-tombstone payload: the upper bound of a deleted
// key range, encoded as a shared-prefix elision count against a
// companion base key plus the non-shared suffix.
type AntiValue struct {
	ElisionCount int
	Suffix       []byte
}

// firstUniqueByteIndex returns the number of leading bytes key1 and key2
// share.
func firstUniqueByteIndex(key1, key2 EncodedKey) int {
	n := len(key1)
	if len(key2) < n {
		n = len(key2)
	}
	i := 0
	for i < n && key1[i] == key2[i] {
		i++
	}
	return i
}

// PutAntiValue builds the AntiValue encoding the range [key1, key2) per
// spec §4.J: elisionCount is the shared-prefix length of key1 and key2,
// and the suffix is the remainder of key2 past that prefix.
func PutAntiValue(key1, key2 EncodedKey) AntiValue {
	elisionCount := firstUniqueByteIndex(key1, key2)
	suffix := make([]byte, len(key2)-elisionCount)
	copy(suffix, key2[elisionCount:])
	return AntiValue{ElisionCount: elisionCount, Suffix: suffix}
}

// FixUpKeys reconstructs destKey = base[0:elisionCount] ++ suffix, the
// inverse of PutAntiValue. It fails with InvalidKey if the elision count
// exceeds the base key's length or the reconstructed key would exceed
// MaxKeyLength, matching spec §3's AntiValue invariant.
func FixUpKeys(base EncodedKey, av AntiValue) (EncodedKey, error) {
	if av.ElisionCount < 0 || av.ElisionCount > len(base) {
		return nil, dberror.NewInvalidKey("elision count exceeds base key length")
	}
	total := av.ElisionCount + len(av.Suffix)
	if total > MaxKeyLength {
		return nil, dberror.NewInvalidKey("reconstructed key exceeds maximum key length")
	}
	dest := make([]byte, total)
	copy(dest, base[:av.ElisionCount])
	copy(dest[av.ElisionCount:], av.Suffix)
	return dest, nil
}
