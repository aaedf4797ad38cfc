package storemap

import (
	"crypto/sha256"

	"golang.org/x/crypto/sha3"
)

// KeyScheme selects how a logical key, once encoded, is derived into a
// storage key. The set is closed: containers are parameterized by exactly
// one scheme for their lifetime, and changing the scheme for a prefix that
// already holds data corrupts that data undetectably.
type KeyScheme uint8

const (
	// SchemeIdentity appends the encoded key to the prefix. Storage key
	// length scales with the encoded key; derivation is injective as long as
	// prefixes are chosen unambiguously.
	SchemeIdentity KeyScheme = iota

	// SchemeSHA256 appends sha256(prefix || encodedKey) to the prefix,
	// giving a fixed 32 byte suffix regardless of key size. Collisions are
	// cryptographically negligible but not impossible, and are not detected.
	SchemeSHA256

	// SchemeKeccak256 is SchemeSHA256 with the legacy keccak256 digest.
	SchemeKeccak256
)

// StorageKey derives the storage key for an encoded logical key under
// prefix. Pure and infallible: encoding failures are surfaced by the caller
// before derivation, since a key that cannot be encoded cannot be used at
// all.
func (s KeyScheme) StorageKey(prefix, encodedKey []byte) []byte {
	switch s {
	case SchemeSHA256:
		h := sha256.New()
		h.Write(prefix)
		h.Write(encodedKey)
		return h.Sum(append([]byte{}, prefix...))
	case SchemeKeccak256:
		h := sha3.NewLegacyKeccak256()
		h.Write(prefix)
		h.Write(encodedKey)
		return h.Sum(append([]byte{}, prefix...))
	default:
		k := make([]byte, 0, len(prefix)+len(encodedKey))
		k = append(k, prefix...)
		return append(k, encodedKey...)
	}
}

func (s KeyScheme) valid() bool {
	return s == SchemeIdentity || s == SchemeSHA256 || s == SchemeKeccak256
}
