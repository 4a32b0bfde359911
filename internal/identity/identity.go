// Package identity maps stable record identifiers onto vector point identities.
//
// A stable identifier (usually a UUID) is hashed with SHA-256 and a prefix of
// the digest becomes the numeric point ID. The mapping is pure: no lookup
// table, no I/O, same input always yields the same ID.
//
// The full 64-bit prefix is used because Qdrant accepts unsigned 64-bit point
// IDs; collisions are then detected at write time by the vector store adapter
// comparing the stored stable identifier.
package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"
)

// FallbackPrefix marks identities assigned without a successful store write.
const FallbackPrefix = "fallback_"

// Kind classifies a persisted vector identity.
type Kind int

const (
	// KindEmpty is a record that was never embedded.
	KindEmpty Kind = iota
	// KindNumeric is a point ID written to the store.
	KindNumeric
	// KindFallback is a store-independent placeholder.
	KindFallback
	// KindUnknown is anything else, e.g. identities written by another system.
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindNumeric:
		return "numeric"
	case KindFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

func digest(stableID string) [sha256.Size]byte {
	return sha256.Sum256([]byte(stableID))
}

// NumericID returns the first 8 bytes of SHA-256(stableID) as a big-endian uint64.
func NumericID(stableID string) uint64 {
	sum := digest(stableID)
	return binary.BigEndian.Uint64(sum[:8])
}

// Format renders a numeric ID as the opaque string callers persist.
func Format(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// FallbackIdentity returns fallback_<16 hex chars> derived from the same digest
// as NumericID, so a record can be re-embedded later without changing hashes.
func FallbackIdentity(stableID string) string {
	sum := digest(stableID)
	return FallbackPrefix + hex.EncodeToString(sum[:8])
}

// IsFallback reports whether identity was assigned by FallbackIdentity.
func IsFallback(identity string) bool {
	return strings.HasPrefix(identity, FallbackPrefix)
}

// Parse classifies a persisted identity. For KindNumeric the point ID is returned.
func Parse(identity string) (Kind, uint64) {
	switch {
	case identity == "":
		return KindEmpty, 0
	case IsFallback(identity):
		return KindFallback, 0
	}
	id, err := strconv.ParseUint(identity, 10, 64)
	if err != nil {
		return KindUnknown, 0
	}
	return KindNumeric, id
}
