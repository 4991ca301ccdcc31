// Package journalid implements sqlsync's journal identity: a 128- or
// 256-bit opaque identifier, canonically rendered as base58 (Bitcoin
// alphabet) text, accepting hex on input.
package journalid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// ID is an opaque journal identifier. Two widths are supported: 16 bytes
// (128-bit, the common case — one per document/timeline) and 32 bytes
// (256-bit, for callers that want collision margin across very large
// federations of clients).
type ID struct {
	bytes []byte
}

// New128 generates a random 128-bit journal id backed by a UUIDv4.
func New128() ID {
	u := uuid.New()
	b := make([]byte, 16)
	copy(b, u[:])
	return ID{bytes: b}
}

// New256 generates a random 256-bit journal id.
func New256() ID {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("journalid: failed to read random bytes: %v", err))
	}
	return ID{bytes: b}
}

// FromBytes wraps raw bytes as a journal id. Only 16- or 32-byte ids are
// accepted.
func FromBytes(b []byte) (ID, error) {
	if len(b) != 16 && len(b) != 32 {
		return ID{}, fmt.Errorf("journalid: invalid length %d, want 16 or 32", len(b))
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return ID{bytes: cp}, nil
}

// Bytes returns the raw identifier bytes.
func (id ID) Bytes() []byte {
	return id.bytes
}

// IsZero reports whether id has no bytes set (the zero value).
func (id ID) IsZero() bool {
	return len(id.bytes) == 0
}

// Equal reports whether two ids hold the same bytes.
func (id ID) Equal(other ID) bool {
	if len(id.bytes) != len(other.bytes) {
		return false
	}
	for i := range id.bytes {
		if id.bytes[i] != other.bytes[i] {
			return false
		}
	}
	return true
}

// String returns the canonical base58 (Bitcoin alphabet) text form.
func (id ID) String() string {
	return base58.Encode(id.bytes)
}

// Parse accepts either canonical base58 text or hex text and returns the
// decoded ID.
func Parse(s string) (ID, error) {
	if b, err := hex.DecodeString(s); err == nil && (len(b) == 16 || len(b) == 32) {
		return FromBytes(b)
	}
	b, err := base58.Decode(s)
	if err != nil {
		return ID{}, fmt.Errorf("journalid: %q is neither valid hex nor base58: %w", s, err)
	}
	return FromBytes(b)
}

// MarshalText implements encoding.TextMarshaler using the canonical base58
// form, so ids serialize cleanly into YAML/JSON config and the KV
// persistence sink's key scheme.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
