// Package hash provides the object identifier abstraction shared by the
// repository, the wire protocol and the pack index builders. A repository
// uses exactly one hash kind, negotiated once per connection; the kind is
// always passed explicitly rather than kept in package state.
package hash

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	stdhash "hash"
)

// Kind identifies the object-name algorithm of a repository.
type Kind int

const (
	// SHA1 is the 20-byte legacy object format.
	SHA1 Kind = iota
	// SHA256 is the 32-byte object format.
	SHA256
)

// maxSize is the widest supported digest.
const maxSize = sha256.Size

// Size returns the digest width in bytes.
func (k Kind) Size() int {
	if k == SHA256 {
		return sha256.Size
	}
	return sha1.Size
}

// New returns a fresh digest state for the kind.
func (k Kind) New() stdhash.Hash {
	if k == SHA256 {
		return sha256.New()
	}
	return sha1.New()
}

// String returns the capability name of the format ("sha1" or "sha256").
func (k Kind) String() string {
	if k == SHA256 {
		return "sha256"
	}
	return "sha1"
}

// KindFromName maps an advertised object-format name to a Kind.
func KindFromName(name string) (Kind, error) {
	switch name {
	case "sha1":
		return SHA1, nil
	case "sha256":
		return SHA256, nil
	default:
		return SHA1, fmt.Errorf("unknown object format: %s", name)
	}
}

// Hash is a fixed-width object identifier. The zero value is the zero id
// of the SHA1 kind.
type Hash struct {
	kind Kind
	b    [maxSize]byte
}

// Zero returns the all-zero id of the given kind.
func Zero(kind Kind) Hash {
	return Hash{kind: kind}
}

// FromBytes builds a Hash from exactly kind.Size() raw bytes.
func FromBytes(kind Kind, p []byte) (Hash, error) {
	var h Hash
	if len(p) != kind.Size() {
		return h, fmt.Errorf("invalid %s hash length: expected %d, got %d", kind, kind.Size(), len(p))
	}
	h.kind = kind
	copy(h.b[:], p)
	return h, nil
}

// FromHex builds a Hash from its lowercase hexadecimal form.
func FromHex(kind Kind, s string) (Hash, error) {
	var h Hash
	if len(s) != kind.Size()*2 {
		return h, fmt.Errorf("invalid %s hash length: expected %d, got %d", kind, kind.Size()*2, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hex string: %w", err)
	}
	return FromBytes(kind, raw)
}

// Sum digests data with the kind's algorithm.
func Sum(kind Kind, data []byte) Hash {
	hr := kind.New()
	hr.Write(data)
	var h Hash
	h.kind = kind
	copy(h.b[:], hr.Sum(nil))
	return h
}

// Kind returns the hash's algorithm.
func (h Hash) Kind() Kind {
	return h.kind
}

// Bytes returns the raw digest, kind.Size() bytes long.
func (h Hash) Bytes() []byte {
	return h.b[:h.kind.Size()]
}

// String returns the lowercase hexadecimal form.
func (h Hash) String() string {
	return hex.EncodeToString(h.Bytes())
}

// Short returns the first 7 hex digits of the hash.
func (h Hash) Short() string {
	return h.String()[:7]
}

// IsZero reports whether the hash is all zeros.
func (h Hash) IsZero() bool {
	for _, b := range h.Bytes() {
		if b != 0 {
			return false
		}
	}
	return true
}

// Compare orders hashes byte-lexicographically, like bytes.Compare.
func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h.Bytes(), other.Bytes())
}

// Less reports whether h sorts before other.
func (h Hash) Less(other Hash) bool {
	return h.Compare(other) < 0
}
