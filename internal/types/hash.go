// ABOUTME: Content fingerprints (SHA256, MD5) used as dedup and cache keys
// ABOUTME: Computes digests of raw content and parses externally supplied hashes

package types

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashType represents the type of hash algorithm.
type HashType int

const (
	// HashTypeUnknown represents an unknown or invalid hash type.
	HashTypeUnknown HashType = iota
	// HashTypeSHA256 represents a SHA-256 hash (64 hex characters).
	HashTypeSHA256
	// HashTypeSHA1 represents a SHA-1 hash (40 hex characters).
	HashTypeSHA1
	// HashTypeMD5 represents an MD5 hash (32 hex characters).
	HashTypeMD5
)

// Digest lengths in hex characters.
const (
	SHA256Length = 64
	SHA1Length   = 40
	MD5Length    = 32
)

// String returns the algorithm name used in cache keys.
func (ht HashType) String() string {
	switch ht {
	case HashTypeSHA256:
		return "sha256"
	case HashTypeSHA1:
		return "sha1"
	case HashTypeMD5:
		return "md5"
	default:
		return "unknown"
	}
}

// hexLength returns the digest length for ht, or 0 for unknown types.
func (ht HashType) hexLength() int {
	switch ht {
	case HashTypeSHA256:
		return SHA256Length
	case HashTypeSHA1:
		return SHA1Length
	case HashTypeMD5:
		return MD5Length
	default:
		return 0
	}
}

// Hash is a content fingerprint: a digest value tagged with its algorithm.
type Hash struct {
	Type  HashType `json:"type"`
	Value string   `json:"value"`
}

// Fingerprint returns the SHA-256 fingerprint of content.
// Identical content always yields the same fingerprint regardless of file name.
func Fingerprint(content []byte) Hash {
	sum := sha256.Sum256(content)
	return Hash{Type: HashTypeSHA256, Value: hex.EncodeToString(sum[:])}
}

// FingerprintMD5 returns the MD5 digest of content.
// MD5 is only used to query upstreams that index by it, never as a key of our own.
func FingerprintMD5(content []byte) Hash {
	sum := md5.Sum(content)
	return Hash{Type: HashTypeMD5, Value: hex.EncodeToString(sum[:])}
}

// ParseHash parses a digest supplied by a caller, such as the hash in a
// report lookup. The algorithm is inferred from the length and the value is
// lowercased.
func ParseHash(s string) (Hash, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Hash{}, fmt.Errorf("empty hash")
	}
	if strings.Trim(s, "0123456789abcdef") != "" {
		return Hash{}, fmt.Errorf("invalid hex characters in hash")
	}

	for _, ht := range []HashType{HashTypeSHA256, HashTypeSHA1, HashTypeMD5} {
		if len(s) == ht.hexLength() {
			return Hash{Type: ht, Value: s}, nil
		}
	}
	return Hash{}, fmt.Errorf("invalid hash length %d: want %d (sha256), %d (sha1), or %d (md5)",
		len(s), SHA256Length, SHA1Length, MD5Length)
}

// Key returns the storage key for this hash (e.g., "sha256:abc123").
func (h Hash) Key() string {
	return h.Type.String() + ":" + h.Value
}

// String returns the bare digest value.
func (h Hash) String() string {
	return h.Value
}

// Short returns a truncated digest for log lines.
func (h Hash) Short() string {
	if len(h.Value) > 16 {
		return h.Value[:8] + "..." + h.Value[len(h.Value)-8:]
	}
	return h.Value
}

// IsValid reports whether the value has the length its type requires.
func (h Hash) IsValid() bool {
	n := h.Type.hexLength()
	return n > 0 && len(h.Value) == n
}
