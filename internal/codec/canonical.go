// Package codec implements BalanceChain's canonical serialization, hashing,
// signing, and symmetric-encryption primitives. Everything that is hashed
// or signed anywhere in the chain passes through Canonical first, so this
// package is the one place that defines the wire format's byte-for-byte
// determinism.
package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonical renders v as deterministic JSON: object keys sorted
// lexicographically at every depth, arrays left in their original order,
// and numbers preserved exactly as they were encoded. It is the only
// encoding fed to Hash or to a signature.
//
// v is first marshaled normally (so struct field tags and omitempty are
// honored), then re-decoded with json.Number so struct field order does not
// leak into the result: Go's encoding/json already sorts map[string]any
// keys, which is what re-marshaling a generic decode gives us for free.
func Canonical(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("codec: marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("codec: decode for canonicalization: %w", err)
	}

	out, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("codec: canonical marshal: %w", err)
	}

	return string(out), nil
}

// Hash returns the lowercase hex SHA-256 digest of s's UTF-8 bytes.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashBytes is Hash for callers that already have bytes rather than a
// canonical string.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// BlockHash computes the load-bearing hash of a signed segment:
// SHA256(signable || "|" || base64Signature). Both Chain and Integrity must
// use exactly this function so the head they compute agrees.
func BlockHash(signable, signatureB64 string) string {
	return Hash(signable + "|" + signatureB64)
}

// GenesisHash is the chain head of an empty chain.
const GenesisHash = "GENESIS"
