package codec

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// AlgorithmECDSAP256 is the only signing algorithm BalanceChain ships today.
// The tag travels with every author record so a future post-quantum
// algorithm can be introduced without breaking the wire format.
const AlgorithmECDSAP256 = "ECDSA-P256"

// Errors
var (
	ErrUnsupportedAlgorithm = errors.New("codec: unsupported signing algorithm")
	ErrInvalidPublicKey     = errors.New("codec: invalid public key encoding")
	ErrInvalidSignature     = errors.New("codec: invalid signature encoding")
)

// PublicKey is the portable form of a signing public key: sufficient to
// verify a signature and to derive an HID, algorithm-tagged so a later
// algorithm can be introduced without changing the shape.
type PublicKey struct {
	Algorithm string `json:"algorithm"`
	X         string `json:"x"`
	Y         string `json:"y"`
}

// GenerateKeypair creates a fresh P-256 ECDSA signing keypair.
func GenerateKeypair() (*ecdsa.PrivateKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("codec: generate keypair: %w", err)
	}
	return priv, nil
}

// EncodePublicKey converts an ECDSA public key into its portable form.
func EncodePublicKey(pub *ecdsa.PublicKey) PublicKey {
	return PublicKey{
		Algorithm: AlgorithmECDSAP256,
		X:         hex.EncodeToString(pub.X.Bytes()),
		Y:         hex.EncodeToString(pub.Y.Bytes()),
	}
}

// DecodePublicKey parses a portable public key back into an ECDSA key.
func DecodePublicKey(pk PublicKey) (*ecdsa.PublicKey, error) {
	if pk.Algorithm != AlgorithmECDSAP256 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, pk.Algorithm)
	}

	xb, err := hex.DecodeString(pk.X)
	if err != nil {
		return nil, fmt.Errorf("%w: x: %v", ErrInvalidPublicKey, err)
	}
	yb, err := hex.DecodeString(pk.Y)
	if err != nil {
		return nil, fmt.Errorf("%w: y: %v", ErrInvalidPublicKey, err)
	}

	curve := elliptic.P256()
	x := new(big.Int).SetBytes(xb)
	y := new(big.Int).SetBytes(yb)
	if !curve.IsOnCurve(x, y) {
		return nil, ErrInvalidPublicKey
	}

	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

// DeriveHID computes the stable human identifier for an author public key:
// "HID-" followed by the first 8 uppercase hex characters of
// SHA-256(canonical(pubkey)).
func DeriveHID(pk PublicKey) (string, error) {
	canon, err := Canonical(pk)
	if err != nil {
		return "", fmt.Errorf("codec: canonicalize public key: %w", err)
	}
	sum := sha256.Sum256([]byte(canon))
	digest := hex.EncodeToString(sum[:4])
	return "HID-" + strings.ToUpper(digest), nil
}

// Sign produces a base64-encoded ECDSA-SHA256 signature over signable.
func Sign(priv *ecdsa.PrivateKey, signable string) (string, error) {
	digest := sha256.Sum256([]byte(signable))
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return "", fmt.Errorf("codec: sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify reports whether signatureB64 is a valid ECDSA-SHA256 signature
// over signable under pub. It never panics on malformed input — a decode
// failure is treated as a failed verification, not an error, because
// callers (Validator rule 8) only need a boolean.
func Verify(pub *ecdsa.PublicKey, signable, signatureB64 string) bool {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	digest := sha256.Sum256([]byte(signable))
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}
