package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"fmt"
	"math/big"
)

// encodePrivateKey base64-encodes the raw scalar D of an ECDSA P-256
// private key — the only secret material an identity record carries.
func encodePrivateKey(priv *ecdsa.PrivateKey) (string, error) {
	if priv == nil {
		return "", fmt.Errorf("identity: nil private key")
	}
	return base64.StdEncoding.EncodeToString(priv.D.Bytes()), nil
}

// decodePrivateKey reconstructs a P-256 private key from its scalar D,
// deriving the public key as D*G.
func decodePrivateKey(encoded string) (*ecdsa.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("identity: decode private key: %w", err)
	}

	curve := elliptic.P256()
	d := new(big.Int).SetBytes(raw)
	x, y := curve.ScalarBaseMult(raw)

	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         d,
	}, nil
}
