package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ecdhInfo domain-separates the shared-secret expansion used for P2P
// symmetric encryption from the backup-password expansion in backup.go,
// which uses PBKDF2 instead because it starts from a low-entropy password
// rather than an ECDH shared point.
const ecdhInfo = "balancechain-ecdh-v1"

// ErrDecryptFailed covers both a bad key and a tampered ciphertext; AES-GCM
// does not distinguish the two, and neither should callers.
var ErrDecryptFailed = errors.New("codec: decryption failed")

// DeriveSharedKey performs ECDH between priv and peerPub (both P-256) and
// expands the resulting shared point into a 32-byte AES-256 key via
// HKDF-SHA256. Used by the P2P transport boundary; BalanceChain's core
// never calls this itself, it only exposes it for that collaborator.
func DeriveSharedKey(priv *ecdsa.PrivateKey, peerPub *ecdsa.PublicKey) ([]byte, error) {
	ecdhPriv, err := priv.ECDH()
	if err != nil {
		return nil, fmt.Errorf("codec: private key not usable for ECDH: %w", err)
	}
	ecdhPeerPub, err := peerPub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("codec: peer public key not usable for ECDH: %w", err)
	}

	shared, err := ecdhPriv.ECDH(ecdhPeerPub)
	if err != nil {
		return nil, fmt.Errorf("codec: ecdh exchange: %w", err)
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, shared, nil, []byte(ecdhInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("codec: hkdf expand: %w", err)
	}
	return key, nil
}

// GenerateECDHKeypair returns a fresh P-256 key usable only for ECDH, for
// collaborators that want an ephemeral exchange key distinct from the
// identity's long-lived signing key.
func GenerateECDHKeypair() (*ecdh.PrivateKey, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("codec: generate ecdh keypair: %w", err)
	}
	return priv, nil
}

// EncryptAESGCM encrypts plaintext under a 32-byte key with a random
// 12-byte nonce, returning nonce||ciphertext.
func EncryptAESGCM(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("codec: generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptAESGCM reverses EncryptAESGCM.
func DecryptAESGCM(key, sealed []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrDecryptFailed
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("codec: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("codec: gcm mode: %w", err)
	}
	return gcm, nil
}
