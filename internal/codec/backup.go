package codec

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Backup framing constants (spec.md §4.1, §6).
const (
	BackupVersion    byte = 1
	backupSaltSize        = 16
	backupNonceSize       = 12
	pbkdf2Iterations      = 100_000
	pbkdf2KeyLen          = 32
)

// ErrBackupVersion is returned when decrypting a backup stamped with a
// version this build does not understand.
var ErrBackupVersion = errors.New("codec: unsupported backup version")

// EncryptBackup seals plaintext (the JSON encoding of an identity export)
// under a password, producing the versioned framing
// [version][salt][nonce][ciphertext], base64-encoded as specified.
func EncryptBackup(password string, plaintext []byte) (string, error) {
	salt := make([]byte, backupSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("codec: generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New)

	sealed, err := EncryptAESGCM(key, plaintext)
	if err != nil {
		return "", err
	}
	// EncryptAESGCM prefixes its own 12-byte nonce onto sealed, matching
	// backupNonceSize; reuse that rather than generating a second nonce.
	nonce, ciphertext := sealed[:backupNonceSize], sealed[backupNonceSize:]

	framed := make([]byte, 0, 1+backupSaltSize+backupNonceSize+len(ciphertext))
	framed = append(framed, BackupVersion)
	framed = append(framed, salt...)
	framed = append(framed, nonce...)
	framed = append(framed, ciphertext...)

	return base64.StdEncoding.EncodeToString(framed), nil
}

// DecryptBackup reverses EncryptBackup. It fails closed on a version
// mismatch or an authentication failure (wrong password or tampered bytes)
// without distinguishing the two to the caller.
func DecryptBackup(password, encoded string) ([]byte, error) {
	framed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("codec: decode backup: %w", err)
	}

	minLen := 1 + backupSaltSize + backupNonceSize
	if len(framed) < minLen {
		return nil, ErrDecryptFailed
	}

	if framed[0] != BackupVersion {
		return nil, ErrBackupVersion
	}

	salt := framed[1 : 1+backupSaltSize]
	nonce := framed[1+backupSaltSize : minLen]
	ciphertext := framed[minLen:]

	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New)

	sealed := append(append([]byte{}, nonce...), ciphertext...)
	return DecryptAESGCM(key, sealed)
}
