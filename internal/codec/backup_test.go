package codec

import (
	"encoding/base64"
	"testing"
)

func TestBackupRoundTrip(t *testing.T) {
	plaintext := []byte(`{"hid":"HID-ABCDEF01","pubkey":{}}`)

	encoded, err := EncryptBackup("correct horse battery staple", plaintext)
	if err != nil {
		t.Fatalf("EncryptBackup failed: %v", err)
	}

	decoded, err := DecryptBackup("correct horse battery staple", encoded)
	if err != nil {
		t.Fatalf("DecryptBackup failed: %v", err)
	}

	if string(decoded) != string(plaintext) {
		t.Errorf("round trip mismatch: got %q want %q", decoded, plaintext)
	}
}

func TestBackupWrongPasswordFails(t *testing.T) {
	encoded, _ := EncryptBackup("correct", []byte("secret"))

	if _, err := DecryptBackup("incorrect", encoded); err == nil {
		t.Fatal("DecryptBackup succeeded with wrong password")
	}
}

func TestBackupTamperedCiphertextFails(t *testing.T) {
	encoded, _ := EncryptBackup("pw", []byte("secret"))

	tampered := []byte(encoded)
	// flip a byte well inside the base64 body, away from padding
	tampered[len(tampered)/2] ^= 0x01

	if _, err := DecryptBackup("pw", string(tampered)); err == nil {
		t.Fatal("DecryptBackup succeeded with tampered ciphertext")
	}
}

func TestBackupVersionMismatch(t *testing.T) {
	encoded, _ := EncryptBackup("pw", []byte("secret"))

	framed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	framed[0] = 99

	if _, err := DecryptBackup("pw", base64.StdEncoding.EncodeToString(framed)); err != ErrBackupVersion {
		t.Fatalf("expected ErrBackupVersion, got %v", err)
	}
}
