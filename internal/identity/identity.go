// Package identity manages BalanceChain's single per-device identity:
// its ECDSA keypair, derived HID, and encrypted backup/restore. Private
// keys never leave this package; Chain requests signatures through the
// narrow Sign method rather than holding the key itself.
package identity

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"time"

	"balancechain/internal/balerr"
	"balancechain/internal/codec"
	"balancechain/internal/segment"
	"balancechain/internal/store"
)

// Identity is the loaded, usable form of the device's single identity.
type Identity struct {
	HID     string
	PubKey  codec.PublicKey
	priv    *ecdsa.PrivateKey
	created time.Time
}

// Author returns the portable author record Chain attaches to segments.
func (id *Identity) Author() segment.Author {
	return segment.Author{HID: id.HID, PubKey: id.PubKey}
}

// Sign implements chain.Signer without exposing the private key.
func (id *Identity) Sign(s *segment.Segment) (*segment.Segment, error) {
	return segment.Sign(s, id.priv)
}

// record is Identity's on-disk JSON shape (store.identity collection).
type record struct {
	Version    int             `json:"version"`
	HID        string          `json:"hid"`
	PubKey     codec.PublicKey `json:"pubkey"`
	PrivateKey string          `json:"private_key"`
	CreatedAt  int64           `json:"createdAt"`
}

// Create generates a fresh ECDSA keypair, derives its HID, and persists
// the identity record to db.
func Create(db *store.DB) (*Identity, error) {
	priv, err := codec.GenerateKeypair()
	if err != nil {
		return nil, &balerr.AuthError{Reason: fmt.Sprintf("generate keypair: %v", err)}
	}
	pub := codec.EncodePublicKey(&priv.PublicKey)
	hid, err := codec.DeriveHID(pub)
	if err != nil {
		return nil, &balerr.AuthError{Reason: fmt.Sprintf("derive hid: %v", err)}
	}

	privB64, err := encodePrivateKey(priv)
	if err != nil {
		return nil, err
	}

	createdAt := time.Now()
	rec := record{
		Version: 1, HID: hid, PubKey: pub, PrivateKey: privB64,
		CreatedAt: createdAt.UnixMilli(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("identity: marshal record: %w", err)
	}
	if err := db.PutIdentity(raw); err != nil {
		return nil, &balerr.StoreError{Op: "put_identity", Err: err}
	}

	return &Identity{HID: hid, PubKey: pub, priv: priv, created: createdAt}, nil
}

// Load reads the stored identity record, or (false, nil) if none exists.
func Load(db *store.DB) (*Identity, bool, error) {
	row, ok, err := db.GetIdentity()
	if err != nil {
		return nil, false, &balerr.StoreError{Op: "get_identity", Err: err}
	}
	if !ok {
		return nil, false, nil
	}

	var rec record
	if err := json.Unmarshal(row.JSON, &rec); err != nil {
		return nil, false, fmt.Errorf("identity: unmarshal record: %w", err)
	}

	priv, err := decodePrivateKey(rec.PrivateKey)
	if err != nil {
		return nil, false, &balerr.AuthError{Reason: fmt.Sprintf("decode private key: %v", err)}
	}

	return &Identity{
		HID: rec.HID, PubKey: rec.PubKey, priv: priv,
		created: time.UnixMilli(rec.CreatedAt),
	}, true, nil
}

// LoadOrCreate loads the stored identity, creating one if none exists
// yet — the common startup path.
func LoadOrCreate(db *store.DB) (*Identity, error) {
	id, ok, err := Load(db)
	if err != nil {
		return nil, err
	}
	if ok {
		return id, nil
	}
	return Create(db)
}

// backupRecord is the exact JSON shape spec.md §6 encrypts for backup.
type backupRecord struct {
	Version    int             `json:"version"`
	HID        string          `json:"hid"`
	PubKey     codec.PublicKey `json:"pubkey"`
	PrivateKey string          `json:"private_key"`
	CreatedAt  int64           `json:"createdAt"`
	ExportedAt int64           `json:"exportedAt"`
}

// ExportBackup encrypts id's full record under password per spec.md §6's
// versioned PBKDF2/AES-GCM framing.
func (id *Identity) ExportBackup(password string) (string, error) {
	privB64, err := encodePrivateKey(id.priv)
	if err != nil {
		return "", err
	}
	rec := backupRecord{
		Version: 1, HID: id.HID, PubKey: id.PubKey, PrivateKey: privB64,
		CreatedAt: id.created.UnixMilli(), ExportedAt: time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("identity: marshal backup record: %w", err)
	}
	encoded, err := codec.EncryptBackup(password, raw)
	if err != nil {
		return "", fmt.Errorf("identity: encrypt backup: %w", err)
	}
	return encoded, nil
}

// ImportBackup decrypts an exported backup and returns the identity it
// describes, without persisting it — callers decide when to write it via
// db.PutIdentity, typically gated by integrity.CanRestore.
func ImportBackup(password, encoded string) (*Identity, error) {
	raw, err := codec.DecryptBackup(password, encoded)
	if err != nil {
		return nil, &balerr.AuthError{Reason: fmt.Sprintf("decrypt backup: %v", err)}
	}

	var rec backupRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("identity: unmarshal backup record: %w", err)
	}

	priv, err := decodePrivateKey(rec.PrivateKey)
	if err != nil {
		return nil, &balerr.AuthError{Reason: fmt.Sprintf("decode private key: %v", err)}
	}

	return &Identity{
		HID: rec.HID, PubKey: rec.PubKey, priv: priv,
		created: time.UnixMilli(rec.CreatedAt),
	}, nil
}

// ToStoreRecord re-marshals id into the wire shape Load/Create persist,
// used by restore after ImportBackup.
func (id *Identity) ToStoreRecord() ([]byte, error) {
	privB64, err := encodePrivateKey(id.priv)
	if err != nil {
		return nil, err
	}
	rec := record{
		Version: 1, HID: id.HID, PubKey: id.PubKey, PrivateKey: privB64,
		CreatedAt: id.created.UnixMilli(),
	}
	return json.Marshal(rec)
}
