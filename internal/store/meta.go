package store

import (
	"database/sql"
	"errors"
	"fmt"
)

func getMeta(q execer, key string) ([]byte, bool, error) {
	var value []byte
	err := q.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: get meta %q: %w", key, err)
	}
	return value, true, nil
}

func setMeta(q execer, key string, value []byte) error {
	_, err := q.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("store: set meta %q: %w", key, err)
	}
	return nil
}

// ChainHead returns the stored chain head hash, defaulting to GENESIS.
func (d *DB) ChainHead() (string, error) {
	v, ok, err := getMeta(d.sqlDB, "chain_head")
	if err != nil {
		return "", err
	}
	if !ok {
		return "GENESIS", nil
	}
	return string(v), nil
}

// ChainLen returns the stored chain length, defaulting to 0.
func (d *DB) ChainLen() (int64, error) {
	v, ok, err := getMeta(d.sqlDB, "chain_len")
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	var n int64
	fmt.Sscanf(string(v), "%d", &n)
	return n, nil
}

// GetMeta reads an arbitrary meta key (subscription:{hid}, payment:{id},
// payments:{hid}, shadow:history, read_only, ...).
func (d *DB) GetMeta(key string) ([]byte, bool, error) {
	return getMeta(d.sqlDB, key)
}

// SetMeta writes an arbitrary meta key outside of a chain commit (used by
// collaborators persisting subscription/payment state per spec.md §6).
func (d *DB) SetMeta(key string, value []byte) error {
	return setMeta(d.sqlDB, key, value)
}

func (tx *Tx) ChainHead() (string, error) {
	v, ok, err := getMeta(tx.sqlTx, "chain_head")
	if err != nil {
		return "", err
	}
	if !ok {
		return "GENESIS", nil
	}
	return string(v), nil
}

func (tx *Tx) ChainLen() (int64, error) {
	v, ok, err := getMeta(tx.sqlTx, "chain_len")
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	var n int64
	fmt.Sscanf(string(v), "%d", &n)
	return n, nil
}

func (tx *Tx) SetChainHead(head string) error {
	return setMeta(tx.sqlTx, "chain_head", []byte(head))
}

func (tx *Tx) SetChainLen(n int64) error {
	return setMeta(tx.sqlTx, "chain_len", []byte(fmt.Sprintf("%d", n)))
}

func (tx *Tx) GetMeta(key string) ([]byte, bool, error) {
	return getMeta(tx.sqlTx, key)
}

func (tx *Tx) SetMeta(key string, value []byte) error {
	return setMeta(tx.sqlTx, key, value)
}
