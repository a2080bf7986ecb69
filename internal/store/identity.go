package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// PrimaryIdentityKey is the fixed key spec.md §4.2 assigns the identity
// collection: "keyed by 'primary'" — one identity per store.
const PrimaryIdentityKey = "primary"

func getIdentity(q execer) (*IdentityRow, bool, error) {
	var row IdentityRow
	row.Key = PrimaryIdentityKey
	err := q.QueryRow(`SELECT json FROM identity WHERE key = ?`, PrimaryIdentityKey).Scan(&row.JSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: get identity: %w", err)
	}
	return &row, true, nil
}

func putIdentity(q execer, data []byte) error {
	_, err := q.Exec(
		`INSERT INTO identity (key, json) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET json = excluded.json`,
		PrimaryIdentityKey, data,
	)
	if err != nil {
		return fmt.Errorf("store: put identity: %w", err)
	}
	return nil
}

func (d *DB) GetIdentity() (*IdentityRow, bool, error) { return getIdentity(d.sqlDB) }
func (d *DB) PutIdentity(data []byte) error            { return putIdentity(d.sqlDB, data) }
