package store

import (
	"database/sql"
	"errors"
	"fmt"
)

func getCaps(q execer, period, hid string) (*CapsRow, bool, error) {
	var row CapsRow
	var resetAt sql.NullInt64
	err := q.QueryRow(
		`SELECT period, hid, counter, reset_at FROM caps WHERE period = ? AND hid = ?`, period, hid,
	).Scan(&row.Period, &row.HID, &row.Counter, &resetAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: get caps %s:%s: %w", period, hid, err)
	}
	row.ResetAtMs = resetAt.Int64
	return &row, true, nil
}

func putCaps(q execer, row CapsRow) error {
	var resetAt any
	if row.ResetAtMs != 0 {
		resetAt = row.ResetAtMs
	}
	_, err := q.Exec(
		`INSERT INTO caps (period, hid, counter, reset_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(period, hid) DO UPDATE SET counter = excluded.counter, reset_at = excluded.reset_at`,
		row.Period, row.HID, row.Counter, resetAt,
	)
	if err != nil {
		return fmt.Errorf("store: put caps %s:%s: %w", row.Period, row.HID, err)
	}
	return nil
}

func (tx *Tx) GetCaps(period, hid string) (*CapsRow, bool, error) { return getCaps(tx.sqlTx, period, hid) }
func (tx *Tx) PutCaps(row CapsRow) error                          { return putCaps(tx.sqlTx, row) }

func (d *DB) GetCaps(period, hid string) (*CapsRow, bool, error) { return getCaps(d.sqlDB, period, hid) }
func (d *DB) PutCaps(row CapsRow) error                          { return putCaps(d.sqlDB, row) }
