package store

import (
	"database/sql"
	"errors"
	"fmt"
)

func getTVMBalance(q execer, hid string) (float64, error) {
	var balance float64
	err := q.QueryRow(`SELECT balance FROM tvm_balance WHERE hid = ?`, hid).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("store: get tvm balance %q: %w", hid, err)
	}
	return balance, nil
}

// IncrementTVMBalance adds delta to hid's balance (only additions are
// permitted by spec.md §3's TVMBalance invariant; callers never pass a
// negative delta).
func incrementTVMBalance(q execer, hid string, delta float64) error {
	_, err := q.Exec(
		`INSERT INTO tvm_balance (hid, balance) VALUES (?, ?)
		 ON CONFLICT(hid) DO UPDATE SET balance = balance + excluded.balance`,
		hid, delta,
	)
	if err != nil {
		return fmt.Errorf("store: increment tvm balance %q: %w", hid, err)
	}
	return nil
}

func (d *DB) GetTVMBalance(hid string) (float64, error) { return getTVMBalance(d.sqlDB, hid) }
func (d *DB) IncrementTVMBalance(hid string, delta float64) error {
	return incrementTVMBalance(d.sqlDB, hid, delta)
}

func (tx *Tx) GetTVMBalance(hid string) (float64, error) { return getTVMBalance(tx.sqlTx, hid) }
func (tx *Tx) IncrementTVMBalance(hid string, delta float64) error {
	return incrementTVMBalance(tx.sqlTx, hid, delta)
}
