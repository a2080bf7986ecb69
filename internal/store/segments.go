package store

import (
	"database/sql"
	"errors"
	"fmt"
)

func insertSegment(q execer, s StoredSegment) error {
	_, err := q.Exec(
		`INSERT INTO state_chain (seq, type, timestamp_ms, nonce, prev_hash, block_hash, json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.Seq, s.Type, s.TimestampMs, s.Nonce, s.PrevHash, s.BlockHash, s.JSON,
	)
	if err != nil {
		return fmt.Errorf("store: insert segment seq=%d: %w", s.Seq, err)
	}
	return nil
}

func getSegment(q execer, seq int64) (*StoredSegment, bool, error) {
	var s StoredSegment
	err := q.QueryRow(
		`SELECT seq, type, timestamp_ms, nonce, prev_hash, block_hash, json FROM state_chain WHERE seq = ?`,
		seq,
	).Scan(&s.Seq, &s.Type, &s.TimestampMs, &s.Nonce, &s.PrevHash, &s.BlockHash, &s.JSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: get segment seq=%d: %w", seq, err)
	}
	return &s, true, nil
}

func iterateSegments(q execer) (*sql.Rows, error) {
	rows, err := q.Query(
		`SELECT seq, type, timestamp_ms, nonce, prev_hash, block_hash, json FROM state_chain ORDER BY seq ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: iterate segments: %w", err)
	}
	return rows, nil
}

func scanSegment(rows *sql.Rows) (StoredSegment, error) {
	var s StoredSegment
	err := rows.Scan(&s.Seq, &s.Type, &s.TimestampMs, &s.Nonce, &s.PrevHash, &s.BlockHash, &s.JSON)
	return s, err
}

// GetSegment reads a single segment by sequence number.
func (d *DB) GetSegment(seq int64) (*StoredSegment, bool, error) {
	return getSegment(d.sqlDB, seq)
}

// AllSegments returns every segment in ascending seq order, used by
// Chain.RebuildProjections and the CLI's log command.
func (d *DB) AllSegments() ([]StoredSegment, error) {
	rows, err := iterateSegments(d.sqlDB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredSegment
	for rows.Next() {
		s, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan segment: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (tx *Tx) InsertSegment(s StoredSegment) error {
	return insertSegment(tx.sqlTx, s)
}

func (tx *Tx) GetSegment(seq int64) (*StoredSegment, bool, error) {
	return getSegment(tx.sqlTx, seq)
}

// nonceExists reports whether nonce is recorded in the sync_log nonce log;
// the segment table's own nonce column is not consulted.
func nonceExists(q execer, nonce string) (bool, error) {
	var count int
	err := q.QueryRow(`SELECT COUNT(1) FROM sync_log WHERE nonce = ?`, nonce).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: check nonce: %w", err)
	}
	return count > 0, nil
}

func insertNonce(q execer, nonce string, tsMs int64) error {
	_, err := q.Exec(`INSERT INTO sync_log (nonce, ts) VALUES (?, ?)`, nonce, tsMs)
	if err != nil {
		return fmt.Errorf("store: insert nonce: %w", err)
	}
	return nil
}

// PurgeNoncesOlderThan removes sync_log entries whose timestamp is before
// cutoffMs (spec.md §3 NonceLog: "entries older than 30 days may be purged").
func purgeNoncesOlderThan(q execer, cutoffMs int64) error {
	_, err := q.Exec(`DELETE FROM sync_log WHERE ts < ?`, cutoffMs)
	if err != nil {
		return fmt.Errorf("store: purge nonces: %w", err)
	}
	return nil
}

func (tx *Tx) NonceExists(nonce string) (bool, error) { return nonceExists(tx.sqlTx, nonce) }
func (tx *Tx) InsertNonce(nonce string, tsMs int64) error {
	return insertNonce(tx.sqlTx, nonce, tsMs)
}

func (d *DB) NonceExists(nonce string) (bool, error) { return nonceExists(d.sqlDB, nonce) }
func (d *DB) PurgeNoncesOlderThan(cutoffMs int64) error {
	return purgeNoncesOlderThan(d.sqlDB, cutoffMs)
}
