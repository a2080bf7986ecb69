package store

import (
	"database/sql"
	"fmt"
)

func insertCapsule(q execer, c CapsuleRow) error {
	_, err := q.Exec(
		`INSERT INTO capsules (id, session_id, owner_hid, rich_score, business_score, ecf_score, motivator, category, content_hash, status, created_at_ms, mint_seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.OwnerHID, c.RichScore, c.BusinessScore, c.ECFScore, c.Motivator, c.Category, c.ContentHash, c.Status, c.CreatedAtMs, c.MintSeq,
	)
	if err != nil {
		return fmt.Errorf("store: insert capsule %q: %w", c.ID, err)
	}
	return nil
}

func getCapsule(q execer, id string) (*CapsuleRow, bool, error) {
	c, err := queryCapsules(q, `SELECT id, session_id, owner_hid, rich_score, business_score, ecf_score, motivator, category, content_hash, status, created_at_ms, mint_seq FROM capsules WHERE id = ?`, id)
	if err != nil {
		return nil, false, err
	}
	if len(c) == 0 {
		return nil, false, nil
	}
	return &c[0], true, nil
}

func updateCapsuleStatus(q execer, id, status string, mintSeq *int64) error {
	_, err := q.Exec(`UPDATE capsules SET status = ?, mint_seq = ? WHERE id = ?`, status, mintSeq, id)
	if err != nil {
		return fmt.Errorf("store: update capsule %q: %w", id, err)
	}
	return nil
}

func mintedCapsulesForOwner(q execer, ownerHID string) ([]CapsuleRow, error) {
	return queryCapsules(q,
		`SELECT id, session_id, owner_hid, rich_score, business_score, ecf_score, motivator, category, content_hash, status, created_at_ms, mint_seq
		 FROM capsules WHERE owner_hid = ? AND status = 'minted'`, ownerHID)
}

func queryCapsules(q execer, query string, args ...any) ([]CapsuleRow, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query capsules: %w", err)
	}
	defer rows.Close()

	var out []CapsuleRow
	for rows.Next() {
		var c CapsuleRow
		var mintSeq sql.NullInt64
		var motivator, category sql.NullString
		if err := rows.Scan(&c.ID, &c.SessionID, &c.OwnerHID, &c.RichScore, &c.BusinessScore, &c.ECFScore, &motivator, &category, &c.ContentHash, &c.Status, &c.CreatedAtMs, &mintSeq); err != nil {
			return nil, fmt.Errorf("store: scan capsule: %w", err)
		}
		c.Motivator, c.Category = motivator.String, category.String
		if mintSeq.Valid {
			v := mintSeq.Int64
			c.MintSeq = &v
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (tx *Tx) InsertCapsule(c CapsuleRow) error { return insertCapsule(tx.sqlTx, c) }
func (tx *Tx) GetCapsule(id string) (*CapsuleRow, bool, error) { return getCapsule(tx.sqlTx, id) }
func (tx *Tx) UpdateCapsuleStatus(id, status string, mintSeq *int64) error {
	return updateCapsuleStatus(tx.sqlTx, id, status, mintSeq)
}

func (d *DB) InsertCapsule(c CapsuleRow) error { return insertCapsule(d.sqlDB, c) }
func (d *DB) GetCapsule(id string) (*CapsuleRow, bool, error) { return getCapsule(d.sqlDB, id) }
func (d *DB) UpdateCapsuleStatus(id, status string, mintSeq *int64) error {
	return updateCapsuleStatus(d.sqlDB, id, status, mintSeq)
}
func (d *DB) MintedCapsulesForOwner(ownerHID string) ([]CapsuleRow, error) {
	return mintedCapsulesForOwner(d.sqlDB, ownerHID)
}
