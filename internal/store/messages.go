package store

import (
	"database/sql"
	"fmt"
)

func insertMessage(q execer, m MessageRow) error {
	hasScores := 0
	if m.HasScores {
		hasScores = 1
	}
	_, err := q.Exec(
		`INSERT INTO messages (id, seq, timestamp_ms, type, peer, direction, tag, text, author, decision, outcome, has_scores, rich_score, business_score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Seq, m.TimestampMs, m.Type, m.Peer, m.Direction, m.Tag, m.Text, m.Author, m.Decision, m.Outcome, hasScores, m.RichScore, m.BusinessScore,
	)
	if err != nil {
		return fmt.Errorf("store: insert message %q: %w", m.ID, err)
	}
	return nil
}

func messagesByPeer(q execer, peer string) ([]MessageRow, error) {
	rows, err := q.Query(
		`SELECT id, seq, timestamp_ms, type, peer, direction, tag, text, author, decision, outcome, has_scores, rich_score, business_score
		 FROM messages WHERE peer = ? ORDER BY seq ASC`, peer,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query messages for peer %q: %w", peer, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func allMessages(q execer) ([]MessageRow, error) {
	rows, err := q.Query(
		`SELECT id, seq, timestamp_ms, type, peer, direction, tag, text, author, decision, outcome, has_scores, rich_score, business_score
		 FROM messages ORDER BY seq ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query all messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]MessageRow, error) {
	var out []MessageRow
	for rows.Next() {
		var m MessageRow
		var hasScores int
		var peer, direction, tag, text, author, decision, outcome sql.NullString
		var rich, business sql.NullFloat64
		if err := rows.Scan(&m.ID, &m.Seq, &m.TimestampMs, &m.Type, &peer, &direction, &tag, &text, &author, &decision, &outcome, &hasScores, &rich, &business); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		m.Peer, m.Direction, m.Tag, m.Text, m.Author, m.Decision, m.Outcome = peer.String, direction.String, tag.String, text.String, author.String, decision.String, outcome.String
		m.HasScores = hasScores != 0
		m.RichScore, m.BusinessScore = rich.Float64, business.Float64
		out = append(out, m)
	}
	return out, rows.Err()
}

// deleteAllMessages clears the message projection (the messages table).
func deleteAllMessages(q execer) error {
	_, err := q.Exec(`DELETE FROM messages`)
	if err != nil {
		return fmt.Errorf("store: clear messages: %w", err)
	}
	return nil
}

func (tx *Tx) InsertMessage(m MessageRow) error { return insertMessage(tx.sqlTx, m) }

func (d *DB) MessagesByPeer(peer string) ([]MessageRow, error) { return messagesByPeer(d.sqlDB, peer) }
func (d *DB) AllMessages() ([]MessageRow, error)               { return allMessages(d.sqlDB) }
func (d *DB) DeleteAllMessages() error                         { return deleteAllMessages(d.sqlDB) }
