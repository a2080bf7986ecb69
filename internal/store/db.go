package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// execer is satisfied by both *sql.DB and *sql.Tx, letting every query live
// in one place regardless of whether it runs inside Chain's commit
// transaction or as a standalone read.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// DB is BalanceChain's durable record store: one SQLite database per
// identity. A single open connection is used deliberately (spec.md §5):
// SQLite's own writer lock then gives the linearized read-then-write
// sequence commit requires, without a separate in-process mutex.
type DB struct {
	sqlDB *sql.DB
}

// Open opens or creates the identity's database at path and brings its
// schema up to date.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := migrate(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &DB{sqlDB: sqlDB}, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	return d.sqlDB.Close()
}

// Tx is a BalanceChain transaction: all writes made through it commit
// atomically or not at all (spec.md §4.2, §4.5).
type Tx struct {
	sqlTx *sql.Tx
}

// ErrConflict is returned by WithTx when SQLite reports a serialization
// conflict; the caller should re-read head/seq and retry (spec.md §4.5).
var ErrConflict = errors.New("store: commit conflict, retry")

// WithTx runs fn inside one transaction, committing on success and rolling
// back on any error (including a panic, which is re-raised after rollback).
func (d *DB) WithTx(fn func(*Tx) error) error {
	sqlTx, err := d.sqlDB.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}

	tx := &Tx{sqlTx: sqlTx}

	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}

	return nil
}
