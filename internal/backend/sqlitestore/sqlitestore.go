// Package sqlitestore implements the index backend contract on an embedded
// SQLite database (modernc.org/sqlite, no cgo).
package sqlitestore

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/encsearch/findex/internal/backend"
	"github.com/encsearch/findex/internal/model"
	"github.com/encsearch/findex/pkg/errors"
)

var tableName = map[backend.Table]string{
	backend.EntryTable: "entry_table",
	backend.ChainTable: "chain_table",
}

// Store implements backend.Store for one table in one SQLite file. Entry
// and Chain Tables may share a file or use distinct ones.
type Store struct {
	db    *sql.DB
	table string
}

// New opens (creating if needed) the database file and the table.
func New(path string, table backend.Table) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Backendf("opening sqlite database %s: %v", path, err)
	}
	// A single writer connection sidesteps SQLITE_BUSY on concurrent use.
	db.SetMaxOpenConns(1)

	name := tableName[table]
	if _, err := db.Exec(fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			uid   BLOB PRIMARY KEY,
			value BLOB NOT NULL
		)`, name)); err != nil {
		db.Close()
		return nil, errors.Backendf("creating table %s: %v", name, err)
	}
	return &Store{db: db, table: name}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Clear removes every row of the table. Definitive; tests only.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+s.table); err != nil {
		return errors.Backendf("clearing %s: %v", s.table, err)
	}
	return nil
}

func (s *Store) DumpTokens(ctx context.Context) ([]model.Token, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT uid FROM %s`, s.table))
	if err != nil {
		return nil, errors.Backendf("dumping tokens from %s: %v", s.table, err)
	}
	defer rows.Close()

	var tokens []model.Token
	for rows.Next() {
		var uid []byte
		if err := rows.Scan(&uid); err != nil {
			return nil, errors.Backendf("scanning token: %v", err)
		}
		t, err := model.TokenFromBytes(uid)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Backendf("iterating tokens: %v", err)
	}
	return tokens, nil
}

func (s *Store) Fetch(ctx context.Context, tokens []model.Token) (map[model.Token][]byte, error) {
	if len(tokens) == 0 {
		return map[model.Token][]byte{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tokens)), ",")
	args := make([]any, len(tokens))
	for i, t := range tokens {
		args[i] = t[:]
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT uid, value FROM %s WHERE uid IN (%s)`, s.table, placeholders), args...)
	if err != nil {
		return nil, errors.Backendf("fetching from %s: %v", s.table, err)
	}
	defer rows.Close()

	found := make(map[model.Token][]byte, len(tokens))
	for rows.Next() {
		var uid, value []byte
		if err := rows.Scan(&uid, &value); err != nil {
			return nil, errors.Backendf("scanning row: %v", err)
		}
		t, err := model.TokenFromBytes(uid)
		if err != nil {
			return nil, err
		}
		found[t] = value
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Backendf("iterating rows: %v", err)
	}
	return found, nil
}

func (s *Store) Upsert(ctx context.Context, oldValues, newValues map[model.Token][]byte) (map[model.Token][]byte, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Backendf("beginning transaction: %v", err)
	}
	defer tx.Rollback()

	rejected := make(map[model.Token][]byte)
	for t, newValue := range newValues {
		var current []byte
		err := tx.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT value FROM %s WHERE uid = ?`, s.table), t[:]).Scan(&current)
		switch {
		case err == sql.ErrNoRows:
			current = nil
		case err != nil:
			return nil, errors.Backendf("reading current value: %v", err)
		}

		if bytes.Equal(current, oldValues[t]) {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`REPLACE INTO %s (uid, value) VALUES (?, ?)`, s.table),
				t[:], newValue); err != nil {
				return nil, errors.Backendf("writing row: %v", err)
			}
		} else {
			rejected[t] = current
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Backendf("committing upsert: %v", err)
	}
	return rejected, nil
}

func (s *Store) Insert(ctx context.Context, rows map[model.Token][]byte) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Backendf("beginning transaction: %v", err)
	}
	defer tx.Rollback()

	for t, v := range rows {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s (uid, value) VALUES (?, ?)`, s.table),
			t[:], v); err != nil {
			return errors.Backendf("inserting row %s: %v", t, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Backendf("committing insert: %v", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, tokens []model.Token) error {
	if len(tokens) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tokens)), ",")
	args := make([]any, len(tokens))
	for i, t := range tokens {
		args[i] = t[:]
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE uid IN (%s)`, s.table, placeholders), args...); err != nil {
		return errors.Backendf("deleting from %s: %v", s.table, err)
	}
	return nil
}
