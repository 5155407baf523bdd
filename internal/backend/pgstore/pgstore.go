// Package pgstore implements the index backend contract on PostgreSQL. The
// conditional write runs inside one transaction with row locks, so at most
// one concurrent writer wins each Entry Table row.
package pgstore

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/encsearch/findex/internal/backend"
	"github.com/encsearch/findex/internal/model"
	"github.com/encsearch/findex/pkg/errors"
	"github.com/encsearch/findex/pkg/logger"
	"github.com/encsearch/findex/pkg/postgres"
)

const dumpPageSize = 1000

var tableName = map[backend.Table]string{
	backend.EntryTable: "findex_entry_table",
	backend.ChainTable: "findex_chain_table",
}

// Store implements backend.Store for one table on one PostgreSQL database.
type Store struct {
	client *postgres.Client
	table  string
	logger *slog.Logger
}

// New ensures the table exists and wraps the client.
func New(client *postgres.Client, table backend.Table) (*Store, error) {
	name := tableName[table]
	_, err := client.DB.Exec(fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			uid   BYTEA PRIMARY KEY,
			value BYTEA NOT NULL
		)`, name))
	if err != nil {
		return nil, errors.Backendf("creating table %s: %v", name, err)
	}
	return &Store{
		client: client,
		table:  name,
		logger: logger.WithComponent("postgres-" + string(table)),
	}, nil
}

// DumpTokens pages through the table in keyset order so arbitrarily large
// tables never need one oversized result set.
func (s *Store) DumpTokens(ctx context.Context) ([]model.Token, error) {
	var tokens []model.Token
	after := []byte{}
	for {
		rows, err := s.client.DB.QueryContext(ctx, fmt.Sprintf(
			`SELECT uid FROM %s WHERE uid > $1 ORDER BY uid LIMIT $2`, s.table),
			after, dumpPageSize)
		if err != nil {
			return nil, errors.Backendf("dumping tokens from %s: %v", s.table, err)
		}
		page := 0
		for rows.Next() {
			var uid []byte
			if err := rows.Scan(&uid); err != nil {
				rows.Close()
				return nil, errors.Backendf("scanning token: %v", err)
			}
			t, err := model.TokenFromBytes(uid)
			if err != nil {
				rows.Close()
				return nil, err
			}
			tokens = append(tokens, t)
			after = uid
			page++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, errors.Backendf("iterating tokens: %v", err)
		}
		rows.Close()
		if page < dumpPageSize {
			return tokens, nil
		}
	}
}

func (s *Store) Fetch(ctx context.Context, tokens []model.Token) (map[model.Token][]byte, error) {
	if len(tokens) == 0 {
		return map[model.Token][]byte{}, nil
	}
	uids := make([][]byte, len(tokens))
	for i, t := range tokens {
		uids[i] = t[:]
	}
	rows, err := s.client.DB.QueryContext(ctx, fmt.Sprintf(
		`SELECT uid, value FROM %s WHERE uid = ANY($1)`, s.table),
		pq.ByteaArray(uids))
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
	rejected := make(map[model.Token][]byte)
	err := s.client.InTx(ctx, func(tx *sql.Tx) error {
		for t, newValue := range newValues {
			var current []byte
			err := tx.QueryRowContext(ctx, fmt.Sprintf(
				`SELECT value FROM %s WHERE uid = $1 FOR UPDATE`, s.table),
				t[:]).Scan(&current)
			switch {
			case err == sql.ErrNoRows:
				current = nil
			case err != nil:
				return errors.Backendf("reading current value: %v", err)
			}

			if bytes.Equal(current, oldValues[t]) {
				_, err := tx.ExecContext(ctx, fmt.Sprintf(
					`INSERT INTO %s (uid, value) VALUES ($1, $2)
					 ON CONFLICT (uid) DO UPDATE SET value = EXCLUDED.value`, s.table),
					t[:], newValue)
				if err != nil {
					return errors.Backendf("writing row: %v", err)
				}
			} else {
				rejected[t] = current
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("upsert done", "written", len(newValues)-len(rejected), "rejected", len(rejected))
	return rejected, nil
}

func (s *Store) Insert(ctx context.Context, rows map[model.Token][]byte) error {
	if len(rows) == 0 {
		return nil
	}
	return s.client.InTx(ctx, func(tx *sql.Tx) error {
		for t, v := range rows {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`INSERT INTO %s (uid, value) VALUES ($1, $2)`, s.table),
				t[:], v); err != nil {
				return errors.Backendf("inserting row %s: %v", t, err)
			}
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, tokens []model.Token) error {
	if len(tokens) == 0 {
		return nil
	}
	uids := make([][]byte, len(tokens))
	for i, t := range tokens {
		uids[i] = t[:]
	}
	_, err := s.client.DB.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE uid = ANY($1)`, s.table),
		pq.ByteaArray(uids))
	if err != nil {
		return errors.Backendf("deleting from %s: %v", s.table, err)
	}
	return nil
}

// Clear removes every row of the table. Definitive; tests only.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.client.DB.ExecContext(ctx, "TRUNCATE "+s.table); err != nil {
		return errors.Backendf("truncating %s: %v", s.table, err)
	}
	return nil
}
