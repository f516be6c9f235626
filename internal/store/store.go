// Package store is the Record Store adapter: a SQLite-backed table
// abstraction holding the raw records and every derived record set,
// keyed by record id. Derived sets are replaced atomically so stage
// re-runs are idempotent and a cancelled run leaves nothing visible.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"comms-intel-go/internal/types"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

// New opens (and if needed creates) the record store at path.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertSourceRecords ingests raw communications. Existing rows with the
// same id are overwritten; source records are otherwise immutable.
func (s *Store) UpsertSourceRecords(ctx context.Context, records []types.SourceRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO source_records
			(id, origin_kind, raw_payload_ref, customer_id, customer_name, received_at)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, r.ID, string(r.OriginKind), r.RawPayloadRef,
				r.CustomerID, r.CustomerName, r.ReceivedAt.UTC().Format(time.RFC3339)); err != nil {
				return err
			}
		}
		return nil
	})
}

// SourceRecords returns all raw records ordered by receipt time.
func (s *Store) SourceRecords(ctx context.Context) ([]types.SourceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, origin_kind, raw_payload_ref, customer_id, customer_name, received_at
		FROM source_records ORDER BY received_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.SourceRecord
	for rows.Next() {
		var r types.SourceRecord
		var kind, received string
		if err := rows.Scan(&r.ID, &kind, &r.RawPayloadRef, &r.CustomerID, &r.CustomerName, &received); err != nil {
			return nil, err
		}
		r.OriginKind = types.OriginKind(kind)
		r.ReceivedAt, _ = time.Parse(time.RFC3339, received)
		out = append(out, r)
	}
	return out, rows.Err()
}

// inTx runs fn inside one transaction. Either every write commits or
// none of them become visible; this is the stage-level atomicity the
// pipeline relies on.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// placeholders builds "?, ?, ?" for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func idArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
