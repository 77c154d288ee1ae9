package postgres

import (
	"context"
	"database/sql"
	"errors"

	anomaly "solarwatch/internal/anomaly/domain"
	"solarwatch/internal/anomaly/ledger"
)

// LedgerStore persists ledger entries in Postgres so dedup state survives
// restarts. One process owns the table at a time; no row locking is done.
type LedgerStore struct {
	db *sql.DB
}

// NewLedgerStore constructs a store.
func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// Load reads all active entries.
func (s *LedgerStore) Load(ctx context.Context) (map[anomaly.IssueKey]ledger.Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("ledger store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT plant, scope, kind, notified_at, details, message
FROM issue_ledger`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make(map[anomaly.IssueKey]ledger.Entry)
	for rows.Next() {
		var entry ledger.Entry
		var kind string
		if err := rows.Scan(
			&entry.Key.Plant,
			&entry.Key.Scope,
			&kind,
			&entry.NotifiedAt,
			&entry.Details,
			&entry.Message,
		); err != nil {
			return nil, err
		}
		entry.Key.Kind = anomaly.IssueKind(kind)
		entry.NotifiedAt = entry.NotifiedAt.UTC()
		if entry.Key.Validate() != nil {
			continue
		}
		entries[entry.Key] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Save replaces the stored state with the given entries in one transaction.
func (s *LedgerStore) Save(ctx context.Context, entries map[anomaly.IssueKey]ledger.Entry) error {
	if s == nil || s.db == nil {
		return errors.New("ledger store: nil db")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM issue_ledger`); err != nil {
		return err
	}
	for key, entry := range entries {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO issue_ledger (plant, scope, kind, notified_at, details, message)
VALUES ($1, $2, $3, $4, $5, $6)`,
			key.Plant,
			key.Scope,
			string(key.Kind),
			entry.NotifiedAt,
			entry.Details,
			entry.Message,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}
