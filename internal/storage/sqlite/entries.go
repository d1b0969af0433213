package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/money"
	"github.com/mmynk/splitledger/internal/storage"
)

const entryColumns = `id, group_id, seq, kind, currency, total, payer_id, note, reverses_entry_id, created_at, created_by`

// AppendEntry inserts an entry and its allocations, assigning the next seq
// in the group's ledger. The transaction holds the write lock from its
// first statement, so seq assignment cannot race.
func (s *SQLiteStore) AppendEntry(ctx context.Context, e *models.LedgerEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM ledger_entries WHERE group_id = ?",
		e.GroupID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to assign seq: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO ledger_entries ("+entryColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.GroupID, seq, e.Kind, e.Total.Currency, e.Total.MinorUnits, e.PayerID, e.Note,
		nullString(e.ReversesEntryID), toUnix(e.CreatedAt), e.CreatedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert entry: %w", err)
	}

	for userID, amount := range e.Allocations {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO entry_allocations (entry_id, user_id, amount) VALUES (?, ?, ?)",
			e.ID, userID, amount.MinorUnits,
		)
		if err != nil {
			return fmt.Errorf("failed to insert allocation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	e.Seq = seq
	return nil
}

// GetEntry retrieves an entry by ID within a group.
func (s *SQLiteStore) GetEntry(ctx context.Context, groupID, entryID string) (*models.LedgerEntry, error) {
	return s.queryOneEntry(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE group_id = ? AND id = ?",
		groupID, entryID,
	)
}

// FindReversal returns the compensating entry for entryID.
func (s *SQLiteStore) FindReversal(ctx context.Context, entryID string) (*models.LedgerEntry, error) {
	return s.queryOneEntry(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE reverses_entry_id = ?",
		entryID,
	)
}

// ListEntries returns a page of a group's ledger in seq order.
func (s *SQLiteStore) ListEntries(ctx context.Context, groupID string, afterSeq int64, limit int) ([]*models.LedgerEntry, error) {
	query := "SELECT " + entryColumns + " FROM ledger_entries WHERE group_id = ? AND seq > ? ORDER BY seq"
	args := []any{groupID, afterSeq}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	entries, err := s.queryEntries(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if err := s.loadAllocations(ctx, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *SQLiteStore) queryOneEntry(ctx context.Context, query string, args ...any) (*models.LedgerEntry, error) {
	entries, err := s.queryEntries(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, storage.ErrNotFound
	}
	if err := s.loadAllocations(ctx, entries); err != nil {
		return nil, err
	}
	return entries[0], nil
}

func (s *SQLiteStore) queryEntries(ctx context.Context, query string, args ...any) ([]*models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		e := &models.LedgerEntry{}
		var (
			currency  string
			total     int64
			reverses  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.GroupID, &e.Seq, &e.Kind, &currency, &total, &e.PayerID, &e.Note,
			&reverses, &createdAt, &e.CreatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Total = money.New(total, currency)
		e.ReversesEntryID = reverses.String
		e.CreatedAt = fromUnix(createdAt)
		e.Allocations = make(map[string]money.Money)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return entries, nil
}

// allocationBatch keeps IN clauses well under SQLite's variable limit.
const allocationBatch = 500

// loadAllocations fills in allocations for a list of entries, one query per batch.
func (s *SQLiteStore) loadAllocations(ctx context.Context, entries []*models.LedgerEntry) error {
	for start := 0; start < len(entries); start += allocationBatch {
		end := min(start+allocationBatch, len(entries))
		if err := s.loadAllocationBatch(ctx, entries[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) loadAllocationBatch(ctx context.Context, entries []*models.LedgerEntry) error {
	byID := make(map[string]*models.LedgerEntry, len(entries))
	args := make([]any, len(entries))
	for i, e := range entries {
		byID[e.ID] = e
		args[i] = e.ID
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT entry_id, user_id, amount FROM entry_allocations WHERE entry_id IN ("+placeholders(len(entries))+")",
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to get allocations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entryID, userID string
		var amount int64
		if err := rows.Scan(&entryID, &userID, &amount); err != nil {
			return fmt.Errorf("failed to scan allocation: %w", err)
		}
		e := byID[entryID]
		e.Allocations[userID] = money.New(amount, e.Total.Currency)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate allocations: %w", err)
	}
	return nil
}

// placeholders returns n comma-separated "?" for an IN clause.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return "?" + strings.Repeat(", ?", n-1)
}
