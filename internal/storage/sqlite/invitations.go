package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

const invitationColumns = `id, group_id, invitee_email, invited_by, role, message, token_hash, status,
	approval_notes, accepted_by, created_at, expires_at, updated_at`

// CreateInvitation inserts a new invitation. The raw token is never written.
func (s *SQLiteStore) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO invitations ("+invitationColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		inv.ID, inv.GroupID, inv.InviteeEmail, inv.InvitedByUserID, inv.Role, inv.Message, inv.TokenHash,
		inv.Status, inv.ApprovalNotes, inv.AcceptedByUserID,
		toUnix(inv.CreatedAt), toUnix(inv.ExpiresAt), toUnix(inv.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

// GetInvitation retrieves an invitation by ID.
func (s *SQLiteStore) GetInvitation(ctx context.Context, invitationID string) (*models.Invitation, error) {
	return s.queryOneInvitation(ctx, "SELECT "+invitationColumns+" FROM invitations WHERE id = ?", invitationID)
}

// GetInvitationByTokenHash retrieves an invitation by its token digest.
func (s *SQLiteStore) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*models.Invitation, error) {
	return s.queryOneInvitation(ctx, "SELECT "+invitationColumns+" FROM invitations WHERE token_hash = ?", tokenHash)
}

// ListInvitations returns invitations matching q, newest first.
func (s *SQLiteStore) ListInvitations(ctx context.Context, q storage.InvitationQuery) ([]*models.Invitation, error) {
	var (
		where []string
		args  []any
	)
	if q.GroupID != "" {
		where = append(where, "group_id = ?")
		args = append(args, q.GroupID)
	}
	if q.InviteeEmail != "" {
		where = append(where, "invitee_email = ?")
		args = append(args, q.InviteeEmail)
	}

	query := "SELECT " + invitationColumns + " FROM invitations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	return s.queryInvitations(ctx, query, args...)
}

// UpdateInvitation saves an invitation's status fields, inserting member in
// the same transaction when an acceptance admits someone.
func (s *SQLiteStore) UpdateInvitation(ctx context.Context, inv *models.Invitation, member *models.Member) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE invitations
		SET status = ?, approval_notes = ?, accepted_by = ?, updated_at = ?
		WHERE id = ?
	`, inv.Status, inv.ApprovalNotes, inv.AcceptedByUserID, toUnix(inv.UpdatedAt), inv.ID)
	if err != nil {
		return fmt.Errorf("failed to update invitation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}

	if member != nil {
		if err := insertMember(ctx, tx, member); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) queryOneInvitation(ctx context.Context, query string, args ...any) (*models.Invitation, error) {
	invs, err := s.queryInvitations(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(invs) == 0 {
		return nil, storage.ErrNotFound
	}
	return invs[0], nil
}

func (s *SQLiteStore) queryInvitations(ctx context.Context, query string, args ...any) ([]*models.Invitation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get invitations: %w", err)
	}
	defer rows.Close()

	var invs []*models.Invitation
	for rows.Next() {
		inv := &models.Invitation{}
		var createdAt, expiresAt, updatedAt int64
		if err := rows.Scan(
			&inv.ID, &inv.GroupID, &inv.InviteeEmail, &inv.InvitedByUserID, &inv.Role, &inv.Message,
			&inv.TokenHash, &inv.Status, &inv.ApprovalNotes, &inv.AcceptedByUserID,
			&createdAt, &expiresAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		inv.CreatedAt = fromUnix(createdAt)
		inv.ExpiresAt = fromUnix(expiresAt)
		inv.UpdatedAt = fromUnix(updatedAt)
		invs = append(invs, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invitations: %w", err)
	}
	return invs, nil
}
