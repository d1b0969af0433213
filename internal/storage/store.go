// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/mmynk/splitledger/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a record violates a uniqueness constraint.
	ErrAlreadyExists = errors.New("already exists")
)

// InvitationQuery selects invitations either by group or by invitee email.
// Zero fields do not filter. Results carry the stored status; lazy expiry
// is applied by the caller.
type InvitationQuery struct {
	GroupID      string
	InviteeEmail string
}

// Store defines the interface for group ledger storage operations.
// This abstraction allows swapping storage backends (SQLite, in-memory)
// without changing the ledger or service layers.
//
// Every method is atomic on its own. Entries are append-only: there is no
// way to update or delete one.
type Store interface {
	// CreateGroup persists a new group together with its creating member.
	CreateGroup(ctx context.Context, group *models.Group, creator *models.Member) error

	// GetGroup retrieves a group by its ID, or ErrNotFound.
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)

	// ListGroupsForUser returns every group the user is a member of, oldest first.
	ListGroupsForUser(ctx context.Context, userID string) ([]*models.Group, error)

	// UpdateGroupStatus changes a group's lifecycle status.
	UpdateGroupStatus(ctx context.Context, groupID string, status models.GroupStatus) error

	// GetMember returns a group member, or ErrNotFound.
	GetMember(ctx context.Context, groupID, userID string) (*models.Member, error)

	// ListMembers returns a group's members ordered by join time.
	ListMembers(ctx context.Context, groupID string) ([]*models.Member, error)

	// AppendEntry persists an entry with its allocations and assigns
	// entry.Seq, the next position in the group's ledger.
	AppendEntry(ctx context.Context, entry *models.LedgerEntry) error

	// GetEntry retrieves an entry within a group, or ErrNotFound.
	GetEntry(ctx context.Context, groupID, entryID string) (*models.LedgerEntry, error)

	// ListEntries returns entries with Seq > afterSeq in insertion order.
	// A limit <= 0 returns all remaining entries.
	ListEntries(ctx context.Context, groupID string, afterSeq int64, limit int) ([]*models.LedgerEntry, error)

	// FindReversal returns the entry that reverses entryID, or ErrNotFound.
	FindReversal(ctx context.Context, entryID string) (*models.LedgerEntry, error)

	// CreateInvitation persists a new invitation. Only inv.TokenHash is stored.
	CreateInvitation(ctx context.Context, inv *models.Invitation) error

	// GetInvitation retrieves an invitation by ID, or ErrNotFound.
	GetInvitation(ctx context.Context, invitationID string) (*models.Invitation, error)

	// GetInvitationByTokenHash retrieves the invitation a token digest
	// belongs to, or ErrNotFound.
	GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*models.Invitation, error)

	// ListInvitations returns matching invitations, newest first.
	ListInvitations(ctx context.Context, q InvitationQuery) ([]*models.Invitation, error)

	// UpdateInvitation saves an invitation's mutable fields. If member is
	// non-nil it is inserted in the same transaction.
	UpdateInvitation(ctx context.Context, inv *models.Invitation, member *models.Member) error

	// CreateUser persists a new user. Returns ErrAlreadyExists for a taken email.
	CreateUser(ctx context.Context, user *models.User) error

	// GetUserByEmail retrieves a user by email address, or ErrNotFound.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// GetUserByID retrieves a user by ID, or ErrNotFound.
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// GetUsersByIDs returns the users that exist among ids, keyed by ID.
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]*models.User, error)

	// Close releases any resources held by the store.
	Close() error
}
