package models

import "time"

// GroupStatus is the lifecycle state of a group.
type GroupStatus string

const (
	GroupActive   GroupStatus = "active"
	GroupArchived GroupStatus = "archived"
)

// Role is a member's permission level within a group.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

// Group is the root entity that owns a membership set and a ledger.
// Groups are archived, never hard-deleted.
type Group struct {
	// ID is the unique identifier for the group (UUID format).
	ID string `json:"id"`

	// Name is the display name of the group (e.g., "Roommates", "Ski Trip").
	Name string `json:"name"`

	// Currency is the ISO-4217 code every amount in the group uses.
	Currency string `json:"currency"`

	// CreatedBy is the user ID of the creator, who becomes the first admin.
	CreatedBy string `json:"createdBy"`

	Status    GroupStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Archived reports whether the group has been soft-deleted.
func (g *Group) Archived() bool { return g.Status == GroupArchived }

// Member is a user admitted to a group.
type Member struct {
	UserID   string    `json:"userId"`
	GroupID  string    `json:"groupId"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`

	// InvitationID is the accepted invitation that produced this member.
	// Empty for the group creator.
	InvitationID string `json:"invitationId,omitempty"`
}

// IsAdmin reports whether the member may manage the group.
func (m *Member) IsAdmin() bool { return m.Role == RoleAdmin }
