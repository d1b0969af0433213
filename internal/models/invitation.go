package models

import "time"

// InvitationStatus is a state of the invitation lifecycle.
type InvitationStatus string

const (
	InvitationSent            InvitationStatus = "sent"
	InvitationPendingApproval InvitationStatus = "pending_approval"
	InvitationApproved        InvitationStatus = "approved"
	InvitationAccepted        InvitationStatus = "accepted"
	InvitationRejected        InvitationStatus = "rejected"
	InvitationDeclined        InvitationStatus = "declined"
	InvitationExpired         InvitationStatus = "expired"
	InvitationCancelled       InvitationStatus = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s InvitationStatus) Terminal() bool {
	switch s {
	case InvitationSent, InvitationPendingApproval, InvitationApproved:
		return false
	default:
		return true
	}
}

// Invitation asks someone to join a group.
type Invitation struct {
	ID              string `json:"id"`
	GroupID         string `json:"groupId"`
	InviteeEmail    string `json:"inviteeEmail"`
	InvitedByUserID string `json:"invitedByUserId"`
	Role            Role   `json:"role"`
	Message         string `json:"message,omitempty"`

	// Token is the raw single-use capability. It is only populated on the
	// value returned when the invitation is created; stores keep TokenHash.
	Token     string `json:"token,omitempty"`
	TokenHash string `json:"-"`

	Status        InvitationStatus `json:"status"`
	ApprovalNotes string           `json:"approvalNotes,omitempty"`

	// AcceptedByUserID is the member created by an accepted invitation.
	AcceptedByUserID string `json:"acceptedByUserId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ExpiredAt reports whether the invitation has lapsed at now while still
// open. Terminal invitations never lapse.
func (i *Invitation) ExpiredAt(now time.Time) bool {
	return !i.Status.Terminal() && !now.Before(i.ExpiresAt)
}

// EffectiveStatus returns the status as observed at now, applying lazy
// expiry without mutating the invitation.
func (i *Invitation) EffectiveStatus(now time.Time) InvitationStatus {
	if i.ExpiredAt(now) {
		return InvitationExpired
	}
	return i.Status
}
