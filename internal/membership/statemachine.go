// Package membership implements the invitation lifecycle as an explicit
// transition table.
//
//	(none) --invite(admin)--> sent
//	(none) --invite(member)--> pending_approval
//	sent, pending_approval --approve--> approved
//	sent, pending_approval --reject--> rejected
//	sent, pending_approval --cancel--> cancelled
//	approved --accept--> accepted     (creates a Member)
//	approved --decline--> declined
//	sent, pending_approval, approved --expire--> expired
//
// Expiry is lazy: it is evaluated whenever an invitation is transitioned.
package membership

import (
	"time"

	"github.com/mmynk/splitledger/internal/apperrors"
	"github.com/mmynk/splitledger/internal/models"
)

// DefaultTTL is how long an invitation stays open.
const DefaultTTL = 7 * 24 * time.Hour

// Event drives an invitation transition.
type Event string

const (
	EventApprove Event = "approve"
	EventReject  Event = "reject"
	EventCancel  Event = "cancel"
	EventAccept  Event = "accept"
	EventDecline Event = "decline"
	EventExpire  Event = "expire"
)

// Actor is the party allowed to raise an event.
type Actor string

const (
	ActorAdmin   Actor = "admin"
	ActorInvitee Actor = "invitee"
	ActorSystem  Actor = "system"
)

type transition struct {
	to    models.InvitationStatus
	actor Actor
}

var table = map[models.InvitationStatus]map[Event]transition{
	models.InvitationSent: {
		EventApprove: {models.InvitationApproved, ActorAdmin},
		EventReject:  {models.InvitationRejected, ActorAdmin},
		EventCancel:  {models.InvitationCancelled, ActorAdmin},
		EventExpire:  {models.InvitationExpired, ActorSystem},
	},
	models.InvitationPendingApproval: {
		EventApprove: {models.InvitationApproved, ActorAdmin},
		EventReject:  {models.InvitationRejected, ActorAdmin},
		EventCancel:  {models.InvitationCancelled, ActorAdmin},
		EventExpire:  {models.InvitationExpired, ActorSystem},
	},
	models.InvitationApproved: {
		EventAccept:  {models.InvitationAccepted, ActorInvitee},
		EventDecline: {models.InvitationDeclined, ActorInvitee},
		EventExpire:  {models.InvitationExpired, ActorSystem},
	},
}

// InitialStatus is the status of a new invitation created by a member with
// the given role. Admin invitations start as sent; invitations from
// regular members wait for an admin in pending_approval.
func InitialStatus(inviterRole models.Role) models.InvitationStatus {
	if inviterRole == models.RoleAdmin {
		return models.InvitationSent
	}
	return models.InvitationPendingApproval
}

// Transition returns the status reached from 'from' on event, or an
// InvalidStateTransition error.
func Transition(from models.InvitationStatus, event Event) (models.InvitationStatus, error) {
	t, ok := table[from][event]
	if !ok {
		return "", apperrors.New(apperrors.KindInvalidStateTransition, "cannot %s an invitation that is %s", event, from)
	}
	return t.to, nil
}

// ActorFor returns the party allowed to raise event, or "" if the event is unknown.
func ActorFor(event Event) Actor {
	for _, events := range table {
		if t, ok := events[event]; ok {
			return t.actor
		}
	}
	return ""
}

// Apply transitions inv in place at now.
//
// If the invitation is open and its expiry has passed, it is moved to
// expired and InvitationExpired is returned instead; the caller must still
// persist inv so the expiry sticks. On an InvalidStateTransition error inv
// is left unchanged.
func Apply(inv *models.Invitation, event Event, now time.Time) error {
	if event != EventExpire && inv.ExpiredAt(now) {
		inv.Status = models.InvitationExpired
		inv.UpdatedAt = now
		return apperrors.New(apperrors.KindInvitationExpired, "invitation %s expired at %s", inv.ID, inv.ExpiresAt.Format(time.RFC3339))
	}
	to, err := Transition(inv.Status, event)
	if err != nil {
		return err
	}
	inv.Status = to
	inv.UpdatedAt = now
	return nil
}
