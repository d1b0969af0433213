package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/splitledger/internal/apperrors"
	"github.com/mmynk/splitledger/internal/membership"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// InviteInput describes a new invitation.
type InviteInput struct {
	GroupID string
	ActorID string
	Email   string
	Role    models.Role
	Message string
}

// InvitationFilter selects invitations for ListInvitations. At least one
// of GroupID and UserID is required; UserID matches invitations addressed
// to that user's email. Statuses, when set, are compared against the
// effective status after lazy expiry.
type InvitationFilter struct {
	GroupID  string
	UserID   string
	Statuses []models.InvitationStatus
}

// Invite creates an invitation and returns it with its raw token, which is
// never retrievable again. Admin invitations start as sent; invitations
// from regular members wait in pending_approval for an admin.
func (l *Ledger) Invite(ctx context.Context, in InviteInput) (*models.Invitation, error) {
	const op = "ledger.Invite"

	email := models.NormalizeEmail(in.Email)
	if err := l.validate.Var(email, "required,email"); err != nil {
		return nil, l.fail(op, invalid("invalid invitee email %q", in.Email))
	}
	role := in.Role
	if role == "" {
		role = models.RoleMember
	}
	if !role.Valid() {
		return nil, l.fail(op, invalid("unknown role %q", in.Role))
	}

	unlock := l.locks.lock(in.GroupID)
	defer unlock()

	if _, err := l.activeGroup(ctx, in.GroupID); err != nil {
		return nil, l.fail(op, err)
	}
	inviter, err := l.member(ctx, in.GroupID, in.ActorID)
	if err != nil {
		return nil, l.fail(op, err)
	}
	if role == models.RoleAdmin && !inviter.IsAdmin() {
		return nil, l.fail(op, apperrors.New(apperrors.KindForbidden, "only admins can invite admins"))
	}

	if err := l.checkNotMember(ctx, in.GroupID, email); err != nil {
		return nil, l.fail(op, err)
	}

	now := l.clock()
	if err := l.checkNoOpenInvitation(ctx, in.GroupID, email, now); err != nil {
		return nil, l.fail(op, err)
	}

	token, hash, err := l.newToken()
	if err != nil {
		return nil, l.fail(op, apperrors.Wrap(apperrors.KindInternal, op, fmt.Errorf("mint invitation token: %w", err)))
	}
	inv := &models.Invitation{
		ID:              uuid.NewString(),
		GroupID:         in.GroupID,
		InviteeEmail:    email,
		InvitedByUserID: in.ActorID,
		Role:            role,
		Message:         in.Message,
		Token:           token,
		TokenHash:       hash,
		Status:          membership.InitialStatus(inviter.Role),
		CreatedAt:       now,
		ExpiresAt:       now.Add(l.ttl),
		UpdatedAt:       now,
	}
	if err := l.store.CreateInvitation(ctx, inv); err != nil {
		return nil, l.fail(op, err)
	}

	l.metrics.InvitationTransitioned(string(inv.Status))
	l.logger.Info("invitation created",
		"invitation_id", inv.ID, "group_id", inv.GroupID, "status", inv.Status, "actor", in.ActorID)
	return inv, nil
}

// checkNotMember fails with AlreadyMember if a registered user with email
// already belongs to the group.
func (l *Ledger) checkNotMember(ctx context.Context, groupID, email string) error {
	user, err := l.store.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = l.store.GetMember(ctx, groupID, user.ID)
	switch {
	case err == nil:
		return apperrors.New(apperrors.KindAlreadyMember, "%s is already a member of group %s", email, groupID)
	case errors.Is(err, storage.ErrNotFound):
		return nil
	default:
		return err
	}
}

// checkNoOpenInvitation fails with DuplicateInvitation if email already has
// an open invitation to the group. Open invitations found to have lapsed
// are moved to expired on the way.
func (l *Ledger) checkNoOpenInvitation(ctx context.Context, groupID, email string, now time.Time) error {
	existing, err := l.store.ListInvitations(ctx, storage.InvitationQuery{GroupID: groupID, InviteeEmail: email})
	if err != nil {
		return err
	}
	for _, inv := range existing {
		if inv.Status.Terminal() {
			continue
		}
		if inv.ExpiredAt(now) {
			if err := l.expire(ctx, inv, now); err != nil {
				return err
			}
			continue
		}
		return apperrors.New(apperrors.KindDuplicateInvitation,
			"%s already has an open invitation %s to group %s", email, inv.ID, groupID)
	}
	return nil
}

func (l *Ledger) expire(ctx context.Context, inv *models.Invitation, now time.Time) error {
	if err := membership.Apply(inv, membership.EventExpire, now); err != nil {
		return err
	}
	if err := l.store.UpdateInvitation(ctx, inv, nil); err != nil {
		return err
	}
	l.metrics.InvitationTransitioned(string(inv.Status))
	l.logger.Info("invitation expired", "invitation_id", inv.ID, "group_id", inv.GroupID)
	return nil
}

// ApproveInvitation lets the invitee accept. Admins only.
func (l *Ledger) ApproveInvitation(ctx context.Context, invitationID, actorID, notes string) (*models.Invitation, error) {
	return l.adminTransition(ctx, "ledger.ApproveInvitation", invitationID, actorID, notes, membership.EventApprove)
}

// RejectInvitation closes an invitation before the invitee can accept. Admins only.
func (l *Ledger) RejectInvitation(ctx context.Context, invitationID, actorID, notes string) (*models.Invitation, error) {
	return l.adminTransition(ctx, "ledger.RejectInvitation", invitationID, actorID, notes, membership.EventReject)
}

// CancelInvitation withdraws an invitation that has not been approved yet. Admins only.
func (l *Ledger) CancelInvitation(ctx context.Context, invitationID, actorID, notes string) (*models.Invitation, error) {
	return l.adminTransition(ctx, "ledger.CancelInvitation", invitationID, actorID, notes, membership.EventCancel)
}

func (l *Ledger) adminTransition(ctx context.Context, op, invitationID, actorID, notes string, event membership.Event) (*models.Invitation, error) {
	inv, err := l.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return nil, l.fail(op, notFound(err, "invitation %s not found", invitationID))
	}

	unlock := l.locks.lock(inv.GroupID)
	defer unlock()

	// Re-read under the group lock; the first read only located the group.
	inv, err = l.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return nil, l.fail(op, notFound(err, "invitation %s not found", invitationID))
	}
	if _, err := l.activeGroup(ctx, inv.GroupID); err != nil {
		return nil, l.fail(op, err)
	}
	if _, err := l.admin(ctx, inv.GroupID, actorID); err != nil {
		return nil, l.fail(op, err)
	}

	setNotes := func(inv *models.Invitation) {
		if notes != "" {
			inv.ApprovalNotes = notes
		}
	}
	if err := l.transition(ctx, inv, event, setNotes, nil); err != nil {
		return nil, l.fail(op, err)
	}
	l.logger.Info("invitation transitioned",
		"invitation_id", inv.ID, "group_id", inv.GroupID, "event", event, "status", inv.Status, "actor", actorID)
	return inv, nil
}

// transition applies event to inv and persists the result. update, if
// non-nil, sets the fields that only a successful transition writes.
// member, if non-nil, is created in the same write.
//
// When the invitation turns out to have lapsed only the expiry is
// persisted and InvitationExpired is returned. On any other failure inv is
// left as it was.
func (l *Ledger) transition(ctx context.Context, inv *models.Invitation, event membership.Event,
	update func(*models.Invitation), member *models.Member) error {
	before := *inv
	now := l.clock()

	if err := membership.Apply(inv, event, now); err != nil {
		if apperrors.KindOf(err) != apperrors.KindInvitationExpired {
			return err
		}
		if serr := l.store.UpdateInvitation(ctx, inv, nil); serr != nil {
			*inv = before
			return serr
		}
		l.metrics.InvitationTransitioned(string(inv.Status))
		l.logger.Info("invitation expired", "invitation_id", inv.ID, "group_id", inv.GroupID)
		return err
	}

	if update != nil {
		update(inv)
	}
	if member != nil {
		member.JoinedAt = now
	}
	if err := l.store.UpdateInvitation(ctx, inv, member); err != nil {
		*inv = before
		if member != nil && errors.Is(err, storage.ErrAlreadyExists) {
			return apperrors.New(apperrors.KindAlreadyMember, "user %s is already a member of group %s", member.UserID, inv.GroupID)
		}
		return err
	}
	l.metrics.InvitationTransitioned(string(inv.Status))
	return nil
}

// AcceptInvitation redeems token and admits the invitee as a member with
// the invited role. userID names the accepting account; when empty the
// account registered under the invitee email is used.
func (l *Ledger) AcceptInvitation(ctx context.Context, token, userID string) (*models.Member, error) {
	const op = "ledger.AcceptInvitation"

	inv, unlock, err := l.lockByToken(ctx, token)
	if err != nil {
		return nil, l.fail(op, err)
	}
	defer unlock()

	if userID == "" {
		user, err := l.store.GetUserByEmail(ctx, inv.InviteeEmail)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, l.fail(op, invalid("no account is registered for %s", inv.InviteeEmail))
		}
		if err != nil {
			return nil, l.fail(op, err)
		}
		userID = user.ID
	}

	// Terminal or lapsed invitations fail on their own status, before the
	// membership check.
	if inv.Status.Terminal() || inv.ExpiredAt(l.clock()) {
		return nil, l.fail(op, l.transition(ctx, inv, membership.EventAccept, nil, nil))
	}
	if _, err := l.store.GetMember(ctx, inv.GroupID, userID); err == nil {
		return nil, l.fail(op, apperrors.New(apperrors.KindAlreadyMember, "user %s is already a member of group %s", userID, inv.GroupID))
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, l.fail(op, err)
	}

	member := &models.Member{UserID: userID, GroupID: inv.GroupID, Role: inv.Role, InvitationID: inv.ID}
	setAcceptor := func(inv *models.Invitation) { inv.AcceptedByUserID = userID }
	if err := l.transition(ctx, inv, membership.EventAccept, setAcceptor, member); err != nil {
		return nil, l.fail(op, err)
	}

	l.logger.Info("invitation accepted",
		"invitation_id", inv.ID, "group_id", inv.GroupID, "user_id", userID, "role", member.Role)
	return member, nil
}

// DeclineInvitation redeems token to turn the invitation down.
func (l *Ledger) DeclineInvitation(ctx context.Context, token string) (*models.Invitation, error) {
	const op = "ledger.DeclineInvitation"

	inv, unlock, err := l.lockByToken(ctx, token)
	if err != nil {
		return nil, l.fail(op, err)
	}
	defer unlock()

	if err := l.transition(ctx, inv, membership.EventDecline, nil, nil); err != nil {
		return nil, l.fail(op, err)
	}
	l.logger.Info("invitation declined", "invitation_id", inv.ID, "group_id", inv.GroupID)
	return inv, nil
}

// lockByToken resolves token to its invitation, takes the group's write
// lock and re-reads the invitation under it. The group must be active.
func (l *Ledger) lockByToken(ctx context.Context, token string) (*models.Invitation, func(), error) {
	if token == "" {
		return nil, nil, invalid("invitation token is required")
	}
	hash := membership.HashToken(token)
	inv, err := l.store.GetInvitationByTokenHash(ctx, hash)
	if err != nil {
		return nil, nil, notFound(err, "invitation not found")
	}

	unlock := l.locks.lock(inv.GroupID)
	inv, err = l.store.GetInvitationByTokenHash(ctx, hash)
	if err != nil {
		unlock()
		return nil, nil, notFound(err, "invitation not found")
	}
	if _, err := l.activeGroup(ctx, inv.GroupID); err != nil {
		unlock()
		return nil, nil, err
	}
	return inv, unlock, nil
}

// ListInvitations returns invitations matching f, newest first, with lazy
// expiry applied to the reported status.
func (l *Ledger) ListInvitations(ctx context.Context, f InvitationFilter) ([]*models.Invitation, error) {
	const op = "ledger.ListInvitations"

	if f.GroupID == "" && f.UserID == "" {
		return nil, l.fail(op, invalid("group id or user id is required"))
	}

	q := storage.InvitationQuery{GroupID: f.GroupID}
	if f.UserID != "" {
		user, err := l.store.GetUserByID(ctx, f.UserID)
		if err != nil {
			return nil, l.fail(op, notFound(err, "user %s not found", f.UserID))
		}
		q.InviteeEmail = user.Email
	}

	if f.GroupID != "" {
		unlock := l.locks.rlock(f.GroupID)
		defer unlock()
	}

	invs, err := l.store.ListInvitations(ctx, q)
	if err != nil {
		return nil, l.fail(op, err)
	}

	now := l.clock()
	out := invs[:0]
	for _, inv := range invs {
		inv.Status = inv.EffectiveStatus(now)
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, inv.Status) {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

// GetInvitation returns one invitation with lazy expiry applied to its status.
func (l *Ledger) GetInvitation(ctx context.Context, invitationID string) (*models.Invitation, error) {
	inv, err := l.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return nil, l.fail("ledger.GetInvitation", notFound(err, "invitation %s not found", invitationID))
	}
	inv.Status = inv.EffectiveStatus(l.clock())
	return inv, nil
}
