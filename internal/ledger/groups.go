package ledger

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/mmynk/splitledger/internal/apperrors"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/money"
)

// CreateGroup creates a group. The creator becomes its first admin.
func (l *Ledger) CreateGroup(ctx context.Context, name, currency, creatorID string) (*models.Group, error) {
	const op = "ledger.CreateGroup"

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, l.fail(op, invalid("group name is required"))
	}
	if creatorID == "" {
		return nil, l.fail(op, invalid("creator id is required"))
	}
	currency = money.NormalizeCurrency(currency)
	if err := money.ValidateCurrency(currency); err != nil {
		return nil, l.fail(op, apperrors.Wrap(apperrors.KindInvalidArgument, op, err))
	}

	now := l.clock()
	g := &models.Group{
		ID:        uuid.NewString(),
		Name:      name,
		Currency:  currency,
		CreatedBy: creatorID,
		Status:    models.GroupActive,
		CreatedAt: now,
	}
	creator := &models.Member{UserID: creatorID, GroupID: g.ID, Role: models.RoleAdmin, JoinedAt: now}
	if err := l.store.CreateGroup(ctx, g, creator); err != nil {
		return nil, l.fail(op, err)
	}

	l.logger.Info("group created", "group_id", g.ID, "currency", g.Currency, "creator", creatorID)
	return g, nil
}

// ArchiveGroup soft-deletes a group. Its history stays readable but every
// further mutation fails with GroupArchived. Admins only.
func (l *Ledger) ArchiveGroup(ctx context.Context, groupID, actorID string) (*models.Group, error) {
	const op = "ledger.ArchiveGroup"

	unlock := l.locks.lock(groupID)
	defer unlock()

	g, err := l.activeGroup(ctx, groupID)
	if err != nil {
		return nil, l.fail(op, err)
	}
	if _, err := l.admin(ctx, groupID, actorID); err != nil {
		return nil, l.fail(op, err)
	}
	if err := l.store.UpdateGroupStatus(ctx, groupID, models.GroupArchived); err != nil {
		return nil, l.fail(op, notFound(err, "group %s not found", groupID))
	}
	g.Status = models.GroupArchived

	l.logger.Info("group archived", "group_id", groupID, "actor", actorID)
	return g, nil
}

// GetGroup returns a group.
func (l *Ledger) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	g, err := l.loadGroup(ctx, groupID)
	if err != nil {
		return nil, l.fail("ledger.GetGroup", err)
	}
	return g, nil
}

// ListGroups returns every group userID belongs to.
func (l *Ledger) ListGroups(ctx context.Context, userID string) ([]*models.Group, error) {
	groups, err := l.store.ListGroupsForUser(ctx, userID)
	if err != nil {
		return nil, l.fail("ledger.ListGroups", err)
	}
	return groups, nil
}

// ListMembers returns a group's members in join order.
func (l *Ledger) ListMembers(ctx context.Context, groupID string) ([]*models.Member, error) {
	const op = "ledger.ListMembers"

	unlock := l.locks.rlock(groupID)
	defer unlock()

	if _, err := l.loadGroup(ctx, groupID); err != nil {
		return nil, l.fail(op, err)
	}
	members, err := l.store.ListMembers(ctx, groupID)
	if err != nil {
		return nil, l.fail(op, err)
	}
	return members, nil
}

// IsMember reports whether userID is an active member of groupID.
func (l *Ledger) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	_, err := l.member(ctx, groupID, userID)
	switch apperrors.KindOf(err) {
	case "":
		if err != nil {
			return false, l.fail("ledger.IsMember", err)
		}
		return true, nil
	case apperrors.KindNotAMember:
		return false, nil
	default:
		return false, l.fail("ledger.IsMember", err)
	}
}
