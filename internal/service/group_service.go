package service

import (
	"context"
	"log/slog"

	"connectrpc.com/connect"
	"github.com/mmynk/splitledger/internal/apperrors"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/middleware"
)

// GroupService implements the GroupService RPC interface.
type GroupService struct {
	ledger *ledger.Ledger
	users  UserLookup
	logger *slog.Logger
}

// NewGroupService creates a GroupService over l.
func NewGroupService(l *ledger.Ledger, users UserLookup, logger *slog.Logger) *GroupService {
	return &GroupService{ledger: l, users: users, logger: logger}
}

// CreateGroup creates a group with the caller as its first admin.
func (s *GroupService) CreateGroup(ctx context.Context, req *connect.Request[CreateGroupRequest]) (*connect.Response[GroupResponse], error) {
	g, err := s.ledger.CreateGroup(ctx, req.Msg.Name, req.Msg.Currency, middleware.GetUserID(ctx))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GroupResponse{Group: g}), nil
}

// GetGroup returns a group and its members. Callers must be members.
func (s *GroupService) GetGroup(ctx context.Context, req *connect.Request[GroupRequest]) (*connect.Response[GetGroupResponse], error) {
	if err := requireMember(ctx, s.ledger, req.Msg.GroupID); err != nil {
		return nil, err
	}
	g, err := s.ledger.GetGroup(ctx, req.Msg.GroupID)
	if err != nil {
		return nil, toConnectError(err)
	}
	members, err := s.members(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&GetGroupResponse{Group: g, Members: members}), nil
}

// ListGroups returns the caller's groups.
func (s *GroupService) ListGroups(ctx context.Context, req *connect.Request[ListGroupsRequest]) (*connect.Response[ListGroupsResponse], error) {
	groups, err := s.ledger.ListGroups(ctx, middleware.GetUserID(ctx))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ListGroupsResponse{Groups: groups}), nil
}

// ArchiveGroup archives a group. Only admins may archive.
func (s *GroupService) ArchiveGroup(ctx context.Context, req *connect.Request[GroupRequest]) (*connect.Response[GroupResponse], error) {
	g, err := s.ledger.ArchiveGroup(ctx, req.Msg.GroupID, middleware.GetUserID(ctx))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GroupResponse{Group: g}), nil
}

// ListMembers returns a group's members with their display names.
func (s *GroupService) ListMembers(ctx context.Context, req *connect.Request[GroupRequest]) (*connect.Response[ListMembersResponse], error) {
	if err := requireMember(ctx, s.ledger, req.Msg.GroupID); err != nil {
		return nil, err
	}
	members, err := s.members(ctx, req.Msg.GroupID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&ListMembersResponse{Members: members}), nil
}

func (s *GroupService) members(ctx context.Context, groupID string) ([]*Member, error) {
	ms, err := s.ledger.ListMembers(ctx, groupID)
	if err != nil {
		return nil, toConnectError(err)
	}
	ids := make([]string, len(ms))
	for i, m := range ms {
		ids[i] = m.UserID
	}
	users, err := s.users.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, toConnectError(apperrors.WithOp("service.ListMembers", err))
	}

	out := make([]*Member, len(ms))
	for i, m := range ms {
		out[i] = &Member{Member: m}
		if u, ok := users[m.UserID]; ok {
			out[i].DisplayName = u.DisplayName
			out[i].Email = u.Email
		} else {
			s.logger.Warn("member has no account", "group_id", groupID, "user_id", m.UserID)
		}
	}
	return out, nil
}

// requireMember fails unless the caller belongs to groupID. Ledger reads
// take no actor, so every read RPC goes through here first.
func requireMember(ctx context.Context, l *ledger.Ledger, groupID string) error {
	userID := middleware.GetUserID(ctx)
	ok, err := l.IsMember(ctx, groupID, userID)
	if err != nil {
		return toConnectError(err)
	}
	if !ok {
		return toConnectError(apperrors.New(apperrors.KindNotAMember, "user %s is not a member of group %s", userID, groupID))
	}
	return nil
}
