package service

import (
	"context"
	"log/slog"

	"connectrpc.com/connect"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/models"
)

// InvitationService implements the InvitationService RPC interface.
type InvitationService struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

// NewInvitationService creates an InvitationService over l.
func NewInvitationService(l *ledger.Ledger, logger *slog.Logger) *InvitationService {
	return &InvitationService{ledger: l, logger: logger}
}

// Invite creates an invitation. The response is the only place the raw
// token is ever returned; delivering it to the invitee is up to the caller.
func (s *InvitationService) Invite(ctx context.Context, req *connect.Request[InviteRequest]) (*connect.Response[InvitationResponse], error) {
	inv, err := s.ledger.Invite(ctx, ledger.InviteInput{
		GroupID: req.Msg.GroupID,
		ActorID: middleware.GetUserID(ctx),
		Email:   req.Msg.Email,
		Role:    req.Msg.Role,
		Message: req.Msg.Message,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&InvitationResponse{Invitation: inv}), nil
}

// Approve lets an admin release an invitation to the invitee.
func (s *InvitationService) Approve(ctx context.Context, req *connect.Request[InvitationActionRequest]) (*connect.Response[InvitationResponse], error) {
	return s.adminAction(ctx, req.Msg, s.ledger.ApproveInvitation)
}

// Reject lets an admin turn an invitation down before the invitee sees it.
func (s *InvitationService) Reject(ctx context.Context, req *connect.Request[InvitationActionRequest]) (*connect.Response[InvitationResponse], error) {
	return s.adminAction(ctx, req.Msg, s.ledger.RejectInvitation)
}

// Cancel withdraws an invitation that has not been approved yet.
func (s *InvitationService) Cancel(ctx context.Context, req *connect.Request[InvitationActionRequest]) (*connect.Response[InvitationResponse], error) {
	return s.adminAction(ctx, req.Msg, s.ledger.CancelInvitation)
}

type adminFunc func(ctx context.Context, invitationID, actorID, notes string) (*models.Invitation, error)

func (s *InvitationService) adminAction(ctx context.Context, msg *InvitationActionRequest, fn adminFunc) (*connect.Response[InvitationResponse], error) {
	inv, err := fn(ctx, msg.InvitationID, middleware.GetUserID(ctx), msg.Notes)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&InvitationResponse{Invitation: inv}), nil
}

// Accept redeems a token and makes the caller a member.
func (s *InvitationService) Accept(ctx context.Context, req *connect.Request[TokenRequest]) (*connect.Response[AcceptInvitationResponse], error) {
	m, err := s.ledger.AcceptInvitation(ctx, req.Msg.Token, middleware.GetUserID(ctx))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&AcceptInvitationResponse{Member: m}), nil
}

// Decline redeems a token to turn the invitation down.
func (s *InvitationService) Decline(ctx context.Context, req *connect.Request[TokenRequest]) (*connect.Response[InvitationResponse], error) {
	inv, err := s.ledger.DeclineInvitation(ctx, req.Msg.Token)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&InvitationResponse{Invitation: inv}), nil
}

// Get returns one invitation to a member of its group.
func (s *InvitationService) Get(ctx context.Context, req *connect.Request[InvitationRequest]) (*connect.Response[InvitationResponse], error) {
	inv, err := s.ledger.GetInvitation(ctx, req.Msg.InvitationID)
	if err != nil {
		return nil, toConnectError(err)
	}
	if err := requireMember(ctx, s.ledger, inv.GroupID); err != nil {
		return nil, err
	}
	return connect.NewResponse(&InvitationResponse{Invitation: inv}), nil
}

// List returns a group's invitations, or the caller's own when no group is
// given.
func (s *InvitationService) List(ctx context.Context, req *connect.Request[ListInvitationsRequest]) (*connect.Response[ListInvitationsResponse], error) {
	f := ledger.InvitationFilter{Statuses: req.Msg.Statuses}
	if req.Msg.GroupID != "" {
		if err := requireMember(ctx, s.ledger, req.Msg.GroupID); err != nil {
			return nil, err
		}
		f.GroupID = req.Msg.GroupID
	} else {
		f.UserID = middleware.GetUserID(ctx)
	}

	invs, err := s.ledger.ListInvitations(ctx, f)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ListInvitationsResponse{Invitations: invs}), nil
}
