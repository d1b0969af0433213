package service

import (
	"context"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/metrics"
	"github.com/mmynk/splitledger/internal/middleware"
)

// Fully-qualified service names. Every procedure is mounted under
// "/<service>/".
const (
	AuthServiceName       = "splitledger.v1.AuthService"
	GroupServiceName      = "splitledger.v1.GroupService"
	LedgerServiceName     = "splitledger.v1.LedgerService"
	InvitationServiceName = "splitledger.v1.InvitationService"
)

const (
	RegisterProcedure       = "/" + AuthServiceName + "/Register"
	LoginProcedure          = "/" + AuthServiceName + "/Login"
	GetCurrentUserProcedure = "/" + AuthServiceName + "/GetCurrentUser"

	CreateGroupProcedure  = "/" + GroupServiceName + "/CreateGroup"
	GetGroupProcedure     = "/" + GroupServiceName + "/GetGroup"
	ListGroupsProcedure   = "/" + GroupServiceName + "/ListGroups"
	ArchiveGroupProcedure = "/" + GroupServiceName + "/ArchiveGroup"
	ListMembersProcedure  = "/" + GroupServiceName + "/ListMembers"

	AddExpenseProcedure    = "/" + LedgerServiceName + "/AddExpense"
	AddDepositProcedure    = "/" + LedgerServiceName + "/AddDeposit"
	SettleDebtProcedure    = "/" + LedgerServiceName + "/SettleDebt"
	ReverseEntryProcedure  = "/" + LedgerServiceName + "/ReverseEntry"
	GetEntryProcedure      = "/" + LedgerServiceName + "/GetEntry"
	ListEntriesProcedure   = "/" + LedgerServiceName + "/ListEntries"
	GetBalancesProcedure   = "/" + LedgerServiceName + "/GetBalances"
	AuditBalancesProcedure = "/" + LedgerServiceName + "/AuditBalances"

	InviteProcedure            = "/" + InvitationServiceName + "/Invite"
	ApproveInvitationProcedure = "/" + InvitationServiceName + "/Approve"
	RejectInvitationProcedure  = "/" + InvitationServiceName + "/Reject"
	CancelInvitationProcedure  = "/" + InvitationServiceName + "/Cancel"
	AcceptInvitationProcedure  = "/" + InvitationServiceName + "/Accept"
	DeclineInvitationProcedure = "/" + InvitationServiceName + "/Decline"
	GetInvitationProcedure     = "/" + InvitationServiceName + "/Get"
	ListInvitationsProcedure   = "/" + InvitationServiceName + "/List"
)

// Services bundles the RPC implementations served by Mount.
type Services struct {
	Auth        *AuthService
	Groups      *GroupService
	Ledger      *LedgerService
	Invitations *InvitationService
}

// HandlerConfig carries the cross-cutting dependencies of every handler.
type HandlerConfig struct {
	JWTManager *auth.JWTManager
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Mount registers every procedure on mux. Register and Login are public;
// everything else requires a bearer token.
func Mount(mux *http.ServeMux, s Services, cfg HandlerConfig) {
	logging := middleware.LoggingInterceptor(cfg.Logger, cfg.Metrics)
	public := []connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(logging, ValidationInterceptor()),
	}
	authed := []connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(middleware.RequireAuth(cfg.JWTManager), logging, ValidationInterceptor()),
	}

	handle(mux, RegisterProcedure, s.Auth.Register, public)
	handle(mux, LoginProcedure, s.Auth.Login, public)
	handle(mux, GetCurrentUserProcedure, s.Auth.GetCurrentUser, authed)

	handle(mux, CreateGroupProcedure, s.Groups.CreateGroup, authed)
	handle(mux, GetGroupProcedure, s.Groups.GetGroup, authed)
	handle(mux, ListGroupsProcedure, s.Groups.ListGroups, authed)
	handle(mux, ArchiveGroupProcedure, s.Groups.ArchiveGroup, authed)
	handle(mux, ListMembersProcedure, s.Groups.ListMembers, authed)

	handle(mux, AddExpenseProcedure, s.Ledger.AddExpense, authed)
	handle(mux, AddDepositProcedure, s.Ledger.AddDeposit, authed)
	handle(mux, SettleDebtProcedure, s.Ledger.SettleDebt, authed)
	handle(mux, ReverseEntryProcedure, s.Ledger.ReverseEntry, authed)
	handle(mux, GetEntryProcedure, s.Ledger.GetEntry, authed)
	handle(mux, ListEntriesProcedure, s.Ledger.ListEntries, authed)
	handle(mux, GetBalancesProcedure, s.Ledger.GetBalances, authed)
	handle(mux, AuditBalancesProcedure, s.Ledger.AuditBalances, authed)

	handle(mux, InviteProcedure, s.Invitations.Invite, authed)
	handle(mux, ApproveInvitationProcedure, s.Invitations.Approve, authed)
	handle(mux, RejectInvitationProcedure, s.Invitations.Reject, authed)
	handle(mux, CancelInvitationProcedure, s.Invitations.Cancel, authed)
	handle(mux, AcceptInvitationProcedure, s.Invitations.Accept, authed)
	handle(mux, DeclineInvitationProcedure, s.Invitations.Decline, authed)
	handle(mux, GetInvitationProcedure, s.Invitations.Get, authed)
	handle(mux, ListInvitationsProcedure, s.Invitations.List, authed)
}

func handle[Req, Res any](mux *http.ServeMux, procedure string, fn func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error), opts []connect.HandlerOption) {
	mux.Handle(procedure, connect.NewUnaryHandler(procedure, fn, opts...))
}
