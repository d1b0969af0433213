package service

import (
	"context"
	"log/slog"

	"connectrpc.com/connect"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/money"
)

// LedgerService implements the LedgerService RPC interface: recording
// expenses, deposits, settlements and reversals, and reading balances.
type LedgerService struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

// NewLedgerService creates a LedgerService over l.
func NewLedgerService(l *ledger.Ledger, logger *slog.Logger) *LedgerService {
	return &LedgerService{ledger: l, logger: logger}
}

func (s *LedgerService) expenseInput(ctx context.Context, msg *AddExpenseRequest) ledger.ExpenseInput {
	actorID := middleware.GetUserID(ctx)
	payerID := msg.PayerID
	if payerID == "" {
		payerID = actorID
	}
	total := money.New(msg.Total.MinorUnits, msg.Total.Currency)
	return ledger.ExpenseInput{
		GroupID:      msg.GroupID,
		ActorID:      actorID,
		Total:        total,
		PayerID:      payerID,
		Policy:       msg.Split.policy(total.Currency),
		Participants: msg.Participants,
		Note:         msg.Note,
	}
}

// AddExpense records an expense paid by one member for the participants.
func (s *LedgerService) AddExpense(ctx context.Context, req *connect.Request[AddExpenseRequest]) (*connect.Response[EntryResponse], error) {
	e, err := s.ledger.AddExpense(ctx, s.expenseInput(ctx, req.Msg))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&EntryResponse{Entry: e}), nil
}

// AddDeposit records money a member put into the group pool.
func (s *LedgerService) AddDeposit(ctx context.Context, req *connect.Request[AddExpenseRequest]) (*connect.Response[EntryResponse], error) {
	e, err := s.ledger.AddDeposit(ctx, s.expenseInput(ctx, req.Msg))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&EntryResponse{Entry: e}), nil
}

// SettleDebt records a payment between two members.
func (s *LedgerService) SettleDebt(ctx context.Context, req *connect.Request[SettleDebtRequest]) (*connect.Response[EntryResponse], error) {
	actorID := middleware.GetUserID(ctx)
	from := req.Msg.FromUserID
	if from == "" {
		from = actorID
	}
	e, err := s.ledger.SettleDebt(ctx, ledger.SettlementInput{
		GroupID:    req.Msg.GroupID,
		ActorID:    actorID,
		FromUserID: from,
		ToUserID:   req.Msg.ToUserID,
		Amount:     money.New(req.Msg.Amount.MinorUnits, req.Msg.Amount.Currency),
		Note:       req.Msg.Note,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&EntryResponse{Entry: e}), nil
}

// ReverseEntry appends a compensating entry for an earlier one.
func (s *LedgerService) ReverseEntry(ctx context.Context, req *connect.Request[ReverseEntryRequest]) (*connect.Response[EntryResponse], error) {
	e, err := s.ledger.ReverseEntry(ctx, req.Msg.GroupID, middleware.GetUserID(ctx), req.Msg.EntryID, req.Msg.Note)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&EntryResponse{Entry: e}), nil
}

// GetEntry returns a single entry.
func (s *LedgerService) GetEntry(ctx context.Context, req *connect.Request[GetEntryRequest]) (*connect.Response[EntryResponse], error) {
	if err := requireMember(ctx, s.ledger, req.Msg.GroupID); err != nil {
		return nil, err
	}
	e, err := s.ledger.GetEntry(ctx, req.Msg.GroupID, req.Msg.EntryID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&EntryResponse{Entry: e}), nil
}

// ListEntries returns a page of the group's ledger.
func (s *LedgerService) ListEntries(ctx context.Context, req *connect.Request[ListEntriesRequest]) (*connect.Response[ListEntriesResponse], error) {
	if err := requireMember(ctx, s.ledger, req.Msg.GroupID); err != nil {
		return nil, err
	}
	page, err := s.ledger.ListEntries(ctx, req.Msg.GroupID, ledger.Page{AfterSeq: req.Msg.AfterSeq, Limit: req.Msg.Limit})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ListEntriesResponse{Entries: page.Entries, NextAfterSeq: page.NextAfterSeq}), nil
}

// GetBalances returns every member's balance and a simplified set of
// payments that would settle the group.
func (s *LedgerService) GetBalances(ctx context.Context, req *connect.Request[GroupRequest]) (*connect.Response[GetBalancesResponse], error) {
	if err := requireMember(ctx, s.ledger, req.Msg.GroupID); err != nil {
		return nil, err
	}
	b, err := s.ledger.GetBalances(ctx, req.Msg.GroupID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetBalancesResponse{
		GroupID:  b.GroupID,
		Currency: b.Currency,
		Seq:      b.Seq,
		Balances: b.Balances.Sorted(),
		Debts:    b.Debts,
	}), nil
}

// AuditBalances recomputes the group's balances from its full history.
func (s *LedgerService) AuditBalances(ctx context.Context, req *connect.Request[GroupRequest]) (*connect.Response[AuditBalancesResponse], error) {
	if err := requireMember(ctx, s.ledger, req.Msg.GroupID); err != nil {
		return nil, err
	}
	r, err := s.ledger.AuditBalances(ctx, req.Msg.GroupID)
	if err != nil {
		return nil, toConnectError(err)
	}
	if !r.Consistent {
		s.logger.Warn("balance projection was rebuilt", "group_id", r.GroupID, "seq", r.Seq)
	}
	return connect.NewResponse(&AuditBalancesResponse{
		GroupID:    r.GroupID,
		Seq:        r.Seq,
		EntryCount: r.EntryCount,
		Consistent: r.Consistent,
		Sum:        r.Sum,
	}), nil
}
