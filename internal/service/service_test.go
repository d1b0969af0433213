package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/mmynk/splitledger/internal/apperrors"
	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/metrics"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/money"
	"github.com/mmynk/splitledger/internal/storage/sqlite"
	"github.com/prometheus/client_golang/prometheus"
)

type testServer struct {
	url string
}

// setupTestServer serves every RPC over a temp SQLite database.
func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())
	l := ledger.New(store, ledger.WithLogger(logger), ledger.WithMetrics(m))
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)

	mux := http.NewServeMux()
	Mount(mux, Services{
		Auth:        NewAuthService(auth.NewPasswordAuthenticator(store), jwtManager, store, logger),
		Groups:      NewGroupService(l, store, logger),
		Ledger:      NewLedgerService(l, logger),
		Invitations: NewInvitationService(l, logger),
	}, HandlerConfig{JWTManager: jwtManager, Logger: logger, Metrics: m})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &testServer{url: server.URL}
}

func call[Req, Res any](t *testing.T, ts *testServer, procedure, token string, msg *Req) (*Res, error) {
	t.Helper()
	client := NewClient[Req, Res](http.DefaultClient, ts.url, procedure)
	req := connect.NewRequest(msg)
	if token != "" {
		req.Header().Set("Authorization", "Bearer "+token)
	}
	resp, err := client.CallUnary(context.Background(), req)
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func mustCall[Req, Res any](t *testing.T, ts *testServer, procedure, token string, msg *Req) *Res {
	t.Helper()
	res, err := call[Req, Res](t, ts, procedure, token, msg)
	if err != nil {
		t.Fatalf("%s: %v", procedure, err)
	}
	return res
}

type session struct {
	userID string
	token  string
}

func register(t *testing.T, ts *testServer, name string) session {
	t.Helper()
	res := mustCall[RegisterRequest, AuthResponse](t, ts, RegisterProcedure, "", &RegisterRequest{
		Email:       name + "@example.com",
		DisplayName: name,
		Password:    "password-" + name,
	})
	return session{userID: res.User.ID, token: res.Token}
}

// join invites, approves and accepts so that s becomes a member.
func join(t *testing.T, ts *testServer, admin session, groupID, name string, s session) {
	t.Helper()
	inv := mustCall[InviteRequest, InvitationResponse](t, ts, InviteProcedure, admin.token, &InviteRequest{
		GroupID: groupID,
		Email:   name + "@example.com",
	})
	mustCall[InvitationActionRequest, InvitationResponse](t, ts, ApproveInvitationProcedure, admin.token, &InvitationActionRequest{
		InvitationID: inv.Invitation.ID,
	})
	mustCall[TokenRequest, AcceptInvitationResponse](t, ts, AcceptInvitationProcedure, s.token, &TokenRequest{
		Token: inv.Invitation.Token,
	})
}

func expectCode(t *testing.T, err error, code connect.Code, kind apperrors.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if got := connect.CodeOf(err); got != code {
		t.Fatalf("code = %s, want %s (%v)", got, code, err)
	}
	if kind != "" {
		if got := ErrorKind(err); got != kind {
			t.Errorf("error kind = %q, want %q", got, kind)
		}
	}
}

func netOf(balances []calculator.Balance, userID string) int64 {
	for _, b := range balances {
		if b.UserID == userID {
			return b.Net.MinorUnits
		}
	}
	return 0
}

func TestSharedExpenseAndSettlement(t *testing.T) {
	ts := setupTestServer(t)
	alice, bob, carol := register(t, ts, "alice"), register(t, ts, "bob"), register(t, ts, "carol")

	group := mustCall[CreateGroupRequest, GroupResponse](t, ts, CreateGroupProcedure, alice.token, &CreateGroupRequest{
		Name:     "Ski Trip",
		Currency: "USD",
	}).Group
	join(t, ts, alice, group.ID, "bob", bob)
	join(t, ts, alice, group.ID, "carol", carol)

	members := mustCall[GroupRequest, ListMembersResponse](t, ts, ListMembersProcedure, bob.token, &GroupRequest{GroupID: group.ID})
	if len(members.Members) != 3 {
		t.Fatalf("expected 3 members, got %d", len(members.Members))
	}
	if members.Members[0].DisplayName != "alice" || !members.Members[0].IsAdmin() {
		t.Errorf("first member = %+v", members.Members[0])
	}

	mustCall[AddExpenseRequest, EntryResponse](t, ts, AddExpenseProcedure, alice.token, &AddExpenseRequest{
		GroupID:      group.ID,
		Total:        money.New(9000, "USD"),
		Split:        Split{Kind: calculator.SplitEqual},
		Participants: []string{alice.userID, bob.userID, carol.userID},
		Note:         "Cabin",
	})

	balances := mustCall[GroupRequest, GetBalancesResponse](t, ts, GetBalancesProcedure, carol.token, &GroupRequest{GroupID: group.ID})
	if got := netOf(balances.Balances, alice.userID); got != 6000 {
		t.Errorf("alice net = %d, want 6000", got)
	}
	if got := netOf(balances.Balances, bob.userID); got != -3000 {
		t.Errorf("bob net = %d, want -3000", got)
	}
	if len(balances.Debts) != 2 {
		t.Errorf("expected 2 suggested payments, got %v", balances.Debts)
	}

	mustCall[SettleDebtRequest, EntryResponse](t, ts, SettleDebtProcedure, bob.token, &SettleDebtRequest{
		GroupID:  group.ID,
		ToUserID: alice.userID,
		Amount:   money.New(3000, "USD"),
	})
	_, err := call[SettleDebtRequest, EntryResponse](t, ts, SettleDebtProcedure, bob.token, &SettleDebtRequest{
		GroupID:  group.ID,
		ToUserID: alice.userID,
		Amount:   money.New(1, "USD"),
	})
	expectCode(t, err, connect.CodeFailedPrecondition, apperrors.KindOverSettlement)

	page := mustCall[ListEntriesRequest, ListEntriesResponse](t, ts, ListEntriesProcedure, alice.token, &ListEntriesRequest{GroupID: group.ID})
	if len(page.Entries) != 2 || page.Entries[1].Kind != models.EntrySettlement {
		t.Fatalf("entries = %+v", page.Entries)
	}

	audit := mustCall[GroupRequest, AuditBalancesResponse](t, ts, AuditBalancesProcedure, alice.token, &GroupRequest{GroupID: group.ID})
	if !audit.Consistent || !audit.Sum.IsZero() || audit.EntryCount != 2 {
		t.Errorf("audit = %+v", audit)
	}
}

func TestPercentageAndReversal(t *testing.T) {
	ts := setupTestServer(t)
	alice, bob := register(t, ts, "alice"), register(t, ts, "bob")
	group := mustCall[CreateGroupRequest, GroupResponse](t, ts, CreateGroupProcedure, alice.token, &CreateGroupRequest{
		Name: "Flat", Currency: "eur",
	}).Group
	if group.Currency != "EUR" {
		t.Errorf("currency = %q, want EUR", group.Currency)
	}
	join(t, ts, alice, group.ID, "bob", bob)

	entry := mustCall[AddExpenseRequest, EntryResponse](t, ts, AddExpenseProcedure, bob.token, &AddExpenseRequest{
		GroupID: group.ID,
		Total:   money.New(10000, "EUR"),
		Split: Split{Kind: calculator.SplitPercentage, BasisPoints: map[string]int64{
			alice.userID: 7000, bob.userID: 3000,
		}},
		Participants: []string{alice.userID, bob.userID},
	}).Entry
	if got := entry.Allocations[alice.userID].MinorUnits; got != 7000 {
		t.Errorf("alice allocation = %d, want 7000", got)
	}

	reversal := mustCall[ReverseEntryRequest, EntryResponse](t, ts, ReverseEntryProcedure, bob.token, &ReverseEntryRequest{
		GroupID: group.ID, EntryID: entry.ID, Note: "entered twice",
	}).Entry
	if reversal.ReversesEntryID != entry.ID {
		t.Errorf("reversal points at %q", reversal.ReversesEntryID)
	}

	balances := mustCall[GroupRequest, GetBalancesResponse](t, ts, GetBalancesProcedure, alice.token, &GroupRequest{GroupID: group.ID})
	for _, b := range balances.Balances {
		if !b.Net.IsZero() {
			t.Errorf("%s net = %v after reversal", b.UserID, b.Net)
		}
	}

	_, err := call[ReverseEntryRequest, EntryResponse](t, ts, ReverseEntryProcedure, alice.token, &ReverseEntryRequest{
		GroupID: group.ID, EntryID: entry.ID,
	})
	expectCode(t, err, connect.CodeInvalidArgument, apperrors.KindInvalidArgument)

	got := mustCall[GetEntryRequest, EntryResponse](t, ts, GetEntryProcedure, alice.token, &GetEntryRequest{
		GroupID: group.ID, EntryID: reversal.ID,
	})
	if got.Entry.Total.MinorUnits != -10000 {
		t.Errorf("reversal total = %d", got.Entry.Total.MinorUnits)
	}
}

func TestExpenseValidation(t *testing.T) {
	ts := setupTestServer(t)
	alice, bob := register(t, ts, "alice"), register(t, ts, "bob")
	group := mustCall[CreateGroupRequest, GroupResponse](t, ts, CreateGroupProcedure, alice.token, &CreateGroupRequest{
		Name: "Trip", Currency: "USD",
	}).Group

	tests := []struct {
		name string
		req  *AddExpenseRequest
		code connect.Code
		kind apperrors.Kind
	}{
		{
			name: "non-member participant",
			req: &AddExpenseRequest{GroupID: group.ID, Total: money.New(100, "USD"), Split: Split{Kind: calculator.SplitEqual},
				Participants: []string{alice.userID, bob.userID}},
			code: connect.CodePermissionDenied,
			kind: apperrors.KindNotAMember,
		},
		{
			name: "wrong currency",
			req: &AddExpenseRequest{GroupID: group.ID, Total: money.New(100, "EUR"), Split: Split{Kind: calculator.SplitEqual},
				Participants: []string{alice.userID}},
			code: connect.CodeInvalidArgument,
			kind: apperrors.KindAmountMismatch,
		},
		{
			name: "custom split off by one",
			req: &AddExpenseRequest{GroupID: group.ID, Total: money.New(100, "USD"),
				Split:        Split{Kind: calculator.SplitCustom, Amounts: map[string]int64{alice.userID: 99}},
				Participants: []string{alice.userID}},
			code: connect.CodeInvalidArgument,
		},
		{
			name: "unknown split kind",
			req: &AddExpenseRequest{GroupID: group.ID, Total: money.New(100, "USD"), Split: Split{Kind: "lottery"},
				Participants: []string{alice.userID}},
			code: connect.CodeInvalidArgument,
		},
		{
			name: "no participants",
			req:  &AddExpenseRequest{GroupID: group.ID, Total: money.New(100, "USD"), Split: Split{Kind: calculator.SplitEqual}},
			code: connect.CodeInvalidArgument,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call[AddExpenseRequest, EntryResponse](t, ts, AddExpenseProcedure, alice.token, tt.req)
			expectCode(t, err, tt.code, tt.kind)
		})
	}

	// Nothing was recorded.
	page := mustCall[ListEntriesRequest, ListEntriesResponse](t, ts, ListEntriesProcedure, alice.token, &ListEntriesRequest{GroupID: group.ID})
	if len(page.Entries) != 0 {
		t.Errorf("rejected expenses left %d entries", len(page.Entries))
	}
}

func TestMemberInvitationNeedsApproval(t *testing.T) {
	ts := setupTestServer(t)
	alice, bob, carol := register(t, ts, "alice"), register(t, ts, "bob"), register(t, ts, "carol")
	group := mustCall[CreateGroupRequest, GroupResponse](t, ts, CreateGroupProcedure, alice.token, &CreateGroupRequest{
		Name: "Club", Currency: "GBP",
	}).Group
	join(t, ts, alice, group.ID, "bob", bob)

	inv := mustCall[InviteRequest, InvitationResponse](t, ts, InviteProcedure, bob.token, &InviteRequest{
		GroupID: group.ID, Email: "carol@example.com", Message: "come along",
	}).Invitation
	if inv.Status != models.InvitationPendingApproval {
		t.Fatalf("member invite status = %s", inv.Status)
	}

	_, err := call[TokenRequest, AcceptInvitationResponse](t, ts, AcceptInvitationProcedure, carol.token, &TokenRequest{Token: inv.Token})
	expectCode(t, err, connect.CodeFailedPrecondition, apperrors.KindInvalidStateTransition)

	_, err = call[InvitationActionRequest, InvitationResponse](t, ts, ApproveInvitationProcedure, bob.token, &InvitationActionRequest{InvitationID: inv.ID})
	expectCode(t, err, connect.CodePermissionDenied, apperrors.KindForbidden)

	_, err = call[InviteRequest, InvitationResponse](t, ts, InviteProcedure, alice.token, &InviteRequest{
		GroupID: group.ID, Email: "CAROL@example.com",
	})
	expectCode(t, err, connect.CodeAlreadyExists, apperrors.KindDuplicateInvitation)

	approved := mustCall[InvitationActionRequest, InvitationResponse](t, ts, ApproveInvitationProcedure, alice.token, &InvitationActionRequest{
		InvitationID: inv.ID, Notes: "ok",
	}).Invitation
	if approved.Status != models.InvitationApproved || approved.ApprovalNotes != "ok" {
		t.Errorf("approved = %+v", approved)
	}

	mine := mustCall[ListInvitationsRequest, ListInvitationsResponse](t, ts, ListInvitationsProcedure, carol.token, &ListInvitationsRequest{})
	if len(mine.Invitations) != 1 || mine.Invitations[0].ID != inv.ID {
		t.Fatalf("carol's invitations = %+v", mine.Invitations)
	}
	if mine.Invitations[0].Token != "" {
		t.Error("listed invitation exposes its token")
	}

	declined := mustCall[TokenRequest, InvitationResponse](t, ts, DeclineInvitationProcedure, carol.token, &TokenRequest{Token: inv.Token}).Invitation
	if declined.Status != models.InvitationDeclined {
		t.Errorf("status = %s, want declined", declined.Status)
	}

	_, err = call[GroupRequest, GetBalancesResponse](t, ts, GetBalancesProcedure, carol.token, &GroupRequest{GroupID: group.ID})
	expectCode(t, err, connect.CodePermissionDenied, apperrors.KindNotAMember)

	got := mustCall[InvitationRequest, InvitationResponse](t, ts, GetInvitationProcedure, bob.token, &InvitationRequest{InvitationID: inv.ID})
	if got.Invitation.Status != models.InvitationDeclined {
		t.Errorf("get status = %s", got.Invitation.Status)
	}
}

func TestArchivedGroupRejectsWrites(t *testing.T) {
	ts := setupTestServer(t)
	alice, bob := register(t, ts, "alice"), register(t, ts, "bob")
	group := mustCall[CreateGroupRequest, GroupResponse](t, ts, CreateGroupProcedure, alice.token, &CreateGroupRequest{
		Name: "Old", Currency: "USD",
	}).Group
	join(t, ts, alice, group.ID, "bob", bob)

	_, err := call[GroupRequest, GroupResponse](t, ts, ArchiveGroupProcedure, bob.token, &GroupRequest{GroupID: group.ID})
	expectCode(t, err, connect.CodePermissionDenied, apperrors.KindForbidden)

	archived := mustCall[GroupRequest, GroupResponse](t, ts, ArchiveGroupProcedure, alice.token, &GroupRequest{GroupID: group.ID}).Group
	if !archived.Archived() {
		t.Fatalf("status = %s", archived.Status)
	}

	_, err = call[AddExpenseRequest, EntryResponse](t, ts, AddExpenseProcedure, alice.token, &AddExpenseRequest{
		GroupID: group.ID, Total: money.New(100, "USD"), Split: Split{Kind: calculator.SplitEqual},
		Participants: []string{alice.userID},
	})
	expectCode(t, err, connect.CodeFailedPrecondition, apperrors.KindGroupArchived)

	// Reads keep working.
	got := mustCall[GroupRequest, GetGroupResponse](t, ts, GetGroupProcedure, bob.token, &GroupRequest{GroupID: group.ID})
	if len(got.Members) != 2 {
		t.Errorf("members = %d", len(got.Members))
	}
	groups := mustCall[ListGroupsRequest, ListGroupsResponse](t, ts, ListGroupsProcedure, bob.token, &ListGroupsRequest{})
	if len(groups.Groups) != 1 {
		t.Errorf("bob's groups = %d", len(groups.Groups))
	}
}

func TestAuthFlow(t *testing.T) {
	ts := setupTestServer(t)
	alice := register(t, ts, "alice")

	_, err := call[RegisterRequest, AuthResponse](t, ts, RegisterProcedure, "", &RegisterRequest{
		Email: "Alice@Example.com", DisplayName: "Imposter", Password: "password-x",
	})
	expectCode(t, err, connect.CodeAlreadyExists, "")

	_, err = call[RegisterRequest, AuthResponse](t, ts, RegisterProcedure, "", &RegisterRequest{
		Email: "not-an-email", DisplayName: "X", Password: "password-x",
	})
	expectCode(t, err, connect.CodeInvalidArgument, "")

	_, err = call[LoginRequest, AuthResponse](t, ts, LoginProcedure, "", &LoginRequest{
		Email: "alice@example.com", Password: "wrong-password",
	})
	expectCode(t, err, connect.CodeUnauthenticated, "")

	login := mustCall[LoginRequest, AuthResponse](t, ts, LoginProcedure, "", &LoginRequest{
		Email: "alice@example.com", Password: "password-alice",
	})
	if login.User.ID != alice.userID {
		t.Errorf("login user = %s, want %s", login.User.ID, alice.userID)
	}

	me := mustCall[GetCurrentUserRequest, GetCurrentUserResponse](t, ts, GetCurrentUserProcedure, login.Token, &GetCurrentUserRequest{})
	if me.User.DisplayName != "alice" {
		t.Errorf("current user = %+v", me.User)
	}

	_, err = call[CreateGroupRequest, GroupResponse](t, ts, CreateGroupProcedure, "", &CreateGroupRequest{Name: "X", Currency: "USD"})
	expectCode(t, err, connect.CodeUnauthenticated, "")
}

func TestToConnectError(t *testing.T) {
	tests := []struct {
		err  error
		code connect.Code
	}{
		{apperrors.New(apperrors.KindOverSettlement, "too much"), connect.CodeFailedPrecondition},
		{apperrors.New(apperrors.KindNotFound, "missing"), connect.CodeNotFound},
		{apperrors.New(apperrors.KindAlreadyMember, "dup"), connect.CodeAlreadyExists},
		{apperrors.Wrap(apperrors.KindStorageUnavailable, "op", errors.New("disk")), connect.CodeUnavailable},
		{apperrors.Wrap(apperrors.KindInternal, "op", errors.New("no entropy")), connect.CodeInternal},
		{errors.New("boom"), connect.CodeInternal},
	}
	for _, tt := range tests {
		err := toConnectError(tt.err)
		if got := connect.CodeOf(err); got != tt.code {
			t.Errorf("%v: code = %s, want %s", tt.err, got, tt.code)
		}
		if want := apperrors.KindOf(tt.err); ErrorKind(err) != want {
			t.Errorf("%v: kind = %q, want %q", tt.err, ErrorKind(err), want)
		}
	}
	if toConnectError(nil) != nil {
		t.Error("nil error must stay nil")
	}
}
