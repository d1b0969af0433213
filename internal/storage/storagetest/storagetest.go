// Package storagetest is a conformance suite every storage.Store
// implementation runs from its own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/money"
	"github.com/mmynk/splitledger/internal/storage"
)

var t0 = time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)

// Run exercises store. The store must be empty.
func Run(t *testing.T, store storage.Store) {
	ctx := context.Background()

	t.Run("groups and members", func(t *testing.T) { testGroups(ctx, t, store) })
	t.Run("append and list entries", func(t *testing.T) { testEntries(ctx, t, store) })
	t.Run("reversal is unique", func(t *testing.T) { testReversal(ctx, t, store) })
	t.Run("concurrent appends get distinct seqs", func(t *testing.T) { testConcurrentAppend(ctx, t, store) })
	t.Run("invitations", func(t *testing.T) { testInvitations(ctx, t, store) })
	t.Run("users", func(t *testing.T) { testUsers(ctx, t, store) })
}

// NewGroup persists a group created by creatorID and returns it.
func NewGroup(ctx context.Context, t *testing.T, store storage.Store, creatorID string) *models.Group {
	t.Helper()
	g := &models.Group{
		ID:        uuid.NewString(),
		Name:      "Ski Trip",
		Currency:  "USD",
		CreatedBy: creatorID,
		Status:    models.GroupActive,
		CreatedAt: t0,
	}
	creator := &models.Member{UserID: creatorID, GroupID: g.ID, Role: models.RoleAdmin, JoinedAt: t0}
	if err := store.CreateGroup(ctx, g, creator); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	return g
}

func testGroups(ctx context.Context, t *testing.T, store storage.Store) {
	g := NewGroup(ctx, t, store, "alice")

	got, err := store.GetGroup(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if got.Name != g.Name || got.Currency != "USD" || got.Status != models.GroupActive || !got.CreatedAt.Equal(t0) {
		t.Errorf("GetGroup = %+v", got)
	}

	if _, err := store.GetGroup(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	m, err := store.GetMember(ctx, g.ID, "alice")
	if err != nil {
		t.Fatalf("GetMember failed: %v", err)
	}
	if m.Role != models.RoleAdmin {
		t.Errorf("creator role = %s", m.Role)
	}
	if _, err := store.GetMember(ctx, g.ID, "bob"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for non-member, got %v", err)
	}

	groups, err := store.ListGroupsForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("ListGroupsForUser failed: %v", err)
	}
	found := false
	for _, lg := range groups {
		found = found || lg.ID == g.ID
	}
	if !found {
		t.Errorf("ListGroupsForUser missing %s: %+v", g.ID, groups)
	}

	if err := store.UpdateGroupStatus(ctx, g.ID, models.GroupArchived); err != nil {
		t.Fatalf("UpdateGroupStatus failed: %v", err)
	}
	got, _ = store.GetGroup(ctx, g.ID)
	if !got.Archived() {
		t.Errorf("group status = %s, want archived", got.Status)
	}
	if err := store.UpdateGroupStatus(ctx, "missing", models.GroupArchived); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func entry(groupID string, kind models.EntryKind, payer string, allocations map[string]int64) *models.LedgerEntry {
	e := &models.LedgerEntry{
		ID:          uuid.NewString(),
		GroupID:     groupID,
		Kind:        kind,
		PayerID:     payer,
		Allocations: make(map[string]money.Money),
		CreatedAt:   t0,
		CreatedBy:   payer,
	}
	var total int64
	for userID, amount := range allocations {
		e.Allocations[userID] = money.New(amount, "USD")
		total += amount
	}
	e.Total = money.New(total, "USD")
	return e
}

func testEntries(ctx context.Context, t *testing.T, store storage.Store) {
	g := NewGroup(ctx, t, store, "alice")

	var appended []*models.LedgerEntry
	for i := 0; i < 5; i++ {
		e := entry(g.ID, models.EntryExpense, "alice", map[string]int64{"alice": 1000, "bob": 1000 + int64(i)})
		e.Note = fmt.Sprintf("expense %d", i)
		if err := store.AppendEntry(ctx, e); err != nil {
			t.Fatalf("AppendEntry failed: %v", err)
		}
		if e.Seq != int64(i+1) {
			t.Fatalf("seq = %d, want %d", e.Seq, i+1)
		}
		appended = append(appended, e)
	}

	all, err := store.ListEntries(ctx, g.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("got %d entries, want 5", len(all))
	}
	for i, e := range all {
		want := appended[i]
		if e.ID != want.ID || e.Seq != want.Seq || e.Note != want.Note || !e.Total.Equal(want.Total) {
			t.Errorf("entry %d = %+v, want %+v", i, e, want)
		}
		if got := e.Allocations["bob"].MinorUnits; got != 1000+int64(i) {
			t.Errorf("entry %d bob allocation = %d", i, got)
		}
		if sum, err := e.AllocationSum(); err != nil || !sum.Equal(e.Total) {
			t.Errorf("entry %d allocations do not sum to total", i)
		}
	}

	page, err := store.ListEntries(ctx, g.ID, 2, 2)
	if err != nil {
		t.Fatalf("ListEntries page failed: %v", err)
	}
	if len(page) != 2 || page[0].Seq != 3 || page[1].Seq != 4 {
		t.Errorf("page = %v", seqs(page))
	}

	tail, _ := store.ListEntries(ctx, g.ID, 5, 10)
	if len(tail) != 0 {
		t.Errorf("expected empty tail, got %v", seqs(tail))
	}

	got, err := store.GetEntry(ctx, g.ID, appended[1].ID)
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if got.Seq != 2 || len(got.Allocations) != 2 {
		t.Errorf("GetEntry = %+v", got)
	}
	if _, err := store.GetEntry(ctx, "other-group", appended[1].ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound across groups, got %v", err)
	}

	// Mutating a returned entry must not reach the store.
	got.Allocations["bob"] = money.New(1, "USD")
	again, _ := store.GetEntry(ctx, g.ID, appended[1].ID)
	if again.Allocations["bob"].MinorUnits != 1001 {
		t.Error("store shares allocation memory with callers")
	}

	// Seq is per group.
	other := NewGroup(ctx, t, store, "carol")
	e := entry(other.ID, models.EntryDeposit, "carol", map[string]int64{"carol": 500})
	if err := store.AppendEntry(ctx, e); err != nil {
		t.Fatalf("AppendEntry failed: %v", err)
	}
	if e.Seq != 1 {
		t.Errorf("first seq in new group = %d", e.Seq)
	}
}

func testReversal(ctx context.Context, t *testing.T, store storage.Store) {
	g := NewGroup(ctx, t, store, "alice")
	original := entry(g.ID, models.EntryExpense, "alice", map[string]int64{"bob": 700})
	if err := store.AppendEntry(ctx, original); err != nil {
		t.Fatal(err)
	}

	if _, err := store.FindReversal(ctx, original.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected no reversal yet, got %v", err)
	}

	rev := entry(g.ID, models.EntryExpense, "bob", map[string]int64{"alice": 700})
	rev.ReversesEntryID = original.ID
	if err := store.AppendEntry(ctx, rev); err != nil {
		t.Fatalf("AppendEntry reversal failed: %v", err)
	}

	found, err := store.FindReversal(ctx, original.ID)
	if err != nil {
		t.Fatalf("FindReversal failed: %v", err)
	}
	if found.ID != rev.ID || !found.IsReversal() {
		t.Errorf("FindReversal = %+v", found)
	}

	dup := entry(g.ID, models.EntryExpense, "bob", map[string]int64{"alice": 700})
	dup.ReversesEntryID = original.ID
	if err := store.AppendEntry(ctx, dup); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists for a second reversal, got %v", err)
	}
}

func testConcurrentAppend(ctx context.Context, t *testing.T, store storage.Store) {
	g := NewGroup(ctx, t, store, "alice")

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.AppendEntry(ctx, entry(g.ID, models.EntryExpense, "alice", map[string]int64{"alice": 100}))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent AppendEntry failed: %v", err)
		}
	}

	all, err := store.ListEntries(ctx, g.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != writers {
		t.Fatalf("got %d entries, want %d", len(all), writers)
	}
	for i, e := range all {
		if e.Seq != int64(i+1) {
			t.Errorf("seqs = %v, want 1..%d", seqs(all), writers)
			break
		}
	}
}

func testInvitations(ctx context.Context, t *testing.T, store storage.Store) {
	g := NewGroup(ctx, t, store, "alice")

	inv := &models.Invitation{
		ID:              uuid.NewString(),
		GroupID:         g.ID,
		InviteeEmail:    "bob@example.com",
		InvitedByUserID: "alice",
		Role:            models.RoleMember,
		Message:         "join us",
		Token:           "raw-token",
		TokenHash:       "hash-" + uuid.NewString(),
		Status:          models.InvitationSent,
		CreatedAt:       t0,
		ExpiresAt:       t0.Add(7 * 24 * time.Hour),
		UpdatedAt:       t0,
	}
	if err := store.CreateInvitation(ctx, inv); err != nil {
		t.Fatalf("CreateInvitation failed: %v", err)
	}

	got, err := store.GetInvitationByTokenHash(ctx, inv.TokenHash)
	if err != nil {
		t.Fatalf("GetInvitationByTokenHash failed: %v", err)
	}
	if got.ID != inv.ID || got.Status != models.InvitationSent || !got.ExpiresAt.Equal(inv.ExpiresAt) {
		t.Errorf("got %+v", got)
	}
	if got.Token != "" {
		t.Error("raw token must not be persisted")
	}
	if _, err := store.GetInvitationByTokenHash(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	list, err := store.ListInvitations(ctx, storage.InvitationQuery{GroupID: g.ID})
	if err != nil {
		t.Fatalf("ListInvitations failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != inv.ID {
		t.Errorf("ListInvitations by group = %+v", list)
	}
	list, _ = store.ListInvitations(ctx, storage.InvitationQuery{InviteeEmail: "bob@example.com", GroupID: g.ID})
	if len(list) != 1 {
		t.Errorf("ListInvitations by email = %+v", list)
	}

	// Accepting writes the status change and the new member together.
	inv.Status = models.InvitationAccepted
	inv.AcceptedByUserID = "bob"
	inv.UpdatedAt = t0.Add(time.Hour)
	member := &models.Member{UserID: "bob", GroupID: g.ID, Role: models.RoleMember, JoinedAt: inv.UpdatedAt, InvitationID: inv.ID}
	if err := store.UpdateInvitation(ctx, inv, member); err != nil {
		t.Fatalf("UpdateInvitation failed: %v", err)
	}

	got, _ = store.GetInvitation(ctx, inv.ID)
	if got.Status != models.InvitationAccepted || got.AcceptedByUserID != "bob" {
		t.Errorf("after accept: %+v", got)
	}
	m, err := store.GetMember(ctx, g.ID, "bob")
	if err != nil {
		t.Fatalf("member not created: %v", err)
	}
	if m.InvitationID != inv.ID {
		t.Errorf("member invitation = %q", m.InvitationID)
	}

	members, _ := store.ListMembers(ctx, g.ID)
	if len(members) != 2 || members[0].UserID != "alice" || members[1].UserID != "bob" {
		t.Errorf("members = %+v", members)
	}

	// A duplicate member rolls back the status change.
	inv.Status = models.InvitationDeclined
	if err := store.UpdateInvitation(ctx, inv, member); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	got, _ = store.GetInvitation(ctx, inv.ID)
	if got.Status != models.InvitationAccepted {
		t.Errorf("status changed despite failed member insert: %s", got.Status)
	}

	missing := *inv
	missing.ID = "missing"
	if err := store.UpdateInvitation(ctx, &missing, nil); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testUsers(ctx context.Context, t *testing.T, store storage.Store) {
	u := models.NewUser("Dana@Example.com", "Dana", "hash")
	if err := store.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	got, err := store.GetUserByEmail(ctx, "dana@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if got.ID != u.ID || got.DisplayName != "Dana" {
		t.Errorf("got %+v", got)
	}

	if _, err := store.GetUserByID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	dup := models.NewUser("dana@example.com", "Other", "hash")
	if err := store.CreateUser(ctx, dup); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	users, err := store.GetUsersByIDs(ctx, []string{u.ID, "missing"})
	if err != nil {
		t.Fatalf("GetUsersByIDs failed: %v", err)
	}
	if len(users) != 1 || users[u.ID] == nil {
		t.Errorf("GetUsersByIDs = %+v", users)
	}
}

func seqs(entries []*models.LedgerEntry) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.Seq
	}
	return out
}
