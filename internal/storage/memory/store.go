// Package memory provides an in-process implementation of storage.Store.
// It backs the test suites and STORAGE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/money"
	"github.com/mmynk/splitledger/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store keeps every record in maps guarded by a single RWMutex. Values are
// copied on the way in and out so callers never share memory with the store.
type Store struct {
	mu sync.RWMutex

	groups  map[string]*models.Group
	members map[string]map[string]*models.Member // group ID -> user ID

	// entries holds each group's ledger in Seq order.
	entries   map[string][]*models.LedgerEntry
	reversals map[string]string // reversed entry ID -> reversing entry ID

	invitations map[string]*models.Invitation
	tokens      map[string]string // token hash -> invitation ID

	users   map[string]*models.User
	byEmail map[string]string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		groups:      make(map[string]*models.Group),
		members:     make(map[string]map[string]*models.Member),
		entries:     make(map[string][]*models.LedgerEntry),
		reversals:   make(map[string]string),
		invitations: make(map[string]*models.Invitation),
		tokens:      make(map[string]string),
		users:       make(map[string]*models.User),
		byEmail:     make(map[string]string),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Group Store implementation

func (s *Store) CreateGroup(_ context.Context, g *models.Group, creator *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[g.ID]; exists {
		return storage.ErrAlreadyExists
	}
	gc := *g
	s.groups[g.ID] = &gc
	mc := *creator
	s.members[g.ID] = map[string]*models.Member{creator.UserID: &mc}
	return nil
}

func (s *Store) GetGroup(_ context.Context, groupID string) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[groupID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	gc := *g
	return &gc, nil
}

func (s *Store) ListGroupsForUser(_ context.Context, userID string) ([]*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Group
	for groupID, members := range s.members {
		if _, ok := members[userID]; ok {
			gc := *s.groups[groupID]
			out = append(out, &gc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateGroupStatus(_ context.Context, groupID string, status models.GroupStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return storage.ErrNotFound
	}
	g.Status = status
	return nil
}

func (s *Store) GetMember(_ context.Context, groupID, userID string) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[groupID][userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	mc := *m
	return &mc, nil
}

func (s *Store) ListMembers(_ context.Context, groupID string) ([]*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Member, 0, len(s.members[groupID]))
	for _, m := range s.members[groupID] {
		mc := *m
		out = append(out, &mc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// Entry Store implementation

func (s *Store) AppendEntry(_ context.Context, e *models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[e.GroupID]; !ok {
		return storage.ErrNotFound
	}
	if e.ReversesEntryID != "" {
		if _, taken := s.reversals[e.ReversesEntryID]; taken {
			return storage.ErrAlreadyExists
		}
	}
	ledger := s.entries[e.GroupID]
	e.Seq = int64(len(ledger)) + 1
	s.entries[e.GroupID] = append(ledger, cloneEntry(e))
	if e.ReversesEntryID != "" {
		s.reversals[e.ReversesEntryID] = e.ID
	}
	return nil
}

func (s *Store) GetEntry(_ context.Context, groupID, entryID string) (*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries[groupID] {
		if e.ID == entryID {
			return cloneEntry(e), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListEntries(_ context.Context, groupID string, afterSeq int64, limit int) ([]*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ledger := s.entries[groupID]
	// Seq n lives at index n-1.
	start := int(max(afterSeq, 0))
	if start >= len(ledger) {
		return nil, nil
	}
	end := len(ledger)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]*models.LedgerEntry, 0, end-start)
	for _, e := range ledger[start:end] {
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

func (s *Store) FindReversal(_ context.Context, entryID string) (*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reversalID, ok := s.reversals[entryID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	for _, ledger := range s.entries {
		for _, e := range ledger {
			if e.ID == reversalID {
				return cloneEntry(e), nil
			}
		}
	}
	return nil, storage.ErrNotFound
}

// Invitation Store implementation

func (s *Store) CreateInvitation(_ context.Context, inv *models.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invitations[inv.ID]; exists {
		return storage.ErrAlreadyExists
	}
	if _, exists := s.tokens[inv.TokenHash]; exists {
		return storage.ErrAlreadyExists
	}
	s.invitations[inv.ID] = cloneInvitation(inv)
	s.tokens[inv.TokenHash] = inv.ID
	return nil
}

func (s *Store) GetInvitation(_ context.Context, invitationID string) (*models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invitations[invitationID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneInvitation(inv), nil
}

func (s *Store) GetInvitationByTokenHash(_ context.Context, tokenHash string) (*models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tokens[tokenHash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneInvitation(s.invitations[id]), nil
}

func (s *Store) ListInvitations(_ context.Context, q storage.InvitationQuery) ([]*models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Invitation
	for _, inv := range s.invitations {
		if q.GroupID != "" && inv.GroupID != q.GroupID {
			continue
		}
		if q.InviteeEmail != "" && inv.InviteeEmail != q.InviteeEmail {
			continue
		}
		out = append(out, cloneInvitation(inv))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateInvitation(_ context.Context, inv *models.Invitation, member *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.invitations[inv.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if member != nil {
		members := s.members[member.GroupID]
		if members == nil {
			return storage.ErrNotFound
		}
		if _, exists := members[member.UserID]; exists {
			return storage.ErrAlreadyExists
		}
		mc := *member
		members[member.UserID] = &mc
	}
	stored.Status = inv.Status
	stored.ApprovalNotes = inv.ApprovalNotes
	stored.AcceptedByUserID = inv.AcceptedByUserID
	stored.UpdatedAt = inv.UpdatedAt
	return nil
}

// User Store implementation

func (s *Store) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[user.Email]; exists {
		return storage.ErrAlreadyExists
	}
	uc := *user
	s.users[user.ID] = &uc
	s.byEmail[user.Email] = user.ID
	return nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, storage.ErrNotFound
	}
	uc := *s.users[id]
	return &uc, nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	uc := *u
	return &uc, nil
}

func (s *Store) GetUsersByIDs(_ context.Context, ids []string) (map[string]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*models.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			uc := *u
			out[id] = &uc
		}
	}
	return out, nil
}

func cloneEntry(e *models.LedgerEntry) *models.LedgerEntry {
	ec := *e
	ec.Allocations = make(map[string]money.Money, len(e.Allocations))
	for k, v := range e.Allocations {
		ec.Allocations[k] = v
	}
	return &ec
}

func cloneInvitation(inv *models.Invitation) *models.Invitation {
	ic := *inv
	// The raw token is never retained.
	ic.Token = ""
	return &ic
}
