// Package ledger is the group aggregate. It coordinates membership, the
// invitation lifecycle and the append-only entry log for every group, and
// serializes all mutations of one group while leaving different groups
// independent.
//
// Every exported operation returns either nil or an *apperrors.Error.
// Validation failures never leave partial state behind: each mutation is
// checked in full before its single atomic store call.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mmynk/splitledger/internal/apperrors"
	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/membership"
	"github.com/mmynk/splitledger/internal/metrics"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// Ledger implements the group operations on top of a storage.Store.
type Ledger struct {
	store   storage.Store
	locks   *lockArena
	now     func() time.Time
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	validate *validator.Validate
	newToken func() (token, hash string, err error)

	cpMu        sync.Mutex
	checkpoints map[string]calculator.Checkpoint
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the wall clock used for timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithInvitationTTL sets how long new invitations stay open.
func WithInvitationTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithTokenSource overrides how invitation tokens and their hashes are minted.
func WithTokenSource(newToken func() (token, hash string, err error)) Option {
	return func(l *Ledger) { l.newToken = newToken }
}

// New creates a Ledger backed by store.
func New(store storage.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		locks:       newLockArena(),
		now:         time.Now,
		ttl:         membership.DefaultTTL,
		logger:      slog.Default(),
		validate:    validator.New(),
		newToken:    membership.NewToken,
		checkpoints: make(map[string]calculator.Checkpoint),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) clock() time.Time { return l.now().UTC() }

// fail stamps op on err, counts it and logs storage and internal failures.
func (l *Ledger) fail(op string, err error) error {
	err = apperrors.WithOp(op, err)
	kind := apperrors.KindOf(err)
	l.metrics.DomainError(string(kind))
	switch kind {
	case apperrors.KindStorageUnavailable:
		l.logger.Error("storage failure", "op", op, "error", err)
	case apperrors.KindInternal:
		l.logger.Error("internal failure", "op", op, "error", err)
	default:
		l.logger.Debug("operation rejected", "op", op, "kind", kind, "error", err)
	}
	return err
}

// notFound converts storage.ErrNotFound into a NotFound error naming what
// was missing. Other errors are returned unchanged.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.New(apperrors.KindNotFound, format, args...)
	}
	return err
}

// loadGroup fetches a group, failing with NotFound.
func (l *Ledger) loadGroup(ctx context.Context, groupID string) (*models.Group, error) {
	if groupID == "" {
		return nil, apperrors.New(apperrors.KindInvalidArgument, "group id is required")
	}
	g, err := l.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, notFound(err, "group %s not found", groupID)
	}
	return g, nil
}

// activeGroup fetches a group that accepts mutations.
func (l *Ledger) activeGroup(ctx context.Context, groupID string) (*models.Group, error) {
	g, err := l.loadGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.Archived() {
		return nil, apperrors.New(apperrors.KindGroupArchived, "group %s is archived", groupID)
	}
	return g, nil
}

// member fetches userID's membership, failing with NotAMember.
func (l *Ledger) member(ctx context.Context, groupID, userID string) (*models.Member, error) {
	if userID == "" {
		return nil, apperrors.New(apperrors.KindNotAMember, "user id is required")
	}
	m, err := l.store.GetMember(ctx, groupID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.New(apperrors.KindNotAMember, "user %s is not a member of group %s", userID, groupID)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// admin fetches userID's membership and requires the admin role.
func (l *Ledger) admin(ctx context.Context, groupID, userID string) (*models.Member, error) {
	m, err := l.member(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if !m.IsAdmin() {
		return nil, apperrors.New(apperrors.KindForbidden, "user %s is not an admin of group %s", userID, groupID)
	}
	return m, nil
}

func invalid(format string, args ...any) error {
	return apperrors.New(apperrors.KindInvalidArgument, format, args...)
}
