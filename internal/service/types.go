package service

import (
	"time"

	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/money"
)

// Request and response messages. Actor IDs are never part of a request:
// they come from the caller's session token.

// User is the public view of an account.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toUser(u *models.User) *User {
	return &User{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		CreatedAt:   time.Unix(u.CreatedAt, 0).UTC(),
	}
}

type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"displayName" validate:"required,max=100"`
	Password    string `json:"password" validate:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse is returned by Register and Login.
type AuthResponse struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

type GetCurrentUserRequest struct{}

type GetCurrentUserResponse struct {
	User *User `json:"user"`
}

// Member is a group member joined with their account details.
type Member struct {
	*models.Member
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

type CreateGroupRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Currency string `json:"currency" validate:"required,len=3,alpha"`
}

type GroupRequest struct {
	GroupID string `json:"groupId" validate:"required"`
}

type GroupResponse struct {
	Group *models.Group `json:"group"`
}

type GetGroupResponse struct {
	Group   *models.Group `json:"group"`
	Members []*Member     `json:"members"`
}

type ListGroupsRequest struct{}

type ListGroupsResponse struct {
	Groups []*models.Group `json:"groups"`
}

type ListMembersResponse struct {
	Members []*Member `json:"members"`
}

// Split is the wire form of a split policy. Custom amounts and item amounts
// are minor units in the group currency.
type Split struct {
	Kind        calculator.SplitKind `json:"kind" validate:"required,oneof=equal percentage custom itemized"`
	BasisPoints map[string]int64     `json:"basisPoints,omitempty"`
	Amounts     map[string]int64     `json:"amounts,omitempty"`
	Items       []Item               `json:"items,omitempty" validate:"dive"`
}

type Item struct {
	Description string   `json:"description" validate:"max=200"`
	Amount      int64    `json:"amount" validate:"gte=0"`
	AssignedTo  []string `json:"assignedTo" validate:"required,min=1,dive,required"`
}

func (s Split) policy(currency string) calculator.SplitPolicy {
	switch s.Kind {
	case calculator.SplitPercentage:
		return calculator.Percentage(s.BasisPoints)
	case calculator.SplitCustom:
		amounts := make(map[string]money.Money, len(s.Amounts))
		for userID, minor := range s.Amounts {
			amounts[userID] = money.New(minor, currency)
		}
		return calculator.Custom(amounts)
	case calculator.SplitItemized:
		items := make([]calculator.Item, len(s.Items))
		for i, it := range s.Items {
			items[i] = calculator.Item{Description: it.Description, Amount: it.Amount, AssignedTo: it.AssignedTo}
		}
		return calculator.Itemized(items)
	default:
		return calculator.Equal()
	}
}

// AddExpenseRequest records an expense or a deposit. PayerID defaults to
// the caller.
type AddExpenseRequest struct {
	GroupID      string      `json:"groupId" validate:"required"`
	Total        money.Money `json:"total"`
	PayerID      string      `json:"payerId,omitempty"`
	Split        Split       `json:"split"`
	Participants []string    `json:"participants" validate:"required,min=1,dive,required"`
	Note         string      `json:"note,omitempty" validate:"max=500"`
}

// SettleDebtRequest records a payment. FromUserID defaults to the caller.
type SettleDebtRequest struct {
	GroupID    string      `json:"groupId" validate:"required"`
	FromUserID string      `json:"fromUserId,omitempty"`
	ToUserID   string      `json:"toUserId" validate:"required"`
	Amount     money.Money `json:"amount"`
	Note       string      `json:"note,omitempty" validate:"max=500"`
}

type ReverseEntryRequest struct {
	GroupID string `json:"groupId" validate:"required"`
	EntryID string `json:"entryId" validate:"required"`
	Note    string `json:"note,omitempty" validate:"max=500"`
}

type GetEntryRequest struct {
	GroupID string `json:"groupId" validate:"required"`
	EntryID string `json:"entryId" validate:"required"`
}

type EntryResponse struct {
	Entry *models.LedgerEntry `json:"entry"`
}

type ListEntriesRequest struct {
	GroupID  string `json:"groupId" validate:"required"`
	AfterSeq int64  `json:"afterSeq" validate:"gte=0"`
	Limit    int    `json:"limit" validate:"gte=0,lte=500"`
}

type ListEntriesResponse struct {
	Entries []*models.LedgerEntry `json:"entries"`
	// NextAfterSeq is the cursor for the next page; zero when exhausted.
	NextAfterSeq int64 `json:"nextAfterSeq"`
}

type GetBalancesResponse struct {
	GroupID  string                `json:"groupId"`
	Currency string                `json:"currency"`
	Seq      int64                 `json:"seq"`
	Balances []calculator.Balance  `json:"balances"`
	Debts    []calculator.DebtEdge `json:"debts"`
}

type AuditBalancesResponse struct {
	GroupID    string      `json:"groupId"`
	Seq        int64       `json:"seq"`
	EntryCount int         `json:"entryCount"`
	Consistent bool        `json:"consistent"`
	Sum        money.Money `json:"sum"`
}

type InviteRequest struct {
	GroupID string      `json:"groupId" validate:"required"`
	Email   string      `json:"email" validate:"required,email"`
	Role    models.Role `json:"role,omitempty" validate:"omitempty,oneof=admin member"`
	Message string      `json:"message,omitempty" validate:"max=500"`
}

// InvitationActionRequest approves, rejects or cancels an invitation.
type InvitationActionRequest struct {
	InvitationID string `json:"invitationId" validate:"required"`
	Notes        string `json:"notes,omitempty" validate:"max=500"`
}

type InvitationRequest struct {
	InvitationID string `json:"invitationId" validate:"required"`
}

type TokenRequest struct {
	Token string `json:"token" validate:"required"`
}

type InvitationResponse struct {
	Invitation *models.Invitation `json:"invitation"`
}

type AcceptInvitationResponse struct {
	Member *models.Member `json:"member"`
}

// ListInvitationsRequest lists a group's invitations when GroupID is set,
// otherwise the invitations addressed to the caller.
type ListInvitationsRequest struct {
	GroupID  string                    `json:"groupId,omitempty"`
	Statuses []models.InvitationStatus `json:"statuses,omitempty"`
}

type ListInvitationsResponse struct {
	Invitations []*models.Invitation `json:"invitations"`
}
