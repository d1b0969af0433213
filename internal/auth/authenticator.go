// Package auth issues and verifies user sessions for the ledger API.
package auth

import (
	"context"

	"github.com/mmynk/splitledger/internal/models"
)

// Authenticator registers users and checks their credentials.
// The service layer only depends on this interface, so password login can
// be swapped for another credential type.
type Authenticator interface {
	// Register creates a user account. The email is normalized before it
	// is stored; ErrEmailExists is returned if it is already taken.
	Register(ctx context.Context, email, displayName, credential string) (*models.User, error)

	// Authenticate returns the user whose credential matches, or
	// ErrInvalidCredentials.
	Authenticate(ctx context.Context, email, credential string) (*models.User, error)

	// ValidateCredential reports whether a credential is acceptable for
	// registration.
	ValidateCredential(credential string) error
}
