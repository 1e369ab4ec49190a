package identity

import (
	"context"

	"github.com/google/uuid"
)

// Session is what the provider asserts about an authenticated identity.
type Session struct {
	SubjectID uuid.UUID
	Email     string
	Metadata  map[string]interface{}
}

// Gateway is the thin interface to the external authentication service.
// Every call sits on the critical path of a saga step; none is retried
// automatically.
type Gateway interface {
	// CreateAccount provisions a provider account with email confirmation
	// pending and returns the provider user id.
	CreateAccount(ctx context.Context, email, password string, metadata map[string]interface{}) (uuid.UUID, error)

	// SendInviteEmail asks the provider to deliver its invitation email for
	// an already-created account.
	SendInviteEmail(ctx context.Context, email, redirectURL string) error

	// InviteByEmail creates a pending provider account and sends the
	// invitation email in one call, carrying metadata so acceptance can be
	// correlated without a second lookup.
	InviteByEmail(ctx context.Context, email, redirectURL string, metadata map[string]interface{}) (uuid.UUID, error)

	// DeleteAccount removes a provider account. Used only in compensation.
	DeleteAccount(ctx context.Context, providerUserID uuid.UUID) error

	// ValidateSession verifies a provider-issued access token and returns
	// the asserted identity.
	ValidateSession(ctx context.Context, token string) (*Session, error)
}
