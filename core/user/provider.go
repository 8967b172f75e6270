package user

import (
	"context"

	"github.com/pkg/errors"
)

// ProviderErrorKind is the closed set of failures an identity provider may report.
type ProviderErrorKind int

const (
	// ProviderUnavailable covers timeouts, network failures and 5xx responses.
	ProviderUnavailable ProviderErrorKind = iota + 1
	ProviderEmailExists
	ProviderInvalidCredentials
	ProviderInvalidToken
	// ProviderRejected means the provider refused the input (weak password, malformed email...).
	ProviderRejected
)

func (k ProviderErrorKind) String() string {
	switch k {
	case ProviderUnavailable:
		return "unavailable"
	case ProviderEmailExists:
		return "email_exists"
	case ProviderInvalidCredentials:
		return "invalid_credentials"
	case ProviderInvalidToken:
		return "invalid_token"
	case ProviderRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

type ProviderError struct {
	Kind ProviderErrorKind
	Err  error
}

func NewProviderError(kind ProviderErrorKind, err error) error {
	return &ProviderError{Kind: kind, Err: err}
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return "identity provider: " + e.Kind.String()
	}
	return "identity provider: " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ProviderErrorKindOf returns the kind of the first *ProviderError in err's chain.
// Errors that do not come from the provider contract are treated as ProviderUnavailable.
func ProviderErrorKindOf(err error) ProviderErrorKind {
	var pErr *ProviderError
	if errors.As(err, &pErr) {
		return pErr.Kind
	}
	return ProviderUnavailable
}

// Metadata is attached to provider-side accounts.
type Metadata struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

type AuthResult struct {
	ProviderID string
	Email      string
	Confirmed  bool
	Metadata   Metadata
}

// Provider is the managed account directory. It is the source of truth for
// password correctness and email confirmation.
type Provider interface {
	CreateAccount(ctx context.Context, email, password string, meta Metadata) (providerID string, err error)
	Authenticate(ctx context.Context, email, password string) (AuthResult, error)
	SendVerification(ctx context.Context, email string) error
	RedeemVerification(ctx context.Context, token string) (providerID string, err error)
	RequestPasswordReset(ctx context.Context, email string) error
	ApplyPasswordReset(ctx context.Context, token, newPassword string) (providerID string, err error)
}
