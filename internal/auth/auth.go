// Package auth authenticates users for the dashboard. The Provider
// contract is what the rest of the service depends on; Local implements
// it with bcrypt credentials in the document store and signed JWTs.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrEmailInUse            = errors.New("email already registered")
	ErrWeakPassword          = errors.New("password must be at least 6 characters")
	ErrInvalidEmail          = errors.New("invalid email address")
	ErrUnauthenticated       = errors.New("unauthenticated")
	ErrFederationUnavailable = errors.New("federated sign-in is not configured")
)

const (
	ProviderPassword  = "password"
	ProviderFederated = "federated"
)

type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	Provider    string `json:"provider"`
}

type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Provider interface {
	SignUp(ctx context.Context, email, password, displayName string) (Identity, error)
	SignIn(ctx context.Context, email, password string) (Identity, error)
	// SignInFederated exchanges a third-party ID token for an identity;
	// isNew is true when the identity was created by this call.
	SignInFederated(ctx context.Context, idToken string) (id Identity, isNew bool, err error)
	IssueToken(id Identity) (Token, error)
	// Verify resolves an access token to the identity it was issued to.
	Verify(ctx context.Context, token string) (Identity, error)
	SignOut(ctx context.Context, token string) error
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" || header == "null" {
		return ""
	}
	if len(header) >= 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
