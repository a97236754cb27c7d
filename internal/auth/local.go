package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/mr1hm/go-green-corridor/internal/store"
)

const (
	tokenIssuer       = "green-corridor"
	minPasswordLength = 6
)

type credential struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName,omitempty"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	Provider     string    `json:"provider"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (c credential) identity() Identity {
	return Identity{UID: c.UID, Email: c.Email, DisplayName: c.DisplayName, Provider: c.Provider}
}

type accessClaims struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider"`
	jwt.RegisteredClaims
}

type LocalOptions struct {
	Secret         []byte
	TokenTTL       time.Duration
	RevocationSize int
	// Federated enables SignInFederated when set.
	Federated *FederatedVerifier
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// Local stores credentials in the credentials collection keyed by email.
type Local struct {
	store   store.Store
	opts    LocalOptions
	revoked *lru.Cache[string, time.Time]
	now     func() time.Time
	mu      sync.Mutex
	logger  *slog.Logger
}

var _ Provider = (*Local)(nil)

func NewLocal(s store.Store, opts LocalOptions) (*Local, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.RevocationSize <= 0 {
		opts.RevocationSize = 4096
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	revoked, err := lru.New[string, time.Time](opts.RevocationSize)
	if err != nil {
		return nil, fmt.Errorf("error creating revocation cache: %w", err)
	}
	return &Local{
		store:   s,
		opts:    opts,
		revoked: revoked,
		now:     time.Now,
		logger:  slog.With("component", "auth"),
	}, nil
}

func (l *Local) SignUp(ctx context.Context, email, password, displayName string) (Identity, error) {
	email = normalizeEmail(email)
	if !strings.Contains(email, "@") {
		return Identity{}, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return Identity{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), l.opts.BcryptCost)
	if err != nil {
		return Identity{}, fmt.Errorf("error hashing password: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.store.Get(ctx, store.CollectionCredentials, email); err == nil {
		return Identity{}, ErrEmailInUse
	} else if !errors.Is(err, store.ErrNotFound) {
		return Identity{}, err
	}

	cred := credential{
		UID:          uuid.NewString(),
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: string(hash),
		Provider:     ProviderPassword,
		CreatedAt:    l.now().UTC(),
	}
	if err := l.save(ctx, cred); err != nil {
		return Identity{}, err
	}
	l.logger.Info("account created", "uid", cred.UID, "provider", cred.Provider)
	return cred.identity(), nil
}

func (l *Local) SignIn(ctx context.Context, email, password string) (Identity, error) {
	cred, err := l.lookup(ctx, normalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return Identity{}, ErrInvalidCredentials
	}
	if err != nil {
		return Identity{}, err
	}
	if cred.PasswordHash == "" {
		return Identity{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)) != nil {
		return Identity{}, ErrInvalidCredentials
	}
	return cred.identity(), nil
}

func (l *Local) SignInFederated(ctx context.Context, idToken string) (Identity, bool, error) {
	if l.opts.Federated == nil {
		return Identity{}, false, ErrFederationUnavailable
	}
	claims, err := l.opts.Federated.Verify(idToken)
	if err != nil {
		return Identity{}, false, err
	}
	email := normalizeEmail(claims.Email)

	l.mu.Lock()
	defer l.mu.Unlock()

	cred, err := l.lookup(ctx, email)
	if err == nil {
		return cred.identity(), false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return Identity{}, false, err
	}

	cred = credential{
		UID:         uuid.NewString(),
		Email:       email,
		DisplayName: claims.Name,
		Provider:    ProviderFederated,
		CreatedAt:   l.now().UTC(),
	}
	if err := l.save(ctx, cred); err != nil {
		return Identity{}, false, err
	}
	l.logger.Info("account created", "uid", cred.UID, "provider", cred.Provider)
	return cred.identity(), true, nil
}

func (l *Local) IssueToken(id Identity) (Token, error) {
	now := l.now()
	exp := now.Add(l.opts.TokenTTL)
	claims := accessClaims{
		Email:    id.Email,
		Name:     id.DisplayName,
		Provider: id.Provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   id.UID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(l.opts.Secret)
	if err != nil {
		return Token{}, fmt.Errorf("error signing token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: exp.Truncate(time.Second)}, nil
}

func (l *Local) Verify(_ context.Context, token string) (Identity, error) {
	claims, err := l.parse(token)
	if err != nil {
		return Identity{}, err
	}
	if _, revoked := l.revoked.Get(claims.ID); revoked {
		return Identity{}, fmt.Errorf("%w: token signed out", ErrUnauthenticated)
	}
	return Identity{
		UID:         claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		Provider:    claims.Provider,
	}, nil
}

// SignOut revokes the token until it would have expired anyway.
func (l *Local) SignOut(_ context.Context, token string) error {
	claims, err := l.parse(token)
	if err != nil {
		return err
	}
	l.revoked.Add(claims.ID, claims.ExpiresAt.Time)
	return nil
}

func (l *Local) parse(token string) (*accessClaims, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	var claims accessClaims
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Name}}
	parsed, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return l.opts.Secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if !claims.VerifyIssuer(tokenIssuer, true) || claims.Subject == "" {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	return &claims, nil
}

func (l *Local) lookup(ctx context.Context, email string) (credential, error) {
	doc, err := l.store.Get(ctx, store.CollectionCredentials, email)
	if err != nil {
		return credential{}, err
	}
	var cred credential
	if err := doc.DataTo(&cred); err != nil {
		return credential{}, fmt.Errorf("error decoding credentials: %w", err)
	}
	return cred, nil
}

func (l *Local) save(ctx context.Context, cred credential) error {
	fields, err := store.Fields(cred)
	if err != nil {
		return err
	}
	if err := l.store.Set(ctx, store.CollectionCredentials, cred.Email, fields); err != nil {
		return fmt.Errorf("error saving credentials: %w", err)
	}
	return nil
}
