package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

// FederatedClaims are the claims read from a third-party ID token.
type FederatedClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// FederatedVerifier checks RS256 ID tokens from one issuer.
type FederatedVerifier struct {
	key    *rsa.PublicKey
	issuer string
}

func NewFederatedVerifier(publicKeyPEM []byte, issuer string) (*FederatedVerifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("error parsing federated public key: %w", err)
	}
	return &FederatedVerifier{key: key, issuer: issuer}, nil
}

func (v *FederatedVerifier) Verify(idToken string) (*FederatedClaims, error) {
	var claims FederatedClaims
	token, err := jwt.ParseWithClaims(idToken, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: invalid id token", ErrUnauthenticated)
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrUnauthenticated, claims.Issuer)
	}
	if claims.Email == "" {
		return nil, errors.New("id token carries no email")
	}
	return &claims, nil
}
