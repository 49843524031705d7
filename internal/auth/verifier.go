package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when no bearer token was presented.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken covers bad signatures, expired tokens and malformed claims.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenRevoked is returned for tokens on the revocation list.
	ErrTokenRevoked = errors.New("token has been revoked")
)

// Claims are the access token claims issued by the identity service.
type Claims struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	System bool   `json:"system"`
	jwt.RegisteredClaims
}

// RevocationChecker reports whether a raw token was revoked before expiry.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// Verifier validates HS256 access tokens and turns them into principals.
type Verifier struct {
	secret      []byte
	revocations RevocationChecker
	parser      *jwt.Parser
}

// NewVerifier builds a verifier. revocations may be nil, in which case no
// revocation check is made.
func NewVerifier(secret string, revocations RevocationChecker) *Verifier {
	return &Verifier{
		secret:      []byte(secret),
		revocations: revocations,
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Verify checks the token signature, expiry and revocation status.
func (v *Verifier) Verify(ctx context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrMissingToken
	}

	claims := new(Claims)
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Principal{}, ErrInvalidToken
	}

	if v.revocations != nil {
		revoked, err := v.revocations.IsRevoked(ctx, token)
		if err != nil {
			return Principal{}, fmt.Errorf("check token revocation: %w", err)
		}
		if revoked {
			return Principal{}, ErrTokenRevoked
		}
	}

	return Principal{
		UserID:       claims.Subject,
		Email:        claims.Email,
		Name:         claims.Name,
		IsSystemUser: claims.System,
	}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
