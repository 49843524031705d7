package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer mints HS256 access tokens in the shape Verifier accepts. Production
// tokens come from the identity service; this is for operators and tests.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer builds an issuer signing with secret.
func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for p valid for ttl.
func (i *Issuer) Issue(p Principal, ttl time.Duration) (string, error) {
	if !p.Authenticated() {
		return "", errors.New("issue token: principal has no user id")
	}
	if ttl <= 0 {
		return "", errors.New("issue token: ttl must be positive")
	}

	now := i.now()
	claims := Claims{
		Email:  p.Email,
		Name:   p.Name,
		System: p.IsSystemUser,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}
